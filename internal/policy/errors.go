package policy

import (
	"errors"
	"fmt"

	"github.com/compresr/apibouncer/internal/costcontrol"
)

// Kind classifies a denial or failure.
type Kind string

const (
	KindUnknownSession     Kind = "unknown_session"
	KindSessionBanned      Kind = "session_banned"
	KindPanicMode          Kind = "panic_mode"
	KindProviderNotAllowed Kind = "provider_not_allowed"
	KindModelNotAllowed    Kind = "model_not_allowed"
	KindQualityNotAllowed  Kind = "quality_not_allowed"
	KindDurationExceeded   Kind = "duration_exceeded"
	KindRateLimited        Kind = "rate_limited"
	KindBudgetExceeded     Kind = "budget_exceeded"
	KindBarrierDenied      Kind = "barrier_denied"
	KindVaultUnavailable   Kind = "vault_unavailable"
	KindPersistence        Kind = "persistence_failure"
)

// Sentinel errors, one per Kind. A *Denial unwraps to the sentinel of its
// kind, so errors.Is(err, ErrBudgetExceeded) works on any wrapped denial.
var (
	ErrUnknownSession     = errors.New("unknown session")
	ErrSessionBanned      = errors.New("session banned")
	ErrPanicMode          = errors.New("panic mode active")
	ErrProviderNotAllowed = errors.New("provider not allowed")
	ErrModelNotAllowed    = errors.New("model not allowed")
	ErrQualityNotAllowed  = errors.New("quality not allowed")
	ErrDurationExceeded   = errors.New("duration exceeded")
	ErrRateLimited        = errors.New("rate limited")
	ErrBudgetExceeded     = errors.New("budget exceeded")
	ErrBarrierDenied      = errors.New("barrier denied")
	ErrVaultUnavailable   = errors.New("vault unavailable")
	ErrPersistence        = errors.New("persistence failure")
)

var sentinels = map[Kind]error{
	KindUnknownSession:     ErrUnknownSession,
	KindSessionBanned:      ErrSessionBanned,
	KindPanicMode:          ErrPanicMode,
	KindProviderNotAllowed: ErrProviderNotAllowed,
	KindModelNotAllowed:    ErrModelNotAllowed,
	KindQualityNotAllowed:  ErrQualityNotAllowed,
	KindDurationExceeded:   ErrDurationExceeded,
	KindRateLimited:        ErrRateLimited,
	KindBudgetExceeded:     ErrBudgetExceeded,
	KindBarrierDenied:      ErrBarrierDenied,
	KindVaultUnavailable:   ErrVaultUnavailable,
	KindPersistence:        ErrPersistence,
}

// Sentinel returns the sentinel error for k, or nil for an unknown kind.
func (k Kind) Sentinel() error { return sentinels[k] }

// Denial is a policy refusal. It is an expected outcome, not a fault.
type Denial struct {
	Kind      Kind
	Message   string
	SessionID string

	// RetryAfter is set for KindRateLimited (seconds).
	RetryAfter int
	// Budget is set for KindBudgetExceeded.
	Budget *BudgetDetail
}

// BudgetDetail explains a budget denial in stored currency units.
type BudgetDetail struct {
	Limit     float64 `json:"limit"`
	Spent     float64 `json:"spent"`
	Remaining float64 `json:"remaining"`
	Cost      float64 `json:"cost"`
}

func newDenial(kind Kind, sessionID, format string, args ...any) *Denial {
	return &Denial{Kind: kind, SessionID: sessionID, Message: fmt.Sprintf(format, args...)}
}

func budgetDenial(sessionID string, limit, spent, cost float64) *Denial {
	remaining := costcontrol.Remaining(limit, spent)
	return &Denial{
		Kind:      KindBudgetExceeded,
		SessionID: sessionID,
		Message: fmt.Sprintf("Budget exceeded: limit $%.2f, spent $%.2f, remaining $%.2f, request $%.2f",
			limit, spent, remaining, cost),
		Budget: &BudgetDetail{Limit: limit, Spent: spent, Remaining: remaining, Cost: cost},
	}
}

func (d *Denial) Error() string {
	if d.Message == "" {
		return string(d.Kind)
	}
	return d.Message
}

// Unwrap returns the sentinel of the denial's kind.
func (d *Denial) Unwrap() error { return sentinels[d.Kind] }

// AsDenial extracts a *Denial from err.
func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

func persistErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
