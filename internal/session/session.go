// Package session defines the Session entity: a project-scoped policy plus
// the usage counters accumulated under it.
package session

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/utils"
)

// Status is the escalation state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusWarned Status = "warned"
	StatusBanned Status = "banned"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusWarned, StatusBanned:
		return true
	}
	return false
}

// Policy holds the access rules of a session.
type Policy struct {
	AllowedModels         []string `json:"allowed_models"`
	BannedModels          []string `json:"banned_models"`
	RequireModelWhitelist bool     `json:"require_model_whitelist"`
	AllowedQualities      []string `json:"allowed_qualities"`
	BannedQualities       []string `json:"banned_qualities"`
	MaxDuration           float64  `json:"max_duration"`      // seconds, 0 = unlimited
	RateLimit             int      `json:"rate_limit"`        // allowed attempts per period, 0 = unlimited
	RateLimitPeriod       int      `json:"rate_limit_period"` // seconds
	AllowedProviders      []string `json:"allowed_providers"` // empty = all
	AllowedKeys           []string `json:"allowed_keys"`      // vault providers, empty = all
	BudgetLimit           float64  `json:"budget_limit"`      // 0 = unlimited
	BarrierMode           *bool    `json:"barrier_mode"`      // nil = inherit global flag
}

// DefaultPolicy returns the policy of a freshly created session.
func DefaultPolicy() Policy {
	return Policy{
		AllowedModels:         []string{},
		BannedModels:          []string{},
		RequireModelWhitelist: true,
		AllowedQualities:      []string{},
		BannedQualities:       []string{},
		RateLimitPeriod:       config.DefaultRateLimitPeriod,
		AllowedProviders:      []string{},
		AllowedKeys:           []string{},
	}
}

// Counters are the usage statistics of a session.
type Counters struct {
	TotalRequests   int     `json:"total_requests"`
	AllowedRequests int     `json:"allowed_requests"`
	BlockedRequests int     `json:"blocked_requests"`
	TotalCost       float64 `json:"total_cost"`
	BlockedCost     float64 `json:"blocked_cost"` // "saved" amount
	WarningCount    int     `json:"warning_count"`
}

// Session is one entry of sessions.json.
type Session struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Created      utils.Timestamp `json:"created"`
	LastActivity utils.Timestamp `json:"last_activity"`
	Status       Status          `json:"status"`
	BanReason    string          `json:"ban_reason,omitempty"`

	Policy
	Counters
}

// New creates an active session with the default policy.
func New(name string, now time.Time) (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:           id,
		Name:         name,
		Created:      utils.At(now),
		LastActivity: utils.At(now),
		Status:       StatusActive,
		Policy:       DefaultPolicy(),
	}, nil
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewID returns a session id of the form APBN-XXXX-XXXXXXXXXXXX.
func NewID() (string, error) {
	prefix, err := randomString(4)
	if err != nil {
		return "", err
	}
	suffix, err := randomString(12)
	if err != nil {
		return "", err
	}
	return "APBN-" + prefix + "-" + suffix, nil
}

func randomString(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	limit := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		b.WriteByte(idAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// UnmarshalJSON fills fields missing from older documents with defaults.
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	p := plain{Status: StatusActive, Policy: DefaultPolicy()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Session(p)
	s.normalize()
	return nil
}

func (s *Session) normalize() {
	if !s.Status.Valid() {
		s.Status = StatusActive
	}
	if s.Status != StatusBanned {
		s.BanReason = ""
	}
	if s.RateLimitPeriod <= 0 {
		s.RateLimitPeriod = config.DefaultRateLimitPeriod
	}
	for _, list := range []*[]string{
		&s.AllowedModels, &s.BannedModels, &s.AllowedQualities,
		&s.BannedQualities, &s.AllowedProviders, &s.AllowedKeys,
	} {
		if *list == nil {
			*list = []string{}
		}
	}
}

// Banned reports whether the session is banned.
func (s *Session) Banned() bool { return s.Status == StatusBanned }

// Clone returns a deep copy safe to hand to callers.
func (s *Session) Clone() Session {
	c := *s
	c.AllowedModels = cloneStrings(s.AllowedModels)
	c.BannedModels = cloneStrings(s.BannedModels)
	c.AllowedQualities = cloneStrings(s.AllowedQualities)
	c.BannedQualities = cloneStrings(s.BannedQualities)
	c.AllowedProviders = cloneStrings(s.AllowedProviders)
	c.AllowedKeys = cloneStrings(s.AllowedKeys)
	if s.BarrierMode != nil {
		v := *s.BarrierMode
		c.BarrierMode = &v
	}
	return c
}

// ResetCounters zeroes every usage counter.
func (s *Session) ResetCounters() {
	s.Counters = Counters{}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
