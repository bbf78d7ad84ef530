package policy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/costcontrol"
	"github.com/compresr/apibouncer/internal/ledger"
	"github.com/compresr/apibouncer/internal/monitoring"
	"github.com/compresr/apibouncer/internal/session"
)

// Config wires an Engine to its documents and observers.
type Config struct {
	SessionsPath string
	HistoryPath  string
	Settings     *config.SettingsStore

	Metrics *monitoring.Metrics  // optional
	Audit   *monitoring.AuditLog // optional
	Now     func() time.Time     // optional, defaults to time.Now
}

// Engine owns sessions.json and history.json for one process.
type Engine struct {
	mu       sync.Mutex
	sessions *session.Store
	ledger   *ledger.Ledger
	settings *config.SettingsStore

	metrics *monitoring.Metrics
	audit   *monitoring.AuditLog
	now     func() time.Time
}

// New loads the documents. Read failures degrade to empty state.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.OpenSettings(filepath.Join(filepath.Dir(cfg.SessionsPath), config.SettingsFileName))
	}
	return &Engine{
		sessions: session.LoadStore(cfg.SessionsPath),
		ledger:   ledger.Load(cfg.HistoryPath, settings.Snapshot().MaxHistory),
		settings: settings,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
		now:      now,
	}
}

// Settings returns the settings store the engine reads.
func (e *Engine) Settings() *config.SettingsStore { return e.settings }

// refreshLocked picks up writes made by other processes.
func (e *Engine) refreshLocked() config.Settings {
	st := e.settings.Reload()
	e.sessions.Refresh()
	e.ledger.Refresh()
	e.ledger.SetMax(st.MaxHistory)
	return st
}

// =============================================================================
// AUTHORIZE
// =============================================================================

// Authorize runs the ordered policy checks for req. A denial is returned in
// Decision.Denial and has already been recorded. The error is non-nil only
// for cancellation or when recording the denial could not be persisted.
func (e *Engine) Authorize(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	req.EstimatedCost = max(req.EstimatedCost, 0)

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.refreshLocked()
	now := e.now()

	if e.settings.PanicMode() {
		d := newDenial(KindPanicMode, req.SessionID, "Panic mode active: all API calls are blocked")
		return e.denyLedgerOnlyLocked(req, d, now)
	}

	sess, ok := e.sessions.Get(req.SessionID)
	if !ok {
		d := newDenial(KindUnknownSession, req.SessionID, "Unknown session ID")
		return e.denyLedgerOnlyLocked(req, d, now)
	}
	if sess.Banned() {
		d := newDenial(KindSessionBanned, req.SessionID, "Session banned: %s", sess.BanReason)
		return e.denyLedgerOnlyLocked(req, d, now)
	}

	if d := e.checkPolicyLocked(sess, st, req, now); d != nil {
		return e.denyLocked(sess, st, req, d, now)
	}

	decision := Decision{Allowed: true, RequiresBarrier: e.barrierActiveLocked(sess)}
	log.Debug().
		Str("session_id", req.SessionID).
		Str("provider", req.Provider).
		Str("model", req.Model).
		Float64("cost", req.EstimatedCost).
		Bool("barrier", decision.RequiresBarrier).
		Msg("policy: request allowed")
	e.metrics.ObserveDecision(true, "")
	e.audit.Record(monitoring.DecisionEvent{
		Timestamp: now,
		Stage:     monitoring.StageAuthorize,
		SessionID: req.SessionID,
		Provider:  req.Provider,
		Model:     req.Model,
		Allowed:   true,
		Cost:      req.EstimatedCost,
	})
	return decision, nil
}

// checkPolicyLocked runs checks 3 to 8 and returns the first denial.
func (e *Engine) checkPolicyLocked(sess *session.Session, st config.Settings, req Request, now time.Time) *Denial {
	id := sess.ID

	if len(sess.AllowedProviders) > 0 && !session.Contains(sess.AllowedProviders, req.Provider) {
		return newDenial(KindProviderNotAllowed, id, "Provider '%s' not allowed for this session", req.Provider)
	}

	if d := checkModel(sess, st, req.Model); d != nil {
		return d
	}

	if req.Quality != "" {
		quality := strings.ToLower(req.Quality)
		if session.ContainsFold(sess.BannedQualities, quality) {
			return newDenial(KindQualityNotAllowed, id, "Quality '%s' is banned", quality)
		}
		if len(sess.AllowedQualities) > 0 && !session.ContainsFold(sess.AllowedQualities, quality) {
			return newDenial(KindQualityNotAllowed, id, "Quality '%s' not in allowed list", quality)
		}
	}

	if req.Duration > 0 && sess.MaxDuration > 0 && req.Duration > sess.MaxDuration {
		return newDenial(KindDurationExceeded, id, "Duration %gs exceeds limit (%gs max)", req.Duration, sess.MaxDuration)
	}

	if rate := e.ledger.CheckRate(id, sess.RateLimit, sess.RateLimitPeriod, now); rate.Limited {
		d := newDenial(KindRateLimited, id, "%s", rate.Message())
		d.RetryAfter = rate.RetryAfter
		return d
	}

	if costcontrol.WouldExceed(sess.BudgetLimit, sess.TotalCost, req.EstimatedCost) {
		return budgetDenial(id, sess.BudgetLimit, sess.TotalCost, req.EstimatedCost)
	}
	return nil
}

// checkModel applies global bans, session bans, then the allow-list.
func checkModel(sess *session.Session, st config.Settings, model string) *Denial {
	id := sess.ID
	if _, banned := session.FirstMatch(st.GlobalBannedModels, model); banned {
		return newDenial(KindModelNotAllowed, id, "Model '%s' is globally banned", model)
	}
	if pattern, banned := session.FirstMatch(sess.BannedModels, model); banned {
		if pattern != model {
			return newDenial(KindModelNotAllowed, id, "Model '%s' is banned (matches '%s')", model, pattern)
		}
		return newDenial(KindModelNotAllowed, id, "Model '%s' is banned", model)
	}
	if len(sess.AllowedModels) > 0 {
		if _, ok := session.FirstMatch(sess.AllowedModels, model); ok {
			return nil
		}
		return newDenial(KindModelNotAllowed, id, "Model '%s' not in allowed list", model)
	}
	if sess.RequireModelWhitelist {
		return newDenial(KindModelNotAllowed, id, "No models allowed - add models to whitelist")
	}
	return nil
}

// denyLocked records a session-level violation through the full failure
// path (counters, saved cost, escalation).
func (e *Engine) denyLocked(sess *session.Session, st config.Settings, req Request, d *Denial, now time.Time) (Decision, error) {
	e.logDenial(req, d)
	attempt, err := e.recordLocked(st, Outcome{
		SessionID: sess.ID,
		Provider:  req.Provider,
		Model:     req.Model,
		Cost:      req.EstimatedCost,
		Kind:      d.Kind,
		Reason:    d.Message,
		Request:   req.Params,
	}, now)
	return Decision{Denial: d, AttemptID: attempt.ID}, err
}

// denyLedgerOnlyLocked appends the denial to the history without touching
// session counters (panic mode, unknown or banned session).
func (e *Engine) denyLedgerOnlyLocked(req Request, d *Denial, now time.Time) (Decision, error) {
	e.logDenial(req, d)
	a := ledger.NewAttempt(req.SessionID, req.Provider, req.Model, req.EstimatedCost, ledger.StatusBlocked, now)
	a.Kind = string(d.Kind)
	a.Reason = d.Message
	a.RequestParams = rawJSON(req.Params)
	e.ledger.Append(a)
	e.observeRecord(a, false)

	return Decision{Denial: d, AttemptID: a.ID}, persistErr(e.ledger.Save())
}

func (e *Engine) logDenial(req Request, d *Denial) {
	ev := log.Info()
	if d.Kind == KindSessionBanned || d.Kind == KindPanicMode {
		ev = log.Warn()
	}
	ev.Str("session_id", req.SessionID).
		Str("provider", req.Provider).
		Str("model", req.Model).
		Str("kind", string(d.Kind)).
		Float64("cost", req.EstimatedCost).
		Str("reason", d.Message).
		Msg("policy: request denied")

	e.metrics.ObserveDecision(false, string(d.Kind))
	e.audit.Record(monitoring.DecisionEvent{
		Timestamp: e.now(),
		Stage:     monitoring.StageAuthorize,
		SessionID: req.SessionID,
		Provider:  req.Provider,
		Model:     req.Model,
		Kind:      string(d.Kind),
		Cost:      req.EstimatedCost,
		Reason:    d.Message,
	})
}

// =============================================================================
// RECORD
// =============================================================================

// Record appends the outcome of a call to the history and updates the
// session. In-memory state is updated even when persisting fails.
func (e *Engine) Record(ctx context.Context, o Outcome) (ledger.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Attempt{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.refreshLocked()
	return e.recordLocked(st, o, e.now())
}

func (e *Engine) recordLocked(st config.Settings, o Outcome, now time.Time) (ledger.Attempt, error) {
	cost := max(o.Cost, 0)
	status := o.status()

	a := ledger.NewAttempt(o.SessionID, o.Provider, o.Model, cost, status, now)
	a.Kind = string(o.Kind)
	a.Reason = o.Reason
	a.ArtifactPath = o.ArtifactPath
	a.RequestParams = rawJSON(o.Request)
	a.ResponseData = rawJSON(o.Response)
	e.ledger.Append(a)

	sess, ok := e.sessions.Get(o.SessionID)
	if ok {
		sess.LastActivity = a.Timestamp
		sess.TotalRequests++
		if status == ledger.StatusAllowed {
			sess.AllowedRequests++
			sess.TotalCost += cost
		} else {
			sess.BlockedRequests++
			sess.BlockedCost += cost
			e.escalateLocked(sess, st)
		}
	}
	e.observeRecord(a, true)

	err := e.ledger.Save()
	if ok {
		err = errors.Join(err, e.sessions.Save())
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", o.SessionID).Msg("policy: failed to persist attempt")
	}
	return a, persistErr(err)
}

// escalateLocked moves a session up the active -> warned -> banned ladder.
func (e *Engine) escalateLocked(sess *session.Session, st config.Settings) {
	switch {
	case sess.BlockedRequests >= st.AutoBanThreshold:
		if sess.Status == session.StatusBanned {
			return
		}
		sess.Status = session.StatusBanned
		sess.BanReason = autoBanReason(sess.BlockedRequests)
		log.Warn().
			Str("session_id", sess.ID).
			Int("blocked", sess.BlockedRequests).
			Msg("policy: session auto-banned")
	case sess.BlockedRequests >= st.WarningThreshold && sess.Status == session.StatusActive:
		sess.Status = session.StatusWarned
		sess.WarningCount++
		log.Warn().
			Str("session_id", sess.ID).
			Int("blocked", sess.BlockedRequests).
			Msg("policy: session warned")
	}
}

func autoBanReason(blocked int) string {
	return fmt.Sprintf("Auto-banned: %d blocked requests", blocked)
}

func (e *Engine) observeRecord(a ledger.Attempt, sessionPath bool) {
	e.metrics.ObserveRecord(string(a.Status), a.EstimatedCost)
	if !sessionPath {
		return
	}
	e.audit.Record(monitoring.DecisionEvent{
		Timestamp: a.Timestamp.Time,
		Stage:     monitoring.StageRecord,
		SessionID: a.SessionID,
		Provider:  a.Provider,
		Model:     a.Model,
		Allowed:   a.Status == ledger.StatusAllowed,
		Kind:      a.Kind,
		Status:    string(a.Status),
		Cost:      a.EstimatedCost,
		Reason:    a.Reason,
		AttemptID: a.ID,
	})
}

// =============================================================================
// BARRIER FLAG
// =============================================================================

// BarrierActive reports whether requests of a session need human approval.
// A session override wins; otherwise the global flag is read from disk.
func (e *Engine) BarrierActive(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessions.Refresh()
	sess, _ := e.sessions.Get(sessionID)
	return e.barrierActiveLocked(sess)
}

func (e *Engine) barrierActiveLocked(sess *session.Session) bool {
	if sess != nil && sess.BarrierMode != nil {
		return *sess.BarrierMode
	}
	return e.settings.BarrierMode()
}
