package policy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/session"
)

// Admin operations are used by the operator CLI and approver UI. They are
// not part of the agent-facing Query surface.

// CreateSession creates and persists a new session. configure, if not nil,
// adjusts the default policy before the first save.
func (e *Engine) CreateSession(ctx context.Context, name string, configure func(*session.Policy)) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshLocked()

	sess, err := session.New(name, e.now())
	if err != nil {
		return session.Session{}, err
	}
	if configure != nil {
		configure(&sess.Policy)
		normalizePolicy(&sess.Policy)
	}
	e.sessions.Put(sess)

	log.Info().Str("session_id", sess.ID).Str("name", name).Msg("policy: session created")
	return sess.Clone(), persistErr(e.sessions.Save())
}

// UpdatePolicy applies fn to a session's policy and persists it.
func (e *Engine) UpdatePolicy(ctx context.Context, id string, fn func(*session.Policy)) (session.Session, error) {
	return e.mutate(ctx, id, func(s *session.Session) {
		fn(&s.Policy)
		normalizePolicy(&s.Policy)
	})
}

// BanSession bans a session. An empty reason becomes "Manual ban".
func (e *Engine) BanSession(ctx context.Context, id, reason string) (session.Session, error) {
	if reason == "" {
		reason = "Manual ban"
	}
	return e.mutate(ctx, id, func(s *session.Session) {
		s.Status = session.StatusBanned
		s.BanReason = reason
	})
}

// UnbanSession returns a session to active and clears its ban reason and
// warning count.
func (e *Engine) UnbanSession(ctx context.Context, id string) (session.Session, error) {
	return e.mutate(ctx, id, func(s *session.Session) {
		s.Status = session.StatusActive
		s.BanReason = ""
		s.WarningCount = 0
	})
}

// WarnSession issues a manual warning. A banned session stays banned and
// the call fails with ErrSessionBanned; only unban or reset lift a ban.
func (e *Engine) WarnSession(ctx context.Context, id string) (session.Session, error) {
	notBanned := func(s *session.Session) error {
		if s.Banned() {
			return newDenial(KindSessionBanned, s.ID, "Session banned: %s", s.BanReason)
		}
		return nil
	}
	return e.mutateIf(ctx, id, notBanned, func(s *session.Session) {
		s.Status = session.StatusWarned
		s.WarningCount++
	})
}

// ResetSessionStats zeroes the counters and returns the session to active.
func (e *Engine) ResetSessionStats(ctx context.Context, id string) (session.Session, error) {
	return e.mutate(ctx, id, func(s *session.Session) {
		s.ResetCounters()
		s.Status = session.StatusActive
		s.BanReason = ""
	})
}

// SetSessionBarrierMode sets the per-session override; nil inherits the
// global flag.
func (e *Engine) SetSessionBarrierMode(ctx context.Context, id string, mode *bool) (session.Session, error) {
	return e.mutate(ctx, id, func(s *session.Session) {
		if mode == nil {
			s.BarrierMode = nil
			return
		}
		v := *mode
		s.BarrierMode = &v
	})
}

// DeleteSession removes a session. Its history is kept.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshLocked()

	if !e.sessions.Delete(id) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	log.Info().Str("session_id", id).Msg("policy: session deleted")
	return persistErr(e.sessions.Save())
}

// ClearSessionHistory drops every attempt of a session and returns how many.
func (e *Engine) ClearSessionHistory(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshLocked()

	removed := e.ledger.RemoveSession(id)
	return removed, persistErr(e.ledger.Save())
}

// SetPanicMode flips the global kill switch. Other processes see it on
// their next decision.
func (e *Engine) SetPanicMode(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.settings.SetPanicMode(on); err != nil {
		return persistErr(err)
	}
	log.Warn().Bool("panic_mode", on).Msg("policy: panic mode changed")
	return nil
}

// SetBarrierMode flips the global barrier flag.
func (e *Engine) SetBarrierMode(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.settings.SetBarrierMode(on); err != nil {
		return persistErr(err)
	}
	log.Info().Bool("barrier_mode", on).Msg("policy: barrier mode changed")
	return nil
}

// UpdateSettings edits thresholds, retention, global bans or price overrides.
func (e *Engine) UpdateSettings(ctx context.Context, fn func(*config.Settings)) (config.Settings, error) {
	if err := ctx.Err(); err != nil {
		return config.Settings{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.settings.Update(fn); err != nil {
		return e.settings.Snapshot(), persistErr(err)
	}
	st := e.settings.Snapshot()
	e.ledger.SetMax(st.MaxHistory)
	return st, nil
}

// mutate applies fn to one session under the engine lock and persists.
func (e *Engine) mutate(ctx context.Context, id string, fn func(*session.Session)) (session.Session, error) {
	return e.mutateIf(ctx, id, nil, fn)
}

// mutateIf is mutate with a precondition checked under the lock. A failed
// check leaves the session untouched and returns its error.
func (e *Engine) mutateIf(ctx context.Context, id string, check func(*session.Session) error, fn func(*session.Session)) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshLocked()

	sess, ok := e.sessions.Get(id)
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if check != nil {
		if err := check(sess); err != nil {
			return sess.Clone(), err
		}
	}
	fn(sess)
	log.Info().Str("session_id", id).Str("status", string(sess.Status)).Msg("policy: session updated")
	return sess.Clone(), persistErr(e.sessions.Save())
}

func normalizePolicy(p *session.Policy) {
	if p.RateLimitPeriod <= 0 {
		p.RateLimitPeriod = config.DefaultRateLimitPeriod
	}
	if p.RateLimit < 0 {
		p.RateLimit = 0
	}
	if p.BudgetLimit < 0 {
		p.BudgetLimit = 0
	}
	if p.MaxDuration < 0 {
		p.MaxDuration = 0
	}
	for _, list := range []*[]string{
		&p.AllowedModels, &p.BannedModels, &p.AllowedQualities,
		&p.BannedQualities, &p.AllowedProviders, &p.AllowedKeys,
	} {
		if *list == nil {
			*list = []string{}
		}
	}
}
