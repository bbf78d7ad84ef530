package policy

import (
	"fmt"
	"time"

	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/costcontrol"
	"github.com/compresr/apibouncer/internal/ledger"
	"github.com/compresr/apibouncer/internal/session"
)

// Query is the read-only surface handed to agents and UIs. It never exposes
// credentials and has no mutating methods.
type Query struct {
	e *Engine
}

// Query returns the read-only view of the engine.
func (e *Engine) Query() *Query { return &Query{e: e} }

// SessionInfo is a session together with derived views.
type SessionInfo struct {
	session.Session
	Budget        costcontrol.BudgetStatus `json:"budget"`
	BarrierActive bool                     `json:"barrier_active"`
}

// HistoryEntry is an attempt as shown to readers: the raw request and
// response documents are replaced by a prompt preview.
type HistoryEntry struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Provider      string        `json:"provider"`
	Model         string        `json:"model"`
	EstimatedCost float64       `json:"estimated_cost"`
	Status        ledger.Status `json:"status"`
	Kind          string        `json:"kind,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	ArtifactPath  string        `json:"artifact_path,omitempty"`
	PromptPreview string        `json:"prompt_preview,omitempty"`
}

// Stats aggregates every session.
type Stats struct {
	TotalSessions  int     `json:"total_sessions"`
	ActiveSessions int     `json:"active_sessions"`
	WarnedSessions int     `json:"warned_sessions"`
	BannedSessions int     `json:"banned_sessions"`
	TotalRequests  int     `json:"total_requests"`
	TotalAllowed   int     `json:"total_allowed"`
	TotalBlocked   int     `json:"total_blocked"`
	BlockRate      float64 `json:"block_rate"` // percent
	TotalSpent     float64 `json:"total_spent"`
	TotalSaved     float64 `json:"total_saved"`
}

// SessionInfo returns one session.
func (q *Query) SessionInfo(id string) (SessionInfo, error) {
	q.e.mu.Lock()
	defer q.e.mu.Unlock()
	q.e.sessions.Refresh()

	sess, ok := q.e.sessions.Get(id)
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return q.infoLocked(sess), nil
}

// Sessions returns every session ordered by creation time.
func (q *Query) Sessions() []SessionInfo {
	q.e.mu.Lock()
	defer q.e.mu.Unlock()
	q.e.sessions.Refresh()

	list := q.e.sessions.List()
	out := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, q.infoLocked(sess))
	}
	return out
}

func (q *Query) infoLocked(sess *session.Session) SessionInfo {
	return SessionInfo{
		Session:       sess.Clone(),
		Budget:        costcontrol.Budget(sess.BudgetLimit, sess.TotalCost),
		BarrierActive: q.e.barrierActiveLocked(sess),
	}
}

// BudgetRemaining returns the budget breakdown of a session.
func (q *Query) BudgetRemaining(id string) (costcontrol.BudgetStatus, error) {
	info, err := q.SessionInfo(id)
	if err != nil {
		return costcontrol.BudgetStatus{}, err
	}
	return info.Budget, nil
}

// History returns up to limit attempts of a session, newest first.
func (q *Query) History(sessionID string, limit int) []HistoryEntry {
	q.e.mu.Lock()
	defer q.e.mu.Unlock()
	q.e.ledger.Refresh()
	return toEntries(q.e.ledger.ForSession(sessionID, limit))
}

// RecentHistory returns up to limit attempts across sessions, newest first.
func (q *Query) RecentHistory(limit int) []HistoryEntry {
	q.e.mu.Lock()
	defer q.e.mu.Unlock()
	q.e.ledger.Refresh()
	return toEntries(q.e.ledger.Recent(limit))
}

func toEntries(attempts []ledger.Attempt) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, HistoryEntry{
			ID:            a.ID,
			SessionID:     a.SessionID,
			Timestamp:     a.Timestamp.Time,
			Provider:      a.Provider,
			Model:         a.Model,
			EstimatedCost: a.EstimatedCost,
			Status:        a.Status,
			Kind:          a.Kind,
			Reason:        a.Reason,
			ArtifactPath:  a.ArtifactPath,
			PromptPreview: a.PromptPreview(config.HistoryPromptPreviewLen),
		})
	}
	return out
}

// Prices returns the effective price table (defaults plus overrides).
func (q *Query) Prices() costcontrol.PriceTable {
	return costcontrol.Effective(q.e.settings.Reload().Prices)
}

// Price returns the estimated cost of one call.
func (q *Query) Price(provider, model, quality string) float64 {
	return costcontrol.Lookup(q.e.settings.Reload().Prices, provider, model, quality)
}

// Stats aggregates counters across sessions.
func (q *Query) Stats() Stats {
	q.e.mu.Lock()
	defer q.e.mu.Unlock()
	q.e.sessions.Refresh()

	var s Stats
	for _, sess := range q.e.sessions.List() {
		s.TotalSessions++
		switch sess.Status {
		case session.StatusActive:
			s.ActiveSessions++
		case session.StatusWarned:
			s.WarnedSessions++
		case session.StatusBanned:
			s.BannedSessions++
		}
		s.TotalRequests += sess.TotalRequests
		s.TotalAllowed += sess.AllowedRequests
		s.TotalBlocked += sess.BlockedRequests
		s.TotalSpent += sess.TotalCost
		s.TotalSaved += sess.BlockedCost
	}
	if s.TotalRequests > 0 {
		s.BlockRate = float64(s.TotalBlocked) / float64(s.TotalRequests) * 100
	}
	return s
}

// Snapshots returns the dashboard rows.
func (q *Query) Snapshots() []costcontrol.SessionSnapshot {
	infos := q.Sessions()
	out := make([]costcontrol.SessionSnapshot, 0, len(infos))
	for _, info := range infos {
		out = append(out, costcontrol.SessionSnapshot{
			ID:            info.ID,
			Name:          info.Name,
			Status:        string(info.Status),
			TotalRequests: info.TotalRequests,
			BlockedCount:  info.BlockedRequests,
			Cost:          info.TotalCost,
			Saved:         info.BlockedCost,
			Budget:        info.Budget,
			LastActivity:  info.LastActivity.Time,
		})
	}
	return out
}
