// Package barrier is the cross-process human approval queue.
//
// DESIGN: A requester process submits a ticket and polls its state; an
// approver process (CLI or UI) lists pending tickets and decides them. The
// Queue interface hides the storage so the JSON file backend can be swapped
// for the SQLite backend without changing callers.
//
//   - FileQueue:   barrier_queue.json, in-process mutex + OS file lock
//   - SQLiteQueue: barrier.db, row-level conditional updates
//   - Watcher:     fsnotify wake-ups for approvers
package barrier

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/utils"
)

// State is the lifecycle state of a ticket.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateDenied   State = "denied"
	StateUnknown  State = "unknown"
)

// Terminal reports whether no further decision can change the state.
func (s State) Terminal() bool { return s == StateApproved || s == StateDenied }

var (
	// ErrWaitTimeout is returned by WaitForDecision when no human decided in
	// time. The ticket is treated as denied.
	ErrWaitTimeout = errors.New("barrier: timed out waiting for decision")
	// ErrUnknownTicket is returned by WaitForDecision when the ticket vanished.
	ErrUnknownTicket = errors.New("barrier: unknown ticket")
)

// Request is one ticket awaiting approval.
type Request struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	SessionName   string          `json:"session_name"`
	Timestamp     utils.Timestamp `json:"timestamp"`
	Provider      string          `json:"provider"`
	Model         string          `json:"model"`
	EstimatedCost float64         `json:"estimated_cost"`
	PromptPreview string          `json:"prompt_preview"`
	Params        json.RawMessage `json:"params,omitempty"`
	Approved      *bool           `json:"approved"` // nil = pending
}

// State derives the ticket state from Approved.
func (r Request) State() State {
	switch {
	case r.Approved == nil:
		return StatePending
	case *r.Approved:
		return StateApproved
	default:
		return StateDenied
	}
}

// NewRequest builds a pending ticket with a fresh id and prompt preview.
func NewRequest(sessionID, sessionName, provider, model string, cost float64, params map[string]any, now time.Time) Request {
	var raw json.RawMessage
	if len(params) > 0 {
		if data, err := utils.MarshalNoEscape(params); err == nil {
			raw = data
		}
	}
	return Request{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		SessionName:   sessionName,
		Timestamp:     utils.At(now),
		Provider:      provider,
		Model:         model,
		EstimatedCost: cost,
		PromptPreview: utils.PromptPreview(raw, config.BarrierPromptPreviewLen),
		Params:        raw,
	}
}

// Queue is the durable ticket store shared between processes.
type Queue interface {
	// Submit appends a pending ticket and returns its id.
	Submit(ctx context.Context, req Request) (string, error)
	// Decide sets the outcome of a pending ticket. Returns false when the
	// ticket is unknown or already decided (first decision wins).
	Decide(ctx context.Context, id string, approve bool) (bool, error)
	// DecideAll decides every pending ticket and returns how many.
	DecideAll(ctx context.Context, approve bool) (int, error)
	// Status returns the state of a ticket, StateUnknown if absent.
	Status(ctx context.Context, id string) (State, error)
	// Pending lists pending tickets, oldest first.
	Pending(ctx context.Context) ([]Request, error)
	// Purge drops decided tickets and returns how many.
	Purge(ctx context.Context) (int, error)
	// Path returns the backing file, for watchers.
	Path() string
	// Close releases resources held by the queue.
	Close() error
}

// NotifyFunc is called after a successful Submit.
type NotifyFunc func(Request)

// Option configures a queue.
type Option func(*options)

type options struct {
	notify NotifyFunc
	now    func() time.Time
}

// WithNotify installs a hook fired after each Submit. The hook runs on its
// own goroutine; its panics are recovered and logged.
func WithNotify(fn NotifyFunc) Option {
	return func(o *options) { o.notify = fn }
}

// WithClock overrides time.Now for ticket timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// prepare fills the fields a submitted ticket must carry.
func (o options) prepare(req Request) Request {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = utils.At(o.now())
	}
	if req.PromptPreview == "" {
		req.PromptPreview = utils.PromptPreview(req.Params, config.BarrierPromptPreviewLen)
	}
	req.Approved = nil
	return req
}

func (o options) fireNotify(req Request) {
	if o.notify == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Warn().Interface("panic", r).Str("ticket", req.ID).Msg("barrier: notify hook panicked")
			}
		}()
		o.notify(req)
	}()
}

func boolPtr(v bool) *bool { return &v }
