package bouncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/barrier"
	"github.com/compresr/apibouncer/internal/monitoring"
	"github.com/compresr/apibouncer/internal/policy"
)

// Barrier outcomes used for metrics and the audit log.
const (
	barrierApproved  = "approved"
	barrierDenied    = "denied"
	barrierTimeout   = "timeout"
	barrierCancelled = "cancelled"
)

// Guard authorizes req and, when barrier mode applies to the session, files
// a ticket and blocks until a human decides.
//
// A human denial, a timeout or a vanished ticket is recorded as a
// barrier_denied attempt (counters and escalation apply) and returned as a
// denied Decision. Cancellation returns ctx.Err() and leaves the ticket
// pending. The caller performs the call only when Decision.Allowed is true,
// then reports the result with Record.
func (b *Bouncer) Guard(ctx context.Context, req policy.Request) (policy.Decision, error) {
	dec, err := b.engine.Authorize(ctx, req)
	if err != nil || !dec.Allowed || !dec.RequiresBarrier {
		return dec, err
	}

	var sessionName string
	if info, err := b.Query().SessionInfo(req.SessionID); err == nil {
		sessionName = info.Name
	}
	ticket := barrier.NewRequest(req.SessionID, sessionName, req.Provider, req.Model,
		req.EstimatedCost, req.Params, b.now())

	id, err := b.queue.Submit(ctx, ticket)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("submit barrier ticket: %w", err)
	}
	log.Info().
		Str("ticket", id).
		Str("session_id", req.SessionID).
		Str("provider", req.Provider).
		Str("model", req.Model).
		Float64("cost", req.EstimatedCost).
		Msg("bouncer: waiting for approval")

	started := time.Now()
	approved, err := barrier.WaitForDecision(ctx, b.queue, id, b.cfg.Barrier.Timeout, b.cfg.Barrier.PollInterval)
	waited := time.Since(started)

	var reason, outcome string
	switch {
	case err == nil && approved:
		b.observeBarrier(req, barrierApproved, "", waited)
		return dec, nil
	case err == nil:
		outcome, reason = barrierDenied, "Denied by human approver"
	case errors.Is(err, barrier.ErrWaitTimeout):
		outcome, reason = barrierTimeout, fmt.Sprintf("Barrier timeout: no decision within %s", b.cfg.Barrier.Timeout)
	case errors.Is(err, barrier.ErrUnknownTicket):
		outcome, reason = barrierDenied, "Barrier ticket removed before a decision"
	case ctx.Err() != nil:
		b.observeBarrier(req, barrierCancelled, "", waited)
		return policy.Decision{}, err
	default:
		return policy.Decision{}, fmt.Errorf("wait for barrier decision: %w", err)
	}

	b.observeBarrier(req, outcome, reason, waited)
	denial := &policy.Denial{Kind: policy.KindBarrierDenied, SessionID: req.SessionID, Message: reason}

	// Recording must survive the caller's cancellation once a decision exists.
	attempt, recErr := b.engine.Record(context.WithoutCancel(ctx), policy.Outcome{
		SessionID: req.SessionID,
		Provider:  req.Provider,
		Model:     req.Model,
		Cost:      req.EstimatedCost,
		Kind:      policy.KindBarrierDenied,
		Reason:    reason,
		Request:   req.Params,
	})
	return policy.Decision{Denial: denial, AttemptID: attempt.ID}, recErr
}

func (b *Bouncer) observeBarrier(req policy.Request, outcome, reason string, waited time.Duration) {
	b.metrics.ObserveBarrier(outcome, waited)
	b.audit.Record(monitoring.DecisionEvent{
		Timestamp: b.now(),
		Stage:     monitoring.StageBarrier,
		SessionID: req.SessionID,
		Provider:  req.Provider,
		Model:     req.Model,
		Allowed:   outcome == barrierApproved,
		Status:    outcome,
		Cost:      req.EstimatedCost,
		Reason:    reason,
	})
	if outcome != barrierApproved {
		log.Info().
			Str("session_id", req.SessionID).
			Str("outcome", outcome).
			Dur("waited", waited).
			Msg("bouncer: barrier did not approve")
	}
}
