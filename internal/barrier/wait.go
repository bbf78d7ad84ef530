package barrier

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/config"
)

// WaitForDecision polls the ticket until it is decided, the timeout elapses
// or ctx is cancelled. No lock is held between polls.
//
// Returns (true, nil) when approved and (false, nil) when denied. A timeout
// returns (false, ErrWaitTimeout) and must be treated as a denial.
// Cancellation returns ctx.Err() and leaves the ticket pending. timeout <= 0
// waits until decided or cancelled.
func WaitForDecision(ctx context.Context, q Queue, id string, timeout, interval time.Duration) (bool, error) {
	if interval <= 0 {
		interval = config.DefaultBarrierPollInterval
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if decided, approved, err := poll(ctx, q, id); decided || err != nil {
			return approved, err
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			// A decision that landed right at the deadline still counts.
			if decided, approved, err := poll(ctx, q, id); decided || err != nil {
				return approved, err
			}
			log.Info().Str("ticket", id).Dur("timeout", timeout).Msg("barrier: no decision before timeout")
			return false, ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// poll reads the ticket once. Transient read errors are logged and retried
// on the next tick.
func poll(ctx context.Context, q Queue, id string) (decided, approved bool, err error) {
	state, err := q.Status(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return false, false, ctx.Err()
		}
		log.Warn().Err(err).Str("ticket", id).Msg("barrier: status read failed, retrying")
		return false, false, nil
	}
	switch state {
	case StateApproved:
		return true, true, nil
	case StateDenied:
		return true, false, nil
	case StateUnknown:
		return false, false, ErrUnknownTicket
	}
	return false, false, nil
}
