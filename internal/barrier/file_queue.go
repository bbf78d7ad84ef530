package barrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/utils"
)

const lockRetryDelay = 10 * time.Millisecond

// FileQueue stores tickets in one JSON document. Every read-modify-write
// runs under the in-process mutex and an exclusive lock on path + ".lock".
type FileQueue struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
	opts options
}

var _ Queue = (*FileQueue)(nil)

// NewFileQueue opens (without creating) the queue document at path.
func NewFileQueue(path string, opts ...Option) (*FileQueue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create barrier dir: %w", err)
	}
	return &FileQueue{
		path: path,
		lock: flock.New(path + ".lock"),
		opts: buildOptions(opts),
	}, nil
}

// Path returns the queue document.
func (q *FileQueue) Path() string { return q.path }

// Submit implements Queue.
func (q *FileQueue) Submit(ctx context.Context, req Request) (string, error) {
	req = q.opts.prepare(req)
	err := q.update(ctx, func(tickets []Request) ([]Request, bool) {
		return append(tickets, req), true
	})
	if err != nil {
		return "", err
	}
	log.Info().
		Str("ticket", req.ID).
		Str("session_id", req.SessionID).
		Str("provider", req.Provider).
		Str("model", req.Model).
		Msg("barrier: ticket submitted")
	q.opts.fireNotify(req)
	return req.ID, nil
}

// Decide implements Queue.
func (q *FileQueue) Decide(ctx context.Context, id string, approve bool) (bool, error) {
	changed := false
	err := q.update(ctx, func(tickets []Request) ([]Request, bool) {
		for i := range tickets {
			if tickets[i].ID == id && tickets[i].Approved == nil {
				tickets[i].Approved = boolPtr(approve)
				changed = true
				break
			}
		}
		return tickets, changed
	})
	return changed, err
}

// DecideAll implements Queue.
func (q *FileQueue) DecideAll(ctx context.Context, approve bool) (int, error) {
	n := 0
	err := q.update(ctx, func(tickets []Request) ([]Request, bool) {
		for i := range tickets {
			if tickets[i].Approved == nil {
				tickets[i].Approved = boolPtr(approve)
				n++
			}
		}
		return tickets, n > 0
	})
	return n, err
}

// Status implements Queue.
func (q *FileQueue) Status(ctx context.Context, id string) (State, error) {
	state := StateUnknown
	err := q.update(ctx, func(tickets []Request) ([]Request, bool) {
		for _, t := range tickets {
			if t.ID == id {
				state = t.State()
				break
			}
		}
		return tickets, false
	})
	return state, err
}

// Pending implements Queue.
func (q *FileQueue) Pending(ctx context.Context) ([]Request, error) {
	var pending []Request
	err := q.update(ctx, func(tickets []Request) ([]Request, bool) {
		for _, t := range tickets {
			if t.Approved == nil {
				pending = append(pending, t)
			}
		}
		return tickets, false
	})
	return pending, err
}

// Purge implements Queue.
func (q *FileQueue) Purge(ctx context.Context) (int, error) {
	removed := 0
	err := q.update(ctx, func(tickets []Request) ([]Request, bool) {
		kept := make([]Request, 0, len(tickets))
		for _, t := range tickets {
			if t.Approved != nil {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		return kept, removed > 0
	})
	return removed, err
}

// Close implements Queue.
func (q *FileQueue) Close() error {
	return q.lock.Close()
}

// update runs fn inside the critical section and rewrites the document when
// fn reports a change.
func (q *FileQueue) update(ctx context.Context, fn func([]Request) ([]Request, bool)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	locked, err := q.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock barrier queue: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock barrier queue: not acquired")
	}
	defer func() { _ = q.lock.Unlock() }()

	next, dirty := fn(q.readLocked())
	if !dirty {
		return nil
	}
	if next == nil {
		next = []Request{}
	}
	if err := utils.WriteJSONAtomic(q.path, next); err != nil {
		return fmt.Errorf("write barrier queue: %w", err)
	}
	return nil
}

func (q *FileQueue) readLocked() []Request {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", q.path).Msg("barrier: read failed, treating queue as empty")
		}
		return nil
	}
	var tickets []Request
	if err := json.Unmarshal(data, &tickets); err != nil {
		log.Warn().Err(err).Str("path", q.path).Msg("barrier: corrupt queue, treating as empty")
		return nil
	}
	return tickets
}
