package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/utils"
)

// Ledger is the bounded, append-only attempt history.
// It is not safe for concurrent use; the policy engine serializes access.
type Ledger struct {
	path     string
	max      int
	attempts []Attempt // oldest first
	stamp    fileStamp
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

func statStamp(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

// Load reads history.json keeping at most maxHistory newest attempts.
// A missing or corrupt document degrades to an empty ledger with a warning.
func Load(path string, maxHistory int) *Ledger {
	l := &Ledger{path: path, max: maxHistory}
	l.load()
	return l
}

func (l *Ledger) load() {
	l.stamp = statStamp(l.path)
	l.attempts = nil

	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", l.path).Msg("ledger: read failed, starting empty")
		}
		return
	}
	var attempts []Attempt
	if err := json.Unmarshal(data, &attempts); err != nil {
		log.Warn().Err(err).Str("path", l.path).Msg("ledger: corrupt document, starting empty")
		return
	}
	l.attempts = attempts
	l.prune()
}

// Refresh reloads history.json if another process rewrote it.
func (l *Ledger) Refresh() bool {
	if statStamp(l.path) == l.stamp {
		return false
	}
	l.load()
	return true
}

// SetMax changes the retention cap. Takes effect immediately in memory.
func (l *Ledger) SetMax(n int) {
	l.max = n
	l.prune()
}

// Append adds an attempt, dropping the oldest beyond the retention cap.
func (l *Ledger) Append(a Attempt) {
	l.attempts = append(l.attempts, a)
	l.prune()
}

func (l *Ledger) prune() {
	if l.max > 0 && len(l.attempts) > l.max {
		drop := len(l.attempts) - l.max
		kept := make([]Attempt, l.max)
		copy(kept, l.attempts[drop:])
		l.attempts = kept
	}
}

// Save atomically rewrites history.json.
func (l *Ledger) Save() error {
	attempts := l.attempts
	if attempts == nil {
		attempts = []Attempt{}
	}
	if err := utils.WriteJSONAtomic(l.path, attempts); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	l.stamp = statStamp(l.path)
	return nil
}

// Len returns the number of retained attempts.
func (l *Ledger) Len() int { return len(l.attempts) }

// Recent returns up to limit attempts, newest first. limit <= 0 means all.
func (l *Ledger) Recent(limit int) []Attempt {
	return l.collect(limit, func(Attempt) bool { return true })
}

// ForSession returns up to limit attempts of one session, newest first.
func (l *Ledger) ForSession(sessionID string, limit int) []Attempt {
	return l.collect(limit, func(a Attempt) bool { return a.SessionID == sessionID })
}

func (l *Ledger) collect(limit int, keep func(Attempt) bool) []Attempt {
	out := []Attempt{}
	for i := len(l.attempts) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if keep(l.attempts[i]) {
			out = append(out, l.attempts[i])
		}
	}
	return out
}

// RemoveSession drops every attempt of a session and returns how many.
func (l *Ledger) RemoveSession(sessionID string) int {
	kept := l.attempts[:0]
	removed := 0
	for _, a := range l.attempts {
		if a.SessionID == sessionID {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	l.attempts = kept
	return removed
}
