// Package monitoring - audit.go records decision events to a JSONL file.
//
// DESIGN: One JSON object per line, appended immediately after each event so
// the file can be tailed while agents run. A nil *AuditLog is a valid no-op.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// AuditLog appends DecisionEvents to a JSONL file.
type AuditLog struct {
	path   string
	count  int
	failed int
	mu     sync.Mutex
}

// NewAuditLog creates the audit log. Returns nil (a no-op log) when disabled.
func NewAuditLog(cfg AuditConfig) (*AuditLog, error) {
	if !cfg.Enabled || cfg.Path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, err
	}
	return &AuditLog{path: cfg.Path}, nil
}

// Path returns the file being written, or "" for a disabled log.
func (a *AuditLog) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Record appends one event. Write failures are logged, never returned.
func (a *AuditLog) Record(event DecisionEvent) {
	if a == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := appendJSONL(a.path, event); err != nil {
		a.failed++
		log.Error().Err(err).Str("path", a.path).Msg("audit: failed to write decision event")
		return
	}
	a.count++
}

// Close logs a summary of the events written.
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count > 0 || a.failed > 0 {
		log.Info().
			Str("path", a.path).
			Int("events", a.count).
			Int("failed", a.failed).
			Msg("audit: log closed")
	}
	return nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}
