// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by config/, policy/ and bouncer/.
// Defined here ONCE to avoid circular imports.
//
// TYPES:
//   - DecisionEvent: one authorize/record/barrier outcome for the audit log
//   - Config types:  LoggerConfig, AuditConfig
package monitoring

import "time"

// Stage identifies where in the pipeline an event was produced.
type Stage string

const (
	StageAuthorize Stage = "authorize"
	StageRecord    Stage = "record"
	StageBarrier   Stage = "barrier"
)

// DecisionEvent captures one decision for the JSONL audit log.
type DecisionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     Stage     `json:"stage"`
	SessionID string    `json:"session_id"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Allowed   bool      `json:"allowed"`
	Kind      string    `json:"kind,omitempty"`   // denial kind, empty when allowed
	Status    string    `json:"status,omitempty"` // attempt status for StageRecord
	Cost      float64   `json:"cost"`
	Reason    string    `json:"reason,omitempty"`
	AttemptID string    `json:"attempt_id,omitempty"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// AuditConfig contains decision audit log configuration.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // relative paths resolve inside the data dir
}
