// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// DATA DIRECTORY
// =============================================================================

// AppDirName is the directory created under the user config dir.
const AppDirName = "apibouncer"

// ConfigFileName is the YAML process configuration inside the data dir.
const ConfigFileName = "bouncer.yaml"

// Document names inside the data dir.
const (
	SessionsFileName     = "sessions.json"
	HistoryFileName      = "history.json"
	SettingsFileName     = "settings.json"
	BarrierQueueFileName = "barrier_queue.json"
	BarrierDBFileName    = "barrier.db"
	VaultSaltFileName    = ".salt"
	VaultKeysFileName    = ".keys.enc"
	AuditFileName        = "audit.jsonl"
)

// =============================================================================
// ESCALATION AND RETENTION
// =============================================================================

// DefaultAutoBanThreshold is the blocked-request count that bans a session.
const DefaultAutoBanThreshold = 10

// DefaultWarningThreshold is the blocked-request count that warns a session.
const DefaultWarningThreshold = 5

// DefaultMaxHistory is how many attempts history.json retains.
const DefaultMaxHistory = 1000

// =============================================================================
// SESSION POLICY DEFAULTS
// =============================================================================

// DefaultRateLimitPeriod is the sliding window for new sessions (seconds).
const DefaultRateLimitPeriod = 3600

// =============================================================================
// BARRIER MODE
// =============================================================================

// DefaultBarrierPollInterval is how often a waiting requester re-reads the queue.
const DefaultBarrierPollInterval = 300 * time.Millisecond

// DefaultBarrierTimeout bounds how long Guard waits for a human. 0 = forever.
const DefaultBarrierTimeout = 5 * time.Minute

// DefaultBarrierPurgeSchedule is the cron spec used by "bouncer serve".
const DefaultBarrierPurgeSchedule = "@every 10m"

// BarrierPromptPreviewLen is the number of prompt runes shown to approvers.
const BarrierPromptPreviewLen = 150

// HistoryPromptPreviewLen is the number of prompt runes in history queries.
const HistoryPromptPreviewLen = 100

// =============================================================================
// SERVE
// =============================================================================

// DefaultDashboardAddr is where "bouncer serve" listens.
const DefaultDashboardAddr = "127.0.0.1:18090"

// DefaultDashboardRefresh is the dashboard auto-refresh in seconds.
const DefaultDashboardRefresh = 5
