// Package bouncer is the process context object: it wires configuration,
// the policy engine, the barrier queue, the credential vault, metrics and
// the audit log for one process.
//
// DESIGN: There is no process-wide singleton. A caller builds one Bouncer
// with New and passes it to whatever needs it. Every component still
// re-reads the shared documents on use, so several processes (an agent, the
// CLI, the dashboard) can each hold their own Bouncer over one data dir.
package bouncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/barrier"
	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/monitoring"
	"github.com/compresr/apibouncer/internal/policy"
	"github.com/compresr/apibouncer/internal/vault"
)

// Bouncer bundles the components of one process.
type Bouncer struct {
	cfg      *config.Config
	settings *config.SettingsStore
	engine   *policy.Engine
	queue    barrier.Queue
	metrics  *monitoring.Metrics
	audit    *monitoring.AuditLog

	vault    *vault.Vault
	vaultErr error

	now func() time.Time
}

// Option configures New.
type Option func(*options)

type options struct {
	now         func() time.Time
	notify      barrier.NotifyFunc
	fingerprint string
}

// WithClock overrides time.Now for the engine and barrier tickets.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBarrierNotify installs a hook fired when a ticket is submitted.
func WithBarrierNotify(fn barrier.NotifyFunc) Option {
	return func(o *options) { o.notify = fn }
}

// WithVaultFingerprint replaces the machine fingerprint of the vault.
func WithVaultFingerprint(fp string) Option {
	return func(o *options) { o.fingerprint = fp }
}

// New opens every component under cfg.DataDir. An unusable vault is not
// fatal: credential lookups fail with policy.ErrVaultUnavailable instead.
func New(cfg *config.Config, opts ...Option) (*Bouncer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	audit, err := monitoring.NewAuditLog(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	b := &Bouncer{
		cfg:      cfg,
		settings: config.OpenSettings(cfg.Path(config.SettingsFileName)),
		metrics:  monitoring.NewMetrics(),
		audit:    audit,
		now:      o.now,
	}
	b.engine = policy.New(policy.Config{
		SessionsPath: cfg.Path(config.SessionsFileName),
		HistoryPath:  cfg.Path(config.HistoryFileName),
		Settings:     b.settings,
		Metrics:      b.metrics,
		Audit:        audit,
		Now:          o.now,
	})

	queueOpts := []barrier.Option{barrier.WithClock(o.now)}
	if o.notify != nil {
		queueOpts = append(queueOpts, barrier.WithNotify(o.notify))
	}
	b.queue, err = barrier.Open(cfg.Barrier, cfg.DataDir, queueOpts...)
	if err != nil {
		_ = audit.Close()
		return nil, fmt.Errorf("open barrier queue: %w", err)
	}

	var vaultOpts []vault.Option
	if o.fingerprint != "" {
		vaultOpts = append(vaultOpts, vault.WithFingerprint(o.fingerprint))
	}
	b.vault, b.vaultErr = vault.Open(cfg.DataDir, vaultOpts...)
	if b.vaultErr != nil {
		log.Warn().Err(b.vaultErr).Str("dir", cfg.DataDir).Msg("bouncer: vault unavailable")
	}

	log.Debug().
		Str("data_dir", cfg.DataDir).
		Str("barrier_backend", cfg.Barrier.Backend).
		Bool("audit", audit != nil).
		Msg("bouncer: initialized")
	return b, nil
}

// Config returns the process configuration.
func (b *Bouncer) Config() *config.Config { return b.cfg }

// Engine returns the policy engine.
func (b *Bouncer) Engine() *policy.Engine { return b.engine }

// Query returns the read-only surface for agents and UIs.
func (b *Bouncer) Query() *policy.Query { return b.engine.Query() }

// Settings returns the durable settings document.
func (b *Bouncer) Settings() *config.SettingsStore { return b.settings }

// Queue returns the barrier queue.
func (b *Bouncer) Queue() barrier.Queue { return b.queue }

// Metrics returns the Prometheus collectors of this process.
func (b *Bouncer) Metrics() *monitoring.Metrics { return b.metrics }

// Vault returns the credential vault, or an error wrapping
// policy.ErrVaultUnavailable.
func (b *Bouncer) Vault() (*vault.Vault, error) {
	if b.vault == nil {
		return nil, fmt.Errorf("%w: %w", policy.ErrVaultUnavailable, b.vaultErr)
	}
	return b.vault, nil
}

// RefreshGauges publishes the sessions-by-status gauge.
func (b *Bouncer) RefreshGauges() {
	st := b.Query().Stats()
	b.metrics.SetSessions(map[string]int{
		"active": st.ActiveSessions,
		"warned": st.WarnedSessions,
		"banned": st.BannedSessions,
	})
}

// Close releases the queue and the audit log.
func (b *Bouncer) Close() error {
	return errors.Join(b.queue.Close(), b.audit.Close())
}
