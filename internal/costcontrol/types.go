// Package costcontrol implements price lookup and budget arithmetic.
//
// DESIGN: Prices are estimates per request (not per token): an image, a video
// or a chat call is charged a flat amount, optionally varying by quality tier.
// Budgets are per session; a limit <= 0 means unlimited. The engine in
// internal/policy owns the decision, this package owns the arithmetic.
package costcontrol

import (
	"fmt"
	"time"
)

// DashboardConfig holds settings for the read-only HTML cost dashboard.
type DashboardConfig struct {
	Addr           string `yaml:"addr"`            // listen address, e.g. 127.0.0.1:18090
	RefreshSeconds int    `yaml:"refresh_seconds"` // page auto-refresh. 0 = no refresh.
	Currency       string `yaml:"currency"`        // display symbol, default "$"
}

// Validate checks dashboard configuration.
func (c *DashboardConfig) Validate() error {
	if c.RefreshSeconds < 0 {
		return fmt.Errorf("dashboard.refresh_seconds must be >= 0, got %d", c.RefreshSeconds)
	}
	return nil
}

// BudgetStatus is the budget-remaining breakdown for one session.
type BudgetStatus struct {
	Unlimited   bool    `json:"unlimited"`
	Limit       float64 `json:"limit,omitempty"`
	Spent       float64 `json:"spent"`
	Remaining   float64 `json:"remaining,omitempty"`
	PercentUsed float64 `json:"percentage_used,omitempty"`
}

// SessionSnapshot is a read-only copy of a session for the dashboard.
type SessionSnapshot struct {
	ID            string
	Name          string
	Status        string
	TotalRequests int
	BlockedCount  int
	Cost          float64
	Saved         float64
	Budget        BudgetStatus
	LastActivity  time.Time
}
