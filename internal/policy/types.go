// Package policy is the authorization and accounting engine: it decides
// whether a paid API call may proceed and records what actually happened.
//
// DESIGN: Every entry point takes the engine-wide mutex, refreshes the
// on-disk documents if another process rewrote them, mutates memory and
// rewrites the affected documents atomically. Denials are values
// (Decision.Denial), never errors; the error return is reserved for
// persistence failures and cancellation.
package policy

import (
	"encoding/json"

	"github.com/compresr/apibouncer/internal/ledger"
	"github.com/compresr/apibouncer/internal/utils"
)

// Request describes one intended paid call.
type Request struct {
	SessionID     string
	Provider      string
	Model         string
	Quality       string  // empty = request has no quality dimension
	Duration      float64 // seconds, 0 = request has no duration dimension
	EstimatedCost float64
	Params        map[string]any // kept for audit and barrier preview
}

// Decision is the result of Authorize.
type Decision struct {
	Allowed bool
	Denial  *Denial // nil when allowed

	// RequiresBarrier is true when an allowed request must still be
	// approved by a human before the caller proceeds.
	RequiresBarrier bool

	// AttemptID is the ledger id of the recorded denial.
	AttemptID string
}

// Err returns the denial as an error, or nil when allowed.
func (d Decision) Err() error {
	if d.Denial == nil {
		return nil
	}
	return d.Denial
}

// Outcome reports what happened to a call for Record.
type Outcome struct {
	SessionID string
	Provider  string
	Model     string
	Cost      float64
	Succeeded bool

	// Kind marks a policy or barrier denial (status "blocked"). A failed
	// outcome without a Kind is an external failure (status "error").
	Kind   Kind
	Reason string

	ArtifactPath string
	Request      map[string]any
	Response     map[string]any
}

func (o Outcome) status() ledger.Status {
	switch {
	case o.Succeeded:
		return ledger.StatusAllowed
	case o.Kind != "":
		return ledger.StatusBlocked
	default:
		return ledger.StatusError
	}
}

func rawJSON(v map[string]any) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	data, err := utils.MarshalNoEscape(v)
	if err != nil {
		return nil
	}
	return data
}
