// Package ledger holds the attempt history (history.json) and the
// sliding-window rate limiter that scans it.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/compresr/apibouncer/internal/utils"
)

// Status is the final outcome of an attempt.
type Status string

const (
	StatusAllowed Status = "allowed"
	StatusBlocked Status = "blocked" // policy or barrier denial
	StatusError   Status = "error"   // external call failed after approval
)

// Attempt is one immutable audit record.
type Attempt struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	Timestamp     utils.Timestamp `json:"timestamp"`
	Provider      string          `json:"provider"`
	Model         string          `json:"model"`
	EstimatedCost float64         `json:"estimated_cost"`
	Status        Status          `json:"status"`
	Kind          string          `json:"kind,omitempty"` // denial kind for blocked attempts
	Reason        string          `json:"reason,omitempty"`
	ArtifactPath  string          `json:"artifact_path,omitempty"`
	RequestParams json.RawMessage `json:"request_params,omitempty"`
	ResponseData  json.RawMessage `json:"response_data,omitempty"`
}

// NewAttempt stamps a new attempt with a fresh id.
func NewAttempt(sessionID, provider, model string, cost float64, status Status, now time.Time) Attempt {
	return Attempt{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Timestamp:     utils.At(now),
		Provider:      provider,
		Model:         model,
		EstimatedCost: cost,
		Status:        status,
	}
}

// UnmarshalJSON accepts the older "image_path" key for ArtifactPath.
func (a *Attempt) UnmarshalJSON(data []byte) error {
	type plain Attempt
	var p struct {
		plain
		ImagePath string `json:"image_path"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Attempt(p.plain)
	if a.ArtifactPath == "" {
		a.ArtifactPath = p.ImagePath
	}
	if isJSONNull(a.RequestParams) {
		a.RequestParams = nil
	}
	if isJSONNull(a.ResponseData) {
		a.ResponseData = nil
	}
	return nil
}

// PromptPreview returns the leading runes of the request prompt, if any.
func (a Attempt) PromptPreview(n int) string {
	return utils.PromptPreview(a.RequestParams, n)
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
