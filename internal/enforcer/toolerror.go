package enforcer

import (
	"fmt"
	"path/filepath"
	"time"

	"omc/internal/state"
)

// ToolError is the scratch record describing the most recent tool failure.
// The post-tool hook writes it; stop handling reads it to steer retries. The
// file layout is a stable contract read by external tooling, so the field
// names and the RFC 3339 timestamp must not change.
type ToolError struct {
	Tool       string `json:"tool_name"`
	Preview    string `json:"tool_input_preview,omitempty"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"` // RFC 3339 UTC
	RetryCount int    `json:"retry_count"`
}

const (
	toolErrorFile     = "last-tool-error.json"
	toolErrorFresh    = 60 * time.Second
	toolErrorMaxRetry = 5
	previewLimit      = 200
)

func toolErrorPath(cwd string) string {
	return filepath.Join(state.Dir(cwd), toolErrorFile)
}

// RecordToolError persists a tool failure. Consecutive failures of the same
// tool bump the retry counter; a different tool resets it.
func RecordToolError(cwd, tool, preview, errMsg string) error {
	if _, err := state.EnsureDir(cwd); err != nil {
		return err
	}
	rec := ToolError{
		Tool:       tool,
		Preview:    truncatePreview(preview),
		Error:      errMsg,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RetryCount: 1,
	}
	var prev ToolError
	if err := state.ReadJSON(toolErrorPath(cwd), &prev); err == nil && prev.Tool == tool {
		rec.RetryCount = prev.RetryCount + 1
	}
	return state.WriteJSON(toolErrorPath(cwd), rec)
}

// ClearToolError removes the scratch record, typically after a successful
// tool call.
func ClearToolError(cwd string) error {
	return state.Remove(toolErrorPath(cwd))
}

// recentToolError reads the record, treating anything older than a minute as
// absent.
func recentToolError(cwd string, now time.Time) (ToolError, bool) {
	var rec ToolError
	if err := state.ReadJSON(toolErrorPath(cwd), &rec); err != nil {
		return ToolError{}, false
	}
	recorded, err := time.Parse(time.RFC3339, rec.Timestamp)
	if err != nil {
		return ToolError{}, false
	}
	age := now.Sub(recorded)
	if age < 0 || age > toolErrorFresh {
		return ToolError{}, false
	}
	return rec, true
}

// retryGuidance renders the continuation-prompt prefix for a recent failure.
// Persistent failures switch from "retry" to "change approach".
func retryGuidance(rec ToolError) string {
	if rec.RetryCount >= toolErrorMaxRetry {
		return fmt.Sprintf(
			"The %s tool has failed %d times in a row (%s). Do not retry the same invocation; try a different approach.",
			rec.Tool, rec.RetryCount, rec.Error)
	}
	return fmt.Sprintf(
		"The last %s call failed (%s). Fix the issue or retry before continuing.",
		rec.Tool, rec.Error)
}

func truncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLimit {
		return s
	}
	return string(runes[:previewLimit])
}
