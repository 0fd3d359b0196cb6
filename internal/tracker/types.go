// Package tracker records the lifecycle of every spawned subagent: status,
// tool timings, token spend, and file ownership. The tracking document is
// shared across hook processes, so every write goes through the file lock and
// a merge that never discards a fresher on-disk record. Each lifecycle event
// is also appended to a per-session JSONL replay stream.
package tracker

import "time"

// Agent statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Bounds on per-agent containers and document size.
const (
	MaxToolUsage      = 50
	MaxOwnedFiles     = 100
	MaxOutputSummary  = 500
	MaxDescription    = 200
	MaxRetainedAgents = 100

	StaleAfter  = 5 * time.Minute
	KillAfter   = 10 * time.Minute
	CostCeiling = 1.00

	debounceInterval = 100 * time.Millisecond
	lockRetries      = 3
)

// ToolUsage is one tool invocation by an agent.
type ToolUsage struct {
	Tool       string `json:"tool"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	At         string `json:"at"`
}

// TokenUsage accumulates an agent's token and cost spend.
type TokenUsage struct {
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	CacheReadTokens int     `json:"cache_read_tokens"`
	CostUSD         float64 `json:"cost_usd"`
}

// AgentRecord is one subagent's lifecycle entry.
type AgentRecord struct {
	ID            string      `json:"id"`
	Type          string      `json:"agent_type"`
	ParentMode    string      `json:"parent_mode"`
	Description   string      `json:"description,omitempty"`
	Status        string      `json:"status"`
	StartedAt     string      `json:"started_at"`
	CompletedAt   string      `json:"completed_at,omitempty"`
	DurationMs    int64       `json:"duration_ms,omitempty"`
	OutputSummary string      `json:"output_summary,omitempty"`
	ToolUsage     []ToolUsage `json:"tool_usage,omitempty"`
	Tokens        TokenUsage  `json:"token_usage"`
	OwnedFiles    []string    `json:"owned_files,omitempty"`
}

// freshness is the timestamp used to pick the winner when two copies of the
// same agent record meet in a merge.
func (a *AgentRecord) freshness() string {
	if a.CompletedAt > a.StartedAt {
		return a.CompletedAt
	}
	return a.StartedAt
}

// Document is the per-working-directory tracking document.
type Document struct {
	SessionID      string                  `json:"session_id,omitempty"`
	TotalSpawned   int                     `json:"total_spawned"`
	TotalCompleted int                     `json:"total_completed"`
	TotalFailed    int                     `json:"total_failed"`
	Agents         map[string]*AgentRecord `json:"agents"`
	LastUpdated    string                  `json:"last_updated"`
}

// NewDocument returns an empty tracking document.
func NewDocument() *Document {
	return &Document{Agents: map[string]*AgentRecord{}}
}

// Intervention is a suggested operator action for a misbehaving agent.
type Intervention struct {
	AgentID     string `json:"agent_id"`
	Type        string `json:"type"` // timeout, excessive_cost, file_conflict, deadlock
	Reason      string `json:"reason"`
	AutoExecute string `json:"auto_execute,omitempty"`
}

// truncate caps s at max characters, never splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
