// Package swarm implements the persistent task pool shared by concurrent
// workers. Tasks live in an embedded SQLite store under the project state
// directory; claims are lease-based and recover automatically from worker
// death via heartbeat-driven stale cleanup.
package swarm

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a pool task.
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Task is one unit of work in the pool.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      string     `json:"result,omitempty"`

	// Priority orders claims; lower claims first. Wave groups tasks for
	// staged rollout and starts at 1.
	Priority int `json:"priority"`
	Wave     int `json:"wave"`

	// OwnedFiles and FilePatterns scope the task to parts of the tree.
	// Both accept the constrained glob dialect.
	OwnedFiles   []string `json:"owned_files,omitempty"`
	FilePatterns []string `json:"file_patterns,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TaskSpec describes a task to insert via AddTasks.
type TaskSpec struct {
	Description  string
	Priority     int
	Wave         int
	OwnedFiles   []string
	FilePatterns []string
}

// Heartbeat is one worker's liveness row.
type Heartbeat struct {
	AgentID       string    `json:"agent_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
}

// Session is the singleton pool session row.
type Session struct {
	SessionID   string     `json:"session_id"`
	Active      bool       `json:"active"`
	WorkerCount int        `json:"worker_count"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ClaimResult reports the outcome of a claim attempt.
type ClaimResult struct {
	Success     bool   `json:"success"`
	TaskID      string `json:"task_id,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Claim failure reasons surfaced to workers.
const (
	ReasonNoPending      = "No pending tasks available"
	ReasonClaimedByOther = "Task was claimed by another agent"
)

// DefaultLeaseTimeout is how long a claim survives without a heartbeat.
const DefaultLeaseTimeout = 5 * time.Minute

// HeartbeatInterval is the contract interval workers ping at.
const HeartbeatInterval = 60 * time.Second

// ErrNotClaimedByWorker reports a CAS failure on release/complete/fail.
var ErrNotClaimedByWorker = errors.New("task not claimed by this worker")

// ErrTaskNotFound reports an unknown task id.
var ErrTaskNotFound = errors.New("task not found")
