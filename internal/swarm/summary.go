package swarm

import (
	"path/filepath"
	"time"

	"omc/internal/state"
)

// Summary is the swarm-summary.json sidecar consumed by external monitors.
type Summary struct {
	SessionID    string `json:"session_id"`
	StartedAt    string `json:"started_at"`
	UpdatedAt    string `json:"updated_at"`
	TaskCount    int    `json:"task_count"`
	TasksPending int    `json:"tasks_pending"`
	TasksClaimed int    `json:"tasks_claimed"`
	TasksDone    int    `json:"tasks_done"`
	TasksFailed  int    `json:"tasks_failed"`
	Active       bool   `json:"active"`
	ProjectPath  string `json:"project_path"`
}

// SummaryPath returns the sidecar location for a working directory.
func SummaryPath(cwd string) string {
	return filepath.Join(state.Dir(cwd), "swarm-summary.json")
}

// writeSummary refreshes the sidecar after claim/complete/session changes.
// Failures are logged and swallowed; the sidecar is advisory.
func (p *Pool) writeSummary() {
	counts, err := p.StatusCounts()
	if err != nil {
		p.logger.Warn("summary counts: %v", err)
		return
	}

	summary := Summary{
		UpdatedAt:    p.now().UTC().Format(time.RFC3339),
		TasksPending: counts[StatusPending],
		TasksClaimed: counts[StatusClaimed],
		TasksDone:    counts[StatusDone],
		TasksFailed:  counts[StatusFailed],
		ProjectPath:  p.cwd,
	}
	for _, n := range counts {
		summary.TaskCount += n
	}

	if session, ok, err := p.CurrentSession(); err == nil && ok {
		summary.SessionID = session.SessionID
		summary.Active = session.Active
		summary.StartedAt = session.StartedAt.Format(time.RFC3339)
	}

	if err := state.WriteJSON(SummaryPath(p.cwd), summary); err != nil {
		p.logger.Warn("write summary: %v", err)
	}
}

// ReadSummary loads the sidecar for a working directory.
func ReadSummary(cwd string) (Summary, error) {
	var s Summary
	err := state.ReadJSON(SummaryPath(cwd), &s)
	return s, err
}
