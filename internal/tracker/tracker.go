package tracker

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"omc/internal/logging"
	"omc/internal/modes/registry"
)

var logger = logging.NewComponentLogger("tracker")

// Tracker is the high-level API used by the subagent hooks. It wires document
// updates and the replay stream together.
type Tracker struct {
	cwd       string
	sessionID string
	store     *Store
	replay    *Recorder
	now       func() time.Time
}

// New creates a tracker for one (cwd, session) pair.
func New(cwd, sessionID string) *Tracker {
	return &Tracker{
		cwd:       cwd,
		sessionID: sessionID,
		store:     NewStore(cwd, logger),
		replay:    NewRecorder(cwd, sessionID, logger),
		now:       time.Now,
	}
}

// Flush forces the pending document to disk. Hook commands call it last.
func (t *Tracker) Flush() error {
	return t.store.Flush()
}

// StartInput describes a freshly spawned subagent.
type StartInput struct {
	AgentID     string
	AgentType   string
	Description string
}

// StartOutput feeds the hookSpecificOutput of a subagent-start decision.
type StartOutput struct {
	AgentCount  int      `json:"agent_count"`
	StaleAgents []string `json:"stale_agents"`
}

// OnSubagentStart records a running agent, attributing it to whichever mode
// document is currently active for the session.
func (t *Tracker) OnSubagentStart(in StartInput) (StartOutput, error) {
	parentMode := registry.ActiveParentMode(t.cwd, t.sessionID)
	now := t.now().UTC()

	var out StartOutput
	t.store.Update(func(d *Document) {
		d.SessionID = t.sessionID
		d.Agents[in.AgentID] = &AgentRecord{
			ID:          in.AgentID,
			Type:        in.AgentType,
			ParentMode:  parentMode,
			Description: truncate(in.Description, MaxDescription),
			Status:      StatusRunning,
			StartedAt:   now.Format(time.RFC3339),
		}
		d.TotalSpawned++
		out = StartOutput{
			AgentCount:  countRunning(d),
			StaleAgents: staleAgentIDs(d, now),
		}
	})

	t.replay.Append(in.AgentID, EventAgentStart, map[string]any{
		"agent_type":  in.AgentType,
		"parent_mode": parentMode,
	})
	return out, t.store.Flush()
}

// StopInput describes a finished subagent. A nil Success means success.
type StopInput struct {
	AgentID string
	Success *bool
	Output  string
}

// OnSubagentStop closes an agent record and evicts the oldest finished agents
// once more than MaxRetainedAgents have completed or failed.
func (t *Tracker) OnSubagentStop(in StopInput) error {
	succeeded := in.Success == nil || *in.Success
	now := t.now().UTC()

	t.store.Update(func(d *Document) {
		rec, ok := d.Agents[in.AgentID]
		if !ok {
			logger.Warn("stop for unknown agent %s", in.AgentID)
			return
		}
		if succeeded {
			rec.Status = StatusCompleted
			d.TotalCompleted++
		} else {
			rec.Status = StatusFailed
			d.TotalFailed++
		}
		rec.CompletedAt = now.Format(time.RFC3339)
		if started, err := time.Parse(time.RFC3339, rec.StartedAt); err == nil {
			rec.DurationMs = now.Sub(started).Milliseconds()
		}
		rec.OutputSummary = truncate(in.Output, MaxOutputSummary)
		evictFinished(d)
	})

	t.replay.Append(in.AgentID, EventAgentStop, map[string]any{"success": succeeded})
	return t.store.Flush()
}

// RecordToolUsage appends an untimed tool invocation to the agent's log.
func (t *Tracker) RecordToolUsage(agentID, tool string, success bool) error {
	return t.recordTool(agentID, tool, 0, success)
}

// RecordToolUsageWithTiming appends a timed tool invocation.
func (t *Tracker) RecordToolUsageWithTiming(agentID, tool string, durationMs int64, success bool) error {
	return t.recordTool(agentID, tool, durationMs, success)
}

func (t *Tracker) recordTool(agentID, tool string, durationMs int64, success bool) error {
	t.store.Update(func(d *Document) {
		rec, ok := d.Agents[agentID]
		if !ok {
			return
		}
		rec.ToolUsage = append(rec.ToolUsage, ToolUsage{
			Tool:       tool,
			Success:    success,
			DurationMs: durationMs,
			At:         t.now().UTC().Format(time.RFC3339),
		})
		if len(rec.ToolUsage) > MaxToolUsage {
			rec.ToolUsage = rec.ToolUsage[len(rec.ToolUsage)-MaxToolUsage:]
		}
	})

	attrs := map[string]any{"tool": tool, "success": success}
	if durationMs > 0 {
		attrs["duration_ms"] = durationMs
	}
	t.replay.Append(agentID, EventToolEnd, attrs)
	return t.store.Flush()
}

// UpdateTokenUsage accumulates token counts and cost for an agent.
func (t *Tracker) UpdateTokenUsage(agentID string, delta TokenUsage) error {
	t.store.Update(func(d *Document) {
		rec, ok := d.Agents[agentID]
		if !ok {
			return
		}
		rec.Tokens.InputTokens += delta.InputTokens
		rec.Tokens.OutputTokens += delta.OutputTokens
		rec.Tokens.CacheReadTokens += delta.CacheReadTokens
		rec.Tokens.CostUSD += delta.CostUSD
	})
	return t.store.Flush()
}

// RecordFileOwnership registers a file an agent is working on, stored as a
// project-relative forward-slash path, deduped, capped at MaxOwnedFiles.
func (t *Tracker) RecordFileOwnership(agentID, absPath string) error {
	rel := projectRelative(t.cwd, absPath)

	t.store.Update(func(d *Document) {
		rec, ok := d.Agents[agentID]
		if !ok {
			return
		}
		for _, f := range rec.OwnedFiles {
			if f == rel {
				return
			}
		}
		rec.OwnedFiles = append(rec.OwnedFiles, rel)
		if len(rec.OwnedFiles) > MaxOwnedFiles {
			rec.OwnedFiles = rec.OwnedFiles[len(rec.OwnedFiles)-MaxOwnedFiles:]
		}
	})

	t.replay.Append(agentID, EventFileTouch, map[string]any{"file": rel})
	return t.store.Flush()
}

// CleanupStaleAgents marks running agents past the stale window as failed and
// returns their ids.
func (t *Tracker) CleanupStaleAgents() ([]string, error) {
	now := t.now().UTC()
	var stale []string

	t.store.Update(func(d *Document) {
		stale = staleAgentIDs(d, now)
		for _, id := range stale {
			rec := d.Agents[id]
			rec.Status = StatusFailed
			rec.CompletedAt = now.Format(time.RFC3339)
			rec.OutputSummary = "stale: exceeded timeout"
			d.TotalFailed++
		}
		if len(stale) > 0 {
			evictFinished(d)
		}
	})

	for _, id := range stale {
		t.replay.Append(id, EventIntervention, map[string]any{"action": "stale_cleanup"})
	}
	return stale, t.store.Flush()
}

// ReplayRecorder exposes the session replay stream so the enforcer can log
// hook_fire and mode_change events through the same file.
func (t *Tracker) ReplayRecorder() *Recorder {
	return t.replay
}

func countRunning(d *Document) int {
	n := 0
	for _, rec := range d.Agents {
		if rec.Status == StatusRunning {
			n++
		}
	}
	return n
}

// staleAgentIDs lists running agents started more than StaleAfter ago,
// ordered by id for stable output.
func staleAgentIDs(d *Document, now time.Time) []string {
	var ids []string
	for id, rec := range d.Agents {
		if rec.Status != StatusRunning {
			continue
		}
		started, err := time.Parse(time.RFC3339, rec.StartedAt)
		if err != nil {
			continue
		}
		if now.Sub(started) > StaleAfter {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// evictFinished drops the oldest completed or failed agents (by completed_at)
// once more than MaxRetainedAgents have finished. Running agents never evict.
func evictFinished(d *Document) {
	type finished struct {
		id          string
		completedAt string
	}
	var done []finished
	for id, rec := range d.Agents {
		if rec.Status == StatusCompleted || rec.Status == StatusFailed {
			done = append(done, finished{id, rec.CompletedAt})
		}
	}
	if len(done) <= MaxRetainedAgents {
		return
	}
	sort.Slice(done, func(i, j int) bool { return done[i].completedAt < done[j].completedAt })
	for _, f := range done[:len(done)-MaxRetainedAgents] {
		delete(d.Agents, f.id)
	}
}

func projectRelative(cwd, absPath string) string {
	rel, err := filepath.Rel(cwd, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = absPath
	}
	return strings.ReplaceAll(rel, "\\", "/")
}
