package tracker

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// StatusCounts tallies agents by status.
func (d *Document) StatusCounts() map[string]int {
	counts := map[string]int{}
	for _, rec := range d.Agents {
		counts[rec.Status]++
	}
	return counts
}

// TypeBreakdown tallies agents by agent type.
func (d *Document) TypeBreakdown() map[string]int {
	counts := map[string]int{}
	for _, rec := range d.Agents {
		counts[rec.Type]++
	}
	return counts
}

// ToolStats aggregates one tool's invocations by a single agent.
type ToolStats struct {
	Count    int   `json:"count"`
	Failures int   `json:"failures"`
	TotalMs  int64 `json:"total_ms"`
	AvgMs    int64 `json:"avg_ms"`
	MaxMs    int64 `json:"max_ms"`
}

// Performance is the per-agent tool-timing report.
type Performance struct {
	Tools      map[string]ToolStats `json:"tools"`
	Bottleneck string               `json:"bottleneck,omitempty"`
}

// AgentPerformance computes tool-timing stats for one agent. The bottleneck
// is the tool with the highest average duration among those called at least
// twice.
func (d *Document) AgentPerformance(agentID string) (Performance, bool) {
	rec, ok := d.Agents[agentID]
	if !ok {
		return Performance{}, false
	}

	stats := map[string]ToolStats{}
	for _, u := range rec.ToolUsage {
		s := stats[u.Tool]
		s.Count++
		if !u.Success {
			s.Failures++
		}
		s.TotalMs += u.DurationMs
		if u.DurationMs > s.MaxMs {
			s.MaxMs = u.DurationMs
		}
		stats[u.Tool] = s
	}

	var bottleneck string
	var worstAvg int64 = -1
	for tool, s := range stats {
		s.AvgMs = s.TotalMs / int64(s.Count)
		stats[tool] = s
		if s.Count >= 2 && s.AvgMs > worstAvg {
			worstAvg = s.AvgMs
			bottleneck = tool
		}
	}
	return Performance{Tools: stats, Bottleneck: bottleneck}, true
}

// ParallelEfficiency is round(active / running × 100), where an agent counts
// as active when running and not yet stale. An empty pool scores 100.
func (d *Document) ParallelEfficiency(now time.Time) int {
	running, active := 0, 0
	for _, rec := range d.Agents {
		if rec.Status != StatusRunning {
			continue
		}
		running++
		started, err := time.Parse(time.RFC3339, rec.StartedAt)
		if err == nil && now.Sub(started) <= StaleAfter {
			active++
		}
	}
	if running == 0 {
		return 100
	}
	return int(math.Round(float64(active) / float64(running) * 100))
}

// DetectFileConflicts finds files owned by two or more distinct running agent
// types. Owners are listed in started_at order (first owner first).
func (d *Document) DetectFileConflicts() map[string][]string {
	type owner struct {
		id        string
		agentType string
		startedAt string
	}
	byFile := map[string][]owner{}
	for id, rec := range d.Agents {
		if rec.Status != StatusRunning {
			continue
		}
		for _, f := range rec.OwnedFiles {
			byFile[f] = append(byFile[f], owner{id, rec.Type, rec.StartedAt})
		}
	}

	conflicts := map[string][]string{}
	for file, owners := range byFile {
		types := map[string]bool{}
		for _, o := range owners {
			types[o.agentType] = true
		}
		if len(types) < 2 {
			continue
		}
		sort.Slice(owners, func(i, j int) bool {
			if owners[i].startedAt != owners[j].startedAt {
				return owners[i].startedAt < owners[j].startedAt
			}
			return owners[i].id < owners[j].id
		})
		ids := make([]string, len(owners))
		for i, o := range owners {
			ids[i] = o.id
		}
		conflicts[file] = ids
	}
	return conflicts
}

// SuggestInterventions proposes operator actions for running agents: kill
// long runners, flag runaway spend, flag contested files. For a conflicted
// file every owner but the first is flagged.
func (d *Document) SuggestInterventions(now time.Time) []Intervention {
	var out []Intervention

	ids := make([]string, 0, len(d.Agents))
	for id := range d.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := d.Agents[id]
		if rec.Status != StatusRunning {
			continue
		}
		if started, err := time.Parse(time.RFC3339, rec.StartedAt); err == nil {
			if age := now.Sub(started); age > StaleAfter {
				iv := Intervention{
					AgentID: id,
					Type:    "timeout",
					Reason:  fmt.Sprintf("running for %s", age.Round(time.Second)),
				}
				if age > KillAfter {
					iv.AutoExecute = "kill"
				}
				out = append(out, iv)
			}
		}
		if rec.Tokens.CostUSD > CostCeiling {
			out = append(out, Intervention{
				AgentID: id,
				Type:    "excessive_cost",
				Reason:  fmt.Sprintf("cumulative cost $%.2f", rec.Tokens.CostUSD),
			})
		}
	}

	files := make([]string, 0)
	conflicts := d.DetectFileConflicts()
	for file := range conflicts {
		files = append(files, file)
	}
	sort.Strings(files)
	for _, file := range files {
		for _, ownerID := range conflicts[file][1:] {
			out = append(out, Intervention{
				AgentID: ownerID,
				Type:    "file_conflict",
				Reason:  fmt.Sprintf("file %s already owned by %s", file, conflicts[file][0]),
			})
		}
	}
	return out
}
