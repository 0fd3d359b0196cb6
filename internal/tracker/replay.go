package tracker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"omc/internal/logging"
	"omc/internal/state"
)

// Replay event types.
const (
	EventAgentStart   = "agent_start"
	EventAgentStop    = "agent_stop"
	EventToolStart    = "tool_start"
	EventToolEnd      = "tool_end"
	EventFileTouch    = "file_touch"
	EventIntervention = "intervention"
	EventError        = "error"
	EventHookFire     = "hook_fire"
	EventHookResult   = "hook_result"
	EventModeChange   = "mode_change"
)

const (
	maxReplayBytes = 5 * 1024 * 1024
	maxReplayFiles = 10

	systemAgentID = "system"
)

// Event is one replay record. T is seconds since session start at 0.1 s
// precision.
type Event struct {
	T       float64        `json:"t"`
	AgentID string         `json:"agent_id"`
	Type    string         `json:"event_type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// ReplayPath returns the replay file for a session.
func ReplayPath(cwd, sessionID string) string {
	return filepath.Join(state.Dir(cwd), "agent-replay-"+sessionID+".jsonl")
}

// Recorder appends events to a session's replay stream. The session start
// time is carried in the first record so later hook processes compute the
// same relative timestamps.
type Recorder struct {
	cwd       string
	sessionID string
	logger    logging.Logger
	now       func() time.Time

	mu    sync.Mutex
	start time.Time // zero until resolved
}

// NewRecorder creates a recorder for one session stream.
func NewRecorder(cwd, sessionID string, logger logging.Logger) *Recorder {
	return &Recorder{
		cwd:       cwd,
		sessionID: sessionID,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// Append writes one event. All failures are logged and swallowed; once the
// stream exceeds its size cap further appends are silently dropped.
func (r *Recorder) Append(agentID, eventType string, attrs map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := ReplayPath(r.cwd, r.sessionID)
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Size() >= maxReplayBytes {
			return
		}
		if r.start.IsZero() {
			r.start = r.resolveStart(path, info)
		}
	case os.IsNotExist(err):
		if _, err := state.EnsureDir(r.cwd); err != nil {
			r.logger.Warn("replay dir: %v", err)
			return
		}
		r.start = r.now()
		r.appendLine(path, Event{
			T:       0,
			AgentID: systemAgentID,
			Type:    "session_start",
			Attrs:   map[string]any{"wall": r.start.UTC().Format(time.RFC3339Nano)},
		})
		r.pruneOldStreams()
	default:
		r.logger.Warn("replay stat: %v", err)
		return
	}

	elapsed := r.now().Sub(r.start).Seconds()
	r.appendLine(path, Event{
		T:       math.Round(elapsed*10) / 10,
		AgentID: agentID,
		Type:    eventType,
		Attrs:   attrs,
	})
}

func (r *Recorder) appendLine(path string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("replay marshal: %v", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.logger.Warn("replay open: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		r.logger.Warn("replay write: %v", err)
	}
}

// resolveStart recovers the session start from the stream's first record,
// falling back to the file's mtime.
func (r *Recorder) resolveStart(path string, info os.FileInfo) time.Time {
	f, err := os.Open(path)
	if err != nil {
		return info.ModTime()
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		var first Event
		if json.Unmarshal(scanner.Bytes(), &first) == nil {
			if wall, ok := first.Attrs["wall"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, wall); err == nil {
					return t
				}
			}
		}
	}
	return info.ModTime()
}

// pruneOldStreams keeps only the most recent replay files by mtime.
func (r *Recorder) pruneOldStreams() {
	pattern := filepath.Join(state.Dir(r.cwd), "agent-replay-*.jsonl")
	paths, err := filepath.Glob(pattern)
	if err != nil || len(paths) <= maxReplayFiles {
		return
	}
	type stream struct {
		path  string
		mtime time.Time
	}
	streams := make([]stream, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		streams = append(streams, stream{p, info.ModTime()})
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].mtime.Before(streams[j].mtime) })
	for _, s := range streams[:len(streams)-maxReplayFiles] {
		if err := os.Remove(s.path); err != nil {
			r.logger.Warn("replay prune: %v", err)
		}
	}
}

// Bottleneck is a slow (agent, tool) pair from the replay stream.
type Bottleneck struct {
	AgentID string `json:"agent_id"`
	Tool    string `json:"tool"`
	Count   int    `json:"count"`
	AvgMs   int64  `json:"avg_ms"`
}

// Summary is the post-hoc digest of one session's replay stream.
type Summary struct {
	EventCount   int            `json:"event_count"`
	ToolTotals   map[string]int `json:"tool_totals"`
	Bottlenecks  []Bottleneck   `json:"bottlenecks,omitempty"`
	FilesTouched []string       `json:"files_touched,omitempty"`
	CycleCount   int            `json:"cycle_count"`
	CyclePattern string         `json:"cycle_pattern"`
}

// ReadSummary walks a session's replay stream and derives tool totals, slow
// tool/agent pairs (avg > 1 s over ≥ 2 calls), files touched, and spawn-order
// cycle detection. A missing stream summarizes as empty.
func ReadSummary(cwd, sessionID string) (Summary, error) {
	summary := Summary{ToolTotals: map[string]int{}}

	f, err := os.Open(ReplayPath(cwd, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return summary, nil
		}
		return summary, err
	}
	defer f.Close()

	type pairKey struct{ agent, tool string }
	type pairAgg struct {
		count   int
		totalMs int64
	}
	pairs := map[pairKey]*pairAgg{}
	filesSeen := map[string]bool{}
	var spawnOrder []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		summary.EventCount++

		switch ev.Type {
		case EventAgentStart:
			if typ, ok := ev.Attrs["agent_type"].(string); ok {
				spawnOrder = append(spawnOrder, typ)
			}
		case EventToolEnd:
			tool, _ := ev.Attrs["tool"].(string)
			if tool == "" {
				break
			}
			summary.ToolTotals[tool]++
			if ms, ok := ev.Attrs["duration_ms"].(float64); ok {
				key := pairKey{ev.AgentID, tool}
				agg := pairs[key]
				if agg == nil {
					agg = &pairAgg{}
					pairs[key] = agg
				}
				agg.count++
				agg.totalMs += int64(ms)
			}
		case EventFileTouch:
			if file, ok := ev.Attrs["file"].(string); ok && !filesSeen[file] {
				filesSeen[file] = true
				summary.FilesTouched = append(summary.FilesTouched, file)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("replay scan: %w", err)
	}

	for key, agg := range pairs {
		if agg.count < 2 {
			continue
		}
		avg := agg.totalMs / int64(agg.count)
		if avg <= 1000 {
			continue
		}
		summary.Bottlenecks = append(summary.Bottlenecks, Bottleneck{
			AgentID: key.agent,
			Tool:    key.tool,
			Count:   agg.count,
			AvgMs:   avg,
		})
	}
	sort.Slice(summary.Bottlenecks, func(i, j int) bool {
		return summary.Bottlenecks[i].AvgMs > summary.Bottlenecks[j].AvgMs
	})

	summary.CycleCount, summary.CyclePattern = DetectCycles(spawnOrder)
	return summary, nil
}

// DetectCycles finds the smallest pattern length p in [2, N/2] such that the
// prefix of length p repeats at least twice contiguously from the start.
// Returns the repeat count and the slash-joined pattern, or (0, "").
func DetectCycles(types []string) (int, string) {
	n := len(types)
	for p := 2; p <= n/2; p++ {
		repeats := 1
		for start := p; start+p <= n; start += p {
			matched := true
			for i := 0; i < p; i++ {
				if types[start+i] != types[i] {
					matched = false
					break
				}
			}
			if !matched {
				break
			}
			repeats++
		}
		if repeats >= 2 {
			return repeats, strings.Join(types[:p], "/")
		}
	}
	return 0, ""
}
