package tracker

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omc/internal/modes"
)

func newTestTracker(t *testing.T, cwd string) *Tracker {
	t.Helper()
	tr := New(cwd, "S")
	return tr
}

func startAgent(t *testing.T, tr *Tracker, id, typ string) {
	t.Helper()
	_, err := tr.OnSubagentStart(StartInput{AgentID: id, AgentType: typ})
	require.NoError(t, err)
}

func TestLifecycleRoundTrip(t *testing.T) {
	cwd := t.TempDir()
	tr := newTestTracker(t, cwd)

	out, err := tr.OnSubagentStart(StartInput{
		AgentID:     "a1",
		AgentType:   "coder",
		Description: "implement the parser",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.AgentCount)
	assert.Empty(t, out.StaleAgents)

	require.NoError(t, tr.RecordToolUsageWithTiming("a1", "bash", 1200, true))
	require.NoError(t, tr.UpdateTokenUsage("a1", TokenUsage{InputTokens: 100, OutputTokens: 50, CostUSD: 0.02}))
	require.NoError(t, tr.RecordFileOwnership("a1", filepath.Join(cwd, "src", "parser.go")))
	require.NoError(t, tr.OnSubagentStop(StopInput{AgentID: "a1", Output: "parser done"}))

	doc := LoadDocument(cwd)
	rec := doc.Agents["a1"]
	require.NotNil(t, rec)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.NotEmpty(t, rec.CompletedAt)
	assert.Equal(t, "parser done", rec.OutputSummary)
	assert.Equal(t, []string{"src/parser.go"}, rec.OwnedFiles)
	assert.Equal(t, 100, rec.Tokens.InputTokens)
	assert.Equal(t, 1, doc.TotalSpawned)
	assert.Equal(t, 1, doc.TotalCompleted)
}

func TestParentModeAttribution(t *testing.T) {
	cwd := t.TempDir()
	ralphDoc := modes.New(modes.DocRalph, "S", cwd, modes.RalphState{Common: modes.NewCommon("S", cwd)})
	require.NoError(t, ralphDoc.Save())

	tr := newTestTracker(t, cwd)
	startAgent(t, tr, "a1", "coder")

	doc := LoadDocument(cwd)
	assert.Equal(t, modes.ModeRalph, doc.Agents["a1"].ParentMode)
}

func TestFailedStopAndUnknownAgent(t *testing.T) {
	cwd := t.TempDir()
	tr := newTestTracker(t, cwd)
	startAgent(t, tr, "a1", "coder")

	failed := false
	require.NoError(t, tr.OnSubagentStop(StopInput{AgentID: "a1", Success: &failed, Output: "panic"}))
	require.NoError(t, tr.OnSubagentStop(StopInput{AgentID: "ghost"}))

	doc := LoadDocument(cwd)
	assert.Equal(t, StatusFailed, doc.Agents["a1"].Status)
	assert.Equal(t, 1, doc.TotalFailed)
}

func TestBoundedContainers(t *testing.T) {
	cwd := t.TempDir()
	tr := newTestTracker(t, cwd)
	startAgent(t, tr, "a1", "coder")

	for i := 0; i < MaxToolUsage+10; i++ {
		require.NoError(t, tr.RecordToolUsage("a1", fmt.Sprintf("tool-%d", i), true))
	}
	for i := 0; i < MaxOwnedFiles+5; i++ {
		require.NoError(t, tr.RecordFileOwnership("a1", filepath.Join(cwd, fmt.Sprintf("f%d.go", i))))
	}
	// Duplicate ownership is a no-op.
	require.NoError(t, tr.RecordFileOwnership("a1", filepath.Join(cwd, "f104.go")))

	long := make([]byte, MaxOutputSummary*2)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, tr.OnSubagentStop(StopInput{AgentID: "a1", Output: string(long)}))

	doc := LoadDocument(cwd)
	rec := doc.Agents["a1"]
	assert.Len(t, rec.ToolUsage, MaxToolUsage)
	assert.Equal(t, "tool-10", rec.ToolUsage[0].Tool, "FIFO keeps the most recent entries")
	assert.Len(t, rec.OwnedFiles, MaxOwnedFiles)
	assert.Len(t, rec.OutputSummary, MaxOutputSummary)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	cwd := t.TempDir()
	tr := newTestTracker(t, cwd)
	startAgent(t, tr, "a1", "coder")

	// 600 bytes of 3-byte runes; a byte slice at the cap would split one.
	long := strings.Repeat("日", MaxOutputSummary+100)
	require.NoError(t, tr.OnSubagentStop(StopInput{AgentID: "a1", Output: long}))

	out := LoadDocument(cwd).Agents["a1"].OutputSummary
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, MaxOutputSummary, utf8.RuneCountInString(out))
}

func TestFinishedAgentEviction(t *testing.T) {
	cwd := t.TempDir()
	tr := newTestTracker(t, cwd)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	tr.now = func() time.Time { return clock }
	tr.store.now = tr.now

	for i := 0; i < MaxRetainedAgents+3; i++ {
		id := fmt.Sprintf("a%03d", i)
		startAgent(t, tr, id, "coder")
		clock = clock.Add(time.Second)
		require.NoError(t, tr.OnSubagentStop(StopInput{AgentID: id}))
	}

	doc := LoadDocument(cwd)
	assert.Len(t, doc.Agents, MaxRetainedAgents)
	assert.NotContains(t, doc.Agents, "a000", "oldest finished agents evict first")
	assert.Contains(t, doc.Agents, fmt.Sprintf("a%03d", MaxRetainedAgents+2))
	assert.Equal(t, MaxRetainedAgents+3, doc.TotalSpawned, "counters survive eviction")
}

func TestStaleDetectionAndCleanup(t *testing.T) {
	cwd := t.TempDir()
	tr := newTestTracker(t, cwd)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	tr.now = func() time.Time { return clock }
	tr.store.now = tr.now

	startAgent(t, tr, "old", "planner")
	clock = base.Add(6 * time.Minute)
	startAgent(t, tr, "fresh", "coder")

	out, err := tr.OnSubagentStart(StartInput{AgentID: "new", AgentType: "coder"})
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, out.StaleAgents)
	assert.Equal(t, 3, out.AgentCount)

	stale, err := tr.CleanupStaleAgents()
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, stale)

	doc := LoadDocument(cwd)
	assert.Equal(t, StatusFailed, doc.Agents["old"].Status)
	assert.Equal(t, "stale: exceeded timeout", doc.Agents["old"].OutputSummary)
	assert.Equal(t, StatusRunning, doc.Agents["fresh"].Status)
}

func TestMergePreservesNewer(t *testing.T) {
	older := NewDocument()
	older.Agents["a1"] = &AgentRecord{ID: "a1", Status: StatusRunning, StartedAt: "2026-01-01T00:00:00Z"}
	older.TotalSpawned = 1
	older.LastUpdated = "2026-01-01T00:00:00Z"

	newer := NewDocument()
	newer.Agents["a1"] = &AgentRecord{
		ID:          "a1",
		Status:      StatusCompleted,
		StartedAt:   "2026-01-01T00:00:00Z",
		CompletedAt: "2026-01-01T00:05:00Z",
	}
	newer.TotalSpawned = 1
	newer.TotalCompleted = 1
	newer.LastUpdated = "2026-01-01T00:05:00Z"

	for _, merged := range []*Document{merge(older, newer), merge(newer, older)} {
		assert.Equal(t, StatusCompleted, merged.Agents["a1"].Status,
			"newer record wins regardless of flush order")
		assert.Equal(t, 1, merged.TotalCompleted)
		assert.Equal(t, "2026-01-01T00:05:00Z", merged.LastUpdated)
	}
}

func TestMergeEmptyIsIdentity(t *testing.T) {
	doc := NewDocument()
	doc.Agents["a1"] = &AgentRecord{ID: "a1", Status: StatusRunning, StartedAt: "2026-01-01T00:00:00Z"}
	doc.TotalSpawned = 3
	doc.LastUpdated = "2026-01-01T00:00:00Z"

	left := merge(doc, NewDocument())
	right := merge(NewDocument(), doc)
	assert.Equal(t, doc.Agents["a1"], left.Agents["a1"])
	assert.Equal(t, doc.Agents["a1"], right.Agents["a1"])
	assert.Equal(t, 3, left.TotalSpawned)
	assert.Equal(t, 3, right.TotalSpawned)
}

func TestConcurrentWritersLoseNoAgents(t *testing.T) {
	cwd := t.TempDir()
	trA := newTestTracker(t, cwd)
	trB := newTestTracker(t, cwd)

	startAgent(t, trA, "a1", "coder")
	startAgent(t, trB, "b1", "reviewer")

	doc := LoadDocument(cwd)
	assert.Contains(t, doc.Agents, "a1")
	assert.Contains(t, doc.Agents, "b1")
}

func TestPerformanceAndBottleneck(t *testing.T) {
	doc := NewDocument()
	doc.Agents["a1"] = &AgentRecord{
		ID:     "a1",
		Status: StatusRunning,
		ToolUsage: []ToolUsage{
			{Tool: "bash", DurationMs: 2000, Success: true},
			{Tool: "bash", DurationMs: 4000, Success: false},
			{Tool: "read", DurationMs: 10, Success: true},
			{Tool: "slow_once", DurationMs: 90000, Success: true},
		},
	}

	perf, ok := doc.AgentPerformance("a1")
	require.True(t, ok)
	assert.Equal(t, "bash", perf.Bottleneck, "single calls never count as bottleneck")
	assert.Equal(t, 2, perf.Tools["bash"].Count)
	assert.Equal(t, 1, perf.Tools["bash"].Failures)
	assert.Equal(t, int64(3000), perf.Tools["bash"].AvgMs)
	assert.Equal(t, int64(4000), perf.Tools["bash"].MaxMs)

	_, ok = doc.AgentPerformance("ghost")
	assert.False(t, ok)
}

func TestParallelEfficiency(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	doc := NewDocument()
	doc.Agents["active"] = &AgentRecord{Status: StatusRunning, StartedAt: "2026-01-01T00:09:00Z"}
	doc.Agents["stale"] = &AgentRecord{Status: StatusRunning, StartedAt: "2026-01-01T00:00:00Z"}
	doc.Agents["done"] = &AgentRecord{Status: StatusCompleted, StartedAt: "2026-01-01T00:00:00Z"}

	assert.Equal(t, 50, doc.ParallelEfficiency(now))
	assert.Equal(t, 100, NewDocument().ParallelEfficiency(now))
}

func TestFileConflictsAndInterventions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 12, 0, 0, time.UTC)
	doc := NewDocument()
	doc.Agents["first"] = &AgentRecord{
		ID: "first", Type: "coder", Status: StatusRunning,
		StartedAt:  "2026-01-01T00:00:00Z", // running 12 min: kill
		OwnedFiles: []string{"src/app.go"},
	}
	doc.Agents["second"] = &AgentRecord{
		ID: "second", Type: "reviewer", Status: StatusRunning,
		StartedAt:  "2026-01-01T00:11:00Z",
		OwnedFiles: []string{"src/app.go"},
		Tokens:     TokenUsage{CostUSD: 1.50},
	}
	doc.Agents["same-type"] = &AgentRecord{
		ID: "same-type", Type: "coder", Status: StatusRunning,
		StartedAt:  "2026-01-01T00:11:30Z",
		OwnedFiles: []string{"src/other.go"},
	}

	conflicts := doc.DetectFileConflicts()
	require.Contains(t, conflicts, "src/app.go")
	assert.Equal(t, []string{"first", "second"}, conflicts["src/app.go"])
	assert.NotContains(t, conflicts, "src/other.go", "same agent type is not a conflict")

	byType := map[string][]Intervention{}
	for _, iv := range doc.SuggestInterventions(now) {
		byType[iv.Type] = append(byType[iv.Type], iv)
	}

	require.Len(t, byType["timeout"], 1)
	assert.Equal(t, "first", byType["timeout"][0].AgentID)
	assert.Equal(t, "kill", byType["timeout"][0].AutoExecute)

	require.Len(t, byType["excessive_cost"], 1)
	assert.Equal(t, "second", byType["excessive_cost"][0].AgentID)

	require.Len(t, byType["file_conflict"], 1)
	assert.Equal(t, "second", byType["file_conflict"][0].AgentID, "first owner keeps the file")
}

func TestDebouncedFlushFiresWithoutExplicitFlush(t *testing.T) {
	cwd := t.TempDir()
	store := NewStore(cwd, nil)
	store.Update(func(d *Document) { d.TotalSpawned = 7 })

	require.Eventually(t, func() bool {
		return LoadDocument(cwd).TotalSpawned == 7
	}, 2*time.Second, 20*time.Millisecond)
}
