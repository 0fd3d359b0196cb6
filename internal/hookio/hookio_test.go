package hookio

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omc/internal/modes/ultrawork"
	"omc/internal/state"
	"omc/internal/tracker"
)

func TestDecodeRepairsMalformedPayload(t *testing.T) {
	in, err := Decode(strings.NewReader(`{"session_id": "S", "cwd": "/tmp",`))
	require.NoError(t, err)
	assert.Equal(t, "S", in.SessionID)
	assert.Equal(t, "/tmp", in.Cwd)
}

func TestDecodeDefaultsCwd(t *testing.T) {
	in, err := Decode(strings.NewReader(`{"session_id": "S"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, in.Cwd)
}

func TestRunDegradesToContinueOnGarbage(t *testing.T) {
	var buf bytes.Buffer
	Run(strings.NewReader("not json at all {{{["), &buf, func(in *Input) Output {
		t.Fatal("handler must not run on undecodable input")
		return Allow()
	})

	var out Output
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.True(t, out.Continue)
	assert.Empty(t, out.Message)
}

func TestRunDegradesToContinueOnPanic(t *testing.T) {
	var buf bytes.Buffer
	Run(strings.NewReader(`{"session_id":"S","cwd":"/tmp"}`), &buf, func(in *Input) Output {
		panic("boom")
	})

	var out Output
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.True(t, out.Continue)
}

func TestStopEventCarriesBlockingMessage(t *testing.T) {
	cwd := t.TempDir()
	require.NoError(t, ultrawork.Start(cwd, "S", "ship it"))

	out := HandleStopEvent(&Input{SessionID: "S", Cwd: cwd})
	assert.True(t, out.Continue, "enforcement is soft, continue stays true")
	assert.Contains(t, out.Message, "ship it")
}

func TestSubagentLifecycleThroughHooks(t *testing.T) {
	cwd := t.TempDir()

	out := HandleSubagentStart(&Input{
		SessionID: "S", Cwd: cwd,
		AgentID: "a1", AgentType: "coder",
	})
	require.True(t, out.Continue)
	result, ok := out.HookSpecificOutput.(tracker.StartOutput)
	require.True(t, ok)
	assert.Equal(t, 1, result.AgentCount)

	out = HandleSubagentStop(&Input{SessionID: "S", Cwd: cwd, AgentID: "a1", Output: "done"})
	assert.True(t, out.Continue)

	doc := tracker.LoadDocument(cwd)
	assert.Equal(t, tracker.StatusCompleted, doc.Agents["a1"].Status)
}

func TestSubagentStopFoldsTokenUsage(t *testing.T) {
	cwd := t.TempDir()
	HandleSubagentStart(&Input{SessionID: "S", Cwd: cwd, AgentID: "a1", AgentType: "coder"})

	out := HandleSubagentStop(&Input{
		SessionID: "S", Cwd: cwd, AgentID: "a1",
		InputTokens: 1200, OutputTokens: 300, CacheReadTokens: 50, CostUSD: 0.04,
	})
	require.True(t, out.Continue)

	rec := tracker.LoadDocument(cwd).Agents["a1"]
	assert.Equal(t, 1200, rec.Tokens.InputTokens)
	assert.Equal(t, 300, rec.Tokens.OutputTokens)
	assert.Equal(t, 50, rec.Tokens.CacheReadTokens)
	assert.InDelta(t, 0.04, rec.Tokens.CostUSD, 1e-9)
}

func TestPostToolRecordsFileOwnership(t *testing.T) {
	cwd := t.TempDir()
	HandleSubagentStart(&Input{SessionID: "S", Cwd: cwd, AgentID: "a1", AgentType: "coder"})

	HandlePostTool(&Input{
		SessionID: "S", Cwd: cwd, AgentID: "a1",
		ToolName:  "Write",
		ToolInput: json.RawMessage(`{"file_path":"` + cwd + `/internal/a.go","content":"x"}`),
	})
	// Non-mutating tools never claim ownership.
	HandlePostTool(&Input{
		SessionID: "S", Cwd: cwd, AgentID: "a1",
		ToolName:  "bash",
		ToolInput: json.RawMessage(`{"path":"` + cwd + `/internal/b.go"}`),
	})

	rec := tracker.LoadDocument(cwd).Agents["a1"]
	assert.Equal(t, []string{"internal/a.go"}, rec.OwnedFiles)
}

func TestStopEventCleansStaleAgents(t *testing.T) {
	cwd := t.TempDir()
	doc := tracker.NewDocument()
	doc.TotalSpawned = 1
	doc.Agents["old"] = &tracker.AgentRecord{
		ID:        "old",
		Type:      "coder",
		Status:    tracker.StatusRunning,
		StartedAt: time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339),
	}
	require.NoError(t, state.WriteJSON(tracker.DocPath(cwd), doc))

	out := HandleStopEvent(&Input{SessionID: "S", Cwd: cwd})
	assert.True(t, out.Continue)

	after := tracker.LoadDocument(cwd)
	assert.Equal(t, tracker.StatusFailed, after.Agents["old"].Status)
	assert.Equal(t, 1, after.TotalFailed)
}

func TestPostToolRecordsAndClearsErrors(t *testing.T) {
	cwd := t.TempDir()

	out := HandlePostTool(&Input{
		SessionID: "S", Cwd: cwd,
		ToolName: "bash", ToolInput: json.RawMessage(`"npm test"`), ToolError: "exit status 1",
	})
	assert.True(t, out.Continue)

	stop := HandleStopEvent(&Input{SessionID: "S", Cwd: cwd})
	assert.True(t, stop.Continue)

	// A successful call clears the record.
	HandlePostTool(&Input{SessionID: "S", Cwd: cwd, ToolName: "bash"})
	withMode := HandleStopEvent(&Input{SessionID: "S", Cwd: cwd})
	assert.NotContains(t, withMode.Message, "exit status 1")
}
