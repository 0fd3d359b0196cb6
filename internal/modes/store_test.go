package modes

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omc/internal/state"
)

func TestRoundTripPreservesUnknownFields(t *testing.T) {
	cwd := t.TempDir()
	path := state.DocPath(DocRalph, "s1", cwd)

	raw := `{
		"active": true,
		"session_id": "s1",
		"project_path": "/p",
		"started_at": "2026-01-01T00:00:00Z",
		"iteration": 3,
		"max_iterations": 10,
		"original_prompt": "build it",
		"future_field": {"nested": [1, 2, 3]}
	}`
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	doc, found, err := LoadRalph(cwd, "s1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, doc.State.Iteration)

	doc.State.Iteration = 4
	require.NoError(t, doc.Save())

	var reread map[string]json.RawMessage
	require.NoError(t, state.ReadJSON(path, &reread))
	assert.JSONEq(t, `{"nested": [1, 2, 3]}`, string(reread["future_field"]),
		"unknown fields survive a load/save cycle")
	assert.JSONEq(t, `4`, string(reread["iteration"]))
}

func TestSessionIsolation(t *testing.T) {
	cwd := t.TempDir()

	docA := New(DocRalph, "A", cwd, RalphState{
		Common:    NewCommon("A", cwd),
		Iteration: 1,
	})
	require.NoError(t, docA.Save())

	// A legacy flat-path document must not leak into session reads.
	legacy := New(DocRalph, "", cwd, RalphState{
		Common:    NewCommon("", cwd),
		Iteration: 99,
	})
	require.NoError(t, legacy.Save())

	_, found, err := LoadRalph(cwd, "B")
	require.NoError(t, err)
	assert.False(t, found, "session B must not see session A or legacy state")

	doc, found, err := LoadRalph(cwd, "A")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, doc.State.Iteration)
}

func TestMismatchedSessionIDTreatedAsAbsent(t *testing.T) {
	cwd := t.TempDir()

	// A document written under session A's directory but stamped with B.
	doc := New(DocRalph, "A", cwd, RalphState{
		Common: Common{Active: true, SessionID: "B"},
	})
	require.NoError(t, doc.Save())

	_, found, err := LoadRalph(cwd, "A")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLegacyPathReadOnlyWithoutSession(t *testing.T) {
	cwd := t.TempDir()
	legacy := New(DocUltrawork, "", cwd, UltraworkState{
		Common:         Common{Active: true},
		OriginalPrompt: "keep going",
	})
	require.NoError(t, legacy.Save())

	doc, found, err := LoadUltrawork(cwd, "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "keep going", doc.State.OriginalPrompt)
}

func TestClearIsIdempotent(t *testing.T) {
	cwd := t.TempDir()
	doc := New(DocRalph, "s", cwd, RalphState{Common: NewCommon("s", cwd)})
	require.NoError(t, doc.Save())

	require.NoError(t, Clear(DocRalph, "s", cwd))
	require.NoError(t, Clear(DocRalph, "s", cwd), "clearing a cleared doc is fine")

	_, found, err := LoadRalph(cwd, "s")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPhaseIsTerminal(t *testing.T) {
	tests := []struct {
		phase Phase
		want  bool
	}{
		{PhaseExpansion, false},
		{PhasePlanning, false},
		{PhaseExecution, false},
		{PhaseQA, false},
		{PhaseValidation, false},
		{PhaseComplete, true},
		{PhaseFailed, true},
	}
	for _, tt := range tests {
		if got := tt.phase.IsTerminal(); got != tt.want {
			t.Errorf("Phase(%q).IsTerminal() = %v, want %v", tt.phase, got, tt.want)
		}
	}
}
