package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omc/internal/modes"
)

func startRalph(t *testing.T, cwd, sessionID string) {
	t.Helper()
	doc := modes.New(modes.DocRalph, sessionID, cwd, modes.RalphState{
		Common:    modes.NewCommon(sessionID, cwd),
		Iteration: 1,
	})
	require.NoError(t, doc.Save())
}

func startUltrawork(t *testing.T, cwd, sessionID string, linked bool) {
	t.Helper()
	doc := modes.New(modes.DocUltrawork, sessionID, cwd, modes.UltraworkState{
		Common:        modes.NewCommon(sessionID, cwd),
		LinkedToRalph: linked,
	})
	require.NoError(t, doc.Save())
}

func TestCanStartAutopilotBlockedByAnyMode(t *testing.T) {
	cwd := t.TempDir()
	startRalph(t, cwd, "s")

	d := CanStart(modes.ModeAutopilot, cwd, "s")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Message, "ralph")
}

func TestCanStartRalphAndUltraQAExcludeEachOther(t *testing.T) {
	cwd := t.TempDir()
	qa := modes.New(modes.DocUltraQA, "s", cwd, modes.UltraQAState{
		Common: modes.NewCommon("s", cwd),
	})
	require.NoError(t, qa.Save())

	assert.False(t, CanStart(modes.ModeRalph, cwd, "s").Allowed)

	require.NoError(t, modes.Clear(modes.DocUltraQA, "s", cwd))
	startRalph(t, cwd, "s")
	assert.False(t, CanStart(modes.ModeUltraQA, cwd, "s").Allowed)
}

func TestCanStartIsSessionScoped(t *testing.T) {
	cwd := t.TempDir()
	startRalph(t, cwd, "A")

	assert.True(t, CanStart(modes.ModeAutopilot, cwd, "B").Allowed,
		"modes in session A must not block session B")
	assert.False(t, CanStart(modes.ModeAutopilot, cwd, "A").Allowed)
}

func TestCanStartUltraworkUnrestricted(t *testing.T) {
	cwd := t.TempDir()
	startRalph(t, cwd, "s")
	assert.True(t, CanStart(modes.ModeUltrawork, cwd, "s").Allowed)
}

func TestActiveParentModeProbeOrder(t *testing.T) {
	cwd := t.TempDir()
	assert.Equal(t, modes.ModeNone, ActiveParentMode(cwd, "s"))

	startRalph(t, cwd, "s")
	assert.Equal(t, modes.ModeRalph, ActiveParentMode(cwd, "s"))

	startUltrawork(t, cwd, "s", false)
	assert.Equal(t, modes.ModeUltrawork, ActiveParentMode(cwd, "s"),
		"ultrawork probes before ralph")

	ap := modes.New(modes.DocAutopilot, "s", cwd, modes.AutopilotState{
		Common: modes.NewCommon("s", cwd),
		Phase:  modes.PhaseExecution,
	})
	require.NoError(t, ap.Save())
	assert.Equal(t, modes.ModeAutopilot, ActiveParentMode(cwd, "s"))
}

func TestClearLinkedUltrawork(t *testing.T) {
	cwd := t.TempDir()

	startUltrawork(t, cwd, "s", true)
	require.NoError(t, ClearLinkedUltrawork(cwd, "s"))
	assert.False(t, IsUltraworkActive(cwd, "s"))

	// An unlinked Ultrawork survives.
	startUltrawork(t, cwd, "s", false)
	require.NoError(t, ClearLinkedUltrawork(cwd, "s"))
	assert.True(t, IsUltraworkActive(cwd, "s"))
}
