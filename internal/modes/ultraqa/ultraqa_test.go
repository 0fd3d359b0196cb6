package ultraqa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omc/internal/modes"
	"omc/internal/modes/registry"
)

func TestStartBlockedByRalph(t *testing.T) {
	cwd := t.TempDir()
	ralphDoc := modes.New(modes.DocRalph, "S", cwd, modes.RalphState{
		Common: modes.NewCommon("S", cwd),
	})
	require.NoError(t, ralphDoc.Save())

	err := Start(cwd, "S", 0, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ralph")
}

func TestAdvanceCycleExhaustion(t *testing.T) {
	cwd := t.TempDir()
	require.NoError(t, Start(cwd, "S", 2, "flaky tests"))

	cycle, exhausted, err := AdvanceCycle(cwd, "S")
	require.NoError(t, err)
	assert.Equal(t, 2, cycle)
	assert.False(t, exhausted)

	_, exhausted, err = AdvanceCycle(cwd, "S")
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.False(t, registry.IsUltraQAActive(cwd, "S"), "exhaustion clears the record")
}
