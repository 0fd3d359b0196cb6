package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSessionScopedPath(t *testing.T) {
	got := SessionScopedPath("ralph-state", "sess-1", "/work")
	want := filepath.Join("/work", ".omc", "state", "sessions", "sess-1", "ralph-state.json")
	if got != want {
		t.Errorf("SessionScopedPath = %q, want %q", got, want)
	}
}

func TestDocPathPrefersSession(t *testing.T) {
	if got := DocPath("ralph-state", "s", "/w"); got != SessionScopedPath("ralph-state", "s", "/w") {
		t.Errorf("DocPath with session = %q", got)
	}
	if got := DocPath("ralph-state", "", "/w"); got != LegacyPath("ralph-state", "/w") {
		t.Errorf("DocPath without session = %q", got)
	}
}

func TestWriteReadJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, WriteJSON(path, doc{Name: "ralph", Count: 3}))

	var got doc
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, doc{Name: "ralph", Count: 3}, got)
}

func TestReadJSONMissingReturnsNotFound(t *testing.T) {
	var v map[string]any
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadJSONRepairsTruncatedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	// A crashed writer can leave an unterminated object behind.
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "ralph", "count": 3`), 0o644))

	var got map[string]any
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, "ralph", got["name"])
}

func TestWriteJSONLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, WriteJSON(path, map[string]int{"a": 1}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.json", entries[0].Name())
}

func TestFileLockExclusion(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "doc.lock")

	var counter int
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			return WithFileLock(lockPath, func() error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 8, counter)
}

func TestFileLockBreaksStaleHolder(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "doc.lock")
	// A lock stamped far in the past by a fake pid must be broken.
	stale := []byte("999999:1000")
	require.NoError(t, os.WriteFile(lockPath, stale, 0o644))

	require.NoError(t, WithFileLock(lockPath, func() error { return nil }))
}

func TestFileLockBreaksCorruptContents(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "doc.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("not-a-lock"), 0o644))

	require.NoError(t, WithFileLock(lockPath, func() error { return nil }))
}

func TestFileLockReleasedAfterUse(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "doc.lock")
	require.NoError(t, WithFileLock(lockPath, func() error { return nil }))
	_, err := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err), "lock file should be unlinked after release")
}

func TestParseLockContents(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"1234:1700000000000", true},
		{"1234:1700000000000\n", true},
		{"garbage", false},
		{":", false},
		{"-1:99", false},
		{"12:abc", false},
	}
	for _, tt := range tests {
		if _, _, ok := parseLockContents(tt.in); ok != tt.ok {
			t.Errorf("parseLockContents(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
	}
}
