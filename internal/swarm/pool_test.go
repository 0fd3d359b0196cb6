package swarm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func addTask(t *testing.T, pool *Pool, spec TaskSpec) string {
	t.Helper()
	ids, err := pool.AddTasks([]TaskSpec{spec})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0]
}

func TestClaimOrderAndExhaustion(t *testing.T) {
	pool := openTestPool(t)

	// Priorities 0, 1, 0: priority ties break by id.
	_, err := pool.AddTasks([]TaskSpec{
		{Description: "first", Priority: 0},
		{Description: "second", Priority: 1},
		{Description: "third", Priority: 0},
	})
	require.NoError(t, err)

	var order []string
	for _, worker := range []string{"w1", "w2", "w3"} {
		res, err := pool.Claim(worker)
		require.NoError(t, err)
		require.True(t, res.Success, "claim by %s", worker)
		order = append(order, res.TaskID)
	}

	assert.Equal(t, []string{"task-1", "task-3", "task-2"}, order)

	pending, err := pool.HasPendingTasks()
	require.NoError(t, err)
	assert.False(t, pending)

	res, err := pool.Claim("w4")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonNoPending, res.Reason)
}

func TestClaimExclusivity(t *testing.T) {
	pool := openTestPool(t)
	addTask(t, pool, TaskSpec{Description: "only"})

	var mu sync.Mutex
	var winners []string
	var g errgroup.Group
	for _, worker := range []string{"w1", "w2", "w3", "w4"} {
		g.Go(func() error {
			res, err := pool.Claim(worker)
			if err != nil {
				return err
			}
			if res.Success {
				mu.Lock()
				winners = append(winners, worker)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, winners, 1, "exactly one worker may win the claim")
}

func TestCompleteReleaseFailRequireClaimer(t *testing.T) {
	pool := openTestPool(t)
	id := addTask(t, pool, TaskSpec{Description: "guarded"})

	res, err := pool.Claim("w1")
	require.NoError(t, err)
	require.True(t, res.Success)

	// A different worker cannot complete, fail, or release it.
	assert.ErrorIs(t, pool.Complete("w2", id, "nope"), ErrNotClaimedByWorker)
	assert.ErrorIs(t, pool.Fail("w2", id, "nope"), ErrNotClaimedByWorker)
	assert.ErrorIs(t, pool.Release("w2", id), ErrNotClaimedByWorker)

	require.NoError(t, pool.Complete("w1", id, "ok"))

	task, err := pool.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, task.Status)
	assert.Equal(t, "ok", task.Result)
	assert.NotNil(t, task.CompletedAt)
}

func TestReleaseReturnsToPending(t *testing.T) {
	pool := openTestPool(t)
	id := addTask(t, pool, TaskSpec{Description: "bounce"})

	res, err := pool.Claim("w1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NoError(t, pool.Release("w1", id))

	task, err := pool.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)
	assert.Empty(t, task.ClaimedBy)
	assert.Nil(t, task.ClaimedAt)
}

func TestFailAndReclaim(t *testing.T) {
	pool := openTestPool(t)
	id := addTask(t, pool, TaskSpec{Description: "flaky"})

	res, err := pool.Claim("w1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NoError(t, pool.Fail("w1", id, "exploded"))

	task, err := pool.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "exploded", task.Error)

	require.NoError(t, pool.ReclaimFailed("w2", id))
	task, err = pool.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, task.Status)
	assert.Equal(t, "w2", task.ClaimedBy)
	assert.Empty(t, task.Error)

	// Reclaim is only legal from failed.
	assert.Error(t, pool.ReclaimFailed("w3", id))
}

func TestStaleCleanup(t *testing.T) {
	pool := openTestPool(t)
	id := addTask(t, pool, TaskSpec{Description: "abandoned"})

	base := time.Now().UTC()
	pool.now = func() time.Time { return base }

	res, err := pool.Claim("w1")
	require.NoError(t, err)
	require.True(t, res.Success)

	// Six minutes pass with no further heartbeats.
	pool.now = func() time.Time { return base.Add(6 * time.Minute) }

	released, err := pool.CleanupStaleClaims(5 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	task, err := pool.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)

	beats, err := pool.Heartbeats()
	require.NoError(t, err)
	assert.Empty(t, beats, "dead worker heartbeat row should be dropped")

	// Lease recovery happens exactly once.
	released, err = pool.CleanupStaleClaims(5 * time.Minute)
	require.NoError(t, err)
	assert.Zero(t, released)
}

func TestHeartbeatKeepsClaimAlive(t *testing.T) {
	pool := openTestPool(t)
	addTask(t, pool, TaskSpec{Description: "tended"})

	base := time.Now().UTC()
	pool.now = func() time.Time { return base }

	res, err := pool.Claim("w1")
	require.NoError(t, err)
	require.True(t, res.Success)

	pool.now = func() time.Time { return base.Add(4 * time.Minute) }
	require.NoError(t, pool.Heartbeat("w1"))

	pool.now = func() time.Time { return base.Add(6 * time.Minute) }
	released, err := pool.CleanupStaleClaims(5 * time.Minute)
	require.NoError(t, err)
	assert.Zero(t, released, "heartbeated claim must survive")
}

func TestTaskIDsNeverReused(t *testing.T) {
	pool := openTestPool(t)

	ids, err := pool.AddTasks([]TaskSpec{{Description: "a"}, {Description: "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-2"}, ids)

	require.NoError(t, pool.DeleteAllTasks())

	ids, err = pool.AddTasks([]TaskSpec{{Description: "c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"task-3"}, ids, "suffixes must keep growing after deletion")
}

func TestClaimForFilesPrefersScopedTask(t *testing.T) {
	pool := openTestPool(t)

	_, err := pool.AddTasks([]TaskSpec{
		{Description: "urgent elsewhere", Priority: 0, OwnedFiles: []string{"docs/readme.md"}},
		{Description: "scoped", Priority: 5, FilePatterns: []string{"src/**/*.go"}},
	})
	require.NoError(t, err)

	res, err := pool.ClaimForFiles("w1", []string{"src/pool/claim.go"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "task-2", res.TaskID, "scope match beats global priority")
}

func TestClaimForFilesFallsBackToGlobalOrder(t *testing.T) {
	pool := openTestPool(t)

	_, err := pool.AddTasks([]TaskSpec{
		{Description: "unscoped", Priority: 1},
		{Description: "other scope", Priority: 0, OwnedFiles: []string{"docs/**"}},
	})
	require.NoError(t, err)

	res, err := pool.ClaimForFiles("w1", []string{"src/main.go"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "task-2", res.TaskID, "fallback follows priority order")
}

func TestClaimForFilesToleratesCorruptScopeColumn(t *testing.T) {
	pool := openTestPool(t)
	id := addTask(t, pool, TaskSpec{Description: "broken scope"})

	_, err := pool.db.Exec(`UPDATE tasks SET owned_files = '{not json' WHERE id = ?`, id)
	require.NoError(t, err)

	// Corrupt scope decodes as empty: no match, but fallback still claims.
	res, err := pool.ClaimForFiles("w1", []string{"src/**"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestQueries(t *testing.T) {
	pool := openTestPool(t)

	_, err := pool.AddTasks([]TaskSpec{
		{Description: "w1 task", Wave: 1},
		{Description: "w2 task", Wave: 2},
		{Description: "w2 task b", Wave: 2},
	})
	require.NoError(t, err)

	byWave, err := pool.TasksByWave(2)
	require.NoError(t, err)
	assert.Len(t, byWave, 2)

	res, err := pool.Claim("w1")
	require.NoError(t, err)
	require.True(t, res.Success)

	byWorker, err := pool.TasksByWorker("w1")
	require.NoError(t, err)
	require.Len(t, byWorker, 1)
	assert.Equal(t, res.TaskID, byWorker[0].ID)

	slots, err := pool.AvailableSlots(5)
	require.NoError(t, err)
	assert.Equal(t, 2, slots, "3 open tasks against maxConcurrent=5")

	complete, err := pool.AllComplete()
	require.NoError(t, err)
	assert.False(t, complete)

	active, err := pool.ActiveWorkerCount(DefaultLeaseTimeout)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestSummarySidecar(t *testing.T) {
	pool := openTestPool(t)
	require.NoError(t, pool.StartSession("sess-7", 3))
	addTask(t, pool, TaskSpec{Description: "tracked"})

	res, err := pool.Claim("w1")
	require.NoError(t, err)
	require.True(t, res.Success)

	summary, err := ReadSummary(pool.cwd)
	require.NoError(t, err)
	assert.Equal(t, "sess-7", summary.SessionID)
	assert.True(t, summary.Active)
	assert.Equal(t, 1, summary.TaskCount)
	assert.Equal(t, 1, summary.TasksClaimed)
	assert.Equal(t, pool.cwd, summary.ProjectPath)
}

func TestSchemaMigrationIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	pool, err := Open(dir)
	require.NoError(t, err)
	addTask(t, pool, TaskSpec{Description: "survives reopen"})
	require.NoError(t, pool.Close())

	pool, err = Open(dir)
	require.NoError(t, err)
	defer pool.Close()

	tasks, err := pool.AllTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "survives reopen", tasks[0].Description)
}
