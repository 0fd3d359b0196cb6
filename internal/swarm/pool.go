package swarm

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"omc/internal/fileglob"
)

// taskOrder is the canonical claim order: priority ascending, ties broken by
// id in natural order (task-2 before task-10).
const taskOrder = `ORDER BY priority ASC, LENGTH(id) ASC, id ASC`

const taskColumns = `id, description, status, claimed_by, claimed_at, completed_at,
	error, result, priority, wave, owned_files, file_patterns, created_at`

// Claim atomically takes the highest-priority pending task for workerID.
// The status check inside the UPDATE makes the claim a compare-and-swap: two
// workers racing for the same task cannot both win.
func (p *Pool) Claim(workerID string) (ClaimResult, error) {
	res, err := p.claimNext(workerID, nil)
	if err != nil {
		return ClaimResult{}, err
	}
	if res.Success {
		p.writeSummary()
	}
	return res, nil
}

// ClaimForFiles prefers pending tasks whose file scope overlaps patterns,
// falling back to the global claim order when nothing matches. Malformed
// scope columns are treated as empty, not errors.
func (p *Pool) ClaimForFiles(workerID string, patterns []string) (ClaimResult, error) {
	if len(patterns) == 0 {
		return p.Claim(workerID)
	}
	res, err := p.claimNext(workerID, patterns)
	if err != nil {
		return ClaimResult{}, err
	}
	if !res.Success && res.Reason == ReasonNoPending && len(patterns) > 0 {
		// No scoped match; take anything.
		res, err = p.claimNext(workerID, nil)
		if err != nil {
			return ClaimResult{}, err
		}
	}
	if res.Success {
		p.writeSummary()
	}
	return res, nil
}

// claimNext claims the first claimable pending task inside one transaction.
// With patterns non-nil only scope-matching tasks are considered.
func (p *Pool) claimNext(workerID string, patterns []string) (ClaimResult, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return ClaimResult{}, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id, description, owned_files, file_patterns
		FROM tasks WHERE status = 'pending' ` + taskOrder)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("list pending: %w", err)
	}

	type candidate struct {
		id, description string
	}
	var candidates []candidate
	for rows.Next() {
		var id, description, ownedRaw, patternsRaw string
		if err := rows.Scan(&id, &description, &ownedRaw, &patternsRaw); err != nil {
			rows.Close()
			return ClaimResult{}, fmt.Errorf("scan pending: %w", err)
		}
		if patterns != nil {
			scope := append(decodeScopeList(ownedRaw), decodeScopeList(patternsRaw)...)
			if !fileglob.MatchAny(patterns, scope) {
				continue
			}
		}
		candidates = append(candidates, candidate{id, description})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ClaimResult{}, fmt.Errorf("iterate pending: %w", err)
	}

	now := p.now().UTC()
	for _, c := range candidates {
		affected, err := casExec(tx,
			`UPDATE tasks SET status = 'claimed', claimed_by = ?, claimed_at = ?
			 WHERE id = ? AND status = 'pending'`,
			workerID, now.UnixMilli(), c.id)
		if err != nil {
			return ClaimResult{}, fmt.Errorf("claim %s: %w", c.id, err)
		}
		if affected == 0 {
			continue
		}
		if err := upsertHeartbeat(tx, workerID, now, c.id); err != nil {
			return ClaimResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return ClaimResult{}, fmt.Errorf("commit claim: %w", err)
		}
		p.logger.Info("worker %s claimed %s", workerID, c.id)
		return ClaimResult{Success: true, TaskID: c.id, Description: c.description}, nil
	}

	return ClaimResult{Success: false, Reason: ReasonNoPending}, nil
}

// Release returns a claimed task to pending, but only for its claimer.
func (p *Pool) Release(workerID, taskID string) error {
	return p.casTransition(taskID, workerID,
		`UPDATE tasks SET status = 'pending', claimed_by = NULL, claimed_at = NULL
		 WHERE id = ? AND status = 'claimed' AND claimed_by = ?`)
}

// Complete marks a claimed task done with its result, CAS on the claimer.
func (p *Pool) Complete(workerID, taskID, result string) error {
	err := p.casTransition(taskID, workerID,
		`UPDATE tasks SET status = 'done', result = ?, completed_at = ?
		 WHERE id = ? AND status = 'claimed' AND claimed_by = ?`,
		result, p.now().UTC().UnixMilli())
	if err == nil {
		p.writeSummary()
	}
	return err
}

// Fail marks a claimed task failed with its error, CAS on the claimer.
func (p *Pool) Fail(workerID, taskID, errText string) error {
	return p.casTransition(taskID, workerID,
		`UPDATE tasks SET status = 'failed', error = ?, completed_at = ?
		 WHERE id = ? AND status = 'claimed' AND claimed_by = ?`,
		errText, p.now().UTC().UnixMilli())
}

// ReclaimFailed moves a failed task back to claimed under a new worker and
// clears its error.
func (p *Pool) ReclaimFailed(workerID, taskID string) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reclaim: %w", err)
	}
	defer tx.Rollback()

	now := p.now().UTC()
	affected, err := casExec(tx,
		`UPDATE tasks SET status = 'claimed', claimed_by = ?, claimed_at = ?,
		 error = '', completed_at = NULL
		 WHERE id = ? AND status = 'failed'`,
		workerID, now.UnixMilli(), taskID)
	if err != nil {
		return fmt.Errorf("reclaim %s: %w", taskID, err)
	}
	if affected == 0 {
		return fmt.Errorf("reclaim %s: %w", taskID, ErrNotClaimedByWorker)
	}
	if err := upsertHeartbeat(tx, workerID, now, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// casTransition runs a claimer-guarded status update. The trailing two query
// arguments are always (taskID, workerID).
func (p *Pool) casTransition(taskID, workerID, query string, args ...any) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	args = append(args, taskID, workerID)
	affected, err := casExec(tx, query, args...)
	if err != nil {
		return fmt.Errorf("transition %s: %w", taskID, err)
	}
	if affected == 0 {
		return fmt.Errorf("transition %s: %w", taskID, ErrNotClaimedByWorker)
	}
	return tx.Commit()
}

func casExec(tx *sql.Tx, query string, args ...any) (int64, error) {
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func upsertHeartbeat(tx *sql.Tx, workerID string, now time.Time, taskID string) error {
	_, err := tx.Exec(
		`INSERT INTO heartbeats (agent_id, last_heartbeat, current_task_id)
		 VALUES (?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
		   last_heartbeat = excluded.last_heartbeat,
		   current_task_id = excluded.current_task_id`,
		workerID, now.UnixMilli(), taskID)
	if err != nil {
		return fmt.Errorf("upsert heartbeat for %s: %w", workerID, err)
	}
	return nil
}

// Heartbeat records worker liveness, inferring the current task from the
// task table. Idempotent.
func (p *Pool) Heartbeat(workerID string) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin heartbeat: %w", err)
	}
	defer tx.Rollback()

	var taskID sql.NullString
	err = tx.QueryRow(
		`SELECT id FROM tasks WHERE status = 'claimed' AND claimed_by = ? LIMIT 1`,
		workerID).Scan(&taskID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("find current task: %w", err)
	}
	if err := upsertHeartbeat(tx, workerID, p.now().UTC(), taskID.String); err != nil {
		return err
	}
	return tx.Commit()
}

// CleanupStaleClaims releases tasks whose lease expired: claimed before the
// cutoff by a worker that also has not heartbeated since the cutoff. Dead
// workers' heartbeat rows are dropped. Returns the number of tasks released.
func (p *Pool) CleanupStaleClaims(leaseTimeout time.Duration) (int, error) {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	cutoff := p.now().UTC().Add(-leaseTimeout).UnixMilli()

	tx, err := p.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT t.id, t.claimed_by FROM tasks t
		 LEFT JOIN heartbeats h ON h.agent_id = t.claimed_by
		 WHERE t.status = 'claimed' AND t.claimed_at < ?
		   AND (h.agent_id IS NULL OR h.last_heartbeat < ?)`,
		cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale claims: %w", err)
	}

	type stale struct{ taskID, workerID string }
	var found []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.taskID, &s.workerID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale claim: %w", err)
		}
		found = append(found, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate stale claims: %w", err)
	}

	for _, s := range found {
		if _, err := tx.Exec(
			`UPDATE tasks SET status = 'pending', claimed_by = NULL, claimed_at = NULL
			 WHERE id = ? AND status = 'claimed'`, s.taskID); err != nil {
			return 0, fmt.Errorf("release stale %s: %w", s.taskID, err)
		}
		if _, err := tx.Exec(`DELETE FROM heartbeats WHERE agent_id = ?`, s.workerID); err != nil {
			return 0, fmt.Errorf("drop heartbeat %s: %w", s.workerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	if len(found) > 0 {
		p.logger.Warn("released %d stale claims", len(found))
	}
	return len(found), nil
}

// AddTasks inserts a batch in one transaction. Ids continue from the highest
// suffix ever assigned, tracked in the meta table so deletions never cause
// reuse.
func (p *Pool) AddTasks(specs []TaskSpec) ([]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tx, err := p.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin add: %w", err)
	}
	defer tx.Rollback()

	next, err := nextTaskSuffix(tx)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC().UnixMilli()
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id := fmt.Sprintf("task-%d", next)
		next++

		wave := spec.Wave
		if wave < 1 {
			wave = 1
		}
		owned, _ := json.Marshal(emptyIfNil(spec.OwnedFiles))
		filePatterns, _ := json.Marshal(emptyIfNil(spec.FilePatterns))

		if _, err := tx.Exec(
			`INSERT INTO tasks (id, description, status, priority, wave,
			   owned_files, file_patterns, created_at)
			 VALUES (?, ?, 'pending', ?, ?, ?, ?, ?)`,
			id, spec.Description, spec.Priority, wave,
			string(owned), string(filePatterns), now); err != nil {
			return nil, fmt.Errorf("insert %s: %w", id, err)
		}
		ids = append(ids, id)
	}

	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('max_task_suffix', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", next-1)); err != nil {
		return nil, fmt.Errorf("record max suffix: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add: %w", err)
	}
	return ids, nil
}

// nextTaskSuffix picks MAX(suffix)+1 over both live task-<n> ids and the
// high-water mark in meta.
func nextTaskSuffix(tx *sql.Tx) (int64, error) {
	var max int64
	err := tx.QueryRow(
		`SELECT COALESCE(MAX(CAST(SUBSTR(id, 6) AS INTEGER)), 0)
		 FROM tasks WHERE id GLOB 'task-[0-9]*'`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("scan max task id: %w", err)
	}

	var recorded sql.NullString
	err = tx.QueryRow(`SELECT value FROM meta WHERE key = 'max_task_suffix'`).Scan(&recorded)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("read max suffix: %w", err)
	}
	if recorded.Valid {
		var high int64
		fmt.Sscanf(recorded.String, "%d", &high)
		if high > max {
			max = high
		}
	}
	return max + 1, nil
}

// DeleteAllTasks destroys the pool contents and heartbeats. Explicit pool
// deletion is the only way tasks leave the store.
func (p *Pool) DeleteAllTasks() error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM tasks`, `DELETE FROM heartbeats`} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("delete pool: %w", err)
		}
	}
	return tx.Commit()
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// decodeScopeList decodes a JSON string-array column, repairing or defaulting
// malformed contents to empty rather than failing the claim scan.
func decodeScopeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(repaired), &list); err != nil {
		return nil
	}
	return list
}
