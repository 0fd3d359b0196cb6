package swarm

import (
	"database/sql"
	"fmt"
	"time"
)

func scanTask(rows *sql.Rows) (Task, error) {
	var t Task
	var claimedBy sql.NullString
	var claimedAt, completedAt sql.NullInt64
	var ownedRaw, patternsRaw string
	var createdAt int64

	err := rows.Scan(&t.ID, &t.Description, &t.Status, &claimedBy, &claimedAt,
		&completedAt, &t.Error, &t.Result, &t.Priority, &t.Wave,
		&ownedRaw, &patternsRaw, &createdAt)
	if err != nil {
		return Task{}, err
	}
	t.ClaimedBy = claimedBy.String
	t.ClaimedAt = msToTime(claimedAt)
	t.CompletedAt = msToTime(completedAt)
	t.OwnedFiles = decodeScopeList(ownedRaw)
	t.FilePatterns = decodeScopeList(patternsRaw)
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	return t, nil
}

func (p *Pool) queryTasks(where string, args ...any) ([]Task, error) {
	rows, err := p.db.Query(
		`SELECT `+taskColumns+` FROM tasks `+where+` `+taskOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// AllTasks returns every task in claim order.
func (p *Pool) AllTasks() ([]Task, error) {
	return p.queryTasks("")
}

// TasksByStatus returns tasks in one lifecycle state.
func (p *Pool) TasksByStatus(status Status) ([]Task, error) {
	return p.queryTasks(`WHERE status = ?`, string(status))
}

// TasksByWave returns tasks in one rollout wave.
func (p *Pool) TasksByWave(wave int) ([]Task, error) {
	return p.queryTasks(`WHERE wave = ?`, wave)
}

// TasksByWorker returns tasks currently claimed by a worker.
func (p *Pool) TasksByWorker(workerID string) ([]Task, error) {
	return p.queryTasks(`WHERE claimed_by = ? AND status = 'claimed'`, workerID)
}

// GetTask returns one task by id.
func (p *Pool) GetTask(taskID string) (Task, error) {
	tasks, err := p.queryTasks(`WHERE id = ?`, taskID)
	if err != nil {
		return Task{}, err
	}
	if len(tasks) == 0 {
		return Task{}, ErrTaskNotFound
	}
	return tasks[0], nil
}

// HasPendingTasks reports whether any pending work remains.
func (p *Pool) HasPendingTasks() (bool, error) {
	var n int
	err := p.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count pending: %w", err)
	}
	return n > 0, nil
}

// AllComplete reports whether every task is in a terminal state. An empty
// pool counts as complete.
func (p *Pool) AllComplete() (bool, error) {
	var open int
	err := p.db.QueryRow(
		`SELECT COUNT(*) FROM tasks WHERE status IN ('pending', 'claimed')`).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("count open: %w", err)
	}
	return open == 0, nil
}

// StatusCounts returns per-status task counts.
func (p *Pool) StatusCounts() (map[Status]int, error) {
	rows, err := p.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// ActiveWorkerCount counts workers with a heartbeat newer than the lease
// cutoff.
func (p *Pool) ActiveWorkerCount(leaseTimeout time.Duration) (int, error) {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	cutoff := p.now().UTC().Add(-leaseTimeout).UnixMilli()
	var n int
	err := p.db.QueryRow(
		`SELECT COUNT(*) FROM heartbeats WHERE last_heartbeat >= ?`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active workers: %w", err)
	}
	return n, nil
}

// AvailableSlots reports how many more tasks could be queued before hitting
// maxConcurrent open tasks: max(0, maxConcurrent - (pending + claimed)).
func (p *Pool) AvailableSlots(maxConcurrent int) (int, error) {
	var open int
	err := p.db.QueryRow(
		`SELECT COUNT(*) FROM tasks WHERE status IN ('pending', 'claimed')`).Scan(&open)
	if err != nil {
		return 0, fmt.Errorf("count open: %w", err)
	}
	slots := maxConcurrent - open
	if slots < 0 {
		slots = 0
	}
	return slots, nil
}

// Heartbeats returns every worker liveness row.
func (p *Pool) Heartbeats() ([]Heartbeat, error) {
	rows, err := p.db.Query(
		`SELECT agent_id, last_heartbeat, current_task_id FROM heartbeats ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("query heartbeats: %w", err)
	}
	defer rows.Close()

	var beats []Heartbeat
	for rows.Next() {
		var hb Heartbeat
		var ms int64
		var taskID sql.NullString
		if err := rows.Scan(&hb.AgentID, &ms, &taskID); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		hb.LastHeartbeat = time.UnixMilli(ms).UTC()
		hb.CurrentTaskID = taskID.String
		beats = append(beats, hb)
	}
	return beats, rows.Err()
}

// StartSession records the singleton pool session row, replacing any prior
// session.
func (p *Pool) StartSession(sessionID string, workerCount int) error {
	_, err := p.db.Exec(
		`INSERT INTO pool_session (id, session_id, active, worker_count, started_at, completed_at)
		 VALUES (1, ?, 1, ?, ?, NULL)
		 ON CONFLICT(id) DO UPDATE SET
		   session_id = excluded.session_id,
		   active = 1,
		   worker_count = excluded.worker_count,
		   started_at = excluded.started_at,
		   completed_at = NULL`,
		sessionID, workerCount, p.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	p.writeSummary()
	return nil
}

// CompleteSession deactivates the pool session.
func (p *Pool) CompleteSession() error {
	_, err := p.db.Exec(
		`UPDATE pool_session SET active = 0, completed_at = ? WHERE id = 1`,
		p.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	p.writeSummary()
	return nil
}

// CurrentSession returns the pool session row, or ok=false when none exists.
func (p *Pool) CurrentSession() (Session, bool, error) {
	var s Session
	var active int
	var started int64
	var completed sql.NullInt64
	err := p.db.QueryRow(
		`SELECT session_id, active, worker_count, started_at, completed_at
		 FROM pool_session WHERE id = 1`).Scan(
		&s.SessionID, &active, &s.WorkerCount, &started, &completed)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("read session: %w", err)
	}
	s.Active = active != 0
	s.StartedAt = time.UnixMilli(started).UTC()
	s.CompletedAt = msToTime(completed)
	return s, true, nil
}
