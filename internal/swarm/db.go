package swarm

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"omc/internal/logging"
	"omc/internal/state"
)

// schemaVersion is the compiled schema version. Opening a store with an older
// on-disk version applies migrations up to this value.
const schemaVersion = 2

// Pool is a handle on the embedded task store for one working directory.
type Pool struct {
	db     *sql.DB
	cwd    string
	logger logging.Logger
	now    func() time.Time
}

// Open opens (or creates) the pool store at <cwd>/.omc/state/swarm.db.
func Open(cwd string) (*Pool, error) {
	dir, err := state.EnsureDir(cwd)
	if err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	path := filepath.Join(dir, "swarm.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open swarm store: %w", err)
	}
	// Hooks are short-lived; one connection keeps transaction semantics simple.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	p := &Pool{
		db:     db,
		cwd:    cwd,
		logger: logging.NewComponentLogger("swarm"),
		now:    time.Now,
	}
	if err := p.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the underlying store handle.
func (p *Pool) Close() error {
	return p.db.Close()
}

func (p *Pool) migrate() error {
	if _, err := p.db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	current := 0
	row := p.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`)
	var v string
	if err := row.Scan(&v); err == nil {
		fmt.Sscanf(v, "%d", &current)
	}

	if current >= schemaVersion {
		return nil
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if current < 1 {
		if err := migrateV1(tx); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if current < 2 {
		if err := migrateV2(tx); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	p.logger.Info("migrated swarm store from v%d to v%d", current, schemaVersion)
	return nil
}

func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id            TEXT PRIMARY KEY,
			description   TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'pending',
			claimed_by    TEXT,
			claimed_at    INTEGER,
			completed_at  INTEGER,
			error         TEXT NOT NULL DEFAULT '',
			result        TEXT NOT NULL DEFAULT '',
			priority      INTEGER NOT NULL DEFAULT 0,
			wave          INTEGER NOT NULL DEFAULT 1,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status, priority)`,
		`CREATE TABLE IF NOT EXISTS heartbeats (
			agent_id        TEXT PRIMARY KEY,
			last_heartbeat  INTEGER NOT NULL,
			current_task_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pool_session (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			session_id   TEXT NOT NULL,
			active       INTEGER NOT NULL DEFAULT 1,
			worker_count INTEGER NOT NULL DEFAULT 0,
			started_at   INTEGER NOT NULL,
			completed_at INTEGER
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2 adds file-scope columns for claimForFiles.
func migrateV2(tx *sql.Tx) error {
	for _, stmt := range []string{
		`ALTER TABLE tasks ADD COLUMN owned_files TEXT NOT NULL DEFAULT '[]'`,
		`ALTER TABLE tasks ADD COLUMN file_patterns TEXT NOT NULL DEFAULT '[]'`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func msToTime(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}

func timeToMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
