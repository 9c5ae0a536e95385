package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"wfsched/internal/errs"
	logx "wfsched/pkg/logx"
)

// migrations[i] upgrades the schema from version i to i+1. Every statement
// is valid for both SQLite and PostgreSQL.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS jobs (
			id            TEXT PRIMARY KEY,
			next_run_time BIGINT NULL,
			job_state     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_next_run_time ON jobs(next_run_time)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id   TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS seeded_jobs (
			id        TEXT PRIMARY KEY,
			seeded_at BIGINT NOT NULL
		)`,
	},
}

var schemaVersion = len(migrations)

// sqlStore keeps one row per job: the indexed next_run_time (unix millis) and
// the full Job as JSON in job_state.
type sqlStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type jobRow struct {
	ID          string        `db:"id"`
	NextRunTime sql.NullInt64 `db:"next_run_time"`
	JobState    string        `db:"job_state"`
}

type workflowRow struct {
	ID   string `db:"id"`
	Data string `db:"data"`
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errs.Validation("storage.path is required for the sqlite driver")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return newSQLStore(ctx, db, log)
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errs.Validation("storage.dsn is required for the postgres driver")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return newSQLStore(ctx, db, log)
}

func newSQLStore(ctx context.Context, db *sqlx.DB, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("%s: create schema_version: %w", s.db.DriverName(), err)
	}
	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("%s: read schema version: %w", s.db.DriverName(), err)
	}
	if current >= schemaVersion {
		return nil
	}
	for v := current; v < schemaVersion; v++ {
		if err := s.migrateStep(ctx, v); err != nil {
			return err
		}
	}
	s.log.Info("storage schema migrated",
		logx.String("driver", s.db.DriverName()), logx.Int("from", current), logx.Int("version", schemaVersion))
	return nil
}

func (s *sqlStore) migrateStep(ctx context.Context, from int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range migrations[from] {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate to v%d: %w\nstatement: %s", s.db.DriverName(), from+1, err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), from+1); err != nil {
		return fmt.Errorf("%s: record schema version: %w", s.db.DriverName(), err)
	}
	return tx.Commit()
}

func (s *sqlStore) UpsertJob(ctx context.Context, j Job) error {
	if err := requireID("job", j.ID); err != nil {
		return err
	}
	state, err := json.Marshal(j)
	if err != nil {
		return err
	}
	var next sql.NullInt64
	if j.NextRunTime != nil {
		next = sql.NullInt64{Int64: j.NextRunTime.UnixMilli(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO jobs (id, next_run_time, job_state) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET next_run_time = excluded.next_run_time, job_state = excluded.job_state`),
		j.ID, next, string(state))
	return err
}

func (s *sqlStore) RemoveJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM jobs WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFoundJob(id)
	}
	return nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, next_run_time, job_state FROM jobs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, notFoundJob(id)
	}
	if err != nil {
		return Job{}, err
	}
	return row.decode()
}

func (s *sqlStore) ListJobs(ctx context.Context) ([]Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, next_run_time, job_state FROM jobs ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.decode()
		if err != nil {
			s.log.Warn("skipping undecodable job row", logx.JobID(r.ID), logx.Err(err))
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// decode trusts the indexed column over the JSON copy for next_run_time.
func (r jobRow) decode() (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(r.JobState), &j); err != nil {
		return Job{}, fmt.Errorf("decode job %q: %w", r.ID, err)
	}
	j.ID = r.ID
	j.NextRunTime = nil
	if r.NextRunTime.Valid {
		t := time.UnixMilli(r.NextRunTime.Int64)
		j.NextRunTime = &t
	}
	return j, nil
}

func (s *sqlStore) PutWorkflow(ctx context.Context, w Workflow) error {
	if err := requireID("workflow", w.ID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO workflows (id, data) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data`),
		w.ID, string(w.Data))
	return err
}

func (s *sqlStore) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var row workflowRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, data FROM workflows WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Workflow{}, notFoundWorkflow(id)
	}
	if err != nil {
		return Workflow{}, err
	}
	return Workflow{ID: row.ID, Data: json.RawMessage(row.Data)}, nil
}

func (s *sqlStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var rows []workflowRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, data FROM workflows ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]Workflow, 0, len(rows))
	for _, r := range rows {
		out = append(out, Workflow{ID: r.ID, Data: json.RawMessage(r.Data)})
	}
	return out, nil
}

func (s *sqlStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM workflows WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFoundWorkflow(id)
	}
	return nil
}

func (s *sqlStore) MarkSeeded(ctx context.Context, id string) error {
	if err := requireID("seed", id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO seeded_jobs (id, seeded_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`),
		id, time.Now().UnixMilli())
	return err
}

func (s *sqlStore) Seeded(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM seeded_jobs WHERE id = ?`), id); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
