package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfsched/internal/errs"
	"wfsched/internal/task/trigger"
	logx "wfsched/pkg/logx"
)

func sampleJob(id string) Job {
	next := time.Date(2024, 6, 1, 10, 5, 0, 0, time.UTC)
	return Job{
		ID:               id,
		Name:             "nightly " + id,
		Kind:             "workflow",
		Args:             []string{"etl"},
		Trigger:          trigger.Spec{Type: trigger.KindInterval, Minutes: 5},
		MisfireGraceTime: 60,
		MaxInstances:     3,
		Pool:             PoolDefault,
		NextRunTime:      &next,
		CreatedAt:        time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

type opener func(t *testing.T) Store

func drivers() map[string]opener {
	ctx := context.Background()
	return map[string]opener{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			s, err := Open(ctx, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "jobs.json"), CompactEvery: 3}, logx.Nop())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "jobs.db")}, logx.Nop())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range drivers() {
		open := open
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			_, err := s.GetJob(ctx, "missing")
			assert.ErrorIs(t, err, errs.ErrNotFound)
			assert.ErrorIs(t, s.RemoveJob(ctx, "missing"), errs.ErrNotFound)
			assert.ErrorIs(t, s.UpsertJob(ctx, Job{}), errs.ErrValidation)

			require.NoError(t, s.UpsertJob(ctx, sampleJob("b")))
			require.NoError(t, s.UpsertJob(ctx, sampleJob("a")))

			got, err := s.GetJob(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "workflow", got.Kind)
			assert.Equal(t, []string{"etl"}, got.Args)
			require.NotNil(t, got.NextRunTime)
			assert.True(t, sampleJob("a").NextRunTime.Equal(*got.NextRunTime))

			// Upsert overwrites, including clearing next_run_time.
			paused := sampleJob("a")
			paused.Paused = true
			paused.NextRunTime = nil
			require.NoError(t, s.UpsertJob(ctx, paused))
			got, err = s.GetJob(ctx, "a")
			require.NoError(t, err)
			assert.True(t, got.Paused)
			assert.Nil(t, got.NextRunTime)

			list, err := s.ListJobs(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ID)
			assert.Equal(t, "b", list[1].ID)

			require.NoError(t, s.RemoveJob(ctx, "b"))
			list, err = s.ListJobs(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			wf := Workflow{ID: "etl", Data: json.RawMessage(`{"id":"etl","tasks":[]}`)}
			require.NoError(t, s.PutWorkflow(ctx, wf))
			gotWF, err := s.GetWorkflow(ctx, "etl")
			require.NoError(t, err)
			assert.JSONEq(t, string(wf.Data), string(gotWF.Data))
			wfs, err := s.ListWorkflows(ctx)
			require.NoError(t, err)
			assert.Len(t, wfs, 1)
			require.NoError(t, s.DeleteWorkflow(ctx, "etl"))
			assert.ErrorIs(t, s.DeleteWorkflow(ctx, "etl"), errs.ErrNotFound)
			_, err = s.GetWorkflow(ctx, "etl")
			assert.ErrorIs(t, err, errs.ErrNotFound)

			seeded, err := s.Seeded(ctx, "hello")
			require.NoError(t, err)
			assert.False(t, seeded)
			require.NoError(t, s.MarkSeeded(ctx, "hello"))
			require.NoError(t, s.MarkSeeded(ctx, "hello"), "marking twice is a no-op")
			seeded, err = s.Seeded(ctx, "hello")
			require.NoError(t, err)
			assert.True(t, seeded)
			assert.ErrorIs(t, s.MarkSeeded(ctx, " "), errs.ErrValidation)
		})
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	j := sampleJob("a")
	require.NoError(t, s.UpsertJob(ctx, j))
	j.Args[0] = "mutated"
	*j.NextRunTime = time.Time{}

	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "etl", got.Args[0])
	assert.False(t, got.NextRunTime.IsZero())
}

func TestDurableDriversSurviveReopen(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(t.TempDir(), "jobs.json"), CompactEvery: 2},
		{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "jobs.db")},
	} {
		cfg := cfg
		t.Run(cfg.Driver, func(t *testing.T) {
			s, err := Open(ctx, cfg, logx.Nop())
			require.NoError(t, err)
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, s.UpsertJob(ctx, sampleJob(id)))
			}
			require.NoError(t, s.RemoveJob(ctx, "b"))
			require.NoError(t, s.PutWorkflow(ctx, Workflow{ID: "etl", Data: json.RawMessage(`{}`)}))
			require.NoError(t, s.MarkSeeded(ctx, "b"))
			require.NoError(t, s.Close())

			s, err = Open(ctx, cfg, logx.Nop())
			require.NoError(t, err)
			defer s.Close()
			list, err := s.ListJobs(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ID)
			assert.Equal(t, "c", list[1].ID)
			_, err = s.GetWorkflow(ctx, "etl")
			assert.NoError(t, err)
			seeded, err := s.Seeded(ctx, "b")
			require.NoError(t, err)
			assert.True(t, seeded, "seed marker outlives the removed job")
		})
	}
}

func TestSQLiteMigratesFromFirstSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	for _, stmt := range migrations[0] {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO schema_version (version) VALUES (1)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.MarkSeeded(ctx, "hello"))

	var version int
	require.NoError(t, s.(*sqlStore).db.Get(&version, `SELECT MAX(version) FROM schema_version`))
	assert.Equal(t, len(migrations), version)
}

func TestFileStoreReplaysJournalWithoutClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "jobs.json"), CompactEvery: 1000}
	s, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.UpsertJob(ctx, sampleJob("a")))

	// Simulate a crash: append a torn record and reopen without Close.
	fs := s.(*fileStore)
	_, err = fs.journal.WriteString(`{"op":"put_job","id":"b","job":{"id"`)
	require.NoError(t, err)

	s2, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer s2.Close()
	list, err := s2.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)
}

func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("WFSCHED_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WFSCHED_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()

	id := "pg-" + time.Now().Format("150405.000000")
	require.NoError(t, s.UpsertJob(ctx, sampleJob(id)))
	got, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	require.NoError(t, s.RemoveJob(ctx, id))
}

func TestDriverFromURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want Config
	}{
		{"sqlite:///jobs.db", Config{Driver: "sqlite", Path: "jobs.db"}},
		{"sqlite:////var/lib/wfsched/jobs.db", Config{Driver: "sqlite", Path: "/var/lib/wfsched/jobs.db"}},
		{"postgres://u:p@db/wf?sslmode=disable", Config{Driver: "postgres", DSN: "postgres://u:p@db/wf?sslmode=disable"}},
		{"file:///tmp/jobs.json", Config{Driver: "file", Path: "/tmp/jobs.json"}},
	}
	for _, tt := range tests {
		got, err := DriverFromURL(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got)
	}
	_, err := DriverFromURL("jobs.db")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = DriverFromURL("mysql://x")
	assert.ErrorIs(t, err, errs.ErrValidation)
}
