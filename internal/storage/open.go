package storage

import (
	"context"
	"strings"

	"wfsched/internal/errs"
	logx "wfsched/pkg/logx"
)

// Store is the persistence API used by the scheduler and the workflow registry.
//
// UpsertJob overwrites an existing id. RemoveJob and GetJob report
// errs.ErrNotFound for unknown ids; the same holds for workflows.
type Store interface {
	UpsertJob(ctx context.Context, j Job) error
	RemoveJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)

	PutWorkflow(ctx context.Context, w Workflow) error
	GetWorkflow(ctx context.Context, id string) (Workflow, error)
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// MarkSeeded records that the config seed job id was applied once. The
	// marker outlives the job, so a removed seed job is not added again.
	MarkSeeded(ctx context.Context, id string) error
	Seeded(ctx context.Context, id string) (bool, error)

	Close() error
}

// Open initializes the configured store. An empty driver means "memory".
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errs.Validation("unknown storage driver %q", cfg.Driver)
	}
}

// DriverFromURL maps a database URL (as given in WFSCHED_DB_URL) to a Config.
//
//	sqlite:///var/lib/wfsched/jobs.db  -> sqlite, path
//	postgres://user@host/db            -> postgres, DSN
//	file:///var/lib/wfsched/jobs.json  -> file, path
func DriverFromURL(raw string) (Config, error) {
	u := strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return Config{}, errs.Validation("database url %q has no scheme", raw)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		return Config{Driver: "sqlite", Path: sqlitePathFromURL(rest)}, nil
	case "file":
		return Config{Driver: "file", Path: rest}, nil
	case "postgres", "postgresql":
		return Config{Driver: "postgres", DSN: u}, nil
	case "memory":
		return Config{Driver: "memory"}, nil
	default:
		return Config{}, errs.Validation("unsupported database url scheme %q", scheme)
	}
}

// sqlitePathFromURL follows the SQLAlchemy convention: "sqlite:///jobs.db" is
// relative, "sqlite:////abs/jobs.db" is absolute.
func sqlitePathFromURL(rest string) string {
	if strings.HasPrefix(rest, "/") {
		return rest[1:]
	}
	return rest
}

func notFoundJob(id string) error { return errs.NotFound("job %q", id) }

func notFoundWorkflow(id string) error { return errs.NotFound("workflow %q", id) }

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return errs.Validation("%s id required", kind)
	}
	return nil
}
