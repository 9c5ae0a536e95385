// Package app wires the scheduler process: config, logging, storage, the
// executor pools, the workflow runner, the scheduler, status tracking,
// metrics and the admin API.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"wfsched/internal/api"
	"wfsched/internal/config"
	"wfsched/internal/errs"
	"wfsched/internal/eventbus"
	"wfsched/internal/metrics"
	rtsup "wfsched/internal/runtime/supervisor"
	"wfsched/internal/storage"
	"wfsched/internal/task/engine"
	"wfsched/internal/task/jobkind"
	"wfsched/internal/task/scheduler"
	"wfsched/internal/task/status"
	"wfsched/internal/unitctl"
	"wfsched/internal/workflow"
	logx "wfsched/pkg/logx"
)

type App struct {
	cfgm    *config.Manager
	sup     *rtsup.Supervisor
	version string

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine   *engine.Service
	registry *workflow.Registry
	runner   *workflow.Runner
	kinds    *jobkind.Registry
	units    *unitctl.Manager
	sched    *scheduler.Service
	tracker  *status.Tracker
	metrics  *metrics.Collector
	http     *api.Server
}

type Option func(*options)

type options struct {
	version string
	getenv  func(string) string
}

func WithVersion(v string) Option { return func(o *options) { o.version = v } }

// WithEnv replaces os.Getenv for WFSCHED_* overrides.
func WithEnv(getenv func(string) string) Option { return func(o *options) { o.getenv = getenv } }

// NewApp loads the config and builds every component. Nothing runs until
// Start; the CLI uses an unstarted App for offline listing and ad hoc runs.
func NewApp(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{version: "dev", getenv: os.Getenv}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetEnv(o.getenv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.LogxConfig())
	log = log.With(logx.String("comp", "app"))

	sc, err := cfg.Storage.Resolve()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	readiness, err := cfg.Workflow.Readiness()
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	coll := metrics.New()
	eng := engine.New(cfg.Executor.EngineConfig(), log, bus)
	reg := workflow.NewRegistry(store, log)
	runner := workflow.NewRunner(reg, log, workflow.WithReadiness(readiness), workflow.WithObserver(coll))

	units := unitctl.New(log)
	kinds := jobkind.NewRegistry(jobkind.Deps{
		Runner:    runner,
		Readiness: readiness,
		Location:  dateCheckLocation(cfg.Scheduler.Timezone),
		Units:     units,
	}, log)
	sched := scheduler.New(cfg.SchedulerConfig(), store, eng, kinds, log, bus)

	a := &App{
		cfgm:     cfgm,
		version:  o.version,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		engine:   eng,
		registry: reg,
		runner:   runner,
		kinds:    kinds,
		units:    units,
		sched:    sched,
		tracker:  status.New(log),
		metrics:  coll,
	}
	a.registerGauges()

	if err := a.seedWorkflows(ctx, cfg.Workflows); err != nil {
		_ = a.Stop(ctx, StopFatalError)
		return nil, err
	}
	return a, nil
}

// dateCheckLocation mirrors the scheduler's zone choice: empty means UTC.
// The value is validated by config.Validate.
func dateCheckLocation(tz string) *time.Location {
	if tz = strings.TrimSpace(tz); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.UTC
}

func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Workflows() *workflow.Registry { return a.registry }
func (a *App) Runner() *workflow.Runner      { return a.runner }
func (a *App) Status() *status.Tracker       { return a.tracker }
func (a *App) Metrics() *metrics.Collector   { return a.metrics }
func (a *App) Kinds() *jobkind.Registry      { return a.kinds }
func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) HTTPServer() *api.Server       { return a.http }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the executor, event consumers, the scheduler (unless
// scheduler.autostart is false), the admin API and the config watcher.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errs.SchedulerState("app already started")
	}
	cfg := a.cfgm.Get()
	a.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(a.log))
	runCtx := a.sup.Context()

	// Subscribe before anything can publish.
	statusCh, unsubStatus := a.tracker.Subscribe(a.bus)
	metricsCh, unsubMetrics := a.metrics.Subscribe(a.bus)
	a.sup.Go("status.tracker", func(c context.Context) error {
		defer unsubStatus()
		return a.tracker.Consume(c, statusCh)
	})
	a.sup.Go("metrics.events", func(c context.Context) error {
		defer unsubMetrics()
		return a.metrics.Consume(c, metricsCh)
	})
	a.sup.Go("eventbus.log", a.logEvents)
	a.engine.Start(runCtx)

	a.seedJobs(runCtx, cfg.Jobs)

	if cfg.Scheduler.AutostartEnabled() {
		if err := a.sched.Start(runCtx); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduler autostart disabled; waiting for POST /scheduler/start")
	}

	if cfg.HTTP.Enabled {
		if err := a.startHTTP(runCtx, cfg.HTTP); err != nil {
			return err
		}
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("version", a.version), logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) startHTTP(ctx context.Context, hc config.HTTPConfig) error {
	read, write, err := hc.Timeouts()
	if err != nil {
		return err
	}
	h := api.NewHandler(api.Deps{
		Scheduler:  a.sched,
		Workflows:  a.registry,
		Runner:     a.runner,
		Status:     a.tracker,
		Metrics:    a.metrics.Handler(),
		Background: a.sup.Go,
		Version:    a.version,
	}, a.log)
	a.http = api.NewServer(api.ServerConfig{
		Addr:          hc.ListenAddr(),
		Token:         hc.Token,
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
		CORSOrigins:   hc.CORSOrigins,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   2 * time.Minute,
	}, h, a.log)
	a.http.Start(ctx)
	return nil
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			// Debug level: interval jobs make this chatty.
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// seedWorkflows upserts workflows defined in the config file.
func (a *App) seedWorkflows(ctx context.Context, wfs []workflow.Workflow) error {
	for _, w := range wfs {
		if err := a.registry.PutWorkflow(ctx, w); err != nil {
			return fmt.Errorf("workflow %q: %w", w.ID, err)
		}
	}
	return nil
}

// seedJobs adds each config-defined job once. The store keeps a marker per
// seeded id, so a seed job later removed through the API or CLI stays gone,
// and a stored job always wins over its config definition.
func (a *App) seedJobs(ctx context.Context, defs []scheduler.JobDef) {
	for _, def := range defs {
		seeded, err := a.store.Seeded(ctx, def.ID)
		if err != nil {
			a.log.Warn("seed marker lookup failed", logx.JobID(def.ID), logx.Err(err))
			continue
		}
		if seeded {
			continue
		}
		_, err = a.sched.GetJob(ctx, def.ID)
		switch {
		case err == nil:
			// Stored before markers existed.
		case errors.Is(err, errs.ErrNotFound):
			if _, err := a.sched.AddJob(ctx, def); err != nil {
				a.log.Warn("seed job rejected", logx.JobID(def.ID), logx.Err(err))
				continue
			}
			a.log.Info("seed job added", logx.JobID(def.ID))
		default:
			a.log.Warn("seed job lookup failed", logx.JobID(def.ID), logx.Err(err))
			continue
		}
		if err := a.store.MarkSeeded(ctx, def.ID); err != nil {
			a.log.Warn("seed marker not saved", logx.JobID(def.ID), logx.Err(err))
		}
	}
}

func (a *App) registerGauges() {
	snap := func() scheduler.Snapshot { return a.sched.Snapshot(context.Background()) }
	a.metrics.GaugeFunc("scheduler_jobs", "Jobs in the store.", func() float64 { return float64(snap().Jobs) })
	a.metrics.GaugeFunc("scheduler_paused_jobs", "Paused jobs in the store.", func() float64 { return float64(snap().Paused) })
	a.metrics.GaugeFunc("scheduler_running", "1 while the firing loop runs.", func() float64 {
		if a.sched.State() == scheduler.Running {
			return 1
		}
		return 0
	})
	a.metrics.GaugeFunc("executor_queued", "Occurrences waiting in pool queues.", func() float64 {
		n := 0
		for _, p := range a.engine.Snapshot().Pools {
			n += p.QueueLen
		}
		return float64(n)
	})
	a.metrics.GaugeFunc("executor_in_flight", "Occurrences currently executing.", func() float64 {
		n := 0
		for _, p := range a.engine.Snapshot().Pools {
			n += p.InFlight
		}
		return float64(n)
	})
	a.metrics.GaugeFunc("eventbus_dropped", "Events dropped because a subscriber was slow.", func() float64 {
		return float64(a.bus.Dropped())
	})
}

// Stop shuts components down in dependency order, each step bounded so one
// component cannot stall the whole stop. An unstarted App only closes its
// store and log sinks.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup != nil {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		a.step(ctx, "http", 2*time.Second, func(c context.Context) error {
			if a.http == nil {
				return nil
			}
			return a.http.Stop(c)
		})
		a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error {
			if a.sched.State() != scheduler.Running {
				return nil
			}
			return a.sched.Stop(c)
		})
		a.step(ctx, "executor", 10*time.Second, a.engine.Stop)
		a.step(ctx, "supervisor", 2*time.Second, a.sup.Stop)
	}
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	_ = a.units.Close()
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// restartSections lists config sections that only take effect on restart.
var restartSections = map[string]bool{"executor": true, "storage": true, "http": true, "workflow": true}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, wfChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if err := a.logs.Apply(newCfg.Logging.LogxConfig()); err != nil {
		a.log.Warn("log sink update failed", logx.Err(err))
	}
	a.sched.Apply(newCfg.SchedulerConfig())

	byID := make(map[string]workflow.Workflow, len(newCfg.Workflows))
	for _, w := range newCfg.Workflows {
		byID[w.ID] = w
	}
	for _, id := range wfChanged {
		if err := a.registry.PutWorkflow(ctx, byID[id]); err != nil {
			a.log.Warn("workflow update rejected", logx.WorkflowID(id), logx.Err(err))
		}
	}
	a.seedJobs(ctx, newCfg.Jobs)

	var restart []string
	for _, s := range sections {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}
