package config

import (
	"reflect"
	"sort"
	"strings"

	logx "wfsched/pkg/logx"
)

// SummarizeConfigChange returns (1) the sorted list of changed sections,
// (2) structured attrs for the reload log line (never the storage DSN or the
// API token), and (3) the ids of workflows that were added or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		oldCfg.Scheduler.CatchUpLimit != newCfg.Scheduler.CatchUpLimit ||
		oldCfg.Scheduler.AutostartEnabled() != newCfg.Scheduler.AutostartEnabled() {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.catch_up_limit", newCfg.Scheduler.CatchUpLimit),
		)
	}

	// Pool sizes are fixed at start; a change is reported so the operator
	// knows a restart is needed.
	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.Int("executor.max_threads", newCfg.Executor.MaxThreads),
			logx.Int("executor.max_processes", newCfg.Executor.MaxProcesses),
			logx.Bool("executor.restart_required", true),
		)
	}

	if oldCfg.JobDefaults != newCfg.JobDefaults {
		changed = append(changed, "job_defaults")
		attrs = append(attrs,
			logx.Int("job_defaults.misfire_grace_time", newCfg.JobDefaults.MisfireGraceTime),
			logx.Int("job_defaults.max_instances", newCfg.JobDefaults.MaxInstances),
			logx.Bool("job_defaults.coalesce", newCfg.JobDefaults.Coalesce),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		n, _ := newCfg.Storage.Resolve()
		attrs = append(attrs,
			logx.String("storage.driver", n.Driver),
			logx.Bool("storage.path_set", n.Path != ""),
			logx.Bool("storage.dsn_set", n.DSN != ""),
			logx.Bool("storage.restart_required", true),
		)
	}

	if oldCfg.Workflow != newCfg.Workflow {
		changed = append(changed, "workflow")
		attrs = append(attrs,
			logx.String("workflow.readiness_timeout", newCfg.Workflow.ReadinessTimeout),
			logx.String("workflow.readiness_interval", newCfg.Workflow.ReadinessInterval),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.ListenAddr()),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.restart_required", true),
		)
	}

	wfChanged := diffWorkflows(oldCfg, newCfg)
	if len(wfChanged) > 0 {
		changed = append(changed, "workflows")
		attrs = append(attrs, logx.Int("workflows.changed_count", len(wfChanged)))
	}

	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.Int("jobs.seed_count", len(newCfg.Jobs)))
	}

	sort.Strings(changed)
	return changed, attrs, wfChanged
}

// diffWorkflows lists ids present in newCfg whose definition differs from
// oldCfg. Workflows removed from the file are kept in the registry.
func diffWorkflows(oldCfg, newCfg *Config) []string {
	prev := make(map[string]uint64, len(oldCfg.Workflows))
	for _, w := range oldCfg.Workflows {
		prev[w.ID] = hashJSON(w)
	}
	out := make([]string, 0)
	for _, w := range newCfg.Workflows {
		if h, ok := prev[w.ID]; !ok || h != hashJSON(w) {
			out = append(out, w.ID)
		}
	}
	sort.Strings(out)
	return out
}
