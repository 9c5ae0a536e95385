// Package scheduler owns job definitions and decides when they fire.
//
// The scheduler is a single firing loop over the job store:
//   - it sleeps until the earliest next_run_time or until a mutation wakes it
//   - it enumerates every due occurrence of a job (catch-up after downtime)
//   - it hands occurrences to the executor pools with their scheduled time
//   - it persists the new next_run_time and drops exhausted one-shot jobs
//
// Execution itself (max_instances, misfire grace, workers) lives in
// internal/task/engine.
package scheduler
