package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to an event. Fields apply in order, so a later field
// with the same key wins in decoded JSON.
type Field func(e *zerolog.Event)

func String(k, v string) Field           { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strings(k string, v []string) Field { return func(e *zerolog.Event) { e.Strs(k, v) } }
func Int(k string, v int) Field          { return func(e *zerolog.Event) { e.Int(k, v) } }
func Uint64(k string, v uint64) Field    { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field        { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err adds the error under "err". A nil error adds nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Keys shared by the scheduler, the executor and the workflow runner, so one
// job can be followed through all three in the logs.
const (
	KeyJobID      = "job_id"
	KeyWorkflowID = "workflow_id"
	KeyTaskID     = "task_id"
	KeyAttempt    = "attempt"
)

func JobID(id string) Field      { return String(KeyJobID, id) }
func WorkflowID(id string) Field { return String(KeyWorkflowID, id) }
func TaskID(id string) Field     { return String(KeyTaskID, id) }
func Attempt(n int) Field        { return Int(KeyAttempt, n) }
