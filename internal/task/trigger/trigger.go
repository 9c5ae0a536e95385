// Package trigger computes fire times for job triggers (interval, cron, one-shot date).
//
// Triggers are pure: Next never mutates state, so the scheduler can call it
// repeatedly while enumerating missed occurrences.
package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"wfsched/internal/errs"
)

type Kind string

const (
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
	KindDate     Kind = "date"
)

// DateLayout is accepted for run_date in addition to RFC3339.
const DateLayout = "2006-01-02 15:04:05"

// Spec is the wire/config form of a trigger.
//
//	{type: interval, minutes: 5}
//	{type: cron, day_of_week: "mon-fri", hour: 9, minute: 30}
//	{type: date, run_date: "2025-01-01 10:00:00"}
type Spec struct {
	Type      Kind   `json:"type"`
	Minutes   int    `json:"minutes,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
	Hour      int    `json:"hour,omitempty"`
	Minute    int    `json:"minute,omitempty"`
	RunDate   string `json:"run_date,omitempty"`
}

// Trigger decides when a job fires next.
type Trigger interface {
	Kind() Kind
	// Next returns the first fire time strictly after now. last is the previous
	// fire time (nil when the job has never fired). ok=false means the trigger
	// will never fire again.
	Next(now time.Time, last *time.Time) (next time.Time, ok bool)
	Spec() Spec
	String() string
}

// Parse validates s and builds the matching trigger. Cron fields and date
// strings are interpreted in loc (time.UTC when nil).
func Parse(s Spec, loc *time.Location) (Trigger, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch Kind(strings.ToLower(strings.TrimSpace(string(s.Type)))) {
	case KindInterval:
		if s.Minutes <= 0 {
			return nil, errs.Validation("interval minutes must be > 0, got %d", s.Minutes)
		}
		return Interval{Period: time.Duration(s.Minutes) * time.Minute}, nil
	case KindCron:
		c, err := newCron(s.DayOfWeek, s.Hour, s.Minute, loc)
		if err != nil {
			return nil, err
		}
		return c, nil
	case KindDate:
		at, err := ParseRunDate(s.RunDate, loc)
		if err != nil {
			return nil, err
		}
		return Date{RunAt: at}, nil
	case "":
		return nil, errs.Validation("trigger type required")
	default:
		return nil, errs.Validation("unknown trigger type %q (use interval, cron or date)", s.Type)
	}
}

// ParseRunDate accepts RFC3339 or "YYYY-MM-DD HH:MM:SS" (interpreted in loc).
func ParseRunDate(raw string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, errs.Validation("run_date required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range []string{DateLayout, "2006-01-02T15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errs.Validation("invalid run_date %q (use RFC3339 or %q)", raw, DateLayout)
}

// ---- Interval ----

type Interval struct {
	Period time.Duration
}

func (Interval) Kind() Kind { return KindInterval }

func (t Interval) Next(now time.Time, last *time.Time) (time.Time, bool) {
	if t.Period <= 0 {
		return time.Time{}, false
	}
	base := now
	if last != nil {
		base = *last
	}
	next := base.Add(t.Period)
	if !next.After(now) {
		k := now.Sub(next)/t.Period + 1
		next = next.Add(k * t.Period)
	}
	return next, true
}

func (t Interval) Spec() Spec {
	return Spec{Type: KindInterval, Minutes: int(t.Period / time.Minute)}
}

func (t Interval) String() string { return fmt.Sprintf("interval[%s]", t.Period) }

// ---- Cron ----

type Cron struct {
	DayOfWeek string
	Hour      int
	Minute    int

	loc   *time.Location
	sched cron.Schedule
}

func newCron(dow string, hour, minute int, loc *time.Location) (Cron, error) {
	if hour < 0 || hour > 23 {
		return Cron{}, errs.Validation("cron hour must be 0..23, got %d", hour)
	}
	if minute < 0 || minute > 59 {
		return Cron{}, errs.Validation("cron minute must be 0..59, got %d", minute)
	}
	dow = strings.ToLower(strings.Join(strings.Fields(dow), ""))
	if dow == "" {
		dow = "*"
	}
	expr := fmt.Sprintf("%d %d * * %s", minute, hour, dow)
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Cron{}, errs.Validation("invalid day_of_week %q: %v", dow, err)
	}
	return Cron{DayOfWeek: dow, Hour: hour, Minute: minute, loc: loc, sched: sched}, nil
}

func (Cron) Kind() Kind { return KindCron }

func (t Cron) Next(now time.Time, _ *time.Time) (time.Time, bool) {
	if t.sched == nil {
		return time.Time{}, false
	}
	loc := t.loc
	if loc == nil {
		loc = time.UTC
	}
	next := t.sched.Next(now.In(loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func (t Cron) Spec() Spec {
	return Spec{Type: KindCron, DayOfWeek: t.DayOfWeek, Hour: t.Hour, Minute: t.Minute}
}

func (t Cron) String() string {
	return fmt.Sprintf("cron[day_of_week='%s', hour='%d', minute='%d']", t.DayOfWeek, t.Hour, t.Minute)
}

// ---- Date ----

type Date struct {
	RunAt time.Time
}

func (Date) Kind() Kind { return KindDate }

func (t Date) Next(now time.Time, last *time.Time) (time.Time, bool) {
	if last != nil || !t.RunAt.After(now) {
		return time.Time{}, false
	}
	return t.RunAt, true
}

func (t Date) Spec() Spec {
	return Spec{Type: KindDate, RunDate: t.RunAt.Format(time.RFC3339Nano)}
}

func (t Date) String() string {
	return fmt.Sprintf("date[%s]", t.RunAt.Format("2006-01-02 15:04:05 MST"))
}
