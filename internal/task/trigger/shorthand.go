package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reCronWhen = regexp.MustCompile(`^\s*(\S+)\s+(\d{1,2}):(\d{2})\s*$`)
)

// ParseShorthand turns a one-line schedule string (CLI flags, quick config) into a Spec.
//
// Supported forms:
//   - Interval: "interval:5" (minutes), "every:2h", "55m", "01:30" (HH:MM duration)
//   - Cron: "cron:mon-fri 09:30", "cron:* 00:15"
//   - Date: "date:2025-01-01 10:00:00", "date:2025-01-01T10:00:00Z"
//
// The result still has to go through Parse for full validation.
func ParseShorthand(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		m := reCronWhen.FindStringSubmatch(s[len("cron:"):])
		if len(m) != 4 {
			return Spec{}, fmt.Errorf("invalid cron shorthand %q (use 'cron:<day_of_week> HH:MM')", raw)
		}
		h, _ := strconv.Atoi(m[2])
		mm, _ := strconv.Atoi(m[3])
		return Spec{Type: KindCron, DayOfWeek: m[1], Hour: h, Minute: mm}, nil
	case strings.HasPrefix(low, "date:"):
		return Spec{Type: KindDate, RunDate: strings.TrimSpace(s[len("date:"):])}, nil
	case strings.HasPrefix(low, "interval:"):
		v := strings.TrimSpace(s[len("interval:"):])
		if n, err := strconv.Atoi(v); err == nil {
			return Spec{Type: KindInterval, Minutes: n}, nil
		}
		return intervalSpec(v)
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(strings.TrimSpace(s[len("every:"):]))
	}
	return intervalSpec(s)
}

func intervalSpec(v string) (Spec, error) {
	d, err := parseIntervalDuration(v)
	if err != nil {
		return Spec{}, err
	}
	if d%time.Minute != 0 {
		return Spec{}, fmt.Errorf("interval %s is not a whole number of minutes", d)
	}
	return Spec{Type: KindInterval, Minutes: int(d / time.Minute)}, nil
}

func parseIntervalDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); len(m) == 3 {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use minutes, HH:MM or Go duration like '55m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
