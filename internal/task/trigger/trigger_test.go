package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfsched/internal/errs"
)

// 2024-06-01 is a Saturday.
var saturday = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, s Spec) Trigger {
	t.Helper()
	tr, err := Parse(s, time.UTC)
	require.NoError(t, err)
	return tr
}

func TestNextIsStrictlyAfterEvaluationTime(t *testing.T) {
	t.Parallel()
	specs := []Spec{
		{Type: KindInterval, Minutes: 1},
		{Type: KindInterval, Minutes: 90},
		{Type: KindCron, DayOfWeek: "mon-fri", Hour: 9, Minute: 30},
		{Type: KindCron, DayOfWeek: "*", Hour: 0, Minute: 0},
		{Type: KindCron, DayOfWeek: "sat", Hour: 10, Minute: 0},
		{Type: KindDate, RunDate: "2024-06-01 10:00:01"},
	}
	for _, s := range specs {
		tr := mustParse(t, s)
		for _, now := range []time.Time{saturday, saturday.Add(37 * time.Second), saturday.Add(72 * time.Hour)} {
			next, ok := tr.Next(now, nil)
			if !ok {
				// Only a one-shot date in the past may be exhausted.
				assert.Equal(t, KindDate, tr.Kind(), "%s at %s", tr, now)
				continue
			}
			assert.True(t, next.After(now), "%s: next %s not after %s", tr, next, now)
		}
	}
}

func TestIntervalNext(t *testing.T) {
	t.Parallel()
	tr := mustParse(t, Spec{Type: KindInterval, Minutes: 5})

	next, ok := tr.Next(saturday, nil)
	require.True(t, ok)
	assert.Equal(t, saturday.Add(5*time.Minute), next)

	last := saturday.Add(-2 * time.Minute)
	next, _ = tr.Next(saturday, &last)
	assert.Equal(t, saturday.Add(3*time.Minute), next)

	// Behind by more than one period: skip forward on the period grid.
	last = saturday.Add(-12 * time.Minute)
	next, _ = tr.Next(saturday, &last)
	assert.Equal(t, saturday.Add(3*time.Minute), next)

	last = saturday.Add(-5 * time.Minute)
	next, _ = tr.Next(saturday, &last)
	assert.Equal(t, saturday.Add(5*time.Minute), next)
}

func TestCronNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec Spec
		now  time.Time
		want time.Time
	}{
		{
			name: "range skips weekend",
			spec: Spec{Type: KindCron, DayOfWeek: "mon-fri", Hour: 9, Minute: 30},
			now:  saturday,
			want: time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "list",
			spec: Spec{Type: KindCron, DayOfWeek: "mon,wed", Hour: 9, Minute: 0},
			now:  time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC),
			want: time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "exact fire time moves to next day",
			spec: Spec{Type: KindCron, DayOfWeek: "MON-FRI", Hour: 9, Minute: 30},
			now:  time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC),
			want: time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "empty day of week means every day",
			spec: Spec{Type: KindCron, Hour: 23, Minute: 59},
			now:  saturday,
			want: time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next, ok := mustParse(t, tt.spec).Next(tt.now, nil)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(next), "got %s want %s", next, tt.want)
		})
	}
}

func TestCronUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	tr, err := Parse(Spec{Type: KindCron, DayOfWeek: "*", Hour: 9, Minute: 0}, loc)
	require.NoError(t, err)

	next, ok := tr.Next(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), nil)
	require.True(t, ok)
	assert.True(t, time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC).Equal(next), "got %s", next)
}

func TestDateIsOneShot(t *testing.T) {
	t.Parallel()
	tr := mustParse(t, Spec{Type: KindDate, RunDate: "2024-06-02 08:00:00"})
	want := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)

	next, ok := tr.Next(saturday, nil)
	require.True(t, ok)
	assert.Equal(t, want, next)

	_, ok = tr.Next(saturday, &next)
	assert.False(t, ok, "a fired date trigger must be exhausted")

	_, ok = tr.Next(want.Add(time.Second), nil)
	assert.False(t, ok, "a past date never fires")
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	bad := []Spec{
		{},
		{Type: "weekly"},
		{Type: KindInterval, Minutes: 0},
		{Type: KindInterval, Minutes: -3},
		{Type: KindCron, DayOfWeek: "mon", Hour: 24},
		{Type: KindCron, DayOfWeek: "mon", Minute: 60},
		{Type: KindCron, DayOfWeek: "funday"},
		{Type: KindDate},
		{Type: KindDate, RunDate: "tomorrow"},
	}
	for _, s := range bad {
		_, err := Parse(s, time.UTC)
		assert.ErrorIs(t, err, errs.ErrValidation, "%+v", s)
	}
}

func TestSpecRoundTrip(t *testing.T) {
	t.Parallel()
	for _, s := range []Spec{
		{Type: KindInterval, Minutes: 15},
		{Type: KindCron, DayOfWeek: "mon-fri", Hour: 7, Minute: 45},
		{Type: KindDate, RunDate: "2024-06-02T08:00:00Z"},
	} {
		tr := mustParse(t, s)
		again := mustParse(t, tr.Spec())
		assert.Equal(t, tr.String(), again.String())
	}
}
