package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShorthandVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want Spec
	}{
		{name: "minutes", raw: "interval:5", want: Spec{Type: KindInterval, Minutes: 5}},
		{name: "every duration", raw: "every:2h", want: Spec{Type: KindInterval, Minutes: 120}},
		{name: "bare duration", raw: "55m", want: Spec{Type: KindInterval, Minutes: 55}},
		{name: "hhmm", raw: "01:30", want: Spec{Type: KindInterval, Minutes: 90}},
		{name: "cron", raw: "cron:mon-fri 09:30", want: Spec{Type: KindCron, DayOfWeek: "mon-fri", Hour: 9, Minute: 30}},
		{name: "date", raw: "date:2025-01-01 10:00:00", want: Spec{Type: KindDate, RunDate: "2025-01-01 10:00:00"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseShorthand(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseShorthandInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "90s", "cron:mon", "00:00", "every:-5m"} {
		_, err := ParseShorthand(raw)
		assert.Error(t, err, raw)
	}
}
