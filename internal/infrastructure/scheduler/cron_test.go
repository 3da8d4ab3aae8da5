package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "every minute", expr: "* * * * *"},
		{name: "daily streak credit", expr: "30 0 * * *"},
		{name: "every five minutes", expr: "*/5 * * * *"},
		{name: "hour range", expr: "0 9-17 * * *"},
		{name: "weekday list", expr: "0 0 * * 1,3,5"},
		{name: "too few fields", expr: "* * * *", wantErr: true},
		{name: "minute out of range", expr: "75 * * * *", wantErr: true},
		{name: "garbage field", expr: "abc * * * *", wantErr: true},
		{name: "zero step", expr: "*/0 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expr, ce.String())
		})
	}
}

func TestCronExpressionNext(t *testing.T) {
	// Friday, 2026-03-06 10:15:30 UTC
	base := time.Date(2026, 3, 6, 10, 15, 30, 0, time.UTC)

	t.Run("daily schedule rolls to next day", func(t *testing.T) {
		ce, err := ParseCronExpression("30 0 * * *")
		require.NoError(t, err)

		next := ce.Next(base)
		assert.Equal(t, time.Date(2026, 3, 7, 0, 30, 0, 0, time.UTC), next)
	})

	t.Run("same day when time not yet passed", func(t *testing.T) {
		ce, err := ParseCronExpression("0 21 * * *")
		require.NoError(t, err)

		next := ce.Next(base)
		assert.Equal(t, time.Date(2026, 3, 6, 21, 0, 0, 0, time.UTC), next)
	})

	t.Run("step schedule advances within the hour", func(t *testing.T) {
		ce, err := ParseCronExpression("*/10 * * * *")
		require.NoError(t, err)

		next := ce.Next(base)
		assert.Equal(t, time.Date(2026, 3, 6, 10, 20, 0, 0, time.UTC), next)
	})

	t.Run("weekday constraint skips to sunday", func(t *testing.T) {
		ce, err := ParseCronExpression("0 0 * * 0")
		require.NoError(t, err)

		next := ce.Next(base)
		assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), next)
		assert.Equal(t, time.Sunday, next.Weekday())
	})

	t.Run("next is strictly after the reference time", func(t *testing.T) {
		ce, err := ParseCronExpression("15 10 * * *")
		require.NoError(t, err)

		exact := time.Date(2026, 3, 6, 10, 15, 0, 0, time.UTC)
		next := ce.Next(exact)
		assert.Equal(t, time.Date(2026, 3, 7, 10, 15, 0, 0, time.UTC), next)
	})
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(10 * time.Minute)
	base := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(10*time.Minute), s.Next(base))
}
