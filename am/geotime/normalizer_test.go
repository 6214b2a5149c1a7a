package geotime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-migrate/errors"
)

func wall(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
}

func TestNormalize(t *testing.T) {
	n, err := NewNormalizer("Europe/Amsterdam")
	require.NoError(t, err)

	tests := []struct {
		name       string
		in         time.Time
		alreadyUTC bool
		want       time.Time
	}{
		{"winter is UTC+1", wall(2026, 1, 15, 10, 0, 0), false, wall(2026, 1, 15, 9, 0, 0)},
		{"summer is UTC+2", wall(2026, 7, 1, 12, 0, 0), false, wall(2026, 7, 1, 10, 0, 0)},
		{"just after spring forward", wall(2026, 3, 29, 3, 30, 0), false, wall(2026, 3, 29, 1, 30, 0)},
		{"already UTC skips conversion", wall(2026, 7, 1, 12, 0, 0), true, wall(2026, 7, 1, 12, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.in, tt.alreadyUTC)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestNormalizeIgnoresInputLocation(t *testing.T) {
	n, err := NewNormalizer("Europe/Amsterdam")
	require.NoError(t, err)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// wall clock 10:00 regardless of the attached zone
	in := time.Date(2026, 1, 15, 10, 0, 0, 0, tokyo)
	assert.True(t, wall(2026, 1, 15, 9, 0, 0).Equal(n.Normalize(in, false)))
}

func TestNormalizeTruncatesToSeconds(t *testing.T) {
	n, err := NewNormalizer("")
	require.NoError(t, err)

	in := time.Date(2026, 5, 1, 8, 0, 0, 999_000_000, time.UTC)
	got := n.Normalize(in, false)
	assert.Equal(t, 0, got.Nanosecond())
}

func TestRenderRoundTrip(t *testing.T) {
	for _, tz := range []string{"", "Europe/Amsterdam", "America/New_York", "Asia/Kolkata"} {
		n, err := NewNormalizer(tz)
		require.NoError(t, err)

		for _, s := range []string{"2026-01-15 10:00:00", "2026-07-01 23:59:59", "2026-03-29 03:30:00"} {
			utc, err := n.ParseLocal(s, false)
			require.NoError(t, err)
			assert.Equal(t, s, n.Render(utc), "tz %q", tz)
		}
	}
}

func TestParseLocal(t *testing.T) {
	n, err := NewNormalizer("Europe/Amsterdam")
	require.NoError(t, err)

	got, err := n.ParseLocal("2026-01-15T10:00:00", false)
	require.NoError(t, err)
	assert.True(t, wall(2026, 1, 15, 9, 0, 0).Equal(got))

	got, err = n.ParseLocal("2026-01-15 10:00", true)
	require.NoError(t, err)
	assert.True(t, wall(2026, 1, 15, 10, 0, 0).Equal(got))

	// explicit offset wins over the server timezone
	got, err = n.ParseLocal("2026-01-15T10:00:00-05:00", false)
	require.NoError(t, err)
	assert.True(t, wall(2026, 1, 15, 15, 0, 0).Equal(got))

	_, err = n.ParseLocal("next tuesday", false)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestSetTimezone(t *testing.T) {
	n, err := NewNormalizer("UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", n.Timezone())

	require.NoError(t, n.SetTimezone("Asia/Kolkata"))
	assert.Equal(t, "Asia/Kolkata", n.Timezone())
	assert.True(t, wall(2026, 1, 15, 4, 30, 0).Equal(n.Normalize(wall(2026, 1, 15, 10, 0, 0), false)))

	// invalid zone keeps the previous one
	assert.Error(t, n.SetTimezone("Not/AZone"))
	assert.Equal(t, "Asia/Kolkata", n.Timezone())
}

func TestNormalizerConcurrentUse(t *testing.T) {
	n, err := NewNormalizer("UTC")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = n.SetTimezone("Europe/Amsterdam")
		}()
		go func() {
			defer wg.Done()
			_ = n.Render(n.Normalize(wall(2026, 1, 1, 0, 0, 0), false))
		}()
	}
	wg.Wait()
	assert.Equal(t, "Europe/Amsterdam", n.Timezone())
}
