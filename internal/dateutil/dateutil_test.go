package dateutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyAndParseRoundTrip(t *testing.T) {
	d := time.Date(2025, time.November, 30, 17, 45, 0, 0, time.UTC)
	require.Equal(t, "2025-11-30", Key(d))

	parsed, err := Parse("2025-11-30")
	require.NoError(t, err)
	require.Equal(t, 2025, parsed.Year())
	require.Equal(t, time.November, parsed.Month())
	require.Equal(t, 30, parsed.Day())
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "2025/11/30", "30-11-2025", "2025-13-01", "latest"} {
		_, err := Parse(in)
		require.Error(t, err, in)
		require.False(t, IsKey(in), in)
	}
}

func TestTodayUsesLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	now := time.Date(2025, time.December, 1, 2, 0, 0, 0, time.UTC)
	require.Equal(t, "2025-11-30", Today(now, ny))
	require.Equal(t, "2025-12-01", Today(now, nil))
}

func TestOlderThan(t *testing.T) {
	now := time.Date(2025, time.November, 30, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		key  string
		days int
		want bool
	}{
		{"2025-11-30", 30, false},
		{"2025-10-31", 30, false},
		{"2025-10-30", 30, true},
		{"2025-01-01", 30, true},
		{"2025-11-29", 0, true},
		{"2025-11-30", 0, false},
	}
	for _, tc := range cases {
		got, err := OlderThan(tc.key, tc.days, now, time.UTC)
		require.NoError(t, err, tc.key)
		require.Equal(t, tc.want, got, "%s older than %d", tc.key, tc.days)
	}

	_, err := OlderThan("bogus", 30, now, time.UTC)
	require.Error(t, err)
}
