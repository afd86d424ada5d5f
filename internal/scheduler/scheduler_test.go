package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chart-analysis-backend/internal/analyses"
)

type fakeRunner struct {
	calls    int
	err      error
	deadline bool
}

func (f *fakeRunner) RunDaily(ctx context.Context) (analyses.Row, error) {
	f.calls++
	_, f.deadline = ctx.Deadline()
	return analyses.Row{Record: analyses.Record{AsOfDate: "2025-11-30"}}, f.err
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	_, err := New(context.Background(), &fakeRunner{}, "not a cron", time.UTC, 0)
	require.Error(t, err)

	_, err = New(context.Background(), &fakeRunner{}, "", time.UTC, 0)
	require.Error(t, err)
}

func TestNewAcceptsFiveAndSixFieldSpecs(t *testing.T) {
	for _, spec := range []string{"30 21 * * 1-5", "0 30 21 * * 1-5", "@daily"} {
		s, err := New(context.Background(), &fakeRunner{}, spec, time.UTC, 0)
		require.NoError(t, err, spec)
		require.Len(t, s.Cron.Entries(), 1)
	}
}

func TestNextUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s, err := New(context.Background(), &fakeRunner{}, "0 17 * * *", loc, 0)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	next := s.Next().In(loc)
	require.Equal(t, 17, next.Hour())
	require.Equal(t, 0, next.Minute())
}

func TestRunNowBoundsRunAndSwallowsErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("capture navigate: timeout")}
	s, err := New(context.Background(), runner, "@daily", time.UTC, time.Hour)
	require.NoError(t, err)

	s.RunNow()
	require.Equal(t, 1, runner.calls)
	require.True(t, runner.deadline)
}
