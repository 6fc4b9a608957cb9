package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

type fakeSettlementArchiver struct {
	cutoffs []time.Time
	count   int64
	err     error
}

func (a *fakeSettlementArchiver) ArchiveSettled(_ context.Context, before time.Time) (int64, error) {
	a.cutoffs = append(a.cutoffs, before)
	return a.count, a.err
}

type fakeLocks struct {
	held     bool
	acquired []string
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() {}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRunArchivesWithRetentionCutoff(t *testing.T) {
	target := &fakeSettlementArchiver{count: 3}
	locks := &fakeLocks{}
	a := NewArchiver(target, locks, 90, time.Hour, "", discardLogger())

	require.NoError(t, a.Run(context.Background()))

	require.Len(t, target.cutoffs, 1)
	wantCutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)
	assert.WithinDuration(t, wantCutoff, target.cutoffs[0], time.Minute)
	assert.Equal(t, []string{"archive:settlements"}, locks.acquired)
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	target := &fakeSettlementArchiver{}
	a := NewArchiver(target, &fakeLocks{held: true}, 90, time.Hour, "", discardLogger())

	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, target.cutoffs)
}

func TestRunPropagatesArchiveFailure(t *testing.T) {
	target := &fakeSettlementArchiver{err: errors.New("bucket gone")}
	a := NewArchiver(target, &fakeLocks{}, 30, time.Hour, "", discardLogger())

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2025, 1, 10, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{
			name: "daily at 3am",
			expr: "0 3 * * *",
			want: time.Date(2025, 1, 11, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "every minute",
			expr: "* * * * *",
			want: time.Date(2025, 1, 10, 14, 31, 0, 0, time.UTC),
		},
		{
			name: "first of month",
			expr: "0 0 1 * *",
			want: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "comma list picks nearest",
			expr: "0 9,15 * * *",
			want: time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextCronTimeRejectsMalformedExpressions(t *testing.T) {
	_, err := nextCronTime("0 3 * *", time.Now())
	assert.Error(t, err)

	_, err = nextCronTime("x 3 * * *", time.Now())
	assert.Error(t, err)
}
