package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReconciler struct {
	calls atomic.Int32
	err   error
}

func (c *countingReconciler) RecomputeAll(ctx context.Context) (int, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("no deadline")
	}
	return 1, c.err
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every tuesday", &countingReconciler{}, 0, quiet)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	rec := &countingReconciler{}
	s, err := NewScheduler("@every 1h", rec, time.Second, quiet)
	require.NoError(t, err)
	s.RunOnce()
	rec.err = errors.New("sheet unavailable")
	s.RunOnce()
	assert.EqualValues(t, 2, rec.calls.Load())
}

func TestSchedulerRuns(t *testing.T) {
	rec := &countingReconciler{}
	s, err := NewScheduler("@every 1s", rec, time.Second, quiet)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return rec.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
