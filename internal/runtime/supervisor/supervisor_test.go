package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func taskByName(t *testing.T, snap Snapshot, name string) TaskStats {
	t.Helper()
	for _, ts := range snap.Tasks {
		if ts.Name == name {
			return ts
		}
	}
	t.Fatalf("no stats for task %q", name)
	return TaskStats{}
}

func TestGoRecordsFirstErrorOnly(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("clean", func(context.Context) error { return nil })
	s.Go("canceled", func(context.Context) error { return context.Canceled })
	s.Go("broken", func(context.Context) error { return errors.New("boom") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, "broken: boom", err.Error())
	// Without WithCancelOnError the context survives.
	assert.NoError(t, s.Context().Err())

	snap := s.Snapshot()
	assert.Equal(t, "broken: boom", snap.FirstError)
	assert.Equal(t, uint64(3), snap.Started)
	assert.Zero(t, snap.Running)
	assert.Equal(t, uint64(1), taskByName(t, snap, "broken").Failures)
	assert.Zero(t, taskByName(t, snap, "canceled").Failures)
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go0("forward", func(context.Context) { panic("nil envelope") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("panic did not cancel the supervisor")
	}
	err := s.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in forward")

	ts := taskByName(t, s.Snapshot(), "forward")
	assert.Equal(t, uint64(1), ts.Panics)
	assert.Equal(t, uint64(1), ts.Failures)
	assert.Zero(t, ts.Active)
}

func TestTaskStatsAggregateByName(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	for i := 0; i < 5; i++ {
		s.Go0("relay.forward", func(context.Context) {})
	}
	require.NoError(t, s.Wait(waitCtx(t)))

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, uint64(5), snap.Tasks[0].Runs)
	assert.Zero(t, snap.Tasks[0].Active)
	assert.Empty(t, snap.Tasks[0].LastErr)
}

func TestWaitHonorsDeadline(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	s := NewSupervisor(context.Background())
	s.Go0("slow", func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, s.Wait(context.Background()))
}

func TestWaitCoversTasksStartedLater(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	// Nothing running yet.
	require.NoError(t, s.Wait(waitCtx(t)))

	release := make(chan struct{})
	var done atomic.Bool
	s.Go0("late", func(context.Context) {
		<-release
		done.Store(true)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.True(t, done.Load())
}

func TestCancelStopsChildren(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()
	assert.NoError(t, s.Wait(waitCtx(t)))
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := NewSupervisor(context.Background())
	s.GoRestart("dial", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("refused")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial: refused")
	assert.Equal(t, int32(3), runs.Load())

	ts := taskByName(t, s.Snapshot(), "dial")
	assert.Equal(t, uint64(3), ts.Runs)
	assert.Equal(t, uint64(2), ts.Restarts)
	assert.Equal(t, uint64(2), ts.Failures)
}

func TestGoRestartRecoversPanicsUntilCanceled(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := NewSupervisor(context.Background())
	s.GoRestart("flaky", func(context.Context) error {
		runs.Add(1)
		panic("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, time.Millisecond)
	s.Cancel()
	// Unpublished failures stay out of Err.
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.GreaterOrEqual(t, taskByName(t, s.Snapshot(), "flaky").Panics, uint64(3))
}
