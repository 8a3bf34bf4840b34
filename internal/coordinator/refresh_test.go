package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRefresher simulates manager.Manager.Refresh without a real event
// loop: each call returns a channel that the test controls directly.
type fakeRefresher struct {
	calls  int32
	ch     chan struct{}
	closed bool
}

func (f *fakeRefresher) Refresh(context.Context) (<-chan struct{}, error) {
	atomic.AddInt32(&f.calls, 1)
	if !f.closed {
		close(f.ch)
		f.closed = true
	}
	return f.ch, nil
}

func TestCoordinator_TriggerRunsWithNoCooldown(t *testing.T) {
	f := &fakeRefresher{ch: make(chan struct{})}
	c := New(f, 0, 0, nil)

	require.NoError(t, c.Trigger(context.Background()))
	require.NoError(t, c.Trigger(context.Background()))
	require.EqualValues(t, 2, atomic.LoadInt32(&f.calls))
}

func TestCoordinator_CooldownSuppressesSecondTrigger(t *testing.T) {
	f := &fakeRefresher{ch: make(chan struct{})}
	c := New(f, time.Hour, 0, nil)

	require.NoError(t, c.Trigger(context.Background()))
	require.NoError(t, c.Trigger(context.Background()))
	require.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
}

func TestCoordinator_CooldownElapses(t *testing.T) {
	f := &fakeRefresher{ch: make(chan struct{})}
	c := New(f, 50*time.Millisecond, 0, nil)

	require.NoError(t, c.Trigger(context.Background()))
	time.Sleep(60 * time.Millisecond)

	f.ch = make(chan struct{})
	f.closed = false
	require.NoError(t, c.Trigger(context.Background()))
	require.EqualValues(t, 2, atomic.LoadInt32(&f.calls))
}

func TestCoordinator_SleepsAfterChange(t *testing.T) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	close(ch)
	f := &changedOnceRefresher{ch: ch}

	c := New(f, 0, 50*time.Millisecond, nil)
	start := time.Now()
	require.NoError(t, c.Trigger(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

type changedOnceRefresher struct {
	ch chan struct{}
}

func (f *changedOnceRefresher) Refresh(context.Context) (<-chan struct{}, error) {
	return f.ch, nil
}
