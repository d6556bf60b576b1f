package sim_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfreight/freightsim/core/sim"
)

// recorder collects fired event names across goroutines.
type recorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *recorder) note(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, name)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func event(rec *recorder, at int64, name string) sim.Event {
	return sim.Event{At: at, Name: name, Action: func(int64) error {
		rec.note(name)
		return nil
	}}
}

func stopped(s *sim.Scheduler) func() bool {
	return func() bool { return !s.State().Running }
}

// Test_Scheduler_RunsTimelineInOrder tests that events fire in slice order
// as the clock reaches them and the worker stops after the last one
func Test_Scheduler_RunsTimelineInOrder(t *testing.T) {
	rec := &recorder{}
	s := sim.NewScheduler([]sim.Event{
		event(rec, 1, "first"),
		event(rec, 1, "second"),
		event(rec, 3, "third"),
	}, nil, nil, time.Millisecond, nil)

	require.NoError(t, s.Start())
	require.Eventually(t, stopped(s), 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"first", "second", "third"}, rec.names())
	assert.Equal(t, int64(3), s.Now())
}

// Test_Scheduler_PauseFreezesClock tests that pause stops the clock without
// killing the worker and resume picks up where it left off
func Test_Scheduler_PauseFreezesClock(t *testing.T) {
	rec := &recorder{}
	s := sim.NewScheduler([]sim.Event{
		event(rec, 2, "early"),
		event(rec, 1<<20, "never"),
	}, nil, nil, time.Millisecond, nil)
	t.Cleanup(func() { _ = s.Reset() })

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Now() >= 2 }, 2*time.Second, time.Millisecond)

	require.NoError(t, s.Pause())
	frozen := s.Now()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, s.Now())
	assert.Equal(t, []string{"early"}, rec.names())

	st := s.State()
	assert.True(t, st.Running)
	assert.True(t, st.Paused)

	require.NoError(t, s.Resume())
	require.Eventually(t, func() bool { return s.Now() > frozen }, 2*time.Second, time.Millisecond)
}

// Test_Scheduler_ControlErrors tests the sentinel errors on illegal
// transitions
func Test_Scheduler_ControlErrors(t *testing.T) {
	s := sim.NewScheduler([]sim.Event{
		{At: 1 << 20, Name: "sentinel", Action: func(int64) error { return nil }},
	}, nil, nil, time.Millisecond, nil)
	t.Cleanup(func() { _ = s.Reset() })

	require.ErrorIs(t, s.Pause(), sim.ErrNotRunning)
	require.ErrorIs(t, s.Resume(), sim.ErrNotPaused)

	require.NoError(t, s.Start())
	require.ErrorIs(t, s.Start(), sim.ErrAlreadyRunning)

	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause(), "pausing a paused run is a no-op")
	require.NoError(t, s.Start(), "start doubles as resume when paused")
	require.ErrorIs(t, s.Resume(), sim.ErrNotPaused)
}

// Test_Scheduler_FailedAction_RequiresReset tests that a failing action
// stops the run, records an anomaly and blocks restarts until reset
func Test_Scheduler_FailedAction_RequiresReset(t *testing.T) {
	var mu sync.Mutex
	var anomalies []string
	sink := func(kind, detail string) {
		mu.Lock()
		defer mu.Unlock()
		anomalies = append(anomalies, kind)
	}
	wiped := 0

	s := sim.NewScheduler([]sim.Event{
		{At: 1, Name: "boom", Action: func(int64) error { return errors.New("kaput") }},
	}, func() { wiped++ }, sink, time.Millisecond, nil)

	require.NoError(t, s.Start())
	require.Eventually(t, stopped(s), 2*time.Second, time.Millisecond)

	require.ErrorIs(t, s.Start(), sim.ErrNeedsReset)
	mu.Lock()
	assert.Equal(t, []string{"scheduler_runtime_error"}, anomalies)
	mu.Unlock()

	require.NoError(t, s.Reset())
	assert.Equal(t, 1, wiped)
	st := s.State()
	assert.False(t, st.Running)
	assert.Zero(t, st.SimClock)

	require.NoError(t, s.Start())
	require.Eventually(t, stopped(s), 2*time.Second, time.Millisecond)
}

// Test_Scheduler_Reset_Replays tests that a completed timeline replays
// identically after reset
func Test_Scheduler_Reset_Replays(t *testing.T) {
	rec := &recorder{}
	s := sim.NewScheduler([]sim.Event{
		event(rec, 1, "a"),
		event(rec, 2, "b"),
	}, nil, nil, time.Millisecond, nil)

	require.NoError(t, s.Start())
	require.Eventually(t, stopped(s), 2*time.Second, time.Millisecond)
	require.NoError(t, s.Reset())
	assert.Zero(t, s.Now())

	require.NoError(t, s.Start())
	require.Eventually(t, stopped(s), 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "a", "b"}, rec.names())
}
