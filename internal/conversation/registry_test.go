package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/schoolinfo/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestRegistry(d Dispatcher) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRegistry(d, quietLogger())
	r.now = clock.Now
	return r, clock
}

func TestRegistry_GetIsPerClient(t *testing.T) {
	r, _ := newTestRegistry(&stubDispatcher{})

	a := r.Get("anon_1", "tab1")
	assert.Same(t, a, r.Get("anon_1", "tab1"))
	assert.NotSame(t, a, r.Get("anon_1", "tab2"))
	assert.NotSame(t, a, r.Get("anon_2", "tab1"))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, "anon_1:tab1", a.Key())
}

func TestRegistry_SweepDropsIdle(t *testing.T) {
	r, clock := newTestRegistry(&stubDispatcher{outcome: backend.Success("ok")})

	idle := r.Get("anon_1", "old")
	ch, cancel := idle.Subscribe()
	defer cancel()
	<-ch

	clock.Advance(30 * time.Minute)
	active := r.Get("anon_1", "new")
	_, err := active.Submit(context.Background(), "grades")
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, r.Sweep(time.Hour))
	assert.Equal(t, 1, r.Len())

	_, open := <-ch
	assert.False(t, open, "subscribers of evicted conversations are closed")

	assert.NotSame(t, idle, r.Get("anon_1", "old"))
	assert.Same(t, active, r.Get("anon_1", "new"))
}

func TestRegistry_SweepKeepsInFlight(t *testing.T) {
	g := newGateDispatcher()
	r, clock := newTestRegistry(g)

	c := r.Get("anon_1", "tab")
	pending := submitAsync(c, "grades")
	call := <-g.started

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 0, r.Sweep(time.Hour))
	assert.Equal(t, 1, r.Len())

	call.reply <- backend.Success("A")
	require.NoError(t, (<-pending).err)
}

type countingPruner struct {
	mu        sync.Mutex
	calls     int
	retention time.Duration
}

func (p *countingPruner) CleanupDispatches(_ context.Context, retention time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.retention = retention
	return 2, nil
}

func (p *countingPruner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestStartSweeper_RunsAndStops(t *testing.T) {
	r, clock := newTestRegistry(&stubDispatcher{})
	r.Get("anon_1", "tab")
	clock.Advance(2 * time.Hour)

	pruner := &countingPruner{}
	ctx, cancel := context.WithCancel(context.Background())
	done := StartSweeper(ctx, r, pruner, SweepConfig{
		Interval:  5 * time.Millisecond,
		TTL:       time.Hour,
		Retention: 24 * time.Hour,
	})

	require.Eventually(t, func() bool {
		return r.Len() == 0 && pruner.Calls() > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	pruner.mu.Lock()
	assert.Equal(t, 24*time.Hour, pruner.retention)
	pruner.mu.Unlock()
}

func TestSweepOnce_NilPruner(t *testing.T) {
	r, clock := newTestRegistry(&stubDispatcher{})
	r.Get("anon_1", "tab")
	clock.Advance(2 * time.Hour)

	sweepOnce(context.Background(), r, nil, SweepConfig{TTL: time.Hour, Retention: time.Hour})
	assert.Equal(t, 0, r.Len())
}
