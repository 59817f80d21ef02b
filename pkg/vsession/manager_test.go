package vsession

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/superninja/pkg/events"
	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/store"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type fixture struct {
	manager  *Manager
	clock    *fakeClock
	recorder *events.Recorder
	store    store.Store
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := newFakeClock()
	rec := events.NewRecorder()
	st := store.NewMemory()
	base := []Option{WithClock(clock), WithEmitter(rec), WithStore(st), WithDelays(5*time.Second, 3*time.Second)}
	m := NewManager(zerolog.Nop(), append(base, opts...)...)
	t.Cleanup(m.Close)
	return &fixture{manager: m, clock: clock, recorder: rec, store: st}
}

func TestManager_Start(t *testing.T) {
	t.Run("should start then settle to running", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		s, err := f.manager.Start(ctx, "u1", SizePremium)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(s.ID, "vm-"))
		assert.Equal(t, StateStarting, s.State)
		assert.Equal(t, Specs{CPU: 16, MemoryGB: 64, StorageGB: 1000}, s.Specs)

		f.clock.Advance(4 * time.Second)
		got, _ := f.manager.Get(ctx, s.ID)
		assert.Equal(t, StateStarting, got.State)

		f.clock.Advance(time.Second)
		got, _ = f.manager.Get(ctx, s.ID)
		assert.Equal(t, StateRunning, got.State)
		assert.True(t, strings.HasPrefix(got.Address, "192.168."))
		assert.GreaterOrEqual(t, got.Port, 22)
		assert.Less(t, got.Port, 1022)

		assert.Equal(t, []string{"starting", "running"}, f.recorder.States(events.EntitySession, s.ID))
	})

	t.Run("should default to the standard size and reject unknown sizes", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.manager.Start(context.Background(), "u1", "")
		require.NoError(t, err)
		assert.Equal(t, SizeStandard, s.Size)
		assert.Equal(t, Specs{CPU: 8, MemoryGB: 32, StorageGB: 500}, s.Specs)

		_, err = f.manager.Start(context.Background(), "u2", "gigantic")
		assert.ErrorIs(t, err, failure.ErrValidation)
		_, ok := f.manager.ActiveForUser("u2")
		assert.False(t, ok)
	})

	t.Run("should allow one active session per user", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		s, err := f.manager.Start(ctx, "u1", SizeStandard)
		require.NoError(t, err)

		_, err = f.manager.Start(ctx, "u1", SizeEnterprise)
		assert.ErrorIs(t, err, failure.ErrSessionAlreadyActive)

		_, err = f.manager.Start(ctx, "u2", SizeStandard)
		assert.NoError(t, err)

		f.clock.Advance(5 * time.Second)
		require.NoError(t, f.manager.Stop(ctx, s.ID))
		_, err = f.manager.Start(ctx, "u1", SizeStandard)
		assert.ErrorIs(t, err, failure.ErrSessionAlreadyActive, "stopping still holds the slot")

		f.clock.Advance(3 * time.Second)
		_, err = f.manager.Start(ctx, "u1", SizeStandard)
		assert.NoError(t, err)
	})

	t.Run("should admit exactly one of many concurrent starts", func(t *testing.T) {
		f := newFixture(t)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.manager.Start(context.Background(), "racer", SizeStandard); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("should move to error and free the slot when provisioning fails", func(t *testing.T) {
		f := newFixture(t, WithProvisioner(failingProvisioner{}))
		s, err := f.manager.Start(context.Background(), "u1", SizeStandard)
		require.NoError(t, err)

		f.clock.Advance(5 * time.Second)
		got, _ := f.manager.Get(context.Background(), s.ID)
		assert.Equal(t, StateError, got.State)
		assert.Contains(t, got.Error, "no capacity")

		_, ok := f.manager.ActiveForUser("u1")
		assert.False(t, ok)
		assert.ErrorIs(t, f.manager.Stop(context.Background(), s.ID), failure.ErrSessionNotRunning)
	})
}

type failingProvisioner struct{ SimulatedProvisioner }

func (failingProvisioner) Provision(context.Context, Session) (Endpoint, error) {
	return Endpoint{}, errors.New("no capacity")
}

func TestManager_Stop(t *testing.T) {
	t.Run("should stop a running session", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		s, _ := f.manager.Start(ctx, "u1", SizeStandard)
		f.clock.Advance(5 * time.Second)

		require.NoError(t, f.manager.Stop(ctx, s.ID))
		got, _ := f.manager.Get(ctx, s.ID)
		assert.Equal(t, StateStopping, got.State)
		require.NoError(t, f.manager.Stop(ctx, s.ID), "stopping twice is harmless")

		f.clock.Advance(3 * time.Second)
		got, _ = f.manager.Get(ctx, s.ID)
		assert.Equal(t, StateStopped, got.State)
		assert.Equal(t, []string{"starting", "running", "stopping", "stopped"}, f.recorder.States(events.EntitySession, s.ID))

		assert.ErrorIs(t, f.manager.Stop(ctx, s.ID), failure.ErrSessionNotRunning)
	})

	t.Run("should never run a session stopped while starting", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		s, _ := f.manager.Start(ctx, "u1", SizeStandard)

		require.NoError(t, f.manager.Stop(ctx, s.ID))
		got, _ := f.manager.Get(ctx, s.ID)
		assert.Equal(t, StateStarting, got.State)

		f.clock.Advance(5 * time.Second)
		got, _ = f.manager.Get(ctx, s.ID)
		assert.Equal(t, StateStopping, got.State)

		f.clock.Advance(3 * time.Second)
		assert.Equal(t, []string{"starting", "stopping", "stopped"}, f.recorder.States(events.EntitySession, s.ID))
		_, ok := f.manager.ActiveForUser("u1")
		assert.False(t, ok)
	})

	t.Run("should fail for unknown sessions", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.manager.Stop(context.Background(), "vm-missing"), failure.ErrNotFound)
	})
}

func TestManager_Execute(t *testing.T) {
	t.Run("should run commands in a running session", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		s, _ := f.manager.Start(ctx, "u1", SizeStandard)

		_, err := f.manager.Execute(ctx, s.ID, "ls -la")
		assert.ErrorIs(t, err, failure.ErrSessionNotRunning)

		f.clock.Advance(5 * time.Second)
		res, err := f.manager.Execute(ctx, s.ID, "ls -la")
		require.NoError(t, err)
		assert.Equal(t, "Command executed: ls -la", res.Output)
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("should reject malformed commands", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		s, _ := f.manager.Start(ctx, "u1", SizeStandard)
		f.clock.Advance(5 * time.Second)

		for _, cmd := range []string{"", "   ", "echo \x00", strings.Repeat("a", MaxCommandLength+1)} {
			_, err := f.manager.Execute(ctx, s.ID, cmd)
			assert.ErrorIs(t, err, failure.ErrValidation)
		}
	})

	t.Run("should fail for stopped and unknown sessions", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		s, _ := f.manager.Start(ctx, "u1", SizeStandard)
		f.clock.Advance(5 * time.Second)
		require.NoError(t, f.manager.Stop(ctx, s.ID))

		_, err := f.manager.Execute(ctx, s.ID, "uptime")
		assert.ErrorIs(t, err, failure.ErrSessionNotRunning)

		_, err = f.manager.Execute(ctx, "vm-missing", "uptime")
		assert.ErrorIs(t, err, failure.ErrNotFound)
	})
}

func TestManager_StopIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	busy, _ := f.manager.Start(ctx, "busy", SizeStandard)
	quiet, _ := f.manager.Start(ctx, "quiet", SizeStandard)
	f.clock.Advance(5 * time.Second)

	f.clock.Advance(20 * time.Minute)
	_, err := f.manager.Execute(ctx, busy.ID, "make")
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)

	stopped := f.manager.StopIdle(ctx, 30*time.Minute)
	assert.Equal(t, []string{quiet.ID}, stopped)

	got, _ := f.manager.Get(ctx, busy.ID)
	assert.Equal(t, StateRunning, got.State)
}

func TestManager_Persistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.manager.Start(ctx, "u1", SizeStandard)
	f.clock.Advance(5 * time.Second)

	var stored Session
	require.NoError(t, f.store.Get(ctx, StoreKind, s.ID, &stored))
	assert.Equal(t, StateRunning, stored.State)

	other := NewManager(zerolog.Nop(), WithStore(f.store))
	got, err := other.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.manager.Start(ctx, "u1", SizeStandard)

	f.manager.Close()
	f.clock.Advance(time.Minute)

	got, _ := f.manager.Get(ctx, s.ID)
	assert.Equal(t, StateStarting, got.State)
	_, err := f.manager.Start(ctx, "u2", SizeStandard)
	assert.Error(t, err)
}
