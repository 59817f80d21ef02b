package agent

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/superninja/pkg/events"
	"github.com/harun/superninja/pkg/failure"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	r := NewRegistry(zerolog.Nop(), append([]Option{WithEmitter(rec)}, opts...)...)
	require.NoError(t, r.RegisterAll(DefaultDefinitions()))
	return r, rec
}

func TestRegistry_Register(t *testing.T) {
	t.Run("should register the built-in agents idle", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		agents := r.List()
		require.Len(t, agents, 8)
		for _, a := range agents {
			assert.Equal(t, StateIdle, a.State)
			assert.Empty(t, a.CurrentTask)
			assert.Equal(t, 100.0, a.Performance.SuccessRate)
			assert.Equal(t, 5.0, a.Performance.UserSatisfaction)
		}
	})

	t.Run("should reject duplicates and invalid definitions", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		assert.ErrorIs(t, r.Register(Definition{Type: "turbo", Model: "gpt-4o"}), failure.ErrValidation)
		assert.ErrorIs(t, r.Register(Definition{Type: "x"}), failure.ErrValidation)
		assert.ErrorIs(t, r.Register(Definition{Type: "y", Model: "m", Temperature: 3}), failure.ErrValidation)
	})
}

func TestRegistry_Dispatch(t *testing.T) {
	t.Run("should move the agent to active with the task", func(t *testing.T) {
		r, rec := newTestRegistry(t)

		h, err := r.Dispatch("turbo", "task-1")
		require.NoError(t, err)
		assert.Equal(t, "ninja-405b", h.Agent().Model)
		assert.Equal(t, "task-1", h.TaskID())

		a, err := r.Get("turbo")
		require.NoError(t, err)
		assert.Equal(t, StateActive, a.State)
		assert.Equal(t, "task-1", a.CurrentTask)
		assert.Equal(t, []string{"active"}, rec.States(events.EntityAgent, "turbo"))
	})

	t.Run("should fail when the agent is busy", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		_, err := r.Dispatch("turbo", "task-1")
		require.NoError(t, err)

		_, err = r.Dispatch("turbo", "task-2")
		assert.ErrorIs(t, err, failure.ErrAgentBusy)
	})

	t.Run("should fail for unknown agents", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		_, err := r.Dispatch("ghost", "task-1")
		assert.ErrorIs(t, err, failure.ErrAgentNotFound)
	})

	t.Run("should require a task id", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		_, err := r.Dispatch("turbo", "")
		assert.ErrorIs(t, err, failure.ErrValidation)
	})

	t.Run("should let exactly one concurrent dispatch win", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		var wins, busy atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := r.Dispatch("apex", "task")
				if err == nil {
					wins.Add(1)
					return
				}
				if failure.KindOf(err) == failure.KindAgentBusy {
					busy.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(63), busy.Load())
	})

	t.Run("should not dispatch agents in training", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		require.NoError(t, r.SetTraining("scheduler", true))

		_, err := r.Dispatch("scheduler", "task-1")
		assert.ErrorIs(t, err, failure.ErrAgentBusy)

		require.NoError(t, r.SetTraining("scheduler", false))
		_, err = r.Dispatch("scheduler", "task-1")
		assert.NoError(t, err)
	})
}

func TestRegistry_Finish(t *testing.T) {
	t.Run("should return to idle and update statistics", func(t *testing.T) {
		r, rec := newTestRegistry(t)

		h, err := r.Dispatch("turbo", "t1")
		require.NoError(t, err)
		assert.True(t, h.Finish(Outcome{Success: true, Latency: 100 * time.Millisecond}))

		h, err = r.Dispatch("turbo", "t2")
		require.NoError(t, err)
		assert.True(t, h.Finish(Outcome{Success: true, Latency: 200 * time.Millisecond}))

		a, _ := r.Get("turbo")
		assert.Equal(t, StateIdle, a.State)
		assert.Empty(t, a.CurrentTask)
		assert.Equal(t, int64(2), a.Performance.TasksCompleted)
		assert.Equal(t, 130*time.Millisecond, a.Performance.AvgLatency)
		assert.Equal(t, 100.0, a.Performance.SuccessRate)
		assert.Equal(t, []string{"active", "idle", "active", "idle"}, rec.States(events.EntityAgent, "turbo"))
	})

	t.Run("should apply only the first finish of a handle", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		h, err := r.Dispatch("turbo", "t1")
		require.NoError(t, err)

		assert.True(t, h.Finish(Outcome{Success: true}))
		assert.True(t, h.Finish(Outcome{Success: false}))

		a, _ := r.Get("turbo")
		assert.Equal(t, int64(1), a.Performance.TasksCompleted)
		assert.Equal(t, 0, a.Performance.ConsecutiveFailures)
	})

	t.Run("should ignore a late finish for an older task", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		_, err := r.Dispatch("turbo", "old")
		require.NoError(t, err)
		require.True(t, r.ReleaseTimedOut("turbo", "old"))

		_, err = r.Dispatch("turbo", "new")
		require.NoError(t, err)

		assert.False(t, r.Finish("turbo", "old", Outcome{Success: true}))
		a, _ := r.Get("turbo")
		assert.Equal(t, StateActive, a.State)
		assert.Equal(t, "new", a.CurrentTask)
	})

	t.Run("should enter the error state after consecutive failures", func(t *testing.T) {
		r, rec := newTestRegistry(t)
		for i, id := range []string{"a", "b", "c"} {
			h, err := r.Dispatch("deep-coder", id)
			require.NoError(t, err, "dispatch %d", i)
			h.Finish(Outcome{Success: false, Latency: time.Second})
		}

		a, _ := r.Get("deep-coder")
		assert.Equal(t, StateError, a.State)
		assert.Empty(t, a.CurrentTask)
		assert.Equal(t, 0.0, a.Performance.SuccessRate)
		assert.Equal(t, "error", rec.States(events.EntityAgent, "deep-coder")[5])

		_, err := r.Dispatch("deep-coder", "d")
		assert.ErrorIs(t, err, failure.ErrAgentBusy)

		require.NoError(t, r.Reset("deep-coder"))
		h, err := r.Dispatch("deep-coder", "d")
		require.NoError(t, err)
		h.Finish(Outcome{Success: true})

		a, _ = r.Get("deep-coder")
		assert.Equal(t, StateIdle, a.State)
		assert.Equal(t, 25.0, a.Performance.SuccessRate)
	})

	t.Run("should honour a configured error threshold", func(t *testing.T) {
		r, _ := newTestRegistry(t, WithErrorThreshold(1))
		h, err := r.Dispatch("turbo", "t1")
		require.NoError(t, err)
		h.Finish(Outcome{Success: false})

		a, _ := r.Get("turbo")
		assert.Equal(t, StateError, a.State)
	})

	t.Run("should reset the failure streak on success", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		outcomes := []bool{false, false, true, false, false}
		for i, ok := range outcomes {
			h, err := r.Dispatch("turbo", string(rune('a'+i)))
			require.NoError(t, err)
			h.Finish(Outcome{Success: ok})
		}
		a, _ := r.Get("turbo")
		assert.Equal(t, StateIdle, a.State)
		assert.Equal(t, 2, a.Performance.ConsecutiveFailures)
	})
}

func TestRegistry_ReleaseTimedOut(t *testing.T) {
	t.Run("should never trip the error state", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		for _, id := range []string{"a", "b", "c", "d"} {
			_, err := r.Dispatch("researcher", id)
			require.NoError(t, err)
			assert.True(t, r.ReleaseTimedOut("researcher", id))
		}

		a, _ := r.Get("researcher")
		assert.Equal(t, StateIdle, a.State)
		assert.Equal(t, 0, a.Performance.ConsecutiveFailures)
		assert.Equal(t, 0.0, a.Performance.SuccessRate)
	})

	t.Run("should ignore idle agents", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		assert.False(t, r.ReleaseTimedOut("researcher", "nope"))
		assert.False(t, r.ReleaseTimedOut("ghost", "nope"))
	})
}

func TestRegistry_Release(t *testing.T) {
	t.Run("should return to idle without touching statistics", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		_, err := r.Dispatch("turbo", "t1")
		require.NoError(t, err)

		assert.True(t, r.Release("turbo", "t1"))
		a, _ := r.Get("turbo")
		assert.Equal(t, StateIdle, a.State)
		assert.Equal(t, 100.0, a.Performance.SuccessRate)
		assert.Equal(t, int64(0), a.Performance.TasksCompleted)
	})
}

func TestRegistry_Reset(t *testing.T) {
	t.Run("should refuse to reset an active agent", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		_, err := r.Dispatch("turbo", "t1")
		require.NoError(t, err)
		assert.ErrorIs(t, r.Reset("turbo"), failure.ErrAgentBusy)
	})

	t.Run("should fail for unknown agents", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		assert.ErrorIs(t, r.Reset("ghost"), failure.ErrAgentNotFound)
	})

	t.Run("should leave training to SetTraining", func(t *testing.T) {
		r, rec := newTestRegistry(t)
		require.NoError(t, r.SetTraining("scheduler", true))
		before := len(rec.States(events.EntityAgent, "scheduler"))

		assert.ErrorIs(t, r.Reset("scheduler"), failure.ErrAgentBusy)
		a, _ := r.Get("scheduler")
		assert.Equal(t, StateTraining, a.State)
		assert.Len(t, rec.States(events.EntityAgent, "scheduler"), before)

		_, err := r.Dispatch("scheduler", "t1")
		assert.ErrorIs(t, err, failure.ErrAgentBusy)
	})

	t.Run("should treat an idle agent as already reset", func(t *testing.T) {
		r, rec := newTestRegistry(t)
		before := len(rec.States(events.EntityAgent, "turbo"))

		require.NoError(t, r.Reset("turbo"))
		a, _ := r.Get("turbo")
		assert.Equal(t, StateIdle, a.State)
		assert.Len(t, rec.States(events.EntityAgent, "turbo"), before)
	})
}

func TestRegistry_CountByState(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Dispatch("turbo", "t1")
	require.NoError(t, err)
	require.NoError(t, r.SetTraining("scheduler", true))

	counts := r.CountByState()
	assert.Equal(t, 6, counts[StateIdle])
	assert.Equal(t, 1, counts[StateActive])
	assert.Equal(t, 1, counts[StateTraining])
	assert.Equal(t, 0, counts[StateError])
}
