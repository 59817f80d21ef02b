package agent

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/superninja/internal/observability"
	"github.com/harun/superninja/pkg/events"
	"github.com/harun/superninja/pkg/failure"
)

const (
	// DefaultErrorThreshold is the number of consecutive failures that put
	// an agent into the error state.
	DefaultErrorThreshold = 3

	latencyAlpha = 0.3
)

type entry struct {
	mu       sync.Mutex
	agent    Agent
	finished int64
	failed   int64
	sampled  bool
}

// Registry owns every agent and its dispatch state.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*entry

	threshold int
	emitter   events.Emitter
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithErrorThreshold sets how many consecutive failures trip the error state.
func WithErrorThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.threshold = n
		}
	}
}

// WithEmitter sets where state changes are reported.
func WithEmitter(e events.Emitter) Option {
	return func(r *Registry) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		agents:    make(map[string]*entry),
		threshold: DefaultErrorThreshold,
		emitter:   events.Discard{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an idle agent.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return failure.Wrap(failure.KindValidation, err, "invalid agent")
	}
	if def.Name == "" {
		def.Name = def.Type
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[def.Type]; exists {
		return failure.Validation("agent already registered: %s", def.Type)
	}
	r.agents[def.Type] = &entry{
		agent: Agent{
			Definition: def,
			State:      StateIdle,
			Performance: Performance{
				SuccessRate:      100,
				UserSatisfaction: 5.0,
			},
		},
	}
	return nil
}

// RegisterAll registers every definition, stopping at the first error.
func (r *Registry) RegisterAll(defs []Definition) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) entry(agentType string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[agentType]
	return e, ok
}

// Dispatch claims an idle agent for taskID.
func (r *Registry) Dispatch(agentType, taskID string) (*Handle, error) {
	if taskID == "" {
		return nil, failure.Validation("task id is required")
	}
	e, ok := r.entry(agentType)
	if !ok {
		observability.RecordAgentDispatch(agentType, "not_found")
		return nil, failure.New(failure.KindAgentNotFound, "agent %s is not registered", agentType)
	}

	e.mu.Lock()
	if e.agent.State != StateIdle {
		state := e.agent.State
		e.mu.Unlock()
		observability.RecordAgentDispatch(agentType, "busy")
		return nil, failure.New(failure.KindAgentBusy, "agent %s is %s", agentType, state)
	}
	e.agent.State = StateActive
	e.agent.CurrentTask = taskID
	e.agent.LastActive = r.now()
	snap := e.agent
	r.emit(snap)
	e.mu.Unlock()

	observability.RecordAgentDispatch(agentType, "dispatched")
	r.publishGauge()

	r.logger.Debug().Str("agent_type", agentType).Str("task_id", taskID).Msg("Agent dispatched")
	return &Handle{registry: r, agent: snap, taskID: taskID}, nil
}

type releaseMode int

const (
	releaseFinished releaseMode = iota
	releaseTimedOut
	releaseCancelled
)

// Finish releases the agent from taskID and folds outcome into its
// statistics. It reports false when the agent is no longer working on taskID.
func (r *Registry) Finish(agentType, taskID string, outcome Outcome) bool {
	return r.release(agentType, taskID, outcome, releaseFinished)
}

// ReleaseTimedOut returns the agent of a reaped task to idle. The timeout
// counts against the success rate but never trips the error state.
func (r *Registry) ReleaseTimedOut(agentType, taskID string) bool {
	return r.release(agentType, taskID, Outcome{}, releaseTimedOut)
}

// Release returns the agent of a cancelled task to idle without touching
// its statistics.
func (r *Registry) Release(agentType, taskID string) bool {
	return r.release(agentType, taskID, Outcome{}, releaseCancelled)
}

func (r *Registry) release(agentType, taskID string, outcome Outcome, mode releaseMode) bool {
	e, ok := r.entry(agentType)
	if !ok {
		return false
	}

	e.mu.Lock()
	if e.agent.State != StateActive || e.agent.CurrentTask != taskID {
		current := e.agent.CurrentTask
		e.mu.Unlock()
		r.logger.Debug().
			Str("agent_type", agentType).
			Str("task_id", taskID).
			Str("current_task", current).
			Msg("Ignoring stale agent release")
		return false
	}

	perf := &e.agent.Performance
	if mode != releaseCancelled {
		e.finished++
		if outcome.Success {
			perf.TasksCompleted++
			perf.ConsecutiveFailures = 0
		} else {
			e.failed++
			if mode == releaseFinished {
				perf.ConsecutiveFailures++
			}
		}
		perf.SuccessRate = float64(e.finished-e.failed) / float64(e.finished) * 100
	}

	if mode == releaseFinished && outcome.Latency > 0 {
		if !e.sampled {
			perf.AvgLatency = outcome.Latency
			e.sampled = true
		} else {
			perf.AvgLatency = time.Duration(math.Round(latencyAlpha*float64(outcome.Latency) + (1-latencyAlpha)*float64(perf.AvgLatency)))
		}
	}

	e.agent.CurrentTask = ""
	e.agent.LastActive = r.now()
	if mode == releaseFinished && perf.ConsecutiveFailures >= r.threshold {
		e.agent.State = StateError
		r.logger.Warn().
			Str("agent_type", agentType).
			Int("consecutive_failures", perf.ConsecutiveFailures).
			Msg("Agent entered error state")
	} else {
		e.agent.State = StateIdle
	}
	r.emit(e.agent)
	e.mu.Unlock()

	r.publishGauge()
	return true
}

// Reset returns an agent in the error state to idle. Resetting an idle agent
// does nothing; active agents and agents in training are refused.
func (r *Registry) Reset(agentType string) error {
	e, ok := r.entry(agentType)
	if !ok {
		return failure.New(failure.KindAgentNotFound, "agent %s is not registered", agentType)
	}

	e.mu.Lock()
	switch e.agent.State {
	case StateIdle:
		e.mu.Unlock()
		return nil
	case StateActive:
		current := e.agent.CurrentTask
		e.mu.Unlock()
		return failure.New(failure.KindAgentBusy, "agent %s is working on %s", agentType, current)
	case StateTraining:
		e.mu.Unlock()
		return failure.New(failure.KindAgentBusy, "agent %s is in training", agentType)
	}
	e.agent.State = StateIdle
	e.agent.Performance.ConsecutiveFailures = 0
	r.emit(e.agent)
	e.mu.Unlock()

	r.publishGauge()
	return nil
}

// SetTraining moves an idle agent into or out of training. Agents in
// training are not dispatchable.
func (r *Registry) SetTraining(agentType string, training bool) error {
	e, ok := r.entry(agentType)
	if !ok {
		return failure.New(failure.KindAgentNotFound, "agent %s is not registered", agentType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from, to := StateIdle, StateTraining
	if !training {
		from, to = StateTraining, StateIdle
	}
	if e.agent.State != from {
		return failure.New(failure.KindAgentBusy, "agent %s is %s", agentType, e.agent.State)
	}
	e.agent.State = to
	r.emit(e.agent)
	return nil
}

// Get returns a snapshot of one agent.
func (r *Registry) Get(agentType string) (Agent, error) {
	e, ok := r.entry(agentType)
	if !ok {
		return Agent{}, failure.New(failure.KindAgentNotFound, "agent %s is not registered", agentType)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agent, nil
}

// List returns snapshots of every agent ordered by type.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.agents))
	for _, e := range r.agents {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Agent, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.agent)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// CountByState counts agents per state.
func (r *Registry) CountByState() map[State]int {
	counts := map[State]int{
		StateIdle:     0,
		StateActive:   0,
		StateError:    0,
		StateTraining: 0,
	}
	for _, a := range r.List() {
		counts[a.State]++
	}
	return counts
}

func (r *Registry) publishGauge() {
	counts := r.CountByState()
	labels := make(map[string]int, len(counts))
	for state, n := range counts {
		labels[string(state)] = n
	}
	observability.SetAgentsByState(labels)
}

// emit must be called with the entry locked so events of one agent are
// ordered.
func (r *Registry) emit(a Agent) {
	r.emitter.Emit(events.Event{
		EntityType: events.EntityAgent,
		EntityID:   a.Type,
		NewState:   string(a.State),
		Payload: map[string]any{
			"currentTask":    a.CurrentTask,
			"tasksCompleted": a.Performance.TasksCompleted,
			"successRate":    a.Performance.SuccessRate,
		},
	})
}

// Handle is one dispatch of an agent.
type Handle struct {
	registry *Registry
	agent    Agent
	taskID   string
	once     sync.Once
	applied  bool
}

// Agent returns the agent as it was at dispatch.
func (h *Handle) Agent() Agent {
	return h.agent
}

// TaskID returns the task the agent was dispatched for.
func (h *Handle) TaskID() string {
	return h.taskID
}

// Finish ends the dispatch. Only the first call has an effect.
func (h *Handle) Finish(outcome Outcome) bool {
	h.once.Do(func() {
		h.applied = h.registry.Finish(h.agent.Type, h.taskID, outcome)
	})
	return h.applied
}
