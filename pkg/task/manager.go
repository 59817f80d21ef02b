package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/superninja/internal/observability"
	"github.com/harun/superninja/internal/tracing"
	"github.com/harun/superninja/pkg/agent"
	"github.com/harun/superninja/pkg/cron"
	"github.com/harun/superninja/pkg/events"
	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/provider"
	"github.com/harun/superninja/pkg/store"
)

// StoreKind is the store namespace of task records.
const StoreKind = "task"

type record struct {
	mu     sync.Mutex
	rec    Record
	cancel context.CancelFunc
	handle *agent.Handle
}

// Manager owns every task record.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*record

	agents       *agent.Registry
	invoker      provider.Invoker
	store        store.Store
	emitter      events.Emitter
	entitlements map[string]Tier
	logger       zerolog.Logger
	now          func() time.Time

	reaperMu sync.Mutex
	reaper   *cron.Scheduler
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore mirrors records into s.
func WithStore(s store.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithEmitter sets where state changes are reported.
func WithEmitter(e events.Emitter) Option {
	return func(m *Manager) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithEntitlements replaces the agent type to required tier mapping.
func WithEntitlements(e map[string]Tier) Option {
	return func(m *Manager) {
		m.entitlements = make(map[string]Tier, len(e))
		for k, v := range e {
			m.entitlements[k] = v
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a task manager dispatching to agents and calling
// models through invoker.
func NewManager(agents *agent.Registry, invoker provider.Invoker, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		records:      make(map[string]*record),
		agents:       agents,
		invoker:      invoker,
		emitter:      events.Discard{},
		entitlements: DefaultEntitlements(),
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit runs a task to completion and returns its final record. When the
// task did not complete the error carries the failure kind; the record is
// returned as well whenever one was created.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (Record, error) {
	r, err := m.prepare(ctx, req)
	if err != nil {
		return Record{}, err
	}
	return m.execute(ctx, r)
}

// Handle tracks an asynchronously submitted task.
type Handle struct {
	TaskID string
	done   chan struct{}
	rec    Record
	err    error
}

// Wait blocks until the task ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Record, error) {
	select {
	case <-h.done:
		return h.rec, h.err
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Done is closed when the task has ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// SubmitAsync validates and records the task, then runs it in the
// background. The run is detached from ctx cancellation.
func (m *Manager) SubmitAsync(ctx context.Context, req SubmitRequest) (*Handle, error) {
	r, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	h := &Handle{TaskID: r.rec.ID, done: make(chan struct{})}
	runCtx := tracing.Detach(ctx)
	go func() {
		defer close(h.done)
		h.rec, h.err = m.execute(runCtx, r)
	}()
	return h, nil
}

func (m *Manager) validate(req SubmitRequest) (Mode, error) {
	if strings.TrimSpace(req.AgentType) == "" {
		return "", failure.Validation("agent type is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return "", failure.Validation("message is required")
	}
	return ParseMode(req.Mode)
}

func (m *Manager) checkEntitlement(ctx context.Context, user User, agentType string) error {
	required, ok := m.entitlements[agentType]
	if !ok || user.Tier.Covers(required) {
		return nil
	}
	observability.RecordEntitlementAudit(ctx, user.ID, agentType, string(required))
	return failure.New(failure.KindForbidden, "agent %s requires the %s tier", agentType, required)
}

func (m *Manager) prepare(ctx context.Context, req SubmitRequest) (*record, error) {
	mode, err := m.validate(req)
	if err != nil {
		return nil, err
	}
	if err := m.checkEntitlement(ctx, req.User, req.AgentType); err != nil {
		return nil, err
	}

	r := &record{rec: Record{
		ID:        uuid.NewString(),
		UserID:    req.User.ID,
		AgentType: req.AgentType,
		Agents:    []string{req.AgentType},
		Kind:      KindSingle,
		Message:   req.Message,
		Mode:      mode,
		Files:     append([]string(nil), req.Files...),
		RepoRef:   req.RepoRef,
		State:     StatePending,
		CreatedAt: m.now(),
	}}

	m.mu.Lock()
	m.records[r.rec.ID] = r
	m.mu.Unlock()

	r.mu.Lock()
	m.changed(ctx, r)
	r.mu.Unlock()
	return r, nil
}

func (m *Manager) execute(ctx context.Context, r *record) (Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskID := r.rec.ID
	ctx = tracing.NewTaskContext(ctx, taskID, r.rec.AgentType, r.rec.UserID)
	ctx, span := tracing.StartSpan(ctx, "task.execute",
		attribute.String("task_id", taskID),
		attribute.String("agent_type", r.rec.AgentType),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	r.mu.Lock()
	if !m.transition(ctx, r, StateRunning) {
		snap := r.rec
		r.mu.Unlock()
		return snap, snap.Error.Err()
	}
	r.cancel = cancel
	startedAt := r.rec.StartedAt
	agentType := r.rec.AgentType
	message, files, repoRef := r.rec.Message, r.rec.Files, r.rec.RepoRef
	r.mu.Unlock()

	handle, err := m.agents.Dispatch(agentType, taskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Msg("Agent dispatch failed")
		snap, _ := m.fail(ctx, taskID, err)
		return snap, err
	}

	r.mu.Lock()
	if r.rec.State.Terminal() {
		// Cancelled between the running transition and dispatch.
		snap := r.rec
		r.mu.Unlock()
		m.agents.Release(agentType, taskID)
		return snap, snap.Error.Err()
	}
	r.handle = handle
	r.mu.Unlock()

	def := handle.Agent()
	prompt := BuildPrompt(def.SystemPrompt, message, files, repoRef)
	resp, callErr := m.invoker.Invoke(ctx, def.Model, prompt, provider.Options{
		Temperature: def.Temperature,
		MaxTokens:   def.MaxTokens,
	})
	elapsed := m.now().Sub(startedAt)

	r.mu.Lock()
	if r.rec.State != StateRunning {
		// Reaped or cancelled while the call was in flight.
		snap := r.rec
		r.handle = nil
		r.mu.Unlock()
		logger.Info().
			Str("state", string(snap.State)).
			Bool("call_succeeded", callErr == nil).
			Msg("Discarding result for finished task")
		return snap, snap.Error.Err()
	}
	r.handle = nil

	if callErr != nil {
		r.rec.Error = &ErrorInfo{Kind: failure.KindOf(callErr), Detail: failure.Detail(callErr)}
		m.transition(ctx, r, StateFailed)
		snap := r.rec
		r.mu.Unlock()

		handle.Finish(agent.Outcome{Success: false, Latency: elapsed})
		observability.RecordTaskDuration(agentType, elapsed)
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
		logger.Error().Err(callErr).Msg("Task failed")
		return snap, callErr
	}

	r.rec.Result = &Result{Content: resp.Content, Usage: resp.Usage}
	r.rec.Metadata = &Metadata{
		TokensUsed:    resp.Usage.Total(),
		ExecutionTime: elapsed,
		Model:         def.Model,
		Agent:         def.Name,
	}
	m.transition(ctx, r, StateCompleted)
	snap := r.rec
	r.mu.Unlock()

	handle.Finish(agent.Outcome{Success: true, Latency: elapsed})
	observability.RecordTaskDuration(agentType, elapsed)
	logger.Info().
		Int64("tokens", resp.Usage.Total()).
		Dur("execution_time", elapsed).
		Msg("Task completed")
	return snap, nil
}

// transition moves the record to next when allowed. It must be called with
// r.mu held.
func (m *Manager) transition(ctx context.Context, r *record, next State) bool {
	if !CanTransition(r.rec.State, next) {
		return false
	}
	now := m.now()
	r.rec.State = next
	switch next {
	case StateRunning:
		r.rec.StartedAt = now
	case StateCompleted:
		r.rec.Progress = 100
		r.rec.CompletedAt = now
	case StateFailed, StateCancelled:
		r.rec.CompletedAt = now
	}
	m.changed(ctx, r)
	return true
}

// changed publishes the record. It must be called with r.mu held so
// events of one task are ordered.
func (m *Manager) changed(ctx context.Context, r *record) {
	observability.RecordTaskTransition(string(r.rec.State))

	payload := map[string]any{
		"agentType": r.rec.AgentType,
		"userId":    r.rec.UserID,
		"progress":  r.rec.Progress,
	}
	if r.rec.Error != nil {
		payload["error"] = r.rec.Error
	}
	m.emitter.Emit(events.Event{
		EntityType: events.EntityTask,
		EntityID:   r.rec.ID,
		NewState:   string(r.rec.State),
		Payload:    payload,
	})

	if m.store != nil {
		if err := m.store.Put(tracing.Detach(ctx), StoreKind, r.rec.ID, r.rec); err != nil {
			m.logger.Warn().Err(err).Str("task_id", r.rec.ID).Msg("Failed to persist task")
		}
	}
}

func (m *Manager) lookup(taskID string) (*record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[taskID]
	return r, ok
}

// fail moves a non-terminal record to failed with err's kind.
func (m *Manager) fail(ctx context.Context, taskID string, err error) (Record, bool) {
	r, ok := m.lookup(taskID)
	if !ok {
		return Record{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.State.Terminal() {
		return r.rec, false
	}
	r.rec.Error = &ErrorInfo{Kind: failure.KindOf(err), Detail: failure.Detail(err)}
	m.transition(ctx, r, StateFailed)
	return r.rec, true
}

// Get returns the record of taskID, falling back to the store for records
// this process has not seen.
func (m *Manager) Get(ctx context.Context, taskID string) (Record, error) {
	if r, ok := m.lookup(taskID); ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.rec, nil
	}
	if m.store != nil {
		var rec Record
		err := m.store.Get(ctx, StoreKind, taskID, &rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Record{}, err
		}
	}
	return Record{}, failure.New(failure.KindNotFound, "task %s not found", taskID)
}

// Cancel ends a pending or running task. The agent is released and any
// in-flight model call is aborted.
func (m *Manager) Cancel(ctx context.Context, taskID string) (Record, error) {
	r, ok := m.lookup(taskID)
	if !ok {
		return Record{}, failure.New(failure.KindNotFound, "task %s not found", taskID)
	}

	r.mu.Lock()
	if r.rec.State.Terminal() {
		snap := r.rec
		r.mu.Unlock()
		return snap, failure.Validation("task %s is already %s", taskID, snap.State)
	}
	r.rec.Error = &ErrorInfo{Kind: failure.KindCancelled, Detail: "cancelled by request"}
	m.transition(ctx, r, StateCancelled)
	snap := r.rec
	cancel := r.cancel
	handle := r.handle
	r.handle = nil
	r.mu.Unlock()

	if handle != nil {
		m.agents.Release(handle.Agent().Type, taskID)
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Info().Str("task_id", taskID).Msg("Task cancelled")
	return snap, nil
}

// Begin opens a running record not tied to a single dispatch. Workflows use
// it for their parent record.
func (m *Manager) Begin(ctx context.Context, req BeginRequest) (Record, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Record{}, failure.Validation("message is required")
	}
	kind := req.Kind
	if kind == "" {
		kind = KindMultiAgent
	}
	for _, agentType := range req.Agents {
		if err := m.checkEntitlement(ctx, req.User, agentType); err != nil {
			return Record{}, err
		}
	}

	r := &record{rec: Record{
		ID:        uuid.NewString(),
		UserID:    req.User.ID,
		Agents:    append([]string(nil), req.Agents...),
		Kind:      kind,
		Message:   req.Message,
		Mode:      ModeStandard,
		State:     StatePending,
		CreatedAt: m.now(),
	}}

	m.mu.Lock()
	m.records[r.rec.ID] = r
	m.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	m.changed(ctx, r)
	m.transition(ctx, r, StateRunning)
	return r.rec, nil
}

// Finish closes a record opened with Begin. A nil err completes it with
// result; otherwise it fails with err's kind.
func (m *Manager) Finish(ctx context.Context, taskID string, result *Result, err error) (Record, error) {
	r, ok := m.lookup(taskID)
	if !ok {
		return Record{}, failure.New(failure.KindNotFound, "task %s not found", taskID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.State != StateRunning {
		return r.rec, failure.Validation("task %s is %s", taskID, r.rec.State)
	}
	if err != nil {
		r.rec.Error = &ErrorInfo{Kind: failure.KindOf(err), Detail: failure.Detail(err)}
		m.transition(ctx, r, StateFailed)
		return r.rec, nil
	}
	r.rec.Result = result
	r.rec.Metadata = &Metadata{ExecutionTime: m.now().Sub(r.rec.StartedAt)}
	if result != nil {
		r.rec.Metadata.TokensUsed = result.Usage.Total()
	}
	r.rec.Metadata.Agent = strings.Join(r.rec.Agents, ",")
	m.transition(ctx, r, StateCompleted)
	return r.rec, nil
}

// Stats counts records per state.
func (m *Manager) Stats() map[State]int {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	counts := map[State]int{}
	for _, r := range recs {
		r.mu.Lock()
		counts[r.rec.State]++
		r.mu.Unlock()
	}
	return counts
}
