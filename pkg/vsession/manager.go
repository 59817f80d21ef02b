package vsession

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/superninja/internal/observability"
	"github.com/harun/superninja/internal/tracing"
	"github.com/harun/superninja/pkg/events"
	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/store"
)

const (
	// StoreKind is the store namespace of sessions.
	StoreKind = "vsession"

	DefaultProvisionDelay = 5 * time.Second
	DefaultTeardownDelay  = 3 * time.Second
)

type session struct {
	s             Session
	stopRequested bool
	timer         Timer
}

// Manager owns every session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	byUser   map[string]string
	closed   bool

	clock          Clock
	provisioner    Provisioner
	executor       Executor
	emitter        events.Emitter
	store          store.Store
	logger         zerolog.Logger
	provisionDelay time.Duration
	teardownDelay  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used to schedule transitions.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithProvisioner replaces the simulated provisioner.
func WithProvisioner(p Provisioner) Option {
	return func(m *Manager) {
		m.provisioner = p
	}
}

// WithExecutor replaces the simulated executor.
func WithExecutor(e Executor) Option {
	return func(m *Manager) {
		m.executor = e
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

// WithStore mirrors sessions into s.
func WithStore(s store.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithDelays sets how long provisioning and teardown take to settle.
func WithDelays(provision, teardown time.Duration) Option {
	return func(m *Manager) {
		m.provisionDelay = provision
		m.teardownDelay = teardown
	}
}

// NewManager creates a session manager.
func NewManager(logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions:       make(map[string]*session),
		byUser:         make(map[string]string),
		clock:          RealClock(),
		provisioner:    SimulatedProvisioner{},
		executor:       SimulatedExecutor{},
		emitter:        events.Discard{},
		logger:         logger,
		provisionDelay: DefaultProvisionDelay,
		teardownDelay:  DefaultTeardownDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a session for userID. It returns as soon as the session is
// recorded as starting; provisioning settles in the background.
func (m *Manager) Start(ctx context.Context, userID string, size SizeClass) (Session, error) {
	if strings.TrimSpace(userID) == "" {
		return Session{}, failure.Validation("user id is required")
	}
	if size == "" {
		size = SizeStandard
	}
	specs, err := SpecsFor(size)
	if err != nil {
		return Session{}, err
	}
	suffix, err := gonanoid.New()
	if err != nil {
		return Session{}, failure.Wrap(failure.KindInternal, err, "generate session id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Session{}, failure.New(failure.KindInternal, "session manager is closed")
	}
	if id, ok := m.byUser[userID]; ok {
		return Session{}, failure.New(failure.KindSessionAlreadyActive, "user %s already has session %s", userID, id)
	}

	now := m.clock.Now()
	sess := &session{s: Session{
		ID:        "vm-" + suffix,
		UserID:    userID,
		Size:      size,
		Specs:     specs,
		State:     StateStarting,
		CreatedAt: now,
	}}
	m.sessions[sess.s.ID] = sess
	m.byUser[userID] = sess.s.ID
	m.changed(ctx, sess)

	id := sess.s.ID
	sess.timer = m.clock.AfterFunc(m.provisionDelay, func() { m.settleStart(id) })

	m.logger.Info().
		Str("session_id", id).
		Str("user_id", userID).
		Str("size", string(size)).
		Msg("Session starting")
	return sess.s, nil
}

func (m *Manager) settleStart(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.s.State != StateStarting || m.closed {
		m.mu.Unlock()
		return
	}
	snap := sess.s
	m.mu.Unlock()

	ctx, span := tracing.StartSpan(tracing.WithSessionID(context.Background(), id), "vsession.provision",
		attribute.String("session_id", id),
		attribute.String("size", string(snap.Size)),
	)
	defer span.End()
	endpoint, err := m.provisioner.Provision(ctx, snap)

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.s.State != StateStarting {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sess.s.State = StateError
		sess.s.Error = err.Error()
		sess.s.StoppedAt = m.clock.Now()
		sess.timer = nil
		m.release(sess)
		m.changed(ctx, sess)
		m.logger.Error().Err(err).Str("session_id", id).Msg("Session provisioning failed")
		return
	}

	sess.s.Address = endpoint.Address
	sess.s.Port = endpoint.Port
	if sess.stopRequested {
		// A stop arrived while starting; the session never becomes usable.
		sess.s.State = StateStopping
		m.changed(ctx, sess)
		sess.timer = m.clock.AfterFunc(m.teardownDelay, func() { m.settleStop(id) })
		return
	}

	now := m.clock.Now()
	sess.s.State = StateRunning
	sess.s.StartedAt = now
	sess.s.LastActivity = now
	sess.timer = nil
	m.changed(ctx, sess)
	m.logger.Info().Str("session_id", id).Str("address", endpoint.Address).Int("port", endpoint.Port).Msg("Session running")
}

// Stop asks a session to stop. A session still starting stops as soon as
// provisioning settles. Stopping an already stopping session is a no-op.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return failure.New(failure.KindNotFound, "session %s not found", id)
	}

	switch sess.s.State {
	case StateStarting:
		sess.stopRequested = true
		m.logger.Info().Str("session_id", id).Msg("Stop queued until provisioning settles")
		return nil
	case StateRunning:
		sess.s.State = StateStopping
		m.changed(ctx, sess)
		sess.timer = m.clock.AfterFunc(m.teardownDelay, func() { m.settleStop(id) })
		m.logger.Info().Str("session_id", id).Msg("Session stopping")
		return nil
	case StateStopping:
		return nil
	default:
		return failure.New(failure.KindSessionNotRunning, "session %s is %s", id, sess.s.State)
	}
}

func (m *Manager) settleStop(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.s.State != StateStopping {
		m.mu.Unlock()
		return
	}
	snap := sess.s
	m.mu.Unlock()

	ctx := tracing.WithSessionID(context.Background(), id)
	if err := m.provisioner.Teardown(ctx, snap); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("Session teardown failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.s.State != StateStopping {
		return
	}
	sess.s.State = StateStopped
	sess.s.StoppedAt = m.clock.Now()
	sess.timer = nil
	m.release(sess)
	m.changed(ctx, sess)
	m.logger.Info().Str("session_id", id).Msg("Session stopped")
}

// release frees the user's slot. It must be called with m.mu held.
func (m *Manager) release(sess *session) {
	if m.byUser[sess.s.UserID] == sess.s.ID {
		delete(m.byUser, sess.s.UserID)
	}
}

// Execute runs command in a running session.
func (m *Manager) Execute(ctx context.Context, id, command string) (ExecResult, error) {
	if err := ValidateCommand(command); err != nil {
		return ExecResult{}, err
	}

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ExecResult{}, failure.New(failure.KindNotFound, "session %s not found", id)
	}
	if sess.s.State != StateRunning {
		state := sess.s.State
		m.mu.Unlock()
		return ExecResult{}, failure.New(failure.KindSessionNotRunning, "session %s is %s", id, state)
	}
	sess.s.LastActivity = m.clock.Now()
	snap := sess.s
	m.mu.Unlock()

	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, "vsession.execute", attribute.String("session_id", id))
	defer span.End()

	start := time.Now()
	res, err := m.executor.Execute(ctx, snap, command)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExecResult{}, err
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res, nil
}

// Get returns a session, falling back to the store for sessions this
// process has not seen.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		snap := sess.s
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	if m.store != nil {
		var s Session
		if err := m.store.Get(ctx, StoreKind, id, &s); err == nil {
			return s, nil
		}
	}
	return Session{}, failure.New(failure.KindNotFound, "session %s not found", id)
}

// ActiveForUser returns the user's non-terminal session, if any.
func (m *Manager) ActiveForUser(userID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUser[userID]
	if !ok {
		return Session{}, false
	}
	return m.sessions[id].s, true
}

// List returns every session, newest first.
func (m *Manager) List() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CountByState counts sessions per state.
func (m *Manager) CountByState() map[State]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[State]int)
	for _, sess := range m.sessions {
		counts[sess.s.State]++
	}
	return counts
}

// StopIdle stops running sessions without activity for longer than maxIdle
// and returns their IDs.
func (m *Manager) StopIdle(ctx context.Context, maxIdle time.Duration) []string {
	m.mu.Lock()
	cutoff := m.clock.Now().Add(-maxIdle)
	var idle []string
	for id, sess := range m.sessions {
		if sess.s.State == StateRunning && sess.s.LastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	sort.Strings(idle)
	stopped := idle[:0]
	for _, id := range idle {
		if err := m.Stop(ctx, id); err == nil {
			stopped = append(stopped, id)
		}
	}
	if len(stopped) > 0 {
		m.logger.Info().Int("count", len(stopped)).Dur("max_idle", maxIdle).Msg("Stopped idle sessions")
	}
	return stopped
}

// Close cancels pending transitions and refuses new sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, sess := range m.sessions {
		if sess.timer != nil {
			sess.timer.Stop()
			sess.timer = nil
		}
	}
}

// changed publishes the session. It must be called with m.mu held.
func (m *Manager) changed(ctx context.Context, sess *session) {
	observability.RecordSessionTransition(string(sess.s.State))
	observability.SetActiveSessions(len(m.byUser))

	m.emitter.Emit(events.Event{
		EntityType: events.EntitySession,
		EntityID:   sess.s.ID,
		NewState:   string(sess.s.State),
		Payload: map[string]any{
			"userId":  sess.s.UserID,
			"size":    sess.s.Size,
			"address": sess.s.Address,
			"port":    sess.s.Port,
		},
	})

	if m.store != nil {
		if err := m.store.Put(tracing.Detach(ctx), StoreKind, sess.s.ID, sess.s); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sess.s.ID).Msg("Failed to persist session")
		}
	}
}
