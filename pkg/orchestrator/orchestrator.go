// Package orchestrator wires the key pool, provider router, agent registry,
// task manager, workflow coordinator and session manager into one facade.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/superninja/pkg/agent"
	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/cron"
	"github.com/harun/superninja/pkg/events"
	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/keypool"
	"github.com/harun/superninja/pkg/provider"
	"github.com/harun/superninja/pkg/store"
	"github.com/harun/superninja/pkg/task"
	"github.com/harun/superninja/pkg/vsession"
	"github.com/harun/superninja/pkg/workflow"
)

const idleSweepJob = "session-idle-sweep"

// Maintenance configures the background sweeps.
type Maintenance struct {
	ReapInterval      time.Duration
	StaleAfter        time.Duration
	IdleSweepInterval time.Duration
	SessionMaxIdle    time.Duration
}

// DefaultMaintenance reaps tasks older than ten minutes every minute and
// stops sessions idle for an hour.
func DefaultMaintenance() Maintenance {
	return Maintenance{
		ReapInterval:      time.Minute,
		StaleAfter:        10 * time.Minute,
		IdleSweepInterval: 5 * time.Minute,
		SessionMaxIdle:    time.Hour,
	}
}

// Orchestrator is the entry point used by the CLI and the daemon.
type Orchestrator struct {
	catalog   *catalog.Catalog
	pool      *keypool.Pool
	invoker   provider.Invoker
	agents    *agent.Registry
	tasks     *task.Manager
	workflows *workflow.Coordinator
	sessions  *vsession.Manager
	logger    zerolog.Logger

	maintenance Maintenance
	mu          sync.Mutex
	sweeper     *cron.Scheduler
}

type options struct {
	catalog     *catalog.Catalog
	pool        *keypool.Pool
	invoker     provider.Invoker
	routerOpts  []provider.RouterOption
	definitions []agent.Definition
	agentOpts   []agent.Option
	taskOpts    []task.Option
	sessionOpts []vsession.Option
	store       store.Store
	emitter     events.Emitter
	maintenance Maintenance
}

// Option configures an Orchestrator.
type Option func(*options)

// WithCatalog replaces the embedded model catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithKeyPool supplies the key pool. Without it the pool starts empty.
func WithKeyPool(p *keypool.Pool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// WithInvoker bypasses the provider router.
func WithInvoker(inv provider.Invoker) Option {
	return func(o *options) {
		o.invoker = inv
	}
}

// WithRouterOptions configures the provider router.
func WithRouterOptions(opts ...provider.RouterOption) Option {
	return func(o *options) {
		o.routerOpts = append(o.routerOpts, opts...)
	}
}

// WithAgents replaces the built-in agent definitions.
func WithAgents(defs []agent.Definition) Option {
	return func(o *options) {
		o.definitions = defs
	}
}

// WithAgentOptions configures the agent registry.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(o *options) {
		o.agentOpts = append(o.agentOpts, opts...)
	}
}

// WithTaskOptions configures the task manager.
func WithTaskOptions(opts ...task.Option) Option {
	return func(o *options) {
		o.taskOpts = append(o.taskOpts, opts...)
	}
}

// WithSessionOptions configures the session manager.
func WithSessionOptions(opts ...vsession.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// WithStore persists tasks and sessions into s.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithEmitter reports every state change to e.
func WithEmitter(e events.Emitter) Option {
	return func(o *options) {
		o.emitter = e
	}
}

// WithMaintenance overrides the sweep schedule.
func WithMaintenance(m Maintenance) Option {
	return func(o *options) {
		o.maintenance = m
	}
}

// New builds an orchestrator. Nothing runs in the background until Start.
func New(logger zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	cfg := options{
		definitions: agent.DefaultDefinitions(),
		emitter:     events.Discard{},
		maintenance: DefaultMaintenance(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.catalog == nil {
		cfg.catalog = catalog.Default()
	}
	if cfg.pool == nil {
		cfg.pool = keypool.New(cfg.catalog, logger.With().Str("component", "keypool").Logger())
	}
	if cfg.invoker == nil {
		cfg.invoker = provider.NewRouter(cfg.catalog, cfg.pool,
			logger.With().Str("component", "provider").Logger(), cfg.routerOpts...)
	}

	agents := agent.NewRegistry(logger.With().Str("component", "agents").Logger(),
		append([]agent.Option{agent.WithEmitter(cfg.emitter)}, cfg.agentOpts...)...)
	for _, def := range cfg.definitions {
		if _, ok := cfg.catalog.Lookup(def.Model); !ok {
			return nil, failure.Validation("agent %s uses unknown model %s", def.Type, def.Model)
		}
	}
	if err := agents.RegisterAll(cfg.definitions); err != nil {
		return nil, err
	}

	base := []task.Option{task.WithEmitter(cfg.emitter)}
	sessionBase := []vsession.Option{vsession.WithEmitter(cfg.emitter)}
	if cfg.store != nil {
		base = append(base, task.WithStore(cfg.store))
		sessionBase = append(sessionBase, vsession.WithStore(cfg.store))
	}
	tasks := task.NewManager(agents, cfg.invoker, logger.With().Str("component", "tasks").Logger(),
		append(base, cfg.taskOpts...)...)

	return &Orchestrator{
		catalog:     cfg.catalog,
		pool:        cfg.pool,
		invoker:     cfg.invoker,
		agents:      agents,
		tasks:       tasks,
		workflows:   workflow.NewCoordinator(tasks, logger.With().Str("component", "workflow").Logger()),
		sessions:    vsession.NewManager(logger.With().Str("component", "vsession").Logger(), append(sessionBase, cfg.sessionOpts...)...),
		logger:      logger,
		maintenance: cfg.maintenance,
	}, nil
}

// Start launches the stale task reaper and the idle session sweep.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sweeper != nil {
		return failure.Validation("orchestrator is already started")
	}

	m := o.maintenance
	if err := o.tasks.StartReaper(m.ReapInterval, m.StaleAfter); err != nil {
		return err
	}

	s := cron.New(o.logger)
	if err := s.Every(idleSweepJob, m.IdleSweepInterval, func(ctx context.Context) {
		o.sessions.StopIdle(ctx, m.SessionMaxIdle)
	}); err != nil {
		_ = o.tasks.Stop(context.Background())
		return failure.Wrap(failure.KindValidation, err, "invalid idle sweep schedule")
	}
	s.Start()
	o.sweeper = s

	o.logger.Info().
		Dur("reap_interval", m.ReapInterval).
		Dur("stale_after", m.StaleAfter).
		Dur("idle_sweep_interval", m.IdleSweepInterval).
		Dur("session_max_idle", m.SessionMaxIdle).
		Msg("Orchestrator maintenance started")
	return nil
}

// Close stops background work and cancels pending session transitions.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	s := o.sweeper
	o.sweeper = nil
	o.mu.Unlock()

	var firstErr error
	if s != nil {
		firstErr = s.Stop(ctx)
	}
	if err := o.tasks.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	o.sessions.Close()
	return firstErr
}

// KeyPool exposes the pool for configuration reloads.
func (o *Orchestrator) KeyPool() *keypool.Pool {
	return o.pool
}

// Catalog returns the model catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog
}
