// Package daemon runs the orchestrator as a long-lived service exposing
// metrics, health and a websocket feed of state changes.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harun/superninja/internal/config"
	"github.com/harun/superninja/internal/logger"
	"github.com/harun/superninja/internal/observability"
	"github.com/harun/superninja/internal/tracing"
	"github.com/harun/superninja/pkg/events"
	"github.com/harun/superninja/pkg/orchestrator"
	"github.com/harun/superninja/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Daemon represents the SuperNinja daemon service
type Daemon struct {
	config *config.Config
	loader *config.Loader
	logger *logger.Logger

	orchestrator *orchestrator.Orchestrator
	store        store.Store
	bus          *events.Bus
	hub          *events.Hub
	nats         *events.NATSSink
	watcher      *config.Watcher
	lifecycle    *LifecycleManager
	server       *http.Server

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is the health report served on /healthz
type Status struct {
	Running   bool                   `json:"running"`
	Uptime    time.Duration          `json:"uptime"`
	StartTime time.Time              `json:"startTime"`
	Clients   int                    `json:"clients"`
	Dropped   int64                  `json:"droppedEvents"`
	Dashboard orchestrator.Dashboard `json:"dashboard"`
}

// New creates a new daemon instance. loader may be nil, in which case the
// config file is not watched.
func New(cfg *config.Config, loader *config.Loader, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config:    cfg,
		loader:    loader,
		logger:    log,
		lifecycle: NewLifecycleManager(cfg.Server.PIDFile, log.Component("lifecycle")),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		}
	}

	if err := d.initialize(); err != nil {
		d.release()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) initialize() error {
	st, err := OpenStore(d.config.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	d.store = st
	d.logger.Info().Str("driver", d.config.Store.Driver).Msg("Store initialized")

	d.hub = events.NewHub(d.logger.Component("events"))
	d.bus = events.NewBus(d.config.Events.Buffer, d.logger.Component("bus"),
		events.NewLogSink(d.logger.Component("state")),
		d.hub,
	)
	if url := d.config.Events.NATSURL; url != "" {
		sink, err := events.ConnectNATS(url, d.config.Events.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("failed to connect event sink: %w", err)
		}
		d.nats = sink
		d.bus.AddSink(sink)
		d.logger.Info().Str("url", url).Msg("NATS event sink connected")
	}
	for _, w := range d.config.Events.Webhooks {
		d.bus.AddSink(events.NewWebhookSink(w.URL, w.Secret, w.Timeout))
		d.logger.Info().Str("url", w.URL).Msg("Webhook event sink registered")
	}

	orch, err := NewOrchestrator(d.config, d.logger.Zerolog(),
		orchestrator.WithStore(d.store),
		orchestrator.WithEmitter(d.bus),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orchestrator = orch

	if d.loader != nil {
		w, err := config.NewWatcher(d.loader, 0, d.applyConfig, d.logger.Component("config"))
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = w
	}

	d.server = &http.Server{
		Addr:              net.JoinHostPort(d.config.Server.Host, strconv.Itoa(d.config.Server.Port)),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// applyConfig hands reloaded keys to the pool and applies a changed log
// level. Other settings need a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	ctx := context.Background()
	if cfg.Logging.Level != "" && cfg.Logging.Level != d.logger.Level() {
		if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
			d.logger.Warn().Err(err).Msg("Ignoring reloaded log level")
		}
	}
	report, err := d.orchestrator.KeyPool().Sync(cfg.KeyDefinitions())
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to apply reloaded keys")
		observability.RecordConfigAudit(ctx, "config.reload", map[string]any{"error": err.Error()})
		return
	}
	d.logger.Info().
		Strs("added", report.Added).
		Strs("reactivated", report.Reactivated).
		Int("updated", len(report.Updated)).
		Msg("Key pool synced")
	observability.RecordConfigAudit(ctx, "config.reload", map[string]any{
		"added":       report.Added,
		"updated":     report.Updated,
		"reactivated": report.Reactivated,
	})
}

// Handler serves /metrics, /events, /healthz and /dashboard
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.Handle("/events", d.hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Status())
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.orchestrator.Dashboard())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails, then shuts down
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", d.server.Addr)
	if err != nil {
		_ = d.Stop()
		return fmt.Errorf("failed to listen on %s: %w", d.server.Addr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is cancelled. The daemon must
// have been started.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shut down HTTP server")
		}
		return nil
	})

	err := g.Wait()
	if stopErr := d.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

// Start launches background components without serving HTTP
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Starting SuperNinja daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.bus.Start()
	log.Info().Msg("Event bus started")

	if err := d.orchestrator.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
	}

	log.Info().
		Int("agents", len(d.orchestrator.ListAgents())).
		Int("keys", len(d.orchestrator.ListKeys())).
		Msg("SuperNinja daemon started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop shuts every component down in reverse order
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping SuperNinja daemon")

	var errs []error
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.orchestrator.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator: %w", err))
	}

	d.release()

	if err := d.lifecycle.Stop(); err != nil {
		errs = append(errs, err)
	}
	log.Info().Msg("SuperNinja daemon stopped")
	return errors.Join(errs...)
}

// release frees what initialize acquired
func (d *Daemon) release() {
	if d.bus != nil {
		d.bus.Close()
	}
	if d.hub != nil {
		d.hub.Close()
	}
	if d.nats != nil {
		if err := d.nats.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to drain NATS connection")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	running, start := d.running, d.startTime
	d.mu.RUnlock()

	s := Status{
		Running:   running,
		StartTime: start,
		Clients:   d.hub.ClientCount(),
		Dropped:   d.bus.Dropped(),
		Dashboard: d.orchestrator.Dashboard(),
	}
	if running {
		s.Uptime = time.Since(start)
	}
	return s
}

// Orchestrator returns the orchestrator served by the daemon
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orchestrator
}
