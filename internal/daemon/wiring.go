package daemon

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/superninja/internal/config"
	"github.com/harun/superninja/pkg/agent"
	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/keypool"
	"github.com/harun/superninja/pkg/orchestrator"
	"github.com/harun/superninja/pkg/provider"
	"github.com/harun/superninja/pkg/store"
	"github.com/harun/superninja/pkg/task"
	"github.com/harun/superninja/pkg/vsession"
)

// OpenStore opens the configured store, fronted by a cache when one is
// configured.
func OpenStore(cfg config.StoreConfig) (store.Store, error) {
	var backing store.Store
	switch cfg.Driver {
	case "", "memory":
		backing = store.NewMemory()
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		backing = s
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if cfg.CacheMaxCost <= 0 {
		return backing, nil
	}
	cached, err := store.NewCached(backing, cfg.CacheMaxCost, cfg.CacheTTL)
	if err != nil {
		_ = backing.Close()
		return nil, err
	}
	return cached, nil
}

// NewOrchestrator builds the orchestrator described by cfg. Extra options
// are applied last.
func NewOrchestrator(cfg *config.Config, logger zerolog.Logger, extra ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	cat := catalog.Default()
	pool := keypool.New(cat, logger.With().Str("component", "keypool").Logger())
	for _, def := range cfg.KeyDefinitions() {
		if err := pool.Add(def); err != nil {
			return nil, fmt.Errorf("failed to add key %s: %w", def.ID, err)
		}
	}

	opts := []orchestrator.Option{
		orchestrator.WithCatalog(cat),
		orchestrator.WithKeyPool(pool),
		orchestrator.WithRouterOptions(
			provider.WithEndpoints(provider.Endpoints(cfg.EndpointMap())),
			provider.WithTimeout(cfg.Providers.Timeout),
		),
		orchestrator.WithAgents(cfg.AgentDefinitions()),
		orchestrator.WithAgentOptions(agent.WithErrorThreshold(cfg.Agent.ErrorThreshold)),
		orchestrator.WithTaskOptions(task.WithEntitlements(cfg.EntitlementMap())),
		orchestrator.WithSessionOptions(vsession.WithDelays(cfg.Sessions.ProvisionDelay, cfg.Sessions.TeardownDelay)),
		orchestrator.WithMaintenance(orchestrator.Maintenance{
			ReapInterval:      cfg.Tasks.ReapInterval,
			StaleAfter:        cfg.Tasks.StaleAfter,
			IdleSweepInterval: cfg.Sessions.IdleSweepInterval,
			SessionMaxIdle:    cfg.Sessions.MaxIdle,
		}),
	}
	return orchestrator.New(logger, append(opts, extra...)...)
}
