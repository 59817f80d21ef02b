package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/task"
)

// Validate checks if the configuration is valid against the model catalog
func (c *Config) Validate(cat *catalog.Catalog) error {
	var errs []error

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store: path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q (must be: memory, sqlite)", c.Store.Driver))
	}
	if c.Store.CacheMaxCost < 0 {
		errs = append(errs, errors.New("store: cache_max_cost must not be negative"))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid port %d", c.Server.Port))
	}
	if c.Events.Buffer <= 0 {
		errs = append(errs, errors.New("events: buffer must be positive"))
	}
	for i, w := range c.Events.Webhooks {
		if u, err := url.Parse(w.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("events.webhooks[%d]: invalid url %q", i, w.URL))
		}
		if strings.Contains(w.Secret, "${") {
			errs = append(errs, fmt.Errorf("events.webhooks[%d]: unresolved secret reference", i))
		}
	}
	if c.Providers.Timeout <= 0 {
		errs = append(errs, errors.New("providers: timeout must be positive"))
	}
	for name := range c.Providers.Endpoints {
		if _, err := catalog.ParseProvider(name); err != nil {
			errs = append(errs, fmt.Errorf("providers.endpoints: %w", err))
		}
	}

	errs = append(errs, c.validateKeys(cat)...)

	for i, def := range c.Agents {
		if err := def.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("agent %d: %w", i, err))
			continue
		}
		if _, ok := cat.Lookup(def.Model); !ok {
			errs = append(errs, fmt.Errorf("agent %s: unknown model %s", def.Type, def.Model))
		}
	}
	for agentType, tier := range c.Entitlements {
		if !task.Tier(tier).Valid() {
			errs = append(errs, fmt.Errorf("entitlements: agent %s requires unknown tier %q", agentType, tier))
		}
	}

	durations := map[string]int64{
		"tasks.reap_interval":          int64(c.Tasks.ReapInterval),
		"tasks.stale_after":            int64(c.Tasks.StaleAfter),
		"sessions.idle_sweep_interval": int64(c.Sessions.IdleSweepInterval),
		"sessions.max_idle":            int64(c.Sessions.MaxIdle),
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Sessions.ProvisionDelay < 0 || c.Sessions.TeardownDelay < 0 {
		errs = append(errs, errors.New("sessions: delays must not be negative"))
	}
	if c.Agent.ErrorThreshold <= 0 {
		errs = append(errs, errors.New("agent: error_threshold must be positive"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing: sample_ratio must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

func (c *Config) validateKeys(cat *catalog.Catalog) []error {
	var errs []error
	seen := make(map[string]bool, len(c.Keys))
	for i, k := range c.Keys {
		if k.ID == "" {
			errs = append(errs, fmt.Errorf("key %d: id is required", i))
			continue
		}
		if seen[k.ID] {
			errs = append(errs, fmt.Errorf("key %s: duplicate id", k.ID))
		}
		seen[k.ID] = true

		p, err := catalog.ParseProvider(k.Provider)
		if err != nil {
			errs = append(errs, fmt.Errorf("key %s: %w", k.ID, err))
			continue
		}
		model, ok := cat.Lookup(k.Model)
		if !ok {
			errs = append(errs, fmt.Errorf("key %s: unknown model %s", k.ID, k.Model))
			continue
		}
		if model.Provider != p {
			errs = append(errs, fmt.Errorf("key %s: model %s is served by %s, not %s", k.ID, k.Model, model.Provider, p))
		}
		if strings.TrimSpace(k.Credential) == "" {
			errs = append(errs, fmt.Errorf("key %s: credential is empty", k.ID))
		} else if strings.Contains(k.Credential, "${") {
			errs = append(errs, fmt.Errorf("key %s: credential references an unset variable", k.ID))
		}
		if k.RequestsPerWindow <= 0 || k.TokensPerWindow <= 0 || k.Window <= 0 {
			errs = append(errs, fmt.Errorf("key %s: limits must be positive", k.ID))
		}
	}
	return errs
}
