package config

import (
	"encoding/json"
	"time"

	"github.com/harun/superninja/internal/logger"
	"github.com/harun/superninja/pkg/agent"
	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/keypool"
	"github.com/harun/superninja/pkg/task"
)

// Config represents the main SuperNinja configuration
type Config struct {
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
	Server       ServerConfig       `json:"server" mapstructure:"server"`
	Store        StoreConfig        `json:"store" mapstructure:"store"`
	Events       EventsConfig       `json:"events" mapstructure:"events"`
	Providers    ProvidersConfig    `json:"providers" mapstructure:"providers"`
	Keys         []KeyConfig        `json:"keys" mapstructure:"keys"`
	Agents       []agent.Definition `json:"agents" mapstructure:"agents"`
	Entitlements map[string]string  `json:"entitlements" mapstructure:"entitlements"`
	Tasks        TasksConfig        `json:"tasks" mapstructure:"tasks"`
	Agent        AgentConfig        `json:"agent" mapstructure:"agent"`
	Sessions     SessionsConfig     `json:"sessions" mapstructure:"sessions"`
	Tracing      TracingConfig      `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// ServerConfig holds the daemon's HTTP listener
type ServerConfig struct {
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
	PIDFile string `json:"pid_file" mapstructure:"pid_file"`
}

// StoreConfig selects where tasks and sessions are persisted
type StoreConfig struct {
	Driver       string        `json:"driver" mapstructure:"driver"` // memory, sqlite
	Path         string        `json:"path" mapstructure:"path"`
	CacheMaxCost int64         `json:"cache_max_cost" mapstructure:"cache_max_cost"` // bytes, 0 disables
	CacheTTL     time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
}

// EventsConfig holds the event bus and its optional external sinks
type EventsConfig struct {
	Buffer        int             `json:"buffer" mapstructure:"buffer"`
	NATSURL       string          `json:"nats_url" mapstructure:"nats_url"`
	SubjectPrefix string          `json:"subject_prefix" mapstructure:"subject_prefix"`
	Webhooks      []WebhookConfig `json:"webhooks" mapstructure:"webhooks"`
}

// WebhookConfig is one HTTP endpoint receiving state changes
type WebhookConfig struct {
	URL     string        `json:"url" mapstructure:"url"`
	Secret  string        `json:"secret" mapstructure:"secret"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// ProvidersConfig holds upstream call settings
type ProvidersConfig struct {
	Timeout   time.Duration     `json:"timeout" mapstructure:"timeout"`
	Endpoints map[string]string `json:"endpoints" mapstructure:"endpoints"`
}

// KeyConfig is one API key. Credential may reference the environment as
// ${NAME}.
type KeyConfig struct {
	ID                string        `json:"id" mapstructure:"id"`
	Provider          string        `json:"provider" mapstructure:"provider"`
	Model             string        `json:"model" mapstructure:"model"`
	Credential        string        `json:"credential" mapstructure:"credential"`
	RequestsPerWindow int           `json:"requests_per_window" mapstructure:"requests_per_window"`
	TokensPerWindow   int64         `json:"tokens_per_window" mapstructure:"tokens_per_window"`
	Window            time.Duration `json:"window" mapstructure:"window"`
	Disabled          bool          `json:"disabled" mapstructure:"disabled"`
}

// TasksConfig holds the stale task reaper schedule
type TasksConfig struct {
	ReapInterval time.Duration `json:"reap_interval" mapstructure:"reap_interval"`
	StaleAfter   time.Duration `json:"stale_after" mapstructure:"stale_after"`
}

// AgentConfig holds agent state machine settings
type AgentConfig struct {
	ErrorThreshold int `json:"error_threshold" mapstructure:"error_threshold"`
}

// SessionsConfig holds virtual session timings
type SessionsConfig struct {
	ProvisionDelay    time.Duration `json:"provision_delay" mapstructure:"provision_delay"`
	TeardownDelay     time.Duration `json:"teardown_delay" mapstructure:"teardown_delay"`
	IdleSweepInterval time.Duration `json:"idle_sweep_interval" mapstructure:"idle_sweep_interval"`
	MaxIdle           time.Duration `json:"max_idle" mapstructure:"max_idle"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Store: StoreConfig{
			Driver:       "memory",
			CacheMaxCost: 0,
			CacheTTL:     10 * time.Minute,
		},
		Events: EventsConfig{
			Buffer:        1024,
			SubjectPrefix: "superninja",
		},
		Providers: ProvidersConfig{
			Timeout:   60 * time.Second,
			Endpoints: map[string]string{},
		},
		Keys: []KeyConfig{},
		Entitlements: map[string]string{
			"apex": string(task.TierUltra),
		},
		Tasks: TasksConfig{
			ReapInterval: time.Minute,
			StaleAfter:   10 * time.Minute,
		},
		Agent: AgentConfig{
			ErrorThreshold: agent.DefaultErrorThreshold,
		},
		Sessions: SessionsConfig{
			ProvisionDelay:    5 * time.Second,
			TeardownDelay:     3 * time.Second,
			IdleSweepInterval: 5 * time.Minute,
			MaxIdle:           time.Hour,
		},
		Tracing: TracingConfig{
			ServiceName: "superninja",
			SampleRatio: 1,
		},
	}
}

// applyKeyDefaults fills the limits a key omits
func (c *Config) applyKeyDefaults() {
	limits := keypool.DefaultLimits()
	for i := range c.Keys {
		k := &c.Keys[i]
		if k.RequestsPerWindow == 0 {
			k.RequestsPerWindow = limits.RequestsPerWindow
		}
		if k.TokensPerWindow == 0 {
			k.TokensPerWindow = limits.TokensPerWindow
		}
		if k.Window == 0 {
			k.Window = limits.Window
		}
	}
}

// String returns a JSON representation of the config with credentials
// masked
func (c *Config) String() string {
	masked := *c
	masked.Keys = make([]KeyConfig, len(c.Keys))
	for i, k := range c.Keys {
		k.Credential = keypool.Key{Credential: k.Credential}.Masked()
		masked.Keys[i] = k
	}
	masked.Events.Webhooks = make([]WebhookConfig, len(c.Events.Webhooks))
	for i, w := range c.Events.Webhooks {
		w.Secret = keypool.Key{Credential: w.Secret}.Masked()
		masked.Events.Webhooks[i] = w
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// LoggerConfig converts the logging section
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		Console:   true,
		Pretty:    c.Logging.Pretty,
		Redaction: c.Logging.Redaction,
	}
}

// KeyDefinitions converts the keys section for the key pool
func (c *Config) KeyDefinitions() []keypool.Definition {
	defs := make([]keypool.Definition, 0, len(c.Keys))
	for _, k := range c.Keys {
		p, _ := catalog.ParseProvider(k.Provider)
		defs = append(defs, keypool.Definition{
			ID:         k.ID,
			Provider:   p,
			Model:      k.Model,
			Credential: k.Credential,
			Limits: keypool.Limits{
				RequestsPerWindow: k.RequestsPerWindow,
				TokensPerWindow:   k.TokensPerWindow,
				Window:            k.Window,
			},
			Disabled: k.Disabled,
		})
	}
	return defs
}

// AgentDefinitions returns the configured agents, or the built-in ones when
// none are configured
func (c *Config) AgentDefinitions() []agent.Definition {
	if len(c.Agents) == 0 {
		return agent.DefaultDefinitions()
	}
	return c.Agents
}

// EntitlementMap converts the entitlements section
func (c *Config) EntitlementMap() map[string]task.Tier {
	out := make(map[string]task.Tier, len(c.Entitlements))
	for agentType, tier := range c.Entitlements {
		out[agentType] = task.Tier(tier)
	}
	return out
}

// EndpointMap converts the provider endpoint overrides
func (c *Config) EndpointMap() map[catalog.Provider]string {
	out := make(map[catalog.Provider]string, len(c.Providers.Endpoints))
	for name, url := range c.Providers.Endpoints {
		if p, err := catalog.ParseProvider(name); err == nil {
			out[p] = url
		}
	}
	return out
}
