package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/harun/superninja/pkg/catalog"
)

// EnvPrefix prefixes environment overrides, e.g. SUPERNINJA_SERVER_PORT.
const EnvPrefix = "SUPERNINJA"

// Loader handles configuration loading
type Loader struct {
	configPath string
	catalog    *catalog.Catalog
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new config loader
func NewLoader(configPath string, cat *catalog.Catalog) *Loader {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Loader{
		configPath: configPath,
		catalog:    cat,
		lookupEnv:  os.LookupEnv,
	}
}

// Load reads the config file, applies environment overrides, expands
// credential references and seeds keys from the provider environment
// variables when the file configures none
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := l.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "yml" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Keys {
		cfg.Keys[i].Credential = l.expand(cfg.Keys[i].Credential)
	}
	for i := range cfg.Events.Webhooks {
		cfg.Events.Webhooks[i].Secret = l.expand(cfg.Events.Webhooks[i].Secret)
	}
	if len(cfg.Keys) == 0 {
		cfg.Keys = l.seedKeys()
	}
	cfg.applyKeyDefaults()

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".superninja")
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "superninja.db")
	}
	if cfg.Server.PIDFile == "" {
		cfg.Server.PIDFile = filepath.Join(cfg.DataDir, "superninja.pid")
	}

	if err := cfg.Validate(l.catalog); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// expand replaces ${NAME} references. Unset variables are kept verbatim so
// validation can report them.
func (l *Loader) expand(s string) string {
	return os.Expand(s, func(name string) string {
		if val, ok := l.lookupEnv(name); ok {
			return val
		}
		return "${" + name + "}"
	})
}

// seedKeys creates one key per catalog model of every provider whose
// credential variable is set.
func (l *Loader) seedKeys() []KeyConfig {
	byProvider := l.catalog.ByProvider()
	var keys []KeyConfig
	for _, p := range catalog.Providers {
		env := p.CredentialEnv()
		if env == "" {
			continue
		}
		credential, ok := l.lookupEnv(env)
		if !ok || strings.TrimSpace(credential) == "" {
			continue
		}
		for _, model := range byProvider[p] {
			keys = append(keys, KeyConfig{
				ID:         "env-" + model,
				Provider:   string(p),
				Model:      model,
				Credential: credential,
			})
		}
	}
	return keys
}

// ConfigPath returns the config file path
func (l *Loader) ConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "superninja.yaml"
	}
	return filepath.Join(home, ".superninja", "superninja.yaml")
}

// setDefaults registers every scalar default so environment overrides reach
// keys the file does not mention.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.redaction", d.Logging.Redaction)
	v.SetDefault("logging.audit_file", d.Logging.AuditFile)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.pid_file", d.Server.PIDFile)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.cache_max_cost", d.Store.CacheMaxCost)
	v.SetDefault("store.cache_ttl", d.Store.CacheTTL)
	v.SetDefault("events.buffer", d.Events.Buffer)
	v.SetDefault("events.nats_url", d.Events.NATSURL)
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	v.SetDefault("providers.timeout", d.Providers.Timeout)
	v.SetDefault("tasks.reap_interval", d.Tasks.ReapInterval)
	v.SetDefault("tasks.stale_after", d.Tasks.StaleAfter)
	v.SetDefault("agent.error_threshold", d.Agent.ErrorThreshold)
	v.SetDefault("sessions.provision_delay", d.Sessions.ProvisionDelay)
	v.SetDefault("sessions.teardown_delay", d.Sessions.TeardownDelay)
	v.SetDefault("sessions.idle_sweep_interval", d.Sessions.IdleSweepInterval)
	v.SetDefault("sessions.max_idle", d.Sessions.MaxIdle)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
	v.SetDefault("data_dir", d.DataDir)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath, nil).Load()
}
