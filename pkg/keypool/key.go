package keypool

import (
	"fmt"
	"sync"
	"time"

	"github.com/harun/superninja/pkg/catalog"
)

// Limits are the sliding window ceilings of a key.
type Limits struct {
	RequestsPerWindow int           `json:"requestsPerWindow"`
	TokensPerWindow   int64         `json:"tokensPerWindow"`
	Window            time.Duration `json:"window"`
}

// DefaultLimits mirrors the per-key defaults of the hosted service.
func DefaultLimits() Limits {
	return Limits{
		RequestsPerWindow: 60,
		TokensPerWindow:   10000,
		Window:            time.Minute,
	}
}

// Definition describes a key as configured.
type Definition struct {
	ID         string
	Provider   catalog.Provider
	Model      string
	Credential string
	Limits     Limits
	Disabled   bool
}

// Usage holds the cumulative counters of a key.
type Usage struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
	Failures int64   `json:"failures"`
}

// Key is a point-in-time snapshot of a pooled credential.
type Key struct {
	ID             string           `json:"id"`
	Provider       catalog.Provider `json:"provider"`
	Model          string           `json:"model"`
	Credential     string           `json:"-"`
	Active         bool             `json:"active"`
	InactiveReason string           `json:"inactiveReason,omitempty"`
	Usage          Usage            `json:"usage"`
	LastUsed       time.Time        `json:"lastUsed"`
	Limits         Limits           `json:"limits"`
}

// Masked returns the credential with everything but the last four
// characters hidden.
func (k Key) Masked() string {
	if len(k.Credential) <= 4 {
		return "****"
	}
	return "****" + k.Credential[len(k.Credential)-4:]
}

type entry struct {
	mu     sync.Mutex
	key    Key
	window *Window
}

func newEntry(def Definition) *entry {
	limits := def.Limits
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	return &entry{
		key: Key{
			ID:         def.ID,
			Provider:   def.Provider,
			Model:      def.Model,
			Credential: def.Credential,
			Active:     !def.Disabled,
			Limits:     limits,
		},
		window: NewWindow(limits.Window, limits.RequestsPerWindow, limits.TokensPerWindow),
	}
}

func (e *entry) snapshot() Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key
}

func validateDefinition(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("key id is required")
	}
	if def.Model == "" {
		return fmt.Errorf("key %s: model is required", def.ID)
	}
	if def.Credential == "" {
		return fmt.Errorf("key %s: credential is required", def.ID)
	}
	if def.Limits.RequestsPerWindow < 0 || def.Limits.TokensPerWindow < 0 {
		return fmt.Errorf("key %s: limits must not be negative", def.ID)
	}
	return nil
}
