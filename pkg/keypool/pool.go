// Package keypool tracks provider credentials, their per-key sliding window
// limits and their usage, and hands out the least-recently-used eligible key
// for a model.
package keypool

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/superninja/internal/observability"
	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/failure"
)

// Pool is the registry of provider keys.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byModel map[string][]*entry

	catalog *catalog.Catalog
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// New creates an empty pool. The catalog prices token usage.
func New(cat *catalog.Catalog, logger zerolog.Logger, opts ...Option) *Pool {
	p := &Pool{
		entries: make(map[string]*entry),
		byModel: make(map[string][]*entry),
		catalog: cat,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add registers a key.
func (p *Pool) Add(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return failure.Wrap(failure.KindValidation, err, "invalid key")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[def.ID]; exists {
		return failure.Validation("key %s already registered", def.ID)
	}
	e := newEntry(def)
	p.entries[def.ID] = e
	p.byModel[def.Model] = append(p.byModel[def.Model], e)

	p.logger.Debug().
		Str("key_id", def.ID).
		Str("model", def.Model).
		Str("provider", string(def.Provider)).
		Msg("Key registered")
	return nil
}

// Remove drops a key from the pool. Calls already holding its credential
// finish, but their usage is no longer recorded.
func (p *Pool) Remove(keyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[keyID]
	if !ok {
		return failure.New(failure.KindNotFound, "key %s not found", keyID)
	}
	delete(p.entries, keyID)

	model := e.snapshot().Model
	kept := make([]*entry, 0, len(p.byModel[model]))
	for _, other := range p.byModel[model] {
		if other != e {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(p.byModel, model)
	} else {
		p.byModel[model] = kept
	}

	p.logger.Info().Str("key_id", keyID).Str("model", model).Msg("Key removed")
	return nil
}

// SyncReport summarizes what Sync changed.
type SyncReport struct {
	Added       []string
	Updated     []string
	Reactivated []string
}

// Sync applies reloaded definitions. Unknown keys are added, known keys get
// their limits refreshed, and a key exhausted earlier is reactivated when its
// credential was rotated. Keys absent from defs are left untouched.
func (p *Pool) Sync(defs []Definition) (SyncReport, error) {
	var report SyncReport
	for _, def := range defs {
		if err := validateDefinition(def); err != nil {
			return report, failure.Wrap(failure.KindValidation, err, "invalid key")
		}

		p.mu.RLock()
		e, exists := p.entries[def.ID]
		p.mu.RUnlock()

		if !exists {
			if err := p.Add(def); err != nil {
				return report, err
			}
			report.Added = append(report.Added, def.ID)
			continue
		}

		e.mu.Lock()
		rotated := e.key.Credential != def.Credential
		e.key.Credential = def.Credential
		e.key.Limits = def.Limits
		e.window.UpdateLimits(def.Limits.Window, def.Limits.RequestsPerWindow, def.Limits.TokensPerWindow)
		reactivated := rotated && !e.key.Active && !def.Disabled
		if reactivated {
			e.key.Active = true
			e.key.InactiveReason = ""
		}
		e.mu.Unlock()

		report.Updated = append(report.Updated, def.ID)
		if reactivated {
			report.Reactivated = append(report.Reactivated, def.ID)
			p.logger.Info().Str("key_id", def.ID).Msg("Key reactivated after credential rotation")
		}
	}
	return report, nil
}

type candidate struct {
	e        *entry
	lastUsed time.Time
	id       string
}

// AcquireKey selects the least-recently-used active key for model that its
// window admits, reserving one request slot on it.
func (p *Pool) AcquireKey(modelID string) (Key, error) {
	p.mu.RLock()
	pool := append([]*entry(nil), p.byModel[modelID]...)
	p.mu.RUnlock()

	if len(pool) == 0 {
		return Key{}, failure.New(failure.KindProviderUnavailable, "no keys configured for model %s", modelID)
	}

	candidates := make([]candidate, 0, len(pool))
	for _, e := range pool {
		e.mu.Lock()
		if e.key.Active {
			candidates = append(candidates, candidate{e: e, lastUsed: e.key.LastUsed, id: e.key.ID})
		}
		e.mu.Unlock()
	}
	if len(candidates) == 0 {
		return Key{}, failure.New(failure.KindProviderUnavailable, "no active keys for model %s", modelID)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastUsed.Equal(candidates[j].lastUsed) {
			return candidates[i].id < candidates[j].id
		}
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})

	now := p.now()
	for _, c := range candidates {
		c.e.mu.Lock()
		// State may have changed since the candidate list was taken.
		if !c.e.key.Active {
			c.e.mu.Unlock()
			continue
		}
		allowed, reason := c.e.window.Admit(now)
		if !allowed {
			c.e.mu.Unlock()
			p.logger.Debug().Str("key_id", c.id).Str("reason", reason).Msg("Key skipped")
			continue
		}
		c.e.key.LastUsed = now
		snap := c.e.key
		c.e.mu.Unlock()
		return snap, nil
	}

	observability.RecordKeyRateLimited(modelID)
	return Key{}, failure.New(failure.KindRateLimitExceeded, "all keys for model %s are at their rate limit", modelID)
}

// RecordUsage adds a successful call's consumption to the key's counters.
func (p *Pool) RecordUsage(keyID string, requestDelta, tokenDelta int64) error {
	if requestDelta < 0 || tokenDelta < 0 {
		return failure.Validation("usage deltas must not be negative")
	}
	e, err := p.entry(keyID)
	if err != nil {
		return err
	}

	var cost float64
	if p.catalog != nil {
		if m, ok := p.catalog.Lookup(e.key.Model); ok {
			cost = m.Cost(tokenDelta)
		}
	}

	now := p.now()
	e.mu.Lock()
	e.key.Usage.Requests += requestDelta
	e.key.Usage.Tokens += tokenDelta
	e.key.Usage.Cost += cost
	e.key.LastUsed = now
	e.window.AddTokens(now, tokenDelta)
	e.mu.Unlock()
	return nil
}

// RecordFailure counts a failed call without touching usage counters.
func (p *Pool) RecordFailure(keyID string) error {
	e, err := p.entry(keyID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.key.Usage.Failures++
	e.mu.Unlock()
	return nil
}

// MarkExhausted takes a key out of rotation after an auth or quota
// rejection. Only Reactivate or a credential rotation brings it back.
func (p *Pool) MarkExhausted(keyID, reason string) error {
	e, err := p.entry(keyID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	wasActive := e.key.Active
	e.key.Active = false
	e.key.InactiveReason = reason
	provider := e.key.Provider
	e.mu.Unlock()

	if wasActive {
		observability.RecordKeyExhausted(string(provider))
		p.logger.Warn().
			Str("key_id", keyID).
			Str("provider", string(provider)).
			Str("reason", reason).
			Msg("Key marked inactive")
	}
	return nil
}

// Deactivate is the admin action that takes a key out of rotation.
func (p *Pool) Deactivate(keyID string) error {
	return p.MarkExhausted(keyID, "disabled by admin")
}

// Reactivate is the admin action that returns a key to rotation.
func (p *Pool) Reactivate(keyID string) error {
	e, err := p.entry(keyID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.key.Active = true
	e.key.InactiveReason = ""
	e.mu.Unlock()

	p.logger.Info().Str("key_id", keyID).Msg("Key reactivated")
	return nil
}

// SetActive is the admin toggle for a key.
func (p *Pool) SetActive(keyID string, active bool) error {
	if active {
		return p.Reactivate(keyID)
	}
	return p.Deactivate(keyID)
}

// Get returns a snapshot of a key.
func (p *Pool) Get(keyID string) (Key, bool) {
	p.mu.RLock()
	e, ok := p.entries[keyID]
	p.mu.RUnlock()
	if !ok {
		return Key{}, false
	}
	return e.snapshot(), true
}

// List returns snapshots of every key, busiest first.
func (p *Pool) List() []Key {
	p.mu.RLock()
	keys := make([]Key, 0, len(p.entries))
	for _, e := range p.entries {
		keys = append(keys, e.snapshot())
	}
	p.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Usage.Requests == keys[j].Usage.Requests {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].Usage.Requests > keys[j].Usage.Requests
	})
	return keys
}

// UsageByModel aggregates usage counters per model.
func (p *Pool) UsageByModel() map[string]Usage {
	out := make(map[string]Usage)
	for _, k := range p.List() {
		u := out[k.Model]
		u.Requests += k.Usage.Requests
		u.Tokens += k.Usage.Tokens
		u.Cost += k.Usage.Cost
		u.Failures += k.Usage.Failures
		out[k.Model] = u
	}
	return out
}

// Stats summarizes the pool.
type Stats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// Stats returns the number of registered and active keys.
func (p *Pool) Stats() Stats {
	var s Stats
	for _, k := range p.List() {
		s.Total++
		if k.Active {
			s.Active++
		}
	}
	return s
}

func (p *Pool) entry(keyID string) (*entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[keyID]
	if !ok {
		return nil, failure.New(failure.KindNotFound, "key %s not found", keyID)
	}
	return e, nil
}
