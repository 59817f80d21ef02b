package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/superninja/internal/observability"
	"github.com/harun/superninja/internal/tracing"
	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/keypool"
)

// Invoker is the capability the rest of the system needs from the router.
type Invoker interface {
	Invoke(ctx context.Context, modelID, prompt string, opts Options) (*Response, error)
}

// Router resolves a model to its provider, acquires a key and performs the
// call, feeding the outcome back into the key pool.
type Router struct {
	catalog   *catalog.Catalog
	pool      *keypool.Pool
	logger    zerolog.Logger
	endpoints Endpoints
	timeout   time.Duration

	mu       sync.Mutex
	adapters map[catalog.Provider]Adapter
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithAdapter installs a for its provider, replacing the built-in one.
func WithAdapter(a Adapter) RouterOption {
	return func(r *Router) {
		r.adapters[a.Provider()] = a
	}
}

// WithEndpoints overrides the base URLs of OpenAI compatible providers.
func WithEndpoints(e Endpoints) RouterOption {
	return func(r *Router) {
		r.endpoints = r.endpoints.Merge(e)
	}
}

// WithTimeout bounds each upstream request.
func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		r.timeout = d
	}
}

// NewRouter creates a router.
func NewRouter(cat *catalog.Catalog, pool *keypool.Pool, logger zerolog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		catalog:   cat,
		pool:      pool,
		logger:    logger,
		endpoints: DefaultEndpoints(),
		adapters:  make(map[catalog.Provider]Adapter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) adapter(p catalog.Provider) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[p]; ok {
		return a, nil
	}
	a, err := NewAdapter(p, r.endpoints, r.timeout)
	if err != nil {
		return nil, err
	}
	r.adapters[p] = a
	return a, nil
}

// Invoke runs prompt against modelID.
func (r *Router) Invoke(ctx context.Context, modelID, prompt string, opts Options) (*Response, error) {
	model, ok := r.catalog.Lookup(modelID)
	if !ok {
		return nil, failure.Validation("unknown model %q", modelID)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, failure.Validation("prompt must not be empty")
	}
	if model.Category == catalog.CategoryImage {
		return nil, failure.Validation("model %s generates images and cannot serve chat requests", modelID)
	}

	adapter, err := r.adapter(model.Provider)
	if err != nil {
		return nil, err
	}

	key, err := r.pool.AcquireKey(modelID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "provider.invoke",
		attribute.String("provider", string(model.Provider)),
		attribute.String("model", modelID),
		attribute.String("key_id", key.ID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger).With().
		Str("provider", string(model.Provider)).
		Str("model", modelID).
		Str("key_id", key.ID).
		Logger()

	start := time.Now()
	resp, err := adapter.Call(ctx, Request{
		Model:        modelID,
		Credential:   key.Credential,
		Category:     model.Category,
		SystemPrompt: opts.SystemPrompt,
		Prompt:       prompt,
		Temperature:  opts.Temperature,
		MaxTokens:    opts.MaxTokens,
	})
	latency := time.Since(start)

	if err != nil {
		observability.RecordProviderCall(string(model.Provider), modelID, latency, false, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if ferr := r.pool.RecordFailure(key.ID); ferr != nil {
			logger.Warn().Err(ferr).Msg("Failed to record key failure")
		}
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Reason.ExhaustsKey() {
			if merr := r.pool.MarkExhausted(key.ID, string(reqErr.Reason)); merr != nil {
				logger.Warn().Err(merr).Msg("Failed to mark key exhausted")
			}
		}
		logger.Error().Err(err).Dur("latency", latency).Msg("Provider call failed")
		return nil, err
	}

	if uerr := r.pool.RecordUsage(key.ID, 1, resp.Usage.Total()); uerr != nil {
		logger.Warn().Err(uerr).Msg("Failed to record key usage")
	}
	observability.RecordProviderCall(string(model.Provider), modelID, latency, true, resp.Usage.Total())

	resp.Model = modelID
	resp.Provider = model.Provider
	resp.KeyID = key.ID
	resp.Latency = latency

	span.SetAttributes(attribute.Int64("tokens", resp.Usage.Total()))
	logger.Debug().
		Int64("tokens", resp.Usage.Total()).
		Dur("latency", latency).
		Msg("Provider call completed")

	return resp, nil
}
