package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/keypool"
)

func newPool(t *testing.T, defs ...keypool.Definition) *keypool.Pool {
	t.Helper()
	p := keypool.New(catalog.Default(), zerolog.Nop())
	for _, d := range defs {
		require.NoError(t, p.Add(d))
	}
	return p
}

func keyDef(id string, p catalog.Provider, model string) keypool.Definition {
	return keypool.Definition{
		ID:         id,
		Provider:   p,
		Model:      model,
		Credential: "secret-" + id,
		Limits:     keypool.DefaultLimits(),
	}
}

func staticAdapter(p catalog.Provider, content string, in, out int64) AdapterFunc {
	return AdapterFunc{
		Backend: p,
		Fn: func(_ context.Context, req Request) (*Response, error) {
			return &Response{Content: content + ":" + req.Prompt, Usage: Usage{InputTokens: in, OutputTokens: out}}, nil
		},
	}
}

func TestRouter_Invoke(t *testing.T) {
	t.Run("should call the adapter and record usage on the key", func(t *testing.T) {
		pool := newPool(t, keyDef("k1", catalog.OpenAI, "gpt-4o"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop(), WithAdapter(staticAdapter(catalog.OpenAI, "ok", 100, 900)))

		resp, err := r.Invoke(context.Background(), "gpt-4o", "hello", Options{})
		require.NoError(t, err)
		assert.Equal(t, "ok:hello", resp.Content)
		assert.Equal(t, "k1", resp.KeyID)
		assert.Equal(t, catalog.OpenAI, resp.Provider)
		assert.Equal(t, "gpt-4o", resp.Model)

		key, ok := pool.Get("k1")
		require.True(t, ok)
		assert.Equal(t, int64(1), key.Usage.Requests)
		assert.Equal(t, int64(1000), key.Usage.Tokens)
		assert.InDelta(t, 0.005, key.Usage.Cost, 1e-9)
	})

	t.Run("should pass the options to the adapter", func(t *testing.T) {
		var got Request
		pool := newPool(t, keyDef("k1", catalog.Anthropic, "claude-3-haiku-20240307"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop(), WithAdapter(AdapterFunc{
			Backend: catalog.Anthropic,
			Fn: func(_ context.Context, req Request) (*Response, error) {
				got = req
				return &Response{Content: "x"}, nil
			},
		}))

		_, err := r.Invoke(context.Background(), "claude-3-haiku-20240307", "p", Options{SystemPrompt: "sys", Temperature: 0.1, MaxTokens: 2048})
		require.NoError(t, err)
		assert.Equal(t, "sys", got.SystemPrompt)
		assert.Equal(t, 0.1, got.Temperature)
		assert.Equal(t, 2048, got.MaxTokens)
		assert.Equal(t, "secret-k1", got.Credential)
	})

	t.Run("should reject unknown models and empty prompts", func(t *testing.T) {
		r := NewRouter(catalog.Default(), newPool(t), zerolog.Nop())

		_, err := r.Invoke(context.Background(), "no-such-model", "hi", Options{})
		assert.ErrorIs(t, err, failure.ErrValidation)

		_, err = r.Invoke(context.Background(), "gpt-4o", "   ", Options{})
		assert.ErrorIs(t, err, failure.ErrValidation)
	})

	t.Run("should reject image models without touching their keys", func(t *testing.T) {
		def := keyDef("img", catalog.OpenAI, "dall-e-3")
		def.Limits.RequestsPerWindow = 1
		pool := newPool(t, def)
		var calls atomic.Int32
		adapter := AdapterFunc{Backend: catalog.OpenAI, Fn: func(context.Context, Request) (*Response, error) {
			calls.Add(1)
			return &Response{Content: "unexpected"}, nil
		}}
		r := NewRouter(catalog.Default(), pool, zerolog.Nop(), WithAdapter(adapter))

		for i := 0; i < 3; i++ {
			_, err := r.Invoke(context.Background(), "dall-e-3", "a cat", Options{})
			assert.ErrorIs(t, err, failure.ErrValidation)
		}
		assert.Zero(t, calls.Load())

		key, ok := pool.Get("img")
		require.True(t, ok)
		assert.True(t, key.Active)
		assert.Zero(t, key.Usage.Failures)
		assert.True(t, key.LastUsed.IsZero())

		acquired, err := pool.AcquireKey("dall-e-3")
		require.NoError(t, err)
		assert.Equal(t, "img", acquired.ID)
	})

	t.Run("should fail with provider unavailable when no key is configured", func(t *testing.T) {
		r := NewRouter(catalog.Default(), newPool(t), zerolog.Nop(), WithAdapter(staticAdapter(catalog.OpenAI, "ok", 1, 1)))
		_, err := r.Invoke(context.Background(), "gpt-4o", "hi", Options{})
		assert.ErrorIs(t, err, failure.ErrProviderUnavailable)
	})

	t.Run("should mark the key exhausted on auth failure", func(t *testing.T) {
		pool := newPool(t, keyDef("k1", catalog.OpenAI, "gpt-4o"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop(), WithAdapter(AdapterFunc{
			Backend: catalog.OpenAI,
			Fn: func(_ context.Context, req Request) (*Response, error) {
				return nil, &RequestError{Provider: catalog.OpenAI, Model: req.Model, Status: 401, Reason: ReasonAuth}
			},
		}))

		_, err := r.Invoke(context.Background(), "gpt-4o", "hi", Options{})
		assert.ErrorIs(t, err, failure.ErrProviderRequestFailed)

		key, _ := pool.Get("k1")
		assert.False(t, key.Active)
		assert.Equal(t, "auth", key.InactiveReason)
		assert.Equal(t, int64(1), key.Usage.Failures)
		assert.Equal(t, int64(0), key.Usage.Requests)

		_, err = r.Invoke(context.Background(), "gpt-4o", "hi", Options{})
		assert.ErrorIs(t, err, failure.ErrProviderUnavailable)
	})

	t.Run("should keep the key active on transient failures", func(t *testing.T) {
		pool := newPool(t, keyDef("k1", catalog.OpenAI, "gpt-4o"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop(), WithAdapter(AdapterFunc{
			Backend: catalog.OpenAI,
			Fn: func(_ context.Context, req Request) (*Response, error) {
				return nil, &RequestError{Provider: catalog.OpenAI, Model: req.Model, Status: 500, Reason: ReasonUpstream}
			},
		}))

		_, err := r.Invoke(context.Background(), "gpt-4o", "hi", Options{})
		assert.Equal(t, failure.KindProviderRequestFailed, failure.KindOf(err))

		key, _ := pool.Get("k1")
		assert.True(t, key.Active)
		assert.Equal(t, int64(1), key.Usage.Failures)
	})

	t.Run("should spread calls across keys least recently used first", func(t *testing.T) {
		pool := newPool(t, keyDef("a", catalog.OpenAI, "gpt-4o"), keyDef("b", catalog.OpenAI, "gpt-4o"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop(), WithAdapter(staticAdapter(catalog.OpenAI, "ok", 1, 1)))

		seen := map[string]int{}
		for i := 0; i < 4; i++ {
			resp, err := r.Invoke(context.Background(), "gpt-4o", "hi", Options{})
			require.NoError(t, err)
			seen[resp.KeyID]++
		}
		assert.Equal(t, map[string]int{"a": 2, "b": 2}, seen)
	})

	t.Run("should fail unsupported providers without fabricating a response", func(t *testing.T) {
		pool := newPool(t, keyDef("k1", catalog.Amazon, "titan-text-express-v1"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop())

		_, err := r.Invoke(context.Background(), "titan-text-express-v1", "hi", Options{})
		require.Error(t, err)
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, ReasonUnsupported, reqErr.Reason)

		key, _ := pool.Get("k1")
		assert.True(t, key.Active)
	})

	t.Run("should report ninja as unavailable without an endpoint", func(t *testing.T) {
		pool := newPool(t, keyDef("k1", catalog.Ninja, "ninja-405b"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop())

		_, err := r.Invoke(context.Background(), "ninja-405b", "hi", Options{})
		assert.ErrorIs(t, err, failure.ErrProviderUnavailable)
	})
}

func chatCompletionServer(t *testing.T, status int, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer secret-k1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter_OpenAICompatible(t *testing.T) {
	t.Run("should call the configured endpoint", func(t *testing.T) {
		var calls atomic.Int32
		srv := chatCompletionServer(t, http.StatusOK, `{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "deepseek-chat",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "pong"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8}
		}`, &calls)

		pool := newPool(t, keyDef("k1", catalog.DeepSeek, "deepseek-chat"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop(),
			WithEndpoints(Endpoints{catalog.DeepSeek: srv.URL + "/v1/"}),
			WithTimeout(5*time.Second))

		resp, err := r.Invoke(context.Background(), "deepseek-chat", "ping", Options{SystemPrompt: "be brief"})
		require.NoError(t, err)
		assert.Equal(t, "pong", resp.Content)
		assert.Equal(t, int64(8), resp.Usage.Total())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("should classify quota exhaustion and not retry", func(t *testing.T) {
		var calls atomic.Int32
		srv := chatCompletionServer(t, http.StatusTooManyRequests,
			`{"error": {"message": "You exceeded your current quota", "type": "insufficient_quota"}}`, &calls)

		pool := newPool(t, keyDef("k1", catalog.Grok, "grok-beta"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop(), WithEndpoints(Endpoints{catalog.Grok: srv.URL + "/v1/"}))

		_, err := r.Invoke(context.Background(), "grok-beta", "ping", Options{})
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusTooManyRequests, reqErr.Status)
		assert.Equal(t, ReasonQuota, reqErr.Reason)
		assert.Equal(t, int32(1), calls.Load())

		key, _ := pool.Get("k1")
		assert.False(t, key.Active)
	})
}

func TestRouter_Anthropic(t *testing.T) {
	t.Run("should concatenate text blocks", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
			assert.Equal(t, "secret-k1", r.Header.Get("X-Api-Key"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprint(w, `{
				"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-haiku-20240307",
				"content": [{"type": "text", "text": "hel"}, {"type": "text", "text": "lo"}],
				"stop_reason": "end_turn", "stop_sequence": null,
				"usage": {"input_tokens": 4, "output_tokens": 6}
			}`)
		}))
		t.Cleanup(srv.Close)

		pool := newPool(t, keyDef("k1", catalog.Anthropic, "claude-3-haiku-20240307"))
		r := NewRouter(catalog.Default(), pool, zerolog.Nop(), WithEndpoints(Endpoints{catalog.Anthropic: srv.URL + "/"}))

		resp, err := r.Invoke(context.Background(), "claude-3-haiku-20240307", "hi", Options{SystemPrompt: "sys"})
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Content)
		assert.Equal(t, Usage{InputTokens: 4, OutputTokens: 6}, resp.Usage)
	})
}
