package provider

import (
	"context"
	"time"

	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/failure"
)

// Endpoints maps providers to their base URL.
type Endpoints map[catalog.Provider]string

// DefaultEndpoints returns the public base URLs of the OpenAI compatible
// backends. Ninja has no public endpoint and must be configured.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		catalog.Google:   "https://generativelanguage.googleapis.com/v1beta/openai/",
		catalog.DeepSeek: "https://api.deepseek.com/v1",
		catalog.Grok:     "https://api.x.ai/v1",
		catalog.Meta:     "https://api.llama.com/compat/v1/",
		catalog.Alibaba:  "https://dashscope-intl.aliyuncs.com/compatible-mode/v1",
		catalog.Zhipu:    "https://open.bigmodel.cn/api/paas/v4/",
		catalog.Moonshot: "https://api.moonshot.ai/v1",
	}
}

// Merge returns a copy of e with the non-empty entries of overrides applied.
func (e Endpoints) Merge(overrides Endpoints) Endpoints {
	out := make(Endpoints, len(e)+len(overrides))
	for p, url := range e {
		out[p] = url
	}
	for p, url := range overrides {
		if url != "" {
			out[p] = url
		}
	}
	return out
}

// NewAdapter builds the adapter serving p.
func NewAdapter(p catalog.Provider, endpoints Endpoints, timeout time.Duration) (Adapter, error) {
	switch p {
	case catalog.OpenAI:
		if url := endpoints[p]; url != "" {
			return NewOpenAICompatibleAdapter(p, url, timeout), nil
		}
		return NewOpenAIAdapter(timeout), nil
	case catalog.Anthropic:
		return NewAnthropicAdapter(endpoints[p], timeout), nil
	case catalog.Google, catalog.Meta, catalog.DeepSeek, catalog.Grok,
		catalog.Alibaba, catalog.Zhipu, catalog.Moonshot:
		return NewOpenAICompatibleAdapter(p, endpoints[p], timeout), nil
	case catalog.Ninja:
		url := endpoints[p]
		if url == "" {
			return unavailableAdapter{provider: p}, nil
		}
		return NewOpenAICompatibleAdapter(p, url, timeout), nil
	case catalog.Amazon, catalog.Stability:
		return NewUnsupportedAdapter(p), nil
	default:
		return nil, failure.Validation("unknown provider %q", p)
	}
}

// unavailableAdapter backs a provider whose endpoint is not configured.
type unavailableAdapter struct {
	provider catalog.Provider
}

func (a unavailableAdapter) Provider() catalog.Provider {
	return a.provider
}

func (a unavailableAdapter) Call(context.Context, Request) (*Response, error) {
	return nil, failure.New(failure.KindProviderUnavailable, "no endpoint configured for %s", a.provider.DisplayName())
}
