package catalog

import (
	"fmt"
	"strings"
)

// Provider is an upstream model backend. The set is closed: every value is
// listed in Providers and adapter selection switches over all of them.
type Provider string

const (
	OpenAI    Provider = "openai"
	Anthropic Provider = "anthropic"
	Google    Provider = "google"
	Amazon    Provider = "amazon"
	Meta      Provider = "meta"
	DeepSeek  Provider = "deepseek"
	Grok      Provider = "grok"
	Ninja     Provider = "ninja"
	Alibaba   Provider = "alibaba"
	Zhipu     Provider = "zhipu"
	Moonshot  Provider = "moonshot"
	Stability Provider = "stability"
)

// Providers lists every known provider.
var Providers = []Provider{
	OpenAI, Anthropic, Google, Amazon, Meta, DeepSeek,
	Grok, Ninja, Alibaba, Zhipu, Moonshot, Stability,
}

// DisplayName returns the vendor name shown to users.
func (p Provider) DisplayName() string {
	switch p {
	case OpenAI:
		return "OpenAI"
	case Anthropic:
		return "Anthropic"
	case Google:
		return "Google"
	case Amazon:
		return "Amazon"
	case Meta:
		return "Meta"
	case DeepSeek:
		return "DeepSeek"
	case Grok:
		return "Grok"
	case Ninja:
		return "NinjaTech"
	case Alibaba:
		return "Alibaba"
	case Zhipu:
		return "Zhipu AI"
	case Moonshot:
		return "Moonshot AI"
	case Stability:
		return "Stability AI"
	}
	return string(p)
}

// CredentialEnv returns the environment variable conventionally holding the
// provider's API key, or "" when the provider has none.
func (p Provider) CredentialEnv() string {
	switch p {
	case OpenAI:
		return "OPENAI_API_KEY"
	case Anthropic:
		return "ANTHROPIC_API_KEY"
	case Google:
		return "GOOGLE_API_KEY"
	case Meta:
		return "META_API_KEY"
	case DeepSeek:
		return "DEEPSEEK_API_KEY"
	case Grok:
		return "XAI_API_KEY"
	case Ninja:
		return "NINJA_API_KEY"
	case Alibaba:
		return "DASHSCOPE_API_KEY"
	case Zhipu:
		return "ZHIPU_API_KEY"
	case Moonshot:
		return "MOONSHOT_API_KEY"
	case Amazon, Stability:
		return ""
	}
	return ""
}

// ParseProvider resolves a provider name case-insensitively.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}
