package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/failure"
)

// OpenAIAdapter calls the OpenAI chat completions API, or any backend
// exposing an OpenAI compatible endpoint.
type OpenAIAdapter struct {
	provider catalog.Provider
	baseURL  string
	timeout  time.Duration
}

// NewOpenAIAdapter creates an adapter for api.openai.com.
func NewOpenAIAdapter(timeout time.Duration) *OpenAIAdapter {
	return &OpenAIAdapter{provider: catalog.OpenAI, timeout: timeout}
}

// NewOpenAICompatibleAdapter creates an adapter for p served at baseURL.
func NewOpenAICompatibleAdapter(p catalog.Provider, baseURL string, timeout time.Duration) *OpenAIAdapter {
	return &OpenAIAdapter{provider: p, baseURL: baseURL, timeout: timeout}
}

func (a *OpenAIAdapter) Provider() catalog.Provider {
	return a.provider
}

func (a *OpenAIAdapter) client(credential string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithMaxRetries(0),
	}
	if a.baseURL != "" {
		opts = append(opts, option.WithBaseURL(a.baseURL))
	}
	if a.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(a.timeout))
	}
	return openai.NewClient(opts...)
}

// Call sends a single-turn chat completion.
func (a *OpenAIAdapter) Call(ctx context.Context, req Request) (*Response, error) {
	if req.Category == catalog.CategoryImage {
		return nil, failure.Validation("model %s generates images and cannot serve chat requests", req.Model)
	}
	if a.provider != catalog.OpenAI && a.baseURL == "" {
		return nil, failure.New(failure.KindProviderUnavailable, "no endpoint configured for %s", a.provider)
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	client := a.client(req.Credential)
	response, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.classify(ctx, req.Model, err)
	}

	if len(response.Choices) == 0 {
		return nil, &RequestError{
			Provider: a.provider,
			Model:    req.Model,
			Reason:   ReasonEmpty,
			Err:      fmt.Errorf("no response choices returned"),
		}
	}

	return &Response{
		Content:  response.Choices[0].Message.Content,
		Model:    req.Model,
		Provider: a.provider,
		Usage: Usage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		},
	}, nil
}

func (a *OpenAIAdapter) classify(ctx context.Context, model string, err error) error {
	reqErr := &RequestError{Provider: a.provider, Model: model, Reason: ReasonUpstream, Err: err}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		reqErr.Status = apiErr.StatusCode
		reqErr.Reason = reasonForStatus(apiErr.StatusCode, err.Error())
		return reqErr
	}
	if reason, ok := contextReason(ctx, err); ok {
		reqErr.Reason = reason
	}
	return reqErr
}
