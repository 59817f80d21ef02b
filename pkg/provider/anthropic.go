package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/superninja/pkg/catalog"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicAdapter calls the Anthropic messages API.
type AnthropicAdapter struct {
	baseURL string
	timeout time.Duration
}

// NewAnthropicAdapter creates an Anthropic adapter. An empty baseURL uses
// the public API.
func NewAnthropicAdapter(baseURL string, timeout time.Duration) *AnthropicAdapter {
	return &AnthropicAdapter{baseURL: baseURL, timeout: timeout}
}

func (a *AnthropicAdapter) Provider() catalog.Provider {
	return catalog.Anthropic
}

func (a *AnthropicAdapter) Call(ctx context.Context, req Request) (*Response, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(req.Credential),
		option.WithMaxRetries(0),
	}
	if a.baseURL != "" {
		opts = append(opts, option.WithBaseURL(a.baseURL))
	}
	if a.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(a.timeout))
	}
	client := anthropic.NewClient(opts...)

	// The messages API requires an explicit ceiling.
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	response, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.classify(ctx, req.Model, err)
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}
	if content == "" {
		return nil, &RequestError{
			Provider: catalog.Anthropic,
			Model:    req.Model,
			Reason:   ReasonEmpty,
			Err:      fmt.Errorf("no text content returned"),
		}
	}

	return &Response{
		Content:  content,
		Model:    req.Model,
		Provider: catalog.Anthropic,
		Usage: Usage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicAdapter) classify(ctx context.Context, model string, err error) error {
	reqErr := &RequestError{Provider: catalog.Anthropic, Model: model, Reason: ReasonUpstream, Err: err}

	var apiErr *anthropic.Error
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
