// Package provider turns a model invocation into a call against the
// upstream backend serving that model, using a key drawn from the key pool.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/failure"
)

// Options tune a single invocation.
type Options struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Request is what an adapter sends upstream.
type Request struct {
	Model        string
	Credential   string
	Category     catalog.Category
	SystemPrompt string
	Prompt       string
	Temperature  float64
	MaxTokens    int
}

// Usage tracks token consumption
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Response is a successful invocation.
type Response struct {
	Content  string           `json:"content"`
	Usage    Usage            `json:"usage"`
	Model    string           `json:"model"`
	Provider catalog.Provider `json:"provider"`
	KeyID    string           `json:"keyId,omitempty"`
	Latency  time.Duration    `json:"latency"`
}

// Adapter calls one upstream backend.
type Adapter interface {
	Call(ctx context.Context, req Request) (*Response, error)
	Provider() catalog.Provider
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc struct {
	Backend catalog.Provider
	Fn      func(ctx context.Context, req Request) (*Response, error)
}

func (f AdapterFunc) Call(ctx context.Context, req Request) (*Response, error) {
	return f.Fn(ctx, req)
}

func (f AdapterFunc) Provider() catalog.Provider {
	return f.Backend
}

// Reason classifies an upstream failure.
type Reason string

const (
	ReasonAuth        Reason = "auth"
	ReasonQuota       Reason = "quota"
	ReasonRateLimited Reason = "rate_limited"
	ReasonTimeout     Reason = "timeout"
	ReasonUpstream    Reason = "upstream"
	ReasonUnsupported Reason = "unsupported"
	ReasonEmpty       Reason = "empty_response"
)

// ExhaustsKey reports whether the failure should take the key out of rotation.
func (r Reason) ExhaustsKey() bool {
	return r == ReasonAuth || r == ReasonQuota
}

// RequestError is an upstream call failure.
type RequestError struct {
	Provider catalog.Provider
	Model    string
	Status   int
	Reason   Reason
	Err      error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s request for %s failed (%s)", e.Provider, e.Model, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// FailureKind implements failure.Kinded.
func (e *RequestError) FailureKind() failure.Kind {
	return failure.KindProviderRequestFailed
}

// Is matches failure.ErrProviderRequestFailed.
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*failure.Error)
	return ok && t.Kind == failure.KindProviderRequestFailed
}

// reasonForStatus maps an HTTP status and error text to a Reason.
func reasonForStatus(status int, message string) Reason {
	lower := strings.ToLower(message)
	switch {
	case status == 401 || status == 403:
		return ReasonAuth
	case status == 402:
		return ReasonQuota
	case status == 429:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient") || strings.Contains(lower, "credit") {
			return ReasonQuota
		}
		return ReasonRateLimited
	case status == 408 || status == 504:
		return ReasonTimeout
	}
	return ReasonUpstream
}

func contextReason(ctx context.Context, err error) (Reason, bool) {
	if ctx.Err() != nil {
		return ReasonTimeout, true
	}
	if err != nil && (strings.Contains(err.Error(), context.DeadlineExceeded.Error()) || strings.Contains(err.Error(), "Client.Timeout")) {
		return ReasonTimeout, true
	}
	return "", false
}
