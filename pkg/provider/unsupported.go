package provider

import (
	"context"
	"fmt"

	"github.com/harun/superninja/pkg/catalog"
)

// UnsupportedAdapter stands in for backends without an integration. Every
// call fails; it never fabricates a response.
type UnsupportedAdapter struct {
	provider catalog.Provider
}

// NewUnsupportedAdapter creates an adapter that always fails for p.
func NewUnsupportedAdapter(p catalog.Provider) *UnsupportedAdapter {
	return &UnsupportedAdapter{provider: p}
}

func (a *UnsupportedAdapter) Provider() catalog.Provider {
	return a.provider
}

func (a *UnsupportedAdapter) Call(_ context.Context, req Request) (*Response, error) {
	return nil, &RequestError{
		Provider: a.provider,
		Model:    req.Model,
		Reason:   ReasonUnsupported,
		Err:      fmt.Errorf("%s backend is not integrated", a.provider.DisplayName()),
	}
}
