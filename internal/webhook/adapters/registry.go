// Package adapters holds provider-specific webhook verification and parsing.
// Knowledge of a provider's payload shape never leaves its adapter.
package adapters

import (
	"context"
	"net/http"
	"strings"

	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
)

// Adapter verifies and normalizes one billing provider's webhook payloads.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*entitlementdomain.CanonicalEvent, error)
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	registry := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		registry.adapters[strings.ToLower(adapter.Provider())] = adapter
	}
	return registry
}

func (r *Registry) Lookup(provider string) (Adapter, error) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, entitlementdomain.ErrUnknownProvider
	}
	return adapter, nil
}
