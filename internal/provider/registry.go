package provider

import (
	"context"
	"sync"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
)

// defaultChain is the priority order DefaultProviderName walks when the
// caller didn't name one explicitly: prefer the biggest first-party
// providers, fall back to whatever aggregator is configured, and only fall
// back to "none" when nothing else is registered.
var defaultChain = []string{"openai", "anthropic", "google", "openrouter"}

// Registry holds every configured Provider, keyed by name. It is built once
// at startup and read many times concurrently, so lookups take no lock —
// the map itself is never mutated after NewRegistry returns.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry wraps an already-built provider map. The "none" provider is
// always present, even if the caller's map doesn't include it, so
// GetProvider("none") and the default-chain fallback never fail.
func NewRegistry(providers map[string]Provider) *Registry {
	reg := &Registry{providers: make(map[string]Provider, len(providers)+1)}
	for name, p := range providers {
		reg.providers[name] = p
	}
	if _, ok := reg.providers["none"]; !ok {
		reg.providers["none"] = NewNoneProvider()
	}
	return reg
}

// GetProvider looks up a provider by name.
func (r *Registry) GetProvider(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, apperr.ProviderNotConfiguredError(name)
	}
	return p, nil
}

// GetProviders returns the full registered set.
func (r *Registry) GetProviders() map[string]Provider {
	return r.providers
}

// DefaultProviderName walks the priority chain and returns the first
// registered name that isn't "none", falling back to "none" itself only
// when nothing else is configured.
func (r *Registry) DefaultProviderName() string {
	for _, name := range defaultChain {
		if _, ok := r.providers[name]; ok {
			return name
		}
	}
	for name := range r.providers {
		if name != "none" {
			return name
		}
	}
	return "none"
}

// providerInfoResult pairs a Descriptor with the name it was built for, so
// concurrent fan-out results can be reassembled in GetProvidersInfo without
// a second lookup.
type providerInfoResult struct {
	name string
	desc Descriptor
}

// GetProvidersInfo fans out GetModels calls to every registered provider
// concurrently and assembles a name-keyed map of Descriptors. A provider
// whose GetModels call fails still gets an entry, with Error set, instead
// of being silently dropped from the response.
func (r *Registry) GetProvidersInfo(ctx context.Context) map[string]Descriptor {
	results := make(chan providerInfoResult, len(r.providers))

	var wg sync.WaitGroup
	for name, p := range r.providers {
		wg.Add(1)
		go func(name string, p Provider) {
			defer wg.Done()
			models, err := p.GetModels(ctx)
			desc := Descriptor{Name: name, Models: models}
			if len(models) > 0 {
				desc.DefaultModel = models[0].ID
			}
			if err != nil {
				desc.Error = err.Error()
			}
			results <- providerInfoResult{name: name, desc: desc}
		}(name, p)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]Descriptor, len(r.providers))
	for res := range results {
		out[res.name] = res.desc
	}
	return out
}
