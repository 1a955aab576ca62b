package routing

import (
	"fmt"

	"github.com/hvngo/llm-dispatch/internal/provider"
)

// Registry is the closed set of backends, keyed by descriptor ID. Built once
// at startup and read-only afterwards.
type Registry struct {
	byID    map[string]provider.Provider
	localID string
}

// NewRegistry indexes the given providers. localID names the designated
// on-prem backend the strict-privacy override targets; it may be empty when
// no local backend is deployed.
func NewRegistry(providers []provider.Provider, localID string) (*Registry, error) {
	byID := make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		id := p.Descriptor().ID
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", id)
		}
		byID[id] = p
	}
	if localID != "" {
		if _, ok := byID[localID]; !ok {
			return nil, fmt.Errorf("local provider %q not registered", localID)
		}
	}
	return &Registry{byID: byID, localID: localID}, nil
}

func (r *Registry) Get(id string) (provider.Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Local returns the designated strict-privacy backend, if one is configured.
func (r *Registry) Local() (provider.Provider, bool) {
	if r.localID == "" {
		return nil, false
	}
	p, ok := r.byID[r.localID]
	return p, ok
}

// Label resolves a provider ID to its human label, falling back to the ID
// itself for providers no longer registered (old ledger entries).
func (r *Registry) Label(id string) string {
	if p, ok := r.byID[id]; ok {
		return p.Descriptor().Label
	}
	return id
}
