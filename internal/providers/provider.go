// Package providers implements cloud-specific cost data retrieval.
package providers

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/google/uuid"

	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

// Adapter pulls provider-native billing data and maps it to canonical usage records.
//
// Fetch is lazy: config validation, credential acquisition and every provider
// call happen while the sequence is ranged, and ranging again fetches again.
// A data error is yielded for each dropped row and the sequence continues;
// any other error ends it.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, tenantID uuid.UUID, cfg integration.Config) iter.Seq2[normalizer.UsageRecord, error]
}

// Key selects an adapter
type Key struct {
	Provider integration.Provider
	Type     integration.Type
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Provider, k.Type)
}

// Registry maps (provider, integration type) pairs to adapters.
// It is built once at startup and only read afterwards.
type Registry struct {
	adapters map[Key]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Key]Adapter)}
}

// Register binds an adapter to a pair, replacing any previous binding.
func (r *Registry) Register(provider integration.Provider, typ integration.Type, adapter Adapter) *Registry {
	r.adapters[Key{Provider: provider, Type: typ}] = adapter
	return r
}

// Lookup returns the adapter for a pair
func (r *Registry) Lookup(provider integration.Provider, typ integration.Type) (Adapter, bool) {
	a, ok := r.adapters[Key{Provider: provider, Type: typ}]
	return a, ok
}

// Keys returns the registered pairs in a stable order
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
