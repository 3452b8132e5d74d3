package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lvonguyen/cloudspend/internal/aggregator"
	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

// MemoryStore is an in-process store used by tests and the demo server.
type MemoryStore struct {
	mu            sync.RWMutex
	integrations  []integration.Integration
	usage         []normalizer.UsageRecord
	facts         []normalizer.CostFact
	subscriptions []aggregator.Subscription
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddIntegration adds an integration to the directory
func (s *MemoryStore) AddIntegration(in integration.Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrations = append(s.integrations, in)
}

// AddFacts appends normalized cost facts
func (s *MemoryStore) AddFacts(facts ...normalizer.CostFact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, facts...)
}

// AddSubscription adds a SaaS license
func (s *MemoryStore) AddSubscription(sub aggregator.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, sub)
}

// Usage returns a copy of every appended usage record
func (s *MemoryStore) Usage() []normalizer.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]normalizer.UsageRecord(nil), s.usage...)
}

func (s *MemoryStore) ListIntegrations(ctx context.Context) ([]integration.Integration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]integration.Integration(nil), s.integrations...), nil
}

func (s *MemoryStore) AppendUsage(ctx context.Context, rec normalizer.UsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return ferrors.Store("rejected usage record", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, rec)
	return nil
}

func (s *MemoryStore) GroupCosts(ctx context.Context, q aggregator.Query) ([]aggregator.GroupResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregator.GroupFacts(s.facts, q), nil
}

func (s *MemoryStore) ListSubscriptions(ctx context.Context, tenantID uuid.UUID) ([]aggregator.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []aggregator.Subscription
	for _, sub := range s.subscriptions {
		if sub.TenantID == tenantID {
			out = append(out, sub)
		}
	}
	return out, nil
}
