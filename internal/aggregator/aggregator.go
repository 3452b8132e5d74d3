// Package aggregator provides grouped cost queries over normalized cost facts
package aggregator

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

// MissingGroupLabel labels the group of facts with no value for the grouping column
const MissingGroupLabel = "(none)"

// GroupResult is the summed cost of one group
type GroupResult struct {
	Group     string          `json:"group"`
	Missing   bool            `json:"missing"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// MarshalJSON renders total_cost as a JSON number
func (g GroupResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Group     string      `json:"group"`
		Missing   bool        `json:"missing"`
		TotalCost json.Number `json:"total_cost"`
	}{g.Group, g.Missing, json.Number(g.TotalCost.String())})
}

// FactReader groups stored cost facts. Implementations return one result per
// group, including at most one missing group, in any order.
type FactReader interface {
	GroupCosts(ctx context.Context, q Query) ([]GroupResult, error)
}

// SubscriptionLister lists a tenant's SaaS subscriptions
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, tenantID uuid.UUID) ([]Subscription, error)
}

// Engine answers grouped-cost and dashboard queries. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	facts FactReader
	subs  SubscriptionLister
}

// New creates a new Engine
func New(facts FactReader, subs SubscriptionLister) *Engine {
	return &Engine{facts: facts, subs: subs}
}

// GroupCosts validates req and returns the grouped totals. Nothing is read
// when validation fails.
func (e *Engine) GroupCosts(ctx context.Context, req Request) ([]GroupResult, error) {
	q, err := req.Query()
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, q)
}

// Run executes an already validated query.
func (e *Engine) Run(ctx context.Context, q Query) ([]GroupResult, error) {
	results, err := e.facts.GroupCosts(ctx, q)
	if err != nil {
		return nil, err
	}
	return Arrange(results, q.Order, q.Limit), nil
}

// Arrange sorts results in place and truncates them to limit when limit > 0.
func Arrange(results []GroupResult, order Order, limit int) []GroupResult {
	byLabel := func(a, b GroupResult) bool {
		if a.Missing != b.Missing {
			return b.Missing
		}
		return a.Group < b.Group
	}

	switch order {
	case OrderByCostDesc:
		sort.SliceStable(results, func(i, j int) bool {
			if c := results[i].TotalCost.Cmp(results[j].TotalCost); c != 0 {
				return c > 0
			}
			return byLabel(results[i], results[j])
		})
	default:
		sort.SliceStable(results, func(i, j int) bool {
			return byLabel(results[i], results[j])
		})
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// GroupFacts filters facts by q and sums cost per group. Facts without a
// grouping value are collected into a single missing group.
func GroupFacts(facts []normalizer.CostFact, q Query) []GroupResult {
	totals := make(map[string]decimal.Decimal)
	var missing *decimal.Decimal

	for _, f := range facts {
		if !q.Matches(f) {
			continue
		}
		v, ok := q.GroupBy.Value(f)
		if !ok {
			sum := f.Cost
			if missing != nil {
				sum = missing.Add(f.Cost)
			}
			missing = &sum
			continue
		}
		totals[v] = totals[v].Add(f.Cost)
	}

	results := make([]GroupResult, 0, len(totals)+1)
	for group, total := range totals {
		results = append(results, GroupResult{Group: group, TotalCost: total})
	}
	if missing != nil {
		results = append(results, GroupResult{Group: MissingGroupLabel, Missing: true, TotalCost: *missing})
	}

	return Arrange(results, OrderByGroup, 0)
}
