package normalizer

import (
	"strings"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
)

// GroupBy is a column of the cost fact table that results may be grouped on.
type GroupBy string

const (
	GroupByService       GroupBy = "service"
	GroupByProvider      GroupBy = "provider"
	GroupByEnvironment   GroupBy = "environment"
	GroupByProductFamily GroupBy = "product_family"
	GroupByUsageType     GroupBy = "usage_type"
	GroupByResourceID    GroupBy = "resource_id"
	GroupByAccountRef    GroupBy = "account_ref"
)

type groupColumn struct {
	column string
	value  func(CostFact) *string
}

// groupColumns is the allow-list. Nothing outside it reaches a query.
var groupColumns = map[GroupBy]groupColumn{
	GroupByService:       {"service", func(f CostFact) *string { return f.Service }},
	GroupByProvider:      {"provider", func(f CostFact) *string { return Ptr(string(f.Provider)) }},
	GroupByEnvironment:   {"environment", func(f CostFact) *string { return f.Environment }},
	GroupByProductFamily: {"product_family", func(f CostFact) *string { return f.ProductFamily }},
	GroupByUsageType:     {"usage_type", func(f CostFact) *string { return f.UsageType }},
	GroupByResourceID:    {"resource_id", func(f CostFact) *string { return f.ResourceID }},
	GroupByAccountRef:    {"account_ref", func(f CostFact) *string { return f.AccountRef }},
}

// GroupByColumns lists the groupable columns in a fixed order.
func GroupByColumns() []GroupBy {
	return []GroupBy{
		GroupByService, GroupByProvider, GroupByEnvironment, GroupByProductFamily,
		GroupByUsageType, GroupByResourceID, GroupByAccountRef,
	}
}

// ParseGroupBy validates a caller-supplied grouping column.
func ParseGroupBy(s string) (GroupBy, error) {
	g := GroupBy(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := groupColumns[g]; !ok {
		return "", ferrors.InvalidGroupBy(s)
	}
	return g, nil
}

// Valid reports whether g is in the allow-list.
func (g GroupBy) Valid() bool {
	_, ok := groupColumns[g]
	return ok
}

// Column returns the SQL column for g. It panics for a value that did not
// come from ParseGroupBy or the constants above.
func (g GroupBy) Column() string {
	c, ok := groupColumns[g]
	if !ok {
		panic("normalizer: unsanctioned group by column " + string(g))
	}
	return c.column
}

// Value returns the grouping value of f, and false when it is null or empty.
func (g GroupBy) Value(f CostFact) (string, bool) {
	c, ok := groupColumns[g]
	if !ok {
		return "", false
	}
	v := c.value(f)
	if v == nil || *v == "" {
		return "", false
	}
	return *v, true
}
