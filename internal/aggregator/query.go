package aggregator

import (
	"strings"
	"time"

	"github.com/google/uuid"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

// Order controls how group results are sorted
type Order string

const (
	// OrderByGroup sorts by label ascending with the missing group last
	OrderByGroup Order = "group"
	// OrderByCostDesc sorts by total cost, highest first
	OrderByCostDesc Order = "cost_desc"
)

// Request is a grouped-cost query as received from a caller.
type Request struct {
	TenantID  string `json:"tenant_id"`
	Provider  string `json:"provider,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	GroupBy   string `json:"group_by"`
	Order     string `json:"order,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Query is a validated grouped-cost query. All filters AND together and
// both date bounds are inclusive.
type Query struct {
	TenantID   uuid.UUID            `json:"tenant_id"`
	Provider   integration.Provider `json:"provider,omitempty"`
	AccountRef string               `json:"account_ref,omitempty"`
	Start      *time.Time           `json:"start,omitempty"`
	End        *time.Time           `json:"end,omitempty"`
	GroupBy    normalizer.GroupBy   `json:"group_by"`
	Order      Order                `json:"order,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
}

// Query validates r. The group column is checked first so an unsanctioned
// column is always reported as such.
func (r Request) Query() (Query, error) {
	groupBy, err := normalizer.ParseGroupBy(r.GroupBy)
	if err != nil {
		return Query{}, err
	}

	q := Query{
		GroupBy:    groupBy,
		AccountRef: strings.TrimSpace(r.AccountID),
		Limit:      r.Limit,
	}

	tenant := strings.TrimSpace(r.TenantID)
	if tenant == "" {
		return Query{}, ferrors.Input("tenant_id is required")
	}
	if q.TenantID, err = uuid.Parse(tenant); err != nil {
		return Query{}, ferrors.Input("tenant_id is not a valid UUID").WithContext("tenant_id", r.TenantID)
	}

	if p := strings.TrimSpace(r.Provider); p != "" {
		q.Provider = integration.ParseProvider(p)
	}

	if q.Start, err = parseBound("start_date", r.StartDate); err != nil {
		return Query{}, err
	}
	if q.End, err = parseBound("end_date", r.EndDate); err != nil {
		return Query{}, err
	}
	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		return Query{}, ferrors.Input("start_date is after end_date").
			WithContext("start_date", r.StartDate).
			WithContext("end_date", r.EndDate)
	}

	switch Order(strings.ToLower(strings.TrimSpace(r.Order))) {
	case "", OrderByGroup:
		q.Order = OrderByGroup
	case OrderByCostDesc:
		q.Order = OrderByCostDesc
	default:
		return Query{}, ferrors.Input("order must be group or cost_desc").WithContext("order", r.Order)
	}

	if q.Limit < 0 {
		return Query{}, ferrors.Input("limit must not be negative")
	}

	return q, nil
}

func parseBound(name, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := normalizer.ParseDay(s)
	if err != nil {
		return nil, ferrors.Input(name+" must be YYYY-MM-DD").WithContext(name, s)
	}
	return &d, nil
}

// Matches reports whether f passes every filter of q.
func (q Query) Matches(f normalizer.CostFact) bool {
	if f.TenantID != q.TenantID {
		return false
	}
	if q.Provider != "" && f.Provider != q.Provider {
		return false
	}
	if q.AccountRef != "" && (f.AccountRef == nil || *f.AccountRef != q.AccountRef) {
		return false
	}
	day := normalizer.Day(f.CostDate)
	if q.Start != nil && day.Before(*q.Start) {
		return false
	}
	if q.End != nil && day.After(*q.End) {
		return false
	}
	return true
}
