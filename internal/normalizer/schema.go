// Package normalizer provides the common schema for multi-cloud cost data.
package normalizer

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lvonguyen/cloudspend/internal/integration"
)

// DefaultCurrency is used when a provider row carries no currency
const DefaultCurrency = "USD"

// DateLayout is the calendar date format used across the platform
const DateLayout = "2006-01-02"

// UsageRecord is the canonical shape every provider adapter produces.
// Records are appended to the raw usage store once and never mutated.
type UsageRecord struct {
	TenantID           uuid.UUID            `json:"tenant_id"`
	Provider           integration.Provider `json:"provider"`
	UsageDate          time.Time            `json:"usage_date"`
	BillingPeriodStart *time.Time           `json:"billing_period_start,omitempty"`
	BillingPeriodEnd   *time.Time           `json:"billing_period_end,omitempty"`

	AccountRef   *string `json:"account_ref,omitempty"` // Account/Subscription/Project ID
	Service      *string `json:"service,omitempty"`
	ResourceID   *string `json:"resource_id,omitempty"`
	ResourceType *string `json:"resource_type,omitempty"`
	UsageType    *string `json:"usage_type,omitempty"`
	Operation    *string `json:"operation,omitempty"`

	UsageQuantity *decimal.Decimal `json:"usage_quantity,omitempty"`
	UsageUnit     *string          `json:"usage_unit,omitempty"`

	// Cost may be negative for credits and refunds
	Cost          decimal.Decimal   `json:"cost"`
	AmortizedCost *decimal.Decimal  `json:"amortized_cost,omitempty"`
	Currency      string            `json:"currency"`
	Tags          map[string]string `json:"tags,omitempty"`

	// Raw is the provider row as received
	Raw map[string]any `json:"raw_payload"`
}

// NewUsageRecord starts a record with the fields every adapter must populate.
func NewUsageRecord(tenantID uuid.UUID, provider integration.Provider, usageDate time.Time) UsageRecord {
	return UsageRecord{
		TenantID:  tenantID,
		Provider:  provider,
		UsageDate: Day(usageDate),
		Cost:      decimal.Zero,
		Currency:  DefaultCurrency,
	}
}

// Validate checks the fields the raw usage store cannot accept empty.
func (r UsageRecord) Validate() error {
	switch {
	case r.TenantID == uuid.Nil:
		return errors.New("usage record has no tenant")
	case r.Provider == "":
		return errors.New("usage record has no provider")
	case r.UsageDate.IsZero():
		return errors.New("usage record has no usage date")
	}
	return nil
}

// CostFact is one row of the FOCUS-style normalized cost table.
// It is written by the normalization job and only read here.
type CostFact struct {
	TenantID      uuid.UUID            `json:"tenant_id"`
	Provider      integration.Provider `json:"provider"`
	AccountRef    *string              `json:"account_ref,omitempty"`
	CostDate      time.Time            `json:"cost_date"`
	Service       *string              `json:"service,omitempty"`
	ResourceID    *string              `json:"resource_id,omitempty"`
	Environment   *string              `json:"environment,omitempty"`
	ProductFamily *string              `json:"product_family,omitempty"`
	UsageType     *string              `json:"usage_type,omitempty"`
	Unit          *string              `json:"unit,omitempty"`
	Quantity      *decimal.Decimal     `json:"quantity,omitempty"`
	Cost          decimal.Decimal      `json:"cost"`
	Currency      string               `json:"currency"`
	Tags          map[string]string    `json:"tags,omitempty"`
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Ptr returns a pointer to s, or nil when s is empty.
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
