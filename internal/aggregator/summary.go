package aggregator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

const (
	topServicesLimit = 5
	unknownService   = "Unknown"
)

// Subscription is a SaaS license a tenant pays for outside the clouds
type Subscription struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	Name         string          `json:"name"`
	Provider     string          `json:"provider"`
	Cost         decimal.Decimal `json:"cost"`
	BillingCycle string          `json:"billing_cycle"`
	Users        int             `json:"users"`
	RenewalDate  *time.Time      `json:"renewal_date,omitempty"`
	Status       string          `json:"status"`
	Category     string          `json:"category"`
}

// ServiceCost is one entry of the dashboard's top services
type ServiceCost struct {
	Service string          `json:"service"`
	Cost    decimal.Decimal `json:"cost"`
}

// Summary is the dashboard payload for one tenant
type Summary struct {
	TotalCost        decimal.Decimal `json:"total_cost"`
	TopServices      []ServiceCost   `json:"top_services"`
	Subscriptions    []Subscription  `json:"subscriptions"`
	EstimatedSavings decimal.Decimal `json:"estimated_savings"`
}

// Summary builds the dashboard summary for tenantID. Every part is scoped to
// that tenant.
func (e *Engine) Summary(ctx context.Context, tenantID uuid.UUID) (Summary, error) {
	summary := Summary{
		TotalCost:        decimal.Zero,
		TopServices:      []ServiceCost{},
		Subscriptions:    []Subscription{},
		EstimatedSavings: decimal.Zero,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		byProvider, err := e.Run(ctx, Query{TenantID: tenantID, GroupBy: normalizer.GroupByProvider})
		if err != nil {
			return err
		}
		for _, r := range byProvider {
			summary.TotalCost = summary.TotalCost.Add(r.TotalCost)
		}
		return nil
	})

	g.Go(func() error {
		top, err := e.Run(ctx, Query{
			TenantID: tenantID,
			GroupBy:  normalizer.GroupByService,
			Order:    OrderByCostDesc,
			Limit:    topServicesLimit,
		})
		if err != nil {
			return err
		}
		for _, r := range top {
			name := r.Group
			if r.Missing {
				name = unknownService
			}
			summary.TopServices = append(summary.TopServices, ServiceCost{Service: name, Cost: r.TotalCost})
		}
		return nil
	})

	if e.subs != nil {
		g.Go(func() error {
			subs, err := e.subs.ListSubscriptions(ctx, tenantID)
			if err != nil {
				return err
			}
			if subs != nil {
				summary.Subscriptions = subs
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return summary, nil
}
