package aws

import (
	"context"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

const defaultLookbackDays = 30

// CostAndUsageAPI is the part of the Cost Explorer client the adapter uses
type CostAndUsageAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// CostExplorerAdapter reads daily service/account costs from AWS Cost Explorer
type CostExplorerAdapter struct {
	auth      Authorizer
	newClient func(aws.Config) CostAndUsageAPI
	now       func() time.Time
}

// NewCostExplorerAdapter creates a Cost Explorer adapter that authorizes through auth
func NewCostExplorerAdapter(auth Authorizer) *CostExplorerAdapter {
	return &CostExplorerAdapter{
		auth: auth,
		newClient: func(cfg aws.Config) CostAndUsageAPI {
			return costexplorer.NewFromConfig(cfg)
		},
		now: time.Now,
	}
}

// Name returns the adapter name
func (a *CostExplorerAdapter) Name() string {
	return "aws-cost-explorer"
}

// Fetch pages through GetCostAndUsage for the lookback window
func (a *CostExplorerAdapter) Fetch(ctx context.Context, tenantID uuid.UUID, cfg integration.Config) iter.Seq2[normalizer.UsageRecord, error] {
	return func(yield func(normalizer.UsageRecord, error) bool) {
		var zero normalizer.UsageRecord

		awsCfg, err := a.auth.Authorize(ctx, cfg)
		if err != nil {
			yield(zero, err)
			return
		}
		client := a.newClient(awsCfg)

		granularity := types.GranularityDaily
		if cfg.StringOr("granularity", "") == "MONTHLY" {
			granularity = types.GranularityMonthly
		}

		end := normalizer.Day(a.now())
		start := end.AddDate(0, 0, -cfg.IntOr("lookback_days", defaultLookbackDays))

		input := &costexplorer.GetCostAndUsageInput{
			TimePeriod: &types.DateInterval{
				Start: aws.String(start.Format(normalizer.DateLayout)),
				End:   aws.String(end.Format(normalizer.DateLayout)),
			},
			Granularity: granularity,
			Metrics:     []string{"UnblendedCost", "UsageQuantity"},
			GroupBy: []types.GroupDefinition{
				{Type: types.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
				{Type: types.GroupDefinitionTypeDimension, Key: aws.String("LINKED_ACCOUNT")},
			},
		}

		// Handle pagination manually
		for {
			output, err := client.GetCostAndUsage(ctx, input)
			if err != nil {
				yield(zero, ferrors.Transport("failed to get cost data", err))
				return
			}

			for _, result := range output.ResultsByTime {
				date, err := normalizer.ParseDay(aws.ToString(result.TimePeriod.Start))
				if err != nil {
					if !yield(zero, ferrors.Data("unparsable time period", err)) {
						return
					}
					continue
				}

				for _, group := range result.Groups {
					if !yield(costExplorerRecord(tenantID, date, group), nil) {
						return
					}
				}
			}

			// Check for more pages
			if output.NextPageToken == nil {
				return
			}
			input.NextPageToken = output.NextPageToken
		}
	}
}

func costExplorerRecord(tenantID uuid.UUID, date time.Time, group types.Group) normalizer.UsageRecord {
	rec := normalizer.NewUsageRecord(tenantID, integration.ProviderAWS, date)

	// Parse group keys
	for i, key := range group.Keys {
		switch i {
		case 0:
			rec.Service = normalizer.Ptr(key)
		case 1:
			rec.AccountRef = normalizer.Ptr(key)
		}
	}

	raw := map[string]any{"keys": group.Keys}
	if unblended, ok := group.Metrics["UnblendedCost"]; ok && unblended.Amount != nil {
		if cost, err := decimal.NewFromString(*unblended.Amount); err == nil {
			rec.Cost = cost
		}
		if unblended.Unit != nil {
			rec.Currency = *unblended.Unit
		}
		raw["unblended_cost"] = *unblended.Amount
	}
	if usage, ok := group.Metrics["UsageQuantity"]; ok && usage.Amount != nil {
		if qty, err := decimal.NewFromString(*usage.Amount); err == nil {
			rec.UsageQuantity = &qty
		}
		rec.UsageUnit = usage.Unit
		raw["usage_quantity"] = *usage.Amount
	}
	rec.Raw = raw

	return rec
}
