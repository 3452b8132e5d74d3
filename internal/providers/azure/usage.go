package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

// Positional columns of the default usage query result
const (
	serviceColumn = 2
	costColumn    = 4

	unknownService = "unknown"
)

// UsageAdapter reads month-to-date usage from Azure Cost Management
type UsageAdapter struct {
	auth      Authorizer
	newClient func(azcore.TokenCredential) (QueryAPI, error)
	now       func() time.Time
}

// NewUsageAdapter creates a Cost Management adapter that authorizes through auth
func NewUsageAdapter(auth Authorizer) *UsageAdapter {
	return &UsageAdapter{
		auth:      auth,
		newClient: newQueryClient,
		now:       time.Now,
	}
}

// Name returns the adapter name
func (a *UsageAdapter) Name() string {
	return "azure-cost-management"
}

// Fetch runs the usage query for the configured scope and follows nextLink pages.
func (a *UsageAdapter) Fetch(ctx context.Context, tenantID uuid.UUID, cfg integration.Config) iter.Seq2[normalizer.UsageRecord, error] {
	return func(yield func(normalizer.UsageRecord, error) bool) {
		var zero normalizer.UsageRecord

		if err := cfg.Require("tenant_id", "client_id", "client_secret", "scope"); err != nil {
			yield(zero, err)
			return
		}

		cred, err := a.auth.Authorize(ctx, cfg)
		if err != nil {
			yield(zero, err)
			return
		}
		client, err := a.newClient(cred)
		if err != nil {
			yield(zero, ferrors.Transport("failed to create cost management client", err))
			return
		}

		scope := cfg.StringOr("scope", "")
		def := armcostmanagement.QueryDefinition{
			Type:      toPtr(armcostmanagement.ExportTypeUsage),
			Timeframe: toPtr(armcostmanagement.TimeframeTypeMonthToDate),
		}

		// every row of a run is attributed to the processing date
		usageDate := normalizer.Day(a.now())

		result, err := client.Usage(ctx, scope, def)
		for page := 1; ; page++ {
			if err != nil {
				yield(zero, ferrors.Transport("failed to query costs for "+scope, err).WithContext("page", page))
				return
			}
			if result.Properties == nil {
				return
			}

			columns := columnNames(result.Properties.Columns)
			for _, row := range result.Properties.Rows {
				if !yield(usageRecord(tenantID, usageDate, row, columns), nil) {
					return
				}
			}

			next := result.Properties.NextLink
			if next == nil || *next == "" {
				return
			}
			result, err = client.Next(ctx, *next, def)
		}
	}
}

// usageRecord maps one positional row. A missing, null or non-numeric cost
// counts as zero.
func usageRecord(tenantID uuid.UUID, usageDate time.Time, row []any, columns []string) normalizer.UsageRecord {
	rec := normalizer.NewUsageRecord(tenantID, integration.ProviderAzure, usageDate)

	service := unknownService
	if len(row) > serviceColumn && row[serviceColumn] != nil {
		service = fmt.Sprint(row[serviceColumn])
	}
	rec.Service = &service

	if len(row) > costColumn {
		if cost, err := toDecimal(row[costColumn]); err == nil {
			rec.Cost = cost
		}
	}

	rec.Raw = map[string]any{"row": row, "columns": columns}
	return rec
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch c := v.(type) {
	case float64:
		return decimal.NewFromFloat(c), nil
	case json.Number:
		return decimal.NewFromString(c.String())
	case string:
		return decimal.NewFromString(c)
	default:
		return decimal.Zero, fmt.Errorf("non-numeric value %v", v)
	}
}

func columnNames(cols []*armcostmanagement.QueryColumn) []string {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != nil && c.Name != nil {
			names = append(names, *c.Name)
		}
	}
	return names
}

func toPtr[T any](v T) *T {
	return &v
}
