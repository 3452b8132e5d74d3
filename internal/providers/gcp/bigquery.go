package gcp

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/big"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

const defaultLookbackDays = 30

// NUMERIC columns carry nine fractional digits
const numericScale = 9

var (
	projectPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.:-]*$`)
	namePattern    = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// ExportAdapter reads the standard Cloud Billing export table in BigQuery
type ExportAdapter struct {
	auth Authorizer
}

// NewExportAdapter creates a billing export adapter that authorizes through auth
func NewExportAdapter(auth Authorizer) *ExportAdapter {
	return &ExportAdapter{auth: auth}
}

// Name returns the adapter name
func (a *ExportAdapter) Name() string {
	return "gcp-bigquery-export"
}

// Fetch queries the lookback window of the export table and maps each row.
func (a *ExportAdapter) Fetch(ctx context.Context, tenantID uuid.UUID, cfg integration.Config) iter.Seq2[normalizer.UsageRecord, error] {
	return func(yield func(normalizer.UsageRecord, error) bool) {
		var zero normalizer.UsageRecord

		if err := cfg.Require("oauth", "project_id", "dataset", "table"); err != nil {
			yield(zero, err)
			return
		}
		table, err := tableRef(cfg)
		if err != nil {
			yield(zero, err)
			return
		}

		warehouse, err := a.auth.Authorize(ctx, cfg)
		if err != nil {
			yield(zero, err)
			return
		}
		defer warehouse.Close()

		sql := fmt.Sprintf("SELECT * FROM `%s` WHERE usage_start_time >= TIMESTAMP(DATE_SUB(CURRENT_DATE(), INTERVAL @days DAY))", table)
		params := []bigquery.QueryParameter{
			{Name: "days", Value: cfg.IntOr("lookback_days", defaultLookbackDays)},
		}

		it, err := warehouse.Rows(ctx, sql, params)
		if err != nil {
			yield(zero, ferrors.Transport("failed to query billing export", err))
			return
		}

		for n := 1; ; n++ {
			var row map[string]bigquery.Value
			err := it.Next(&row)
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(zero, ferrors.Transport("failed to read billing export", err))
				return
			}

			rec, err := exportRecord(tenantID, row)
			if err != nil {
				err = ferrors.Data("dropped billing export row", err).WithContext("row", n)
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

func tableRef(cfg integration.Config) (string, error) {
	project := cfg.StringOr("project_id", "")
	dataset := cfg.StringOr("dataset", "")
	table := cfg.StringOr("table", "")

	if !projectPattern.MatchString(project) || !namePattern.MatchString(dataset) || !namePattern.MatchString(table) {
		return "", ferrors.Config("invalid billing export table reference").
			WithContext("table", project+"."+dataset+"."+table)
	}
	return project + "." + dataset + "." + table, nil
}

func exportRecord(tenantID uuid.UUID, row map[string]bigquery.Value) (normalizer.UsageRecord, error) {
	start, err := toTime(row["usage_start_time"])
	if err != nil {
		return normalizer.UsageRecord{}, fmt.Errorf("usage_start_time: %w", err)
	}

	rec := normalizer.NewUsageRecord(tenantID, integration.ProviderGCP, start)
	// missing or unconvertible cost counts as zero
	if cost, err := toDecimal(row["cost"]); err == nil {
		rec.Cost = cost
	}

	if s, ok := row["service_description"].(string); ok {
		rec.Service = normalizer.Ptr(s)
	} else {
		rec.Service = normalizer.Ptr(nestedString(row, "service", "description"))
	}
	if s := nestedString(row, "project", "id"); s != "" {
		rec.AccountRef = &s
	} else if s, ok := row["project_id"].(string); ok {
		rec.AccountRef = normalizer.Ptr(s)
	}
	rec.UsageType = normalizer.Ptr(nestedString(row, "sku", "description"))
	rec.UsageUnit = normalizer.Ptr(nestedString(row, "usage", "unit"))
	if amount, err := toDecimal(nested(row, "usage", "amount")); err == nil {
		rec.UsageQuantity = &amount
	}
	if c, ok := row["currency"].(string); ok && c != "" {
		rec.Currency = c
	}
	rec.Tags = labels(row["labels"])

	raw := make(map[string]any, len(row))
	for k, v := range row {
		raw[k] = v
	}
	rec.Raw = raw

	return rec, nil
}

// nested walks RECORD columns, which load as map[string]bigquery.Value.
func nested(row map[string]bigquery.Value, path ...string) any {
	var cur any = row
	for _, key := range path {
		switch m := cur.(type) {
		case map[string]bigquery.Value:
			cur = m[key]
		case map[string]any:
			cur = m[key]
		default:
			return nil
		}
	}
	return cur
}

func nestedString(row map[string]bigquery.Value, path ...string) string {
	s, _ := nested(row, path...).(string)
	return s
}

// labels flattens the repeated key/value label records
func labels(v bigquery.Value) map[string]string {
	entries, ok := v.([]bigquery.Value)
	if !ok || len(entries) == 0 {
		return nil
	}
	tags := make(map[string]string, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]bigquery.Value)
		if !ok {
			continue
		}
		k, _ := m["key"].(string)
		val, _ := m["value"].(string)
		if k != "" {
			tags[k] = val
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		datePart, _, _ := strings.Cut(t, "T")
		datePart, _, _ = strings.Cut(datePart, " ")
		return normalizer.ParseDay(datePart)
	case nil:
		return time.Time{}, errors.New("missing")
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch c := v.(type) {
	case float64:
		return decimal.NewFromFloat(c), nil
	case int64:
		return decimal.NewFromInt(c), nil
	case *big.Rat:
		return decimal.NewFromBigRat(c, numericScale), nil
	case string:
		return decimal.NewFromString(c)
	case nil:
		return decimal.Zero, errors.New("missing")
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", v)
	}
}
