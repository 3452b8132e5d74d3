package aws

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

// CUR column names
const (
	colUsageStartDate     = "lineItem/UsageStartDate"
	colUnblendedCost      = "lineItem/UnblendedCost"
	colProductName        = "product/ProductName"
	colProductFamily      = "product/productFamily"
	colUsageAccountID     = "lineItem/UsageAccountId"
	colResourceID         = "lineItem/ResourceId"
	colUsageType          = "lineItem/UsageType"
	colOperation          = "lineItem/Operation"
	colUsageAmount        = "lineItem/UsageAmount"
	colCurrencyCode       = "lineItem/CurrencyCode"
	colPricingUnit        = "pricing/unit"
	colBillingPeriodStart = "bill/BillingPeriodStartDate"
	colBillingPeriodEnd   = "bill/BillingPeriodEndDate"
	colSavingsPlanCost    = "savingsPlan/SavingsPlanEffectiveCost"
	colReservationCost    = "reservation/EffectiveCost"

	tagColumnPrefix = "resourceTags/"
)

// ObjectGetter is the part of the S3 client the CUR adapter uses
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// CURAdapter imports a Cost and Usage Report CSV from S3
type CURAdapter struct {
	auth      Authorizer
	newClient func(aws.Config) ObjectGetter
}

// NewCURAdapter creates a CUR adapter that authorizes through auth
func NewCURAdapter(auth Authorizer) *CURAdapter {
	return &CURAdapter{
		auth: auth,
		newClient: func(cfg aws.Config) ObjectGetter {
			return s3.NewFromConfig(cfg)
		},
	}
}

// Name returns the adapter name
func (a *CURAdapter) Name() string {
	return "aws-cur"
}

// Fetch streams the configured report object and maps each line item.
func (a *CURAdapter) Fetch(ctx context.Context, tenantID uuid.UUID, cfg integration.Config) iter.Seq2[normalizer.UsageRecord, error] {
	return func(yield func(normalizer.UsageRecord, error) bool) {
		var zero normalizer.UsageRecord

		if err := cfg.Require("role_arn", "external_id", "bucket", "key"); err != nil {
			yield(zero, err)
			return
		}

		awsCfg, err := a.auth.Authorize(ctx, cfg)
		if err != nil {
			yield(zero, err)
			return
		}

		bucket := cfg.StringOr("bucket", "")
		key := cfg.StringOr("key", "")
		out, err := a.newClient(awsCfg).GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			yield(zero, ferrors.Transport("failed to get s3://"+bucket+"/"+key, err))
			return
		}
		defer out.Body.Close()

		var body io.Reader = out.Body
		if strings.HasSuffix(key, ".gz") || aws.ToString(out.ContentEncoding) == "gzip" {
			gz, err := gzip.NewReader(out.Body)
			if err != nil {
				yield(zero, ferrors.Transport("failed to open gzip report", err))
				return
			}
			defer gz.Close()
			body = gz
		}

		for rec, err := range ParseCUR(tenantID, body) {
			if !yield(rec, err) {
				return
			}
		}
	}
}

// ParseCUR maps CUR CSV rows to usage records. Rows without a usable usage
// date are yielded as data errors; read failures end the sequence.
func ParseCUR(tenantID uuid.UUID, r io.Reader) iter.Seq2[normalizer.UsageRecord, error] {
	return func(yield func(normalizer.UsageRecord, error) bool) {
		var zero normalizer.UsageRecord

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(zero, ferrors.Transport("failed to read report header", err))
			return
		}

		for line := 2; ; line++ {
			fields, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				var parseErr *csv.ParseError
				if errors.As(err, &parseErr) {
					if !yield(zero, ferrors.Data("malformed report row", err).WithContext("line", line)) {
						return
					}
					continue
				}
				yield(zero, ferrors.Transport("failed to read report", err))
				return
			}

			row := make(map[string]string, len(header))
			for i, name := range header {
				if i < len(fields) {
					row[name] = fields[i]
				}
			}

			rec, err := curRecord(tenantID, row)
			if err != nil {
				err = ferrors.Data("dropped report row", err).WithContext("line", line)
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

func curRecord(tenantID uuid.UUID, row map[string]string) (normalizer.UsageRecord, error) {
	datePart, _, _ := strings.Cut(row[colUsageStartDate], "T")
	usageDate, err := normalizer.ParseDay(datePart)
	if err != nil {
		return normalizer.UsageRecord{}, err
	}

	rec := normalizer.NewUsageRecord(tenantID, integration.ProviderAWS, usageDate)

	if cost, err := decimal.NewFromString(row[colUnblendedCost]); err == nil {
		rec.Cost = cost
	}
	rec.Service = normalizer.Ptr(row[colProductName])
	rec.AccountRef = normalizer.Ptr(row[colUsageAccountID])
	rec.ResourceID = normalizer.Ptr(row[colResourceID])
	rec.ResourceType = normalizer.Ptr(row[colProductFamily])
	rec.UsageType = normalizer.Ptr(row[colUsageType])
	rec.Operation = normalizer.Ptr(row[colOperation])
	rec.UsageUnit = normalizer.Ptr(row[colPricingUnit])
	rec.BillingPeriodStart = parseTimestampDay(row[colBillingPeriodStart])
	rec.BillingPeriodEnd = parseTimestampDay(row[colBillingPeriodEnd])

	if qty, err := decimal.NewFromString(row[colUsageAmount]); err == nil {
		rec.UsageQuantity = &qty
	}
	for _, col := range []string{colSavingsPlanCost, colReservationCost} {
		if amortized, err := decimal.NewFromString(row[col]); err == nil && !amortized.IsZero() {
			rec.AmortizedCost = &amortized
			break
		}
	}
	if c := row[colCurrencyCode]; c != "" {
		rec.Currency = c
	}

	raw := make(map[string]any, len(row))
	for name, v := range row {
		raw[name] = v
		if tag, ok := strings.CutPrefix(name, tagColumnPrefix); ok && v != "" {
			if rec.Tags == nil {
				rec.Tags = make(map[string]string)
			}
			rec.Tags[strings.TrimPrefix(tag, "user:")] = v
		}
	}
	rec.Raw = raw

	return rec, nil
}

func parseTimestampDay(s string) *time.Time {
	datePart, _, _ := strings.Cut(s, "T")
	d, err := normalizer.ParseDay(datePart)
	if err != nil {
		return nil
	}
	return &d
}
