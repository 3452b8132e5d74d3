package aws

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

const sampleCUR = `identity/LineItemId,lineItem/UsageStartDate,lineItem/UnblendedCost,product/ProductName,lineItem/UsageAccountId,lineItem/UsageAmount,resourceTags/user:team
a,2024-03-01T00:00:00Z,12.5,Amazon Elastic Compute Cloud,111122223333,24,platform
b,2024-03-02T05:00:00Z,not-a-number,Amazon Simple Storage Service,111122223333,,
c,,4.00,AWS Lambda,111122223333,1,
d,2024-03-03T00:00:00Z,-1.25,Amazon Simple Storage Service
`

type stubAuthorizer struct {
	err   error
	calls int
}

func (s *stubAuthorizer) Authorize(ctx context.Context, cfg integration.Config) (aws.Config, error) {
	s.calls++
	return aws.Config{Region: cfg.StringOr("region", DefaultRegion)}, s.err
}

type stubObjects struct {
	body  []byte
	err   error
	input *s3.GetObjectInput
}

func (s *stubObjects) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	s.input = params
	if s.err != nil {
		return nil, s.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(s.body))}, nil
}

func curConfig() integration.Config {
	return integration.Config{
		"role_arn":    "arn:aws:iam::111122223333:role/cur-reader",
		"external_id": "ext-1",
		"bucket":      "billing",
		"key":         "cur/2024-03.csv",
	}
}

func newTestCURAdapter(objects *stubObjects, auth *stubAuthorizer) *CURAdapter {
	a := NewCURAdapter(auth)
	a.newClient = func(aws.Config) ObjectGetter { return objects }
	return a
}

func TestParseCUR(t *testing.T) {
	tenant := uuid.New()

	var records []normalizer.UsageRecord
	var dataErrs int
	for rec, err := range ParseCUR(tenant, strings.NewReader(sampleCUR)) {
		if err != nil {
			if !ferrors.IsType(err, ferrors.TypeData) {
				t.Fatalf("unexpected error type: %v", err)
			}
			dataErrs++
			continue
		}
		records = append(records, rec)
	}

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if dataErrs != 1 {
		t.Errorf("got %d data errors, want 1 (row without usage date)", dataErrs)
	}

	first := records[0]
	if first.TenantID != tenant || first.Provider != integration.ProviderAWS {
		t.Errorf("identity = %v/%v", first.TenantID, first.Provider)
	}
	if got := first.UsageDate.Format(normalizer.DateLayout); got != "2024-03-01" {
		t.Errorf("usage date = %s, want 2024-03-01", got)
	}
	if !first.Cost.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("cost = %s, want 12.5", first.Cost)
	}
	if first.Service == nil || *first.Service != "Amazon Elastic Compute Cloud" {
		t.Errorf("service = %v", first.Service)
	}
	if first.AccountRef == nil || *first.AccountRef != "111122223333" {
		t.Errorf("account = %v", first.AccountRef)
	}
	if first.UsageQuantity == nil || !first.UsageQuantity.Equal(decimal.NewFromInt(24)) {
		t.Errorf("quantity = %v", first.UsageQuantity)
	}
	if first.Tags["team"] != "platform" {
		t.Errorf("tags = %v", first.Tags)
	}
	if first.Raw["identity/LineItemId"] != "a" {
		t.Errorf("raw payload not kept: %v", first.Raw)
	}

	// unparsable cost defaults to zero and keeps the row
	if !records[1].Cost.IsZero() {
		t.Errorf("unparsable cost = %s, want 0", records[1].Cost)
	}
	if got := records[1].UsageDate.Format(normalizer.DateLayout); got != "2024-03-02" {
		t.Errorf("usage date = %s, want 2024-03-02", got)
	}

	// short row: missing optional columns, credit kept negative
	last := records[2]
	if !last.Cost.Equal(decimal.RequireFromString("-1.25")) {
		t.Errorf("credit cost = %s, want -1.25", last.Cost)
	}
	if last.AccountRef != nil || last.Tags != nil {
		t.Errorf("short row should have no account or tags: %v %v", last.AccountRef, last.Tags)
	}
}

func TestParseCUREmpty(t *testing.T) {
	n := 0
	for range ParseCUR(uuid.New(), strings.NewReader("")) {
		n++
	}
	if n != 0 {
		t.Errorf("empty report yielded %d items", n)
	}
}

func TestCURAdapterFetch(t *testing.T) {
	objects := &stubObjects{body: []byte(sampleCUR)}
	auth := &stubAuthorizer{}
	adapter := newTestCURAdapter(objects, auth)

	count := 0
	for _, err := range adapter.Fetch(context.Background(), uuid.New(), curConfig()) {
		if err == nil {
			count++
		}
	}
	if count != 3 {
		t.Errorf("got %d records, want 3", count)
	}
	if aws.ToString(objects.input.Bucket) != "billing" || aws.ToString(objects.input.Key) != "cur/2024-03.csv" {
		t.Errorf("GetObject input = %s/%s", aws.ToString(objects.input.Bucket), aws.ToString(objects.input.Key))
	}

	// each range fetches again
	for range adapter.Fetch(context.Background(), uuid.New(), curConfig()) {
	}
	if auth.calls != 2 {
		t.Errorf("authorizer calls = %d, want 2", auth.calls)
	}
}

func TestCURAdapterGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(sampleCUR))
	_ = gz.Close()

	cfg := curConfig()
	cfg["key"] = "cur/2024-03.csv.gz"
	adapter := newTestCURAdapter(&stubObjects{body: buf.Bytes()}, &stubAuthorizer{})

	count := 0
	for _, err := range adapter.Fetch(context.Background(), uuid.New(), cfg) {
		if err == nil {
			count++
		}
	}
	if count != 3 {
		t.Errorf("got %d records, want 3", count)
	}
}

func TestCURAdapterErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     integration.Config
		auth    *stubAuthorizer
		objects *stubObjects
		want    ferrors.Type
	}{
		{
			name:    "missing bucket",
			cfg:     integration.Config{"role_arn": "r", "external_id": "e", "key": "k"},
			auth:    &stubAuthorizer{},
			objects: &stubObjects{},
			want:    ferrors.TypeConfig,
		},
		{
			name:    "auth failure",
			cfg:     curConfig(),
			auth:    &stubAuthorizer{err: ferrors.Auth("assume role", errors.New("AccessDenied"))},
			objects: &stubObjects{},
			want:    ferrors.TypeAuth,
		},
		{
			name:    "s3 failure",
			cfg:     curConfig(),
			auth:    &stubAuthorizer{},
			objects: &stubObjects{err: errors.New("NoSuchKey")},
			want:    ferrors.TypeTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestCURAdapter(tt.objects, tt.auth)
			var errs []error
			for _, err := range adapter.Fetch(context.Background(), uuid.New(), tt.cfg) {
				errs = append(errs, err)
			}
			if len(errs) != 1 {
				t.Fatalf("got %d items, want a single error", len(errs))
			}
			if got := ferrors.TypeOf(errs[0]); got != tt.want {
				t.Errorf("error type = %q, want %q (%v)", got, tt.want, errs[0])
			}
		})
	}
}
