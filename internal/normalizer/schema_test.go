package normalizer

import (
	"testing"
	"time"

	"github.com/google/uuid"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
)

func TestParseGroupBy(t *testing.T) {
	for _, g := range GroupByColumns() {
		got, err := ParseGroupBy(string(g))
		if err != nil || got != g {
			t.Errorf("ParseGroupBy(%q) = %q, %v", g, got, err)
		}
	}

	// case and surrounding space are normalized
	if g, err := ParseGroupBy(" Service "); err != nil || g != GroupByService {
		t.Errorf("ParseGroupBy(\" Service \") = %q, %v", g, err)
	}

	for _, bad := range []string{"", "cost", "tenant_id", "service; DROP TABLE finops_focus_cost_data"} {
		_, err := ParseGroupBy(bad)
		if !ferrors.IsType(err, ferrors.TypeInvalidGroupBy) {
			t.Errorf("ParseGroupBy(%q) error = %v, want INVALID_GROUP_BY", bad, err)
		}
	}
}

func TestGroupByValue(t *testing.T) {
	f := CostFact{
		Provider: integration.ProviderAWS,
		Service:  Ptr("EC2"),
		UsageType: func() *string {
			s := ""
			return &s
		}(),
	}

	if v, ok := GroupByService.Value(f); !ok || v != "EC2" {
		t.Errorf("service = %q, %v", v, ok)
	}
	if v, ok := GroupByProvider.Value(f); !ok || v != "aws" {
		t.Errorf("provider = %q, %v", v, ok)
	}
	if _, ok := GroupByEnvironment.Value(f); ok {
		t.Errorf("nil environment should be missing")
	}
	if _, ok := GroupByUsageType.Value(f); ok {
		t.Errorf("empty usage type should be missing")
	}
}

func TestColumnPanicsOutsideAllowList(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unsanctioned column")
		}
	}()
	_ = GroupBy("cost").Column()
}

func TestUsageRecordValidate(t *testing.T) {
	rec := NewUsageRecord(uuid.New(), integration.ProviderGCP, time.Date(2024, 3, 9, 17, 4, 0, 0, time.FixedZone("x", -5*3600)))
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if got := rec.UsageDate.Format(DateLayout); got != "2024-03-09" {
		t.Errorf("UsageDate = %s, want 2024-03-09", got)
	}
	if rec.Currency != DefaultCurrency {
		t.Errorf("Currency = %q", rec.Currency)
	}

	rec.TenantID = uuid.Nil
	if err := rec.Validate(); err == nil {
		t.Error("expected error without tenant")
	}
}
