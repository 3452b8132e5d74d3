package aws

import (
	"context"
	"errors"
	"testing"
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

type stubCostExplorer struct {
	pages  []*costexplorer.GetCostAndUsageOutput
	err    error
	inputs []costexplorer.GetCostAndUsageInput
}

func (s *stubCostExplorer) GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	s.inputs = append(s.inputs, *params)
	if s.err != nil {
		return nil, s.err
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func ceGroup(service, account, cost string) types.Group {
	return types.Group{
		Keys: []string{service, account},
		Metrics: map[string]types.MetricValue{
			"UnblendedCost": {Amount: aws.String(cost), Unit: aws.String("USD")},
			"UsageQuantity": {Amount: aws.String("3"), Unit: aws.String("Hrs")},
		},
	}
}

func TestCostExplorerAdapterPaginates(t *testing.T) {
	client := &stubCostExplorer{
		pages: []*costexplorer.GetCostAndUsageOutput{
			{
				ResultsByTime: []types.ResultByTime{{
					TimePeriod: &types.DateInterval{Start: aws.String("2024-03-01"), End: aws.String("2024-03-02")},
					Groups:     []types.Group{ceGroup("Amazon EC2", "111", "10.50"), ceGroup("Amazon S3", "111", "bogus")},
				}},
				NextPageToken: aws.String("page-2"),
			},
			{
				ResultsByTime: []types.ResultByTime{{
					TimePeriod: &types.DateInterval{Start: aws.String("2024-03-02"), End: aws.String("2024-03-03")},
					Groups:     []types.Group{ceGroup("Amazon EC2", "222", "1")},
				}},
			},
		},
	}

	adapter := NewCostExplorerAdapter(&stubAuthorizer{})
	adapter.newClient = func(aws.Config) CostAndUsageAPI { return client }
	adapter.now = func() time.Time { return time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC) }

	var records []normalizer.UsageRecord
	for rec, err := range adapter.Fetch(context.Background(), uuid.New(), integration.Config{"lookback_days": "7"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		records = append(records, rec)
	}

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if len(client.inputs) != 2 {
		t.Fatalf("got %d calls, want 2", len(client.inputs))
	}
	if got := aws.ToString(client.inputs[1].NextPageToken); got != "page-2" {
		t.Errorf("second call token = %q", got)
	}
	if got := aws.ToString(client.inputs[0].TimePeriod.Start); got != "2024-03-24" {
		t.Errorf("window start = %s, want 2024-03-24", got)
	}
	if !records[0].Cost.Equal(decimal.RequireFromString("10.5")) || *records[0].Service != "Amazon EC2" {
		t.Errorf("first record = %s %v", records[0].Cost, records[0].Service)
	}
	if !records[1].Cost.IsZero() {
		t.Errorf("unparsable cost = %s, want 0", records[1].Cost)
	}
	if *records[2].AccountRef != "222" || records[2].UsageDate.Format(normalizer.DateLayout) != "2024-03-02" {
		t.Errorf("third record = %v %s", *records[2].AccountRef, records[2].UsageDate)
	}
}

func TestCostExplorerAdapterTransportError(t *testing.T) {
	adapter := NewCostExplorerAdapter(&stubAuthorizer{})
	adapter.newClient = func(aws.Config) CostAndUsageAPI {
		return &stubCostExplorer{err: errors.New("throttled")}
	}

	for _, err := range adapter.Fetch(context.Background(), uuid.New(), integration.Config{}) {
		if !ferrors.IsType(err, ferrors.TypeTransport) {
			t.Errorf("error = %v, want TRANSPORT_ERROR", err)
		}
	}
}
