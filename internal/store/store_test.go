package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/lvonguyen/cloudspend/internal/aggregator"
	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

// fakeRows replays fixed rows of *string / string pairs
type fakeRows struct {
	rows [][]any
	i    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.i-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	for i, d := range dest {
		switch p := d.(type) {
		case **string:
			*p, _ = row[i].(*string)
		case *string:
			*p = row[i].(string)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

type fakeDB struct {
	rows     *fakeRows
	err      error
	lastSQL  string
	lastArgs []any
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.lastSQL, f.lastArgs = sql, args
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.lastSQL, f.lastArgs = sql, args
	return pgconn.CommandTag{}, f.err
}

func TestGroupCostsSQL(t *testing.T) {
	tenant := uuid.New()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		q         aggregator.Query
		wantWhere string
		wantArgs  int
	}{
		{
			name:      "tenant only",
			q:         aggregator.Query{TenantID: tenant, GroupBy: normalizer.GroupByService},
			wantWhere: "WHERE tenant_id = $1 GROUP BY",
			wantArgs:  1,
		},
		{
			name: "every filter",
			q: aggregator.Query{
				TenantID: tenant, GroupBy: normalizer.GroupByAccountRef,
				Provider: integration.ProviderAWS, AccountRef: "111", Start: &start, End: &end,
			},
			wantWhere: "WHERE tenant_id = $1 AND provider = $2 AND account_ref = $3 AND cost_date >= $4 AND cost_date <= $5 GROUP BY",
			wantArgs:  5,
		},
		{
			name:      "end bound alone",
			q:         aggregator.Query{TenantID: tenant, GroupBy: normalizer.GroupByProvider, End: &end},
			wantWhere: "WHERE tenant_id = $1 AND cost_date <= $2 GROUP BY",
			wantArgs:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := groupCostsSQL(tt.q)
			if !strings.Contains(sql, tt.wantWhere) {
				t.Errorf("sql = %s\nwant fragment %q", sql, tt.wantWhere)
			}
			if !strings.HasPrefix(sql, "SELECT NULLIF("+tt.q.GroupBy.Column()+", '')") {
				t.Errorf("sql does not group on %s: %s", tt.q.GroupBy.Column(), sql)
			}
			if len(args) != tt.wantArgs || args[0] != tenant {
				t.Errorf("args = %v", args)
			}
		})
	}
}

func TestGroupCostsSQLRejectsUnsanctionedColumn(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for a column outside the allow-list")
		}
	}()
	groupCostsSQL(aggregator.Query{TenantID: uuid.New(), GroupBy: normalizer.GroupBy("cost; DROP TABLE x")})
}

func TestPostgresGroupCosts(t *testing.T) {
	ec2 := "EC2"
	none := "(none)"
	db := &fakeDB{rows: &fakeRows{rows: [][]any{
		{&ec2, "15.00"},
		{(*string)(nil), "2.5"},
		{&none, "7"},
	}}}

	got, err := NewPostgresStore(db).GroupCosts(context.Background(), aggregator.Query{TenantID: uuid.New(), GroupBy: normalizer.GroupByService})
	if err != nil {
		t.Fatalf("GroupCosts: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %v", got)
	}
	if got[0].Group != "EC2" || got[0].Missing || !got[0].TotalCost.Equal(decimal.NewFromInt(15)) {
		t.Errorf("row 0 = %+v", got[0])
	}
	if got[1].Group != aggregator.MissingGroupLabel || !got[1].Missing {
		t.Errorf("NULL group = %+v, want missing", got[1])
	}
	if got[2].Group != "(none)" || got[2].Missing {
		t.Errorf("literal (none) = %+v, want a real group", got[2])
	}
}

func TestPostgresErrorsAreStoreErrors(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	s := NewPostgresStore(db)

	if _, err := s.ListIntegrations(context.Background()); !ferrors.IsType(err, ferrors.TypeStore) {
		t.Errorf("ListIntegrations err = %v", err)
	}
	if _, err := s.GroupCosts(context.Background(), aggregator.Query{TenantID: uuid.New(), GroupBy: normalizer.GroupByService}); !ferrors.IsType(err, ferrors.TypeStore) {
		t.Errorf("GroupCosts err = %v", err)
	}
	rec := normalizer.NewUsageRecord(uuid.New(), integration.ProviderAWS, time.Now())
	if err := s.AppendUsage(context.Background(), rec); !ferrors.IsType(err, ferrors.TypeStore) {
		t.Errorf("AppendUsage err = %v", err)
	}
}

func TestPostgresAppendUsage(t *testing.T) {
	db := &fakeDB{}
	rec := normalizer.NewUsageRecord(uuid.New(), integration.ProviderGCP, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	rec.Cost = decimal.RequireFromString("1.25")
	rec.Service = normalizer.Ptr("BigQuery")

	if err := NewPostgresStore(db).AppendUsage(context.Background(), rec); err != nil {
		t.Fatalf("AppendUsage: %v", err)
	}
	if !strings.Contains(db.lastSQL, "INSERT INTO cloud_usage_raw") || len(db.lastArgs) != 18 {
		t.Fatalf("sql = %s args = %d", db.lastSQL, len(db.lastArgs))
	}
	if db.lastArgs[13] != "1.25" {
		t.Errorf("cost arg = %v", db.lastArgs[13])
	}
	if q, ok := db.lastArgs[11].(*string); !ok || q != nil {
		t.Errorf("absent quantity should be a nil *string, got %#v", db.lastArgs[11])
	}

	// a record without a tenant never reaches the database
	db.lastSQL = ""
	if err := NewPostgresStore(db).AppendUsage(context.Background(), normalizer.UsageRecord{}); err == nil || db.lastSQL != "" {
		t.Errorf("invalid record: err = %v, sql = %q", err, db.lastSQL)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tenant, other := uuid.New(), uuid.New()

	s.AddIntegration(integration.Integration{ID: uuid.New(), TenantID: tenant, Provider: integration.ProviderAWS, Type: integration.TypeCostAPI})
	s.AddFacts(
		normalizer.CostFact{TenantID: tenant, Provider: integration.ProviderAWS, CostDate: time.Now(), Service: normalizer.Ptr("EC2"), Cost: decimal.NewFromInt(4)},
		normalizer.CostFact{TenantID: other, Provider: integration.ProviderAWS, CostDate: time.Now(), Service: normalizer.Ptr("EC2"), Cost: decimal.NewFromInt(9)},
	)
	s.AddSubscription(aggregator.Subscription{TenantID: tenant, Name: "Figma"})
	s.AddSubscription(aggregator.Subscription{TenantID: other, Name: "Jira"})

	ins, _ := s.ListIntegrations(ctx)
	if len(ins) != 1 {
		t.Errorf("integrations = %v", ins)
	}

	groups, _ := s.GroupCosts(ctx, aggregator.Query{TenantID: tenant, GroupBy: normalizer.GroupByService})
	if len(groups) != 1 || !groups[0].TotalCost.Equal(decimal.NewFromInt(4)) {
		t.Errorf("groups = %v", groups)
	}

	subs, _ := s.ListSubscriptions(ctx, tenant)
	if len(subs) != 1 || subs[0].Name != "Figma" {
		t.Errorf("subscriptions = %v", subs)
	}

	rec := normalizer.NewUsageRecord(tenant, integration.ProviderAWS, time.Now())
	if err := s.AppendUsage(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendUsage(ctx, normalizer.UsageRecord{}); !ferrors.IsType(err, ferrors.TypeStore) {
		t.Errorf("invalid record err = %v", err)
	}
	if len(s.Usage()) != 1 {
		t.Errorf("usage = %d rows", len(s.Usage()))
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.AppendUsage(cancelled, rec); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled append err = %v", err)
	}
}
