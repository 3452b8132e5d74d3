// Package store persists integrations, raw usage and normalized cost facts.
package store

import (
	"context"
	"fmt"
	"strings"
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

// DB is satisfied by *pgxpool.Pool and pgx.Tx
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements every store role on one database
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store over db
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListIntegrations returns a snapshot of every configured integration.
func (s *PostgresStore) ListIntegrations(ctx context.Context) ([]integration.Integration, error) {
	query := `
		SELECT id, tenant_id, type, provider, config
		FROM integrations
		ORDER BY tenant_id, id
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, ferrors.Store("failed to query integrations", err)
	}
	defer rows.Close()

	var out []integration.Integration
	for rows.Next() {
		var (
			in        integration.Integration
			typ, prov string
			cfg       map[string]any
		)
		if err := rows.Scan(&in.ID, &in.TenantID, &typ, &prov, &cfg); err != nil {
			return nil, ferrors.Store("failed to scan integration", err)
		}
		in.Type = integration.ParseType(typ)
		in.Provider = integration.ParseProvider(prov)
		in.Config = integration.Config(cfg)
		out = append(out, in)
	}

	if err := rows.Err(); err != nil {
		return nil, ferrors.Store("error iterating integrations", err)
	}

	return out, nil
}

// AppendUsage inserts one raw usage row. Each call is its own statement.
func (s *PostgresStore) AppendUsage(ctx context.Context, rec normalizer.UsageRecord) error {
	if err := rec.Validate(); err != nil {
		return ferrors.Store("rejected usage record", err)
	}

	query := `
		INSERT INTO cloud_usage_raw (
			tenant_id, provider, usage_date, billing_period_start, billing_period_end,
			account_ref, service, resource_id, resource_type, usage_type, operation,
			usage_quantity, usage_unit, cost, amortized_cost, currency, tags, raw_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := s.db.Exec(ctx, query,
		rec.TenantID, string(rec.Provider), rec.UsageDate, rec.BillingPeriodStart, rec.BillingPeriodEnd,
		rec.AccountRef, rec.Service, rec.ResourceID, rec.ResourceType, rec.UsageType, rec.Operation,
		numeric(rec.UsageQuantity), rec.UsageUnit, rec.Cost.String(), numeric(rec.AmortizedCost), rec.Currency,
		rec.Tags, rec.Raw,
	)
	if err != nil {
		return ferrors.Store("failed to insert usage", err)
	}

	return nil
}

// GroupCosts sums finops_focus_cost_data per group.
func (s *PostgresStore) GroupCosts(ctx context.Context, q aggregator.Query) ([]aggregator.GroupResult, error) {
	query, args := groupCostsSQL(q)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, ferrors.Store("failed to query cost facts", err)
	}
	defer rows.Close()

	var out []aggregator.GroupResult
	for rows.Next() {
		var (
			group *string
			total string
		)
		if err := rows.Scan(&group, &total); err != nil {
			return nil, ferrors.Store("failed to scan cost group", err)
		}
		cost, err := decimal.NewFromString(total)
		if err != nil {
			return nil, ferrors.Store("failed to parse cost total", err)
		}

		r := aggregator.GroupResult{TotalCost: cost}
		if group == nil {
			r.Group = aggregator.MissingGroupLabel
			r.Missing = true
		} else {
			r.Group = *group
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, ferrors.Store("error iterating cost groups", err)
	}

	return out, nil
}

// groupCostsSQL builds the grouped query. The group column only ever comes
// from the GroupBy allow-list; every value is a placeholder argument.
func groupCostsSQL(q aggregator.Query) (string, []any) {
	args := []any{q.TenantID}
	where := []string{"tenant_id = $1"}

	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.Provider != "" {
		add("provider = $%d", string(q.Provider))
	}
	if q.AccountRef != "" {
		add("account_ref = $%d", q.AccountRef)
	}
	if q.Start != nil {
		add("cost_date >= $%d", *q.Start)
	}
	if q.End != nil {
		add("cost_date <= $%d", *q.End)
	}

	query := fmt.Sprintf(
		"SELECT NULLIF(%s, '') AS grp, COALESCE(SUM(cost), 0)::text AS total_cost FROM finops_focus_cost_data WHERE %s GROUP BY grp",
		q.GroupBy.Column(), strings.Join(where, " AND "),
	)
	return query, args
}

// ListSubscriptions returns the tenant's SaaS licenses.
func (s *PostgresStore) ListSubscriptions(ctx context.Context, tenantID uuid.UUID) ([]aggregator.Subscription, error) {
	query := `
		SELECT id, tenant_id, name, provider, COALESCE(cost, 0)::text, COALESCE(billing_cycle, ''),
			COALESCE(users, 0)::int, renewal_date, COALESCE(status, ''), COALESCE(category, '')
		FROM saas_licenses
		WHERE tenant_id = $1
		ORDER BY name
	`
	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, ferrors.Store("failed to query saas licenses", err)
	}
	defer rows.Close()

	var out []aggregator.Subscription
	for rows.Next() {
		var (
			sub     aggregator.Subscription
			cost    string
			renewal *time.Time
		)
		err := rows.Scan(
			&sub.ID, &sub.TenantID, &sub.Name, &sub.Provider, &cost, &sub.BillingCycle,
			&sub.Users, &renewal, &sub.Status, &sub.Category,
		)
		if err != nil {
			return nil, ferrors.Store("failed to scan saas license", err)
		}
		if sub.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, ferrors.Store("failed to parse saas license cost", err)
		}
		sub.RenewalDate = renewal
		out = append(out, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, ferrors.Store("error iterating saas licenses", err)
	}

	return out, nil
}

func numeric(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
