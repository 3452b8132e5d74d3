// Package ingest runs provider adapters for every configured integration and
// appends what they return to the raw usage store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
	"github.com/lvonguyen/cloudspend/internal/providers"
)

// Directory lists the configured integrations
type Directory interface {
	ListIntegrations(ctx context.Context) ([]integration.Integration, error)
}

// UsageWriter appends one usage record atomically
type UsageWriter interface {
	AppendUsage(ctx context.Context, rec normalizer.UsageRecord) error
}

// AdapterSource resolves an adapter for a (provider, type) pair.
// *providers.Registry satisfies it.
type AdapterSource interface {
	Lookup(provider integration.Provider, typ integration.Type) (providers.Adapter, bool)
}

// Config tunes a dispatcher run
type Config struct {
	Workers         int
	AdapterTimeout  time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 5 * time.Minute
	}
	return c
}

// Dispatcher runs one import pass over the integration directory.
// Breaker state is kept per integration for the lifetime of the dispatcher,
// so one tenant's failing credentials never stop another tenant's import.
type Dispatcher struct {
	dir      Directory
	writer   UsageWriter
	adapters AdapterSource
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	breakers map[uuid.UUID]*gobreaker.CircuitBreaker
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(dir Directory, writer UsageWriter, adapters AdapterSource, cfg Config, logger *zap.Logger, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{
		dir:      dir,
		writer:   writer,
		adapters: adapters,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		tracer:   tracer,
		breakers: make(map[uuid.UUID]*gobreaker.CircuitBreaker),
	}
}

// Run imports every integration. Only a failure to read the directory is
// returned; per-integration failures are logged and recorded in the report.
func (d *Dispatcher) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New(), Started: time.Now().UTC()}
	logger := d.logger.With(zap.String("run_id", report.RunID.String()))

	integrations, err := d.dir.ListIntegrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	logger.Info("Starting import run", zap.Int("integrations", len(integrations)))

	report.Results = make([]IntegrationResult, len(integrations))

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for i, in := range integrations {
		g.Go(func() error {
			report.Results[i] = d.runIntegration(ctx, logger, in)
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = time.Now().UTC()
	written, dropped := report.Totals()
	logger.Info("Import run complete",
		zap.Int("written", written),
		zap.Int("dropped", dropped),
		zap.Int("failed", len(report.Failed())),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)

	return report, nil
}

func (d *Dispatcher) runIntegration(ctx context.Context, logger *zap.Logger, in integration.Integration) IntegrationResult {
	res := IntegrationResult{
		IntegrationID: in.ID,
		TenantID:      in.TenantID,
		Provider:      in.Provider,
		Type:          in.Type,
	}
	logger = logger.With(
		zap.String("tenant_id", in.TenantID.String()),
		zap.String("integration_id", in.ID.String()),
		zap.String("provider", string(in.Provider)),
		zap.String("type", string(in.Type)),
	)

	ctx, span := d.tracer.Start(ctx, "ingest.integration", trace.WithAttributes(
		attribute.String("tenant_id", in.TenantID.String()),
		attribute.String("integration_id", in.ID.String()),
		attribute.String("provider", string(in.Provider)),
		attribute.String("type", string(in.Type)),
	))
	defer span.End()

	adapter, ok := d.adapters.Lookup(in.Provider, in.Type)
	if !ok {
		res.Skipped = true
		logger.Warn("No adapter for integration, skipping")
		span.SetAttributes(attribute.Bool("skipped", true))
		return res
	}
	res.Adapter = adapter.Name()

	cb := d.breaker(in.ID)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		res.Attempts++
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, d.fetch(ctx, logger, adapter, in, &res)
		})
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return struct{}{}, backoff.Permanent(err)
		case ferrors.Retryable(err) && res.Written == 0:
			// nothing written yet, so another attempt cannot duplicate rows
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Retrying integration", zap.Error(err), zap.Duration("backoff", next))
		}),
	)

	span.SetAttributes(
		attribute.Int("written", res.Written),
		attribute.Int("dropped", res.Dropped),
		attribute.Int("attempts", res.Attempts),
	)

	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		res.Err = err
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ferrors.TypeOf(err)))
		logger.Error("Integration import failed",
			zap.Error(err),
			zap.String("error_type", string(ferrors.TypeOf(err))),
			zap.Int("written", res.Written),
		)
		return res
	}

	logger.Info("Integration imported",
		zap.String("adapter", res.Adapter),
		zap.Int("written", res.Written),
		zap.Int("dropped", res.Dropped),
	)
	return res
}

// fetch ranges one adapter invocation, writing each record as it arrives.
// Written rows are never rolled back.
func (d *Dispatcher) fetch(ctx context.Context, logger *zap.Logger, adapter providers.Adapter, in integration.Integration, res *IntegrationResult) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AdapterTimeout)
	defer cancel()

	// a retried attempt re-reads the source from the start
	res.Dropped = 0
	for rec, err := range adapter.Fetch(ctx, in.TenantID, in.Config) {
		if err != nil {
			if ferrors.IsType(err, ferrors.TypeData) {
				res.Dropped++
				logger.Warn("Dropped source row", zap.Error(err))
				continue
			}
			return err
		}
		if err := d.writer.AppendUsage(ctx, rec); err != nil {
			return err
		}
		res.Written++
	}
	return nil
}

func (d *Dispatcher) breaker(id uuid.UUID) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[id]; ok {
		return cb
	}
	threshold := d.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id.String(),
		MaxRequests: 1,
		Timeout:     d.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// only provider-side failures count against the integration
		IsSuccessful: func(err error) bool {
			return err == nil || !(ferrors.IsType(err, ferrors.TypeTransport) || ferrors.IsType(err, ferrors.TypeAuth))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("Integration breaker state changed",
				zap.String("integration_id", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	d.breakers[id] = cb
	return cb
}
