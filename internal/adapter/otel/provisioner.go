package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantops/internal/domain"
)

const (
	provisioningOperationsName = "tenantops.provisioning.operations"
	provisioningDurationName   = "tenantops.provisioning.duration"
)

// TracingProvisioner wraps a domain.DatabaseProvisioner with a span per
// operation and counts operations by outcome. Credentials never become
// attributes beyond host and database name.
type TracingProvisioner struct {
	next       domain.DatabaseProvisioner
	tracer     trace.Tracer
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// Compile-time check: TracingProvisioner implements domain.DatabaseProvisioner.
var _ domain.DatabaseProvisioner = (*TracingProvisioner)(nil)

// NewTracingProvisioner creates the decorator and registers its instruments.
func NewTracingProvisioner(next domain.DatabaseProvisioner) (*TracingProvisioner, error) {
	meter := otel.Meter(tracerName)
	counter, err := meter.Int64Counter(provisioningOperationsName,
		metric.WithDescription("Tenant database provisioning operations by outcome."),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(provisioningDurationName,
		metric.WithDescription("Time spent in tenant database provisioning operations."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &TracingProvisioner{
		next:       next,
		tracer:     otel.Tracer(tracerName),
		operations: counter,
		duration:   duration,
	}, nil
}

func (p *TracingProvisioner) CreateDatabase(ctx context.Context, creds domain.DatabaseCredentials) error {
	return p.run(ctx, "create_database", creds, func(ctx context.Context) error {
		return p.next.CreateDatabase(ctx, creds)
	})
}

func (p *TracingProvisioner) TestConnection(ctx context.Context, creds domain.DatabaseCredentials) error {
	return p.run(ctx, "test_connection", creds, func(ctx context.Context) error {
		return p.next.TestConnection(ctx, creds)
	})
}

func (p *TracingProvisioner) Migrate(ctx context.Context, creds domain.DatabaseCredentials) error {
	return p.run(ctx, "migrate", creds, func(ctx context.Context) error {
		return p.next.Migrate(ctx, creds)
	})
}

func (p *TracingProvisioner) Seed(ctx context.Context, creds domain.DatabaseCredentials, seed domain.TenantSeed) error {
	return p.run(ctx, "seed", creds, func(ctx context.Context) error {
		return p.next.Seed(ctx, creds, seed)
	})
}

func (p *TracingProvisioner) run(ctx context.Context, op string, creds domain.DatabaseCredentials, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "DatabaseProvisioner."+op,
		trace.WithAttributes(
			attribute.String("db.host", creds.Host),
			attribute.String("db.name", creds.Database),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start).Seconds()
	recordError(span, err)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	p.operations.Add(ctx, 1, attrs)
	p.duration.Record(ctx, elapsed, attrs)
	return err
}
