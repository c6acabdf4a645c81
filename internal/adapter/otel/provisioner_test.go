package otel_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	adapter "github.com/neomorfeo/tenantops/internal/adapter/otel"
	"github.com/neomorfeo/tenantops/internal/domain"
)

type stubProvisioner struct {
	migrateErr error
}

func (s *stubProvisioner) CreateDatabase(context.Context, domain.DatabaseCredentials) error {
	return nil
}

func (s *stubProvisioner) TestConnection(context.Context, domain.DatabaseCredentials) error {
	return nil
}

func (s *stubProvisioner) Migrate(context.Context, domain.DatabaseCredentials) error {
	return s.migrateErr
}

func (s *stubProvisioner) Seed(context.Context, domain.DatabaseCredentials, domain.TenantSeed) error {
	return nil
}

func setupTestMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader
}

func TestTracingProvisioner_SpansAndCounts(t *testing.T) {
	exporter := setupTestTracer(t)
	reader := setupTestMeter(t)

	prov, err := adapter.NewTracingProvisioner(&stubProvisioner{migrateErr: errors.New("boom")})
	if err != nil {
		t.Fatalf("NewTracingProvisioner() error = %v", err)
	}

	creds := domain.DatabaseCredentials{Host: "db.local", Port: 5432, Database: "tenant_abc", Username: "u", Password: "secret"}
	ctx := context.Background()
	if err := prov.CreateDatabase(ctx, creds); err != nil {
		t.Fatalf("CreateDatabase() error = %v", err)
	}
	if err := prov.Migrate(ctx, creds); err == nil {
		t.Fatal("expected migrate error")
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name != "DatabaseProvisioner.create_database" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	assertAttribute(t, spans[0], "db.name", "tenant_abc")
	for _, attr := range spans[0].Attributes {
		if attr.Value.Emit() == "secret" {
			t.Errorf("password leaked into attribute %q", attr.Key)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "tenantops.provisioning.operations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("data type = %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				op, _ := dp.Attributes.Value(attribute.Key("operation"))
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				counts[op.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}

	if counts["create_database/success"] != 1 {
		t.Errorf("create_database/success = %d, want 1", counts["create_database/success"])
	}
	if counts["migrate/failure"] != 1 {
		t.Errorf("migrate/failure = %d, want 1", counts["migrate/failure"])
	}
}
