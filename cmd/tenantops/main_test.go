package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/neomorfeo/tenantops/internal/adapter/fsm"
	handler "github.com/neomorfeo/tenantops/internal/adapter/http"
	"github.com/neomorfeo/tenantops/internal/adapter/notify"
	"github.com/neomorfeo/tenantops/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantops/internal/adapter/storage"
	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/config"
	"github.com/neomorfeo/tenantops/internal/domain"
)

func TestNewLogger(t *testing.T) {
	if _, ok := newLogger("production").Handler().(*slog.JSONHandler); !ok {
		t.Error("production logger should use the JSON handler")
	}
	if _, ok := newLogger("development").Handler().(*slog.TextHandler); !ok {
		t.Error("development logger should use the text handler")
	}
}

func TestNewProvisioner_SQLite(t *testing.T) {
	p, closeFn, err := newProvisioner(context.Background(), config.TenantDBTemplate{
		Driver:  config.DriverSQLite,
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("newProvisioner: %v", err)
	}
	defer closeFn()

	if _, ok := p.(*sqlite.FileProvisioner); !ok {
		t.Errorf("got %T, want *sqlite.FileProvisioner", p)
	}
}

func TestNewBlobStore_Local(t *testing.T) {
	store, err := newBlobStore(context.Background(), config.StorageConfig{
		Backend:  config.StorageLocal,
		LocalDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("newBlobStore: %v", err)
	}
	if _, ok := store.(*storage.LocalStorage); !ok {
		t.Errorf("got %T, want *storage.LocalStorage", store)
	}
}

func TestNewNotifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n, err := newNotifier(config.NotifyConfig{}, logger)
	if err != nil {
		t.Fatalf("newNotifier: %v", err)
	}
	if _, ok := n.(*notify.LogNotifier); !ok {
		t.Errorf("without an API key got %T, want *notify.LogNotifier", n)
	}

	n, err = newNotifier(config.NotifyConfig{
		ResendAPIKey: "re_test",
		FromEmail:    "ops@example.com",
		FromName:     "Ops",
	}, logger)
	if err != nil {
		t.Fatalf("newNotifier: %v", err)
	}
	if _, ok := n.(*notify.EmailNotifier); !ok {
		t.Errorf("with an API key got %T, want *notify.EmailNotifier", n)
	}
}

func TestNewSecretBox_DevelopmentFallback(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	box, err := newSecretBox(config.Config{}, logger)
	if err != nil {
		t.Fatalf("newSecretBox: %v", err)
	}

	sealed, err := box.Encrypt("s3cret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	opened, err := box.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if opened != "s3cret" {
		t.Errorf("round trip = %q, want %q", opened, "s3cret")
	}
}

// discardPublisher drops events. The smoke test verifies HTTP wiring, not River.
type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, domain.Event) error { return nil }

// TestSmoke wires the full stack like run() and registers a tenant.
func TestSmoke(t *testing.T) {
	db, err := sqlite.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	settings := config.Settings{
		AutoProvisioning: false,
		TrialDays:        14,
		GracePeriodDays:  7,
		TenantDB:         config.TenantDBTemplate{Driver: config.DriverSQLite, DataDir: t.TempDir()},
	}

	box, err := newSecretBox(config.Config{}, logger)
	if err != nil {
		t.Fatalf("secrets: %v", err)
	}
	provisioner, closeProvisioner, err := newProvisioner(context.Background(), settings.TenantDB)
	if err != nil {
		t.Fatalf("provisioner: %v", err)
	}
	t.Cleanup(closeProvisioner)
	blobs, err := newBlobStore(context.Background(), config.StorageConfig{LocalDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	tenants := sqlite.NewTenantRepository(db)
	subs := sqlite.NewSubscriptionRepository(db)
	plans := sqlite.NewPlanRepository(db)
	pub := discardPublisher{}
	opts := []app.Option{app.WithLogger(logger)}

	tenantSvc := app.NewTenantService(tenants, subs, pub, fsm.NewTenant(), settings, opts...)
	subSvc := app.NewSubscriptionService(subs, plans, tenants, pub, fsm.NewSubscription(), tenantSvc, settings, opts...)
	services := handler.Services{
		Tenants:       tenantSvc,
		Provisioning:  app.NewProvisioningService(tenants, subs, sqlite.NewTenantDatabaseRepository(db), provisioner, box, pub, fsm.NewProvisioning(), tenantSvc, settings, opts...),
		Plans:         app.NewPlanService(plans, opts...),
		Subscriptions: subSvc,
		Payments:      app.NewPaymentService(sqlite.NewPaymentRepository(db), subs, tenants, blobs, pub, fsm.NewPayment(), subSvc, tenantSvc, opts...),
	}

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("tenantops", "0.1.0"))
	handler.Register(api, services, handler.Options{Logger: logger})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	body := `{"name":"Acme","email":"ops@acme.test","subdomain":"acme"}`
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/api/v1/tenants", strings.NewReader(body))
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/v1/tenants failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var tenant map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&tenant); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tenant["status"] != "pending" {
		t.Errorf("status = %v, want pending", tenant["status"])
	}
	if tenant["database_status"] != "pending" {
		t.Errorf("database_status = %v, want pending", tenant["database_status"])
	}
}

// runEnv points every on-disk location at temp dirs and silences the
// stdout telemetry exporter.
func runEnv(t *testing.T, dbPath, port string) {
	t.Helper()

	t.Setenv("DATABASE_PATH", dbPath)
	t.Setenv("PORT", port)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("TENANT_DB_DRIVER", "sqlite")
	t.Setenv("TENANT_DB_DATA_DIR", t.TempDir())
	t.Setenv("PROOF_STORAGE", "local")
	t.Setenv("PROOF_STORAGE_DIR", t.TempDir())
	t.Setenv("OTEL_EXPORTER", "stdout")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0")
	t.Setenv("SWEEP_INTERVAL", "0")

	origStdout := os.Stdout
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("opening /dev/null: %v", err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = origStdout
		devNull.Close()
	})
}

// TestRun exercises run() end-to-end: OTel, River, the HTTP server and
// graceful shutdown.
func TestRun(t *testing.T) {
	runEnv(t, t.TempDir()+"/test-run.db", "19876")

	errCh := make(chan error, 1)
	go func() { errCh <- run() }()

	serverURL := "http://localhost:19876"
	ready := false
	for i := 0; i < 50; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL+"/api/v1/tenants", nil)
		resp, reqErr := http.DefaultClient.Do(req)
		if reqErr == nil {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ready {
		t.Fatal("server did not start within 5 seconds")
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL+"/api/v1/plans", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/v1/plans failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("finding process: %v", err)
	}
	if err := proc.Signal(syscall.SIGINT); err != nil {
		t.Fatalf("sending SIGINT: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not exit within 10 seconds")
	}
}

func TestRun_InvalidDB(t *testing.T) {
	runEnv(t, "/nonexistent/path/db.sqlite", "19877")

	if err := run(); err == nil {
		t.Fatal("expected error for invalid database path, got nil")
	}
}
