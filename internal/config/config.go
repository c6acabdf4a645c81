// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Tenant database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Proof storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Settings  Settings
	Secrets   SecretsConfig
	Storage   StorageConfig
	Stripe    StripeConfig
	Notify    NotifyConfig
	Jobs      JobsConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port              string
	Environment       string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// DatabaseConfig points at the central registry database.
type DatabaseConfig struct {
	Path string
}

// Settings is the read-only settings store consumed by the services.
// It is built once at startup and injected; nothing reads it globally.
type Settings struct {
	AutoProvisioning    bool
	TrialDays           int
	GracePeriodDays     int
	DefaultPlanID       string
	ProvisioningTimeout time.Duration
	TrialReminderWindow time.Duration
	TenantDB            TenantDBTemplate
}

// TenantDBTemplate holds the defaults used when allocating a tenant database.
type TenantDBTemplate struct {
	Driver        string
	Host          string
	Port          int
	AdminUser     string
	AdminPassword string
	AdminDatabase string
	SSLMode       string
	// DataDir holds one database file per tenant when Driver is sqlite.
	DataDir string
}

// AdminURL is the connection string of the PostgreSQL maintenance database.
func (t TenantDBTemplate) AdminURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(t.AdminUser, t.AdminPassword),
		Host:     net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Path:     "/" + t.AdminDatabase,
		RawQuery: "sslmode=" + url.QueryEscape(t.SSLMode),
	}
	return u.String()
}

type SecretsConfig struct {
	// EncryptionKey is either 64 hex characters or a passphrase.
	EncryptionKey string
}

type StorageConfig struct {
	Backend     string
	LocalDir    string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// JobsConfig schedules background work.
type JobsConfig struct {
	// SweepInterval is how often due cancellations, scheduled plan changes
	// and trial reminders are processed. Zero disables the sweep.
	SweepInterval time.Duration
}

// TelemetryConfig selects where traces and metrics go. The deployment
// environment comes from ServerConfig.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string
	// Insecure sends OTLP over plain HTTP. Defaults to true outside production.
	Insecure    bool
	SampleRatio float64
}

type StripeConfig struct {
	WebhookSecret string
}

type NotifyConfig struct {
	ResendAPIKey string
	FromEmail    string
	FromName     string
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Environment:       getEnv("ENVIRONMENT", "development"),
			ReadHeaderTimeout: getDurationEnv("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
			ShutdownTimeout:   getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "tenantops.db"),
		},
		Settings: Settings{
			AutoProvisioning:    getBoolEnv("AUTO_PROVISIONING", true),
			TrialDays:           getIntEnv("TRIAL_DAYS", 14),
			GracePeriodDays:     getIntEnv("GRACE_PERIOD_DAYS", 7),
			DefaultPlanID:       getEnv("DEFAULT_PLAN_ID", ""),
			ProvisioningTimeout: getDurationEnv("PROVISIONING_TIMEOUT", 2*time.Minute),
			TrialReminderWindow: getDurationEnv("TRIAL_REMINDER_WINDOW", 72*time.Hour),
			TenantDB: TenantDBTemplate{
				Driver:        getEnv("TENANT_DB_DRIVER", DriverSQLite),
				Host:          getEnv("TENANT_DB_HOST", "localhost"),
				Port:          getIntEnv("TENANT_DB_PORT", 5432),
				AdminUser:     getEnv("TENANT_DB_ADMIN_USER", "postgres"),
				AdminPassword: getEnv("TENANT_DB_ADMIN_PASSWORD", ""),
				AdminDatabase: getEnv("TENANT_DB_ADMIN_DATABASE", "postgres"),
				SSLMode:       getEnv("TENANT_DB_SSLMODE", "disable"),
				DataDir:       getEnv("TENANT_DB_DATA_DIR", "tenants"),
			},
		},
		Secrets: SecretsConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Storage: StorageConfig{
			Backend:     getEnv("PROOF_STORAGE", StorageLocal),
			LocalDir:    getEnv("PROOF_STORAGE_DIR", "proofs"),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3Region:    getEnv("S3_REGION", "auto"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3AccessKey: getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},
		Stripe: StripeConfig{
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Notify: NotifyConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			FromEmail:    getEnv("NOTIFY_FROM_EMAIL", "noreply@tenantops.local"),
			FromName:     getEnv("NOTIFY_FROM_NAME", "tenantops"),
		},
		Jobs: JobsConfig{
			SweepInterval: getDurationEnv("SWEEP_INTERVAL", 15*time.Minute),
		},
	}
	cfg.Telemetry = TelemetryConfig{
		ServiceName:    getEnv("OTEL_SERVICE_NAME", "tenantops"),
		ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		Exporter:       getEnv("OTEL_EXPORTER", "stdout"),
		Insecure:       getBoolEnv("OTEL_EXPORTER_INSECURE", cfg.Environment() != "production"),
		SampleRatio:    getFloatEnv("OTEL_TRACES_SAMPLE_RATIO", 1),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Environment() == "production" && c.Secrets.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required in production")
	}
	switch c.Settings.TenantDB.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("TENANT_DB_DRIVER: unknown driver %q", c.Settings.TenantDB.Driver)
	}
	switch c.Storage.Backend {
	case StorageLocal:
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when PROOF_STORAGE=s3")
		}
	default:
		return fmt.Errorf("PROOF_STORAGE: unknown backend %q", c.Storage.Backend)
	}
	if c.Jobs.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative")
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("OTEL_EXPORTER: unknown exporter %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be between 0 and 1")
	}
	if c.Settings.TrialDays < 0 || c.Settings.GracePeriodDays < 0 {
		return fmt.Errorf("TRIAL_DAYS and GRACE_PERIOD_DAYS must not be negative")
	}
	return nil
}

// Environment returns the deployment environment name.
func (c Config) Environment() string {
	return c.Server.Environment
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
