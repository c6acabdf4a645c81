package domain

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// PasswordMask replaces the password in every read-back of a tenant database.
const PasswordMask = "********"

// TenantDatabaseStatus records how a tenant database came to exist.
type TenantDatabaseStatus string

const (
	TenantDatabaseManual TenantDatabaseStatus = "manual"
	TenantDatabaseAuto   TenantDatabaseStatus = "auto"
	TenantDatabaseFailed TenantDatabaseStatus = "failed"
)

// TenantDatabase is the connection descriptor of a tenant's isolated storage.
// The password is only ever held encrypted.
type TenantDatabase struct {
	TenantID          string
	Host              string
	Port              int
	Name              string
	Username          string
	EncryptedPassword string
	Status            TenantDatabaseStatus
	ProvisionedAt     *time.Time
	LastVerifiedAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Masked returns a copy safe to hand to callers.
func (d TenantDatabase) Masked() TenantDatabase {
	d.EncryptedPassword = PasswordMask
	return d
}

// Verified reports whether a connectivity test has ever succeeded.
func (d TenantDatabase) Verified() bool {
	return d.LastVerifiedAt != nil
}

// ConnectionDescriptor is operator-supplied connection input for manual provisioning.
type ConnectionDescriptor struct {
	Host     string `validate:"required,hostname_rfc1123|ip"`
	Port     int    `validate:"required,min=1,max=65535"`
	Database string `validate:"required,max=63"`
	Username string `validate:"required,max=63"`
	Password string `validate:"required,ne=********"`
}

// DatabaseCredentials is a decrypted descriptor handed to a provisioner.
// It never leaves the provisioning path.
type DatabaseCredentials struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// Address returns host:port.
func (c DatabaseCredentials) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogValue keeps the password out of structured logs.
func (c DatabaseCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", c.Host),
		slog.Int("port", c.Port),
		slog.String("database", c.Database),
		slog.String("username", c.Username),
	)
}

// ProvisioningStep names one durable step of provisioning a tenant database.
type ProvisioningStep string

const (
	StepCredentialsAllocated ProvisioningStep = "credentials_allocated"
	StepDatabaseCreated      ProvisioningStep = "database_created"
	StepConnectionVerified   ProvisioningStep = "connection_verified"
	StepSchemaMigrated       ProvisioningStep = "schema_migrated"
	StepSeeded               ProvisioningStep = "seeded"
)

// DatabaseName is the deterministic database name for a tenant.
func DatabaseName(tenantID string) string {
	return "tenant_" + strings.ReplaceAll(strings.ToLower(tenantID), "-", "")
}

// DatabaseOwner is the deterministic role that owns a tenant's database.
func DatabaseOwner(tenantID string) string {
	return DatabaseName(tenantID) + "_owner"
}
