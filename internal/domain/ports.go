package domain

import (
	"context"
	"io"
	"time"
)

// TenantRepository defines the persistence contract for tenants.
// Update never writes DatabaseStatus; that column only moves through
// CompareAndSetDatabaseStatus.
type TenantRepository interface {
	Create(ctx context.Context, tenant Tenant) error
	GetByID(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context, filter TenantFilter) ([]Tenant, error)
	Update(ctx context.Context, tenant Tenant) error
	CompareAndSetDatabaseStatus(ctx context.Context, id string, from []ProvisioningStatus, to ProvisioningStatus) (bool, error)
}

// PlanRepository defines the persistence contract for plans.
type PlanRepository interface {
	Create(ctx context.Context, plan Plan) error
	GetByID(ctx context.Context, id string) (Plan, error)
	List(ctx context.Context, activeOnly bool) ([]Plan, error)
	Update(ctx context.Context, plan Plan) error
}

// SubscriptionFilter holds optional criteria for listing subscriptions.
type SubscriptionFilter struct {
	TenantID   string
	Status     *SubscriptionStatus
	LiveOnly   bool
	EndsBefore *time.Time
	Limit      int
	Offset     int
}

// SubscriptionRepository defines the persistence contract for subscriptions.
// Create and Update return a *ConflictError when the tenant would end up with
// more than one trial or active subscription.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub Subscription) error
	GetByID(ctx context.Context, id string) (Subscription, error)
	// Live returns the tenant's trial or active subscription, or ErrSubscriptionNotFound.
	Live(ctx context.Context, tenantID string) (Subscription, error)
	List(ctx context.Context, filter SubscriptionFilter) ([]Subscription, error)
	Update(ctx context.Context, sub Subscription) error
}

// PaymentRepository defines the persistence contract for payments.
type PaymentRepository interface {
	Create(ctx context.Context, payment Payment) error
	GetByID(ctx context.Context, id string) (Payment, error)
	List(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	// AttachProof stores the proof key and metadata of a pending payment.
	AttachProof(ctx context.Context, payment Payment) (bool, error)
	// Resolve writes the terminal status, approver, timestamps and metadata
	// only while the stored payment is still pending.
	Resolve(ctx context.Context, payment Payment) (bool, error)
}

// TenantDatabaseRepository stores connection descriptors and the provisioning step log.
type TenantDatabaseRepository interface {
	Get(ctx context.Context, tenantID string) (TenantDatabase, error)
	Upsert(ctx context.Context, db TenantDatabase) error
	CompletedSteps(ctx context.Context, tenantID string) (map[ProvisioningStep]time.Time, error)
	RecordStep(ctx context.Context, tenantID string, step ProvisioningStep, at time.Time) error
	ResetSteps(ctx context.Context, tenantID string) error
}

// TenantSeed is the initial data written into a freshly migrated tenant database.
type TenantSeed struct {
	TenantID   string
	Name       string
	Subdomain  string
	OwnerEmail string
}

// DatabaseProvisioner creates and prepares a tenant's isolated database.
// Every method must be safe to repeat after a partial failure.
type DatabaseProvisioner interface {
	CreateDatabase(ctx context.Context, creds DatabaseCredentials) error
	TestConnection(ctx context.Context, creds DatabaseCredentials) error
	Migrate(ctx context.Context, creds DatabaseCredentials) error
	Seed(ctx context.Context, creds DatabaseCredentials, seed TenantSeed) error
}

// SecretBox encrypts credentials at rest.
type SecretBox interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EventPublisher defines the contract for emitting domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Notifier delivers a lifecycle event to the tenant.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// BlobStore keeps offline payment proof documents.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
}
