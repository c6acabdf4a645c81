package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/tenantops/internal/config"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// ProvisioningService creates and validates isolated tenant databases.
//
// Provisioning is not wrapped in a transaction: schema statements commit as
// they run and the work happens on a different connection than the
// registry. Each status flip is a separate committed write and every
// completed step is recorded, so a failed attempt can be retried and
// resumes after the last completed step.
type ProvisioningService struct {
	tenants     domain.TenantRepository
	subs        domain.SubscriptionRepository
	databases   domain.TenantDatabaseRepository
	provisioner domain.DatabaseProvisioner
	secrets     domain.SecretBox
	publisher   domain.EventPublisher
	validator   domain.TransitionValidator[domain.ProvisioningStatus, domain.ProvisioningEvent]
	reconciler  TenantReconciler
	settings    config.Settings
	options
}

// NewProvisioningService creates a service with the given adapters.
func NewProvisioningService(
	tenants domain.TenantRepository,
	subs domain.SubscriptionRepository,
	databases domain.TenantDatabaseRepository,
	provisioner domain.DatabaseProvisioner,
	secrets domain.SecretBox,
	publisher domain.EventPublisher,
	validator domain.TransitionValidator[domain.ProvisioningStatus, domain.ProvisioningEvent],
	reconciler TenantReconciler,
	settings config.Settings,
	opts ...Option,
) *ProvisioningService {
	return &ProvisioningService{
		tenants:     tenants,
		subs:        subs,
		databases:   databases,
		provisioner: provisioner,
		secrets:     secrets,
		publisher:   publisher,
		validator:   validator,
		reconciler:  reconciler,
		settings:    settings,
		options:     newOptions(opts),
	}
}

type provisioningStep struct {
	name domain.ProvisioningStep
	// always steps run on every attempt even when already recorded.
	always bool
	run    func(ctx context.Context) error
}

// AutoProvision allocates, creates, migrates and seeds a database for the tenant.
func (s *ProvisioningService) AutoProvision(ctx context.Context, tenantID string) (domain.Tenant, error) {
	if !s.settings.AutoProvisioning {
		return domain.Tenant{}, &domain.FeatureDisabledError{Feature: "auto provisioning"}
	}

	tenant, err := s.begin(ctx, tenantID)
	if err != nil {
		return domain.Tenant{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	done, err := s.databases.CompletedSteps(ctx, tenantID)
	if err != nil {
		return domain.Tenant{}, s.fail(ctx, tenant, domain.StepCredentialsAllocated, err)
	}

	record, creds, err := s.allocate(ctx, tenant, done)
	if err != nil {
		return domain.Tenant{}, s.fail(ctx, tenant, domain.StepCredentialsAllocated, err)
	}

	steps := []provisioningStep{
		{name: domain.StepDatabaseCreated, run: func(ctx context.Context) error {
			return s.provisioner.CreateDatabase(ctx, creds)
		}},
		{name: domain.StepConnectionVerified, always: true, run: func(ctx context.Context) error {
			return s.verify(ctx, &record, creds)
		}},
		{name: domain.StepSchemaMigrated, run: func(ctx context.Context) error {
			return s.provisioner.Migrate(ctx, creds)
		}},
		{name: domain.StepSeeded, run: func(ctx context.Context) error {
			return s.provisioner.Seed(ctx, creds, seedFor(tenant))
		}},
	}
	if err := s.runSteps(ctx, tenant, done, steps); err != nil {
		return domain.Tenant{}, err
	}

	record.Status = domain.TenantDatabaseAuto
	return s.complete(ctx, tenant, record)
}

// ManualProvision registers operator-supplied connection details, tests
// them, then migrates and seeds exactly as the automatic path does.
// An unreachable database fails with *domain.ConnectionTestFailedError
// before any migration runs.
func (s *ProvisioningService) ManualProvision(ctx context.Context, tenantID string, desc domain.ConnectionDescriptor) (domain.Tenant, error) {
	if err := validateStruct(desc); err != nil {
		return domain.Tenant{}, err
	}

	tenant, err := s.begin(ctx, tenantID)
	if err != nil {
		return domain.Tenant{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	encrypted, err := s.secrets.Encrypt(desc.Password)
	if err != nil {
		return domain.Tenant{}, s.fail(ctx, tenant, domain.StepCredentialsAllocated, fmt.Errorf("encrypting password: %w", err))
	}

	now := s.now()
	record := domain.TenantDatabase{
		TenantID:          tenantID,
		Host:              desc.Host,
		Port:              desc.Port,
		Name:              desc.Database,
		Username:          desc.Username,
		EncryptedPassword: encrypted,
		Status:            domain.TenantDatabaseManual,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.databases.Upsert(ctx, record); err != nil {
		return domain.Tenant{}, s.fail(ctx, tenant, domain.StepCredentialsAllocated, fmt.Errorf("saving connection details: %w", err))
	}
	if err := s.databases.ResetSteps(ctx, tenantID); err != nil {
		return domain.Tenant{}, s.fail(ctx, tenant, domain.StepCredentialsAllocated, fmt.Errorf("resetting step log: %w", err))
	}
	if err := s.databases.RecordStep(ctx, tenantID, domain.StepCredentialsAllocated, now); err != nil {
		return domain.Tenant{}, s.fail(ctx, tenant, domain.StepCredentialsAllocated, fmt.Errorf("recording step: %w", err))
	}

	creds := domain.DatabaseCredentials{
		Host:     desc.Host,
		Port:     desc.Port,
		Database: desc.Database,
		Username: desc.Username,
		Password: desc.Password,
	}

	if err := s.verify(ctx, &record, creds); err != nil {
		failErr := s.fail(ctx, tenant, domain.StepConnectionVerified, err)
		var connErr *domain.ConnectionTestFailedError
		if errors.As(err, &connErr) {
			return domain.Tenant{}, connErr
		}
		return domain.Tenant{}, failErr
	}
	if err := s.databases.RecordStep(ctx, tenantID, domain.StepConnectionVerified, s.now()); err != nil {
		return domain.Tenant{}, s.fail(ctx, tenant, domain.StepConnectionVerified, fmt.Errorf("recording step: %w", err))
	}

	steps := []provisioningStep{
		{name: domain.StepSchemaMigrated, run: func(ctx context.Context) error {
			return s.provisioner.Migrate(ctx, creds)
		}},
		{name: domain.StepSeeded, run: func(ctx context.Context) error {
			return s.provisioner.Seed(ctx, creds, seedFor(tenant))
		}},
	}
	if err := s.runSteps(ctx, tenant, nil, steps); err != nil {
		return domain.Tenant{}, err
	}

	return s.complete(ctx, tenant, record)
}

// TestConnection re-checks a tenant's stored connection details and stamps
// the verification time. The returned record is masked.
func (s *ProvisioningService) TestConnection(ctx context.Context, tenantID string) (domain.TenantDatabase, error) {
	record, err := s.databases.Get(ctx, tenantID)
	if err != nil {
		return domain.TenantDatabase{}, err
	}

	creds, err := s.credentials(record)
	if err != nil {
		return domain.TenantDatabase{}, err
	}

	if err := s.verify(ctx, &record, creds); err != nil {
		return domain.TenantDatabase{}, err
	}
	return record.Masked(), nil
}

// Database returns the tenant's connection descriptor with the password masked.
func (s *ProvisioningService) Database(ctx context.Context, tenantID string) (domain.TenantDatabase, error) {
	record, err := s.databases.Get(ctx, tenantID)
	if err != nil {
		return domain.TenantDatabase{}, err
	}
	return record.Masked(), nil
}

// SchemaUpgrade reports one run of MigrateTenants.
type SchemaUpgrade struct {
	Migrated []string
	Failed   []string
}

// MigrateTenants brings provisioned tenant databases to the latest schema,
// optionally re-applying the seed. An empty tenantID selects every
// provisioned tenant. A failure on one tenant does not stop the others;
// failures are joined into the returned error and leave the tenant's
// provisioning status unchanged.
func (s *ProvisioningService) MigrateTenants(ctx context.Context, tenantID string, seed bool) (SchemaUpgrade, error) {
	var tenants []domain.Tenant
	if tenantID != "" {
		tenant, err := s.tenants.GetByID(ctx, tenantID)
		if err != nil {
			return SchemaUpgrade{}, err
		}
		if tenant.DatabaseStatus != domain.ProvisioningProvisioned {
			return SchemaUpgrade{}, &domain.InvalidStateError{Entity: "tenant database", Action: "migrate", Current: string(tenant.DatabaseStatus)}
		}
		tenants = append(tenants, tenant)
	} else {
		provisioned := domain.ProvisioningProvisioned
		list, err := s.tenants.List(ctx, domain.TenantFilter{DatabaseStatus: &provisioned})
		if err != nil {
			return SchemaUpgrade{}, fmt.Errorf("listing provisioned tenants: %w", err)
		}
		tenants = list
	}

	var result SchemaUpgrade
	var errs []error
	for _, tenant := range tenants {
		if err := s.upgrade(ctx, tenant, seed); err != nil {
			s.logger.ErrorContext(ctx, "tenant schema upgrade failed",
				slog.String("tenant_id", tenant.ID), slog.Any("error", err))
			result.Failed = append(result.Failed, tenant.ID)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant.ID, err))
			continue
		}
		result.Migrated = append(result.Migrated, tenant.ID)
	}

	s.logger.InfoContext(ctx, "tenant schema upgrade",
		slog.Int("migrated", len(result.Migrated)),
		slog.Int("failed", len(result.Failed)),
		slog.Bool("seed", seed),
	)
	return result, errors.Join(errs...)
}

func (s *ProvisioningService) upgrade(ctx context.Context, tenant domain.Tenant, seed bool) error {
	record, err := s.databases.Get(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("loading database record: %w", err)
	}
	creds, err := s.credentials(record)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.provisioner.Migrate(ctx, creds); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	if seed {
		if err := s.provisioner.Seed(ctx, creds, seedFor(tenant)); err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
	}
	return nil
}

// begin runs the guards and the compare-and-set that claims the tenant
// database for this attempt. It is the first write of a provisioning run.
func (s *ProvisioningService) begin(ctx context.Context, tenantID string) (domain.Tenant, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return domain.Tenant{}, err
	}

	switch tenant.Status {
	case domain.TenantPending, domain.TenantCancelled:
		return domain.Tenant{}, &domain.InvalidStateError{Entity: "tenant", Action: "provision", Current: string(tenant.Status)}
	}

	if _, err := s.subs.Live(ctx, tenantID); err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return domain.Tenant{}, &domain.NoActiveSubscriptionError{TenantID: tenantID}
		}
		return domain.Tenant{}, fmt.Errorf("loading subscription: %w", err)
	}

	next, err := s.validator.Apply(ctx, tenant.DatabaseStatus, domain.ProvisioningEventStart)
	if err != nil {
		return domain.Tenant{}, err
	}

	ok, err := s.tenants.CompareAndSetDatabaseStatus(ctx, tenantID,
		domain.Sources(domain.ProvisioningTransitions, domain.ProvisioningEventStart), next)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("claiming tenant database: %w", err)
	}
	if !ok {
		current, err := s.tenants.GetByID(ctx, tenantID)
		if err != nil {
			return domain.Tenant{}, err
		}
		return domain.Tenant{}, &domain.InvalidStateError{Entity: "tenant database", Action: string(domain.ProvisioningEventStart), Current: string(current.DatabaseStatus)}
	}

	tenant.DatabaseStatus = next
	return tenant, nil
}

// allocate returns the tenant's auto-provisioned record, creating
// deterministic names and a fresh password on the first attempt. Retries
// reuse the stored password so the role and database stay consistent.
func (s *ProvisioningService) allocate(ctx context.Context, tenant domain.Tenant, done map[domain.ProvisioningStep]time.Time) (domain.TenantDatabase, domain.DatabaseCredentials, error) {
	if _, ok := done[domain.StepCredentialsAllocated]; ok {
		record, err := s.databases.Get(ctx, tenant.ID)
		if err == nil && record.Name == domain.DatabaseName(tenant.ID) && record.Username == domain.DatabaseOwner(tenant.ID) {
			creds, err := s.credentials(record)
			return record, creds, err
		}
		if err != nil && !errors.Is(err, domain.ErrTenantDatabaseNotFound) {
			return domain.TenantDatabase{}, domain.DatabaseCredentials{}, fmt.Errorf("loading tenant database: %w", err)
		}
	}

	// Operator-supplied details or a missing record start the step log over.
	if err := s.databases.ResetSteps(ctx, tenant.ID); err != nil {
		return domain.TenantDatabase{}, domain.DatabaseCredentials{}, fmt.Errorf("resetting step log: %w", err)
	}
	clear(done)

	password := rand.Text()
	encrypted, err := s.secrets.Encrypt(password)
	if err != nil {
		return domain.TenantDatabase{}, domain.DatabaseCredentials{}, fmt.Errorf("encrypting password: %w", err)
	}

	tmpl := s.settings.TenantDB
	now := s.now()
	record := domain.TenantDatabase{
		TenantID:          tenant.ID,
		Host:              tmpl.Host,
		Port:              tmpl.Port,
		Name:              domain.DatabaseName(tenant.ID),
		Username:          domain.DatabaseOwner(tenant.ID),
		EncryptedPassword: encrypted,
		Status:            domain.TenantDatabaseAuto,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.databases.Upsert(ctx, record); err != nil {
		return domain.TenantDatabase{}, domain.DatabaseCredentials{}, fmt.Errorf("saving tenant database: %w", err)
	}
	if err := s.databases.RecordStep(ctx, tenant.ID, domain.StepCredentialsAllocated, now); err != nil {
		return domain.TenantDatabase{}, domain.DatabaseCredentials{}, fmt.Errorf("recording step: %w", err)
	}

	return record, domain.DatabaseCredentials{
		Host:     record.Host,
		Port:     record.Port,
		Database: record.Name,
		Username: record.Username,
		Password: password,
	}, nil
}

func (s *ProvisioningService) runSteps(ctx context.Context, tenant domain.Tenant, done map[domain.ProvisioningStep]time.Time, steps []provisioningStep) error {
	for _, step := range steps {
		if _, ok := done[step.name]; ok && !step.always {
			s.logger.DebugContext(ctx, "skipping completed provisioning step",
				slog.String("tenant_id", tenant.ID), slog.String("step", string(step.name)))
			continue
		}
		if err := step.run(ctx); err != nil {
			return s.fail(ctx, tenant, step.name, err)
		}
		if err := s.databases.RecordStep(ctx, tenant.ID, step.name, s.now()); err != nil {
			return s.fail(ctx, tenant, step.name, fmt.Errorf("recording step: %w", err))
		}
	}
	return nil
}

// verify tests the connection and stamps the verification time.
func (s *ProvisioningService) verify(ctx context.Context, record *domain.TenantDatabase, creds domain.DatabaseCredentials) error {
	if err := s.provisioner.TestConnection(ctx, creds); err != nil {
		return &domain.ConnectionTestFailedError{
			Host:     creds.Host,
			Port:     creds.Port,
			Database: creds.Database,
			Cause:    err,
		}
	}

	now := s.now()
	record.LastVerifiedAt = &now
	record.UpdatedAt = now
	if err := s.databases.Upsert(ctx, *record); err != nil {
		return fmt.Errorf("stamping verification: %w", err)
	}
	return nil
}

func (s *ProvisioningService) complete(ctx context.Context, tenant domain.Tenant, record domain.TenantDatabase) (domain.Tenant, error) {
	now := s.now()
	record.ProvisionedAt = &now
	record.UpdatedAt = now
	if err := s.databases.Upsert(ctx, record); err != nil {
		return domain.Tenant{}, s.fail(ctx, tenant, domain.StepSeeded, fmt.Errorf("saving tenant database: %w", err))
	}

	ok, err := s.tenants.CompareAndSetDatabaseStatus(ctx, tenant.ID,
		domain.Sources(domain.ProvisioningTransitions, domain.ProvisioningEventComplete), domain.ProvisioningProvisioned)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("marking tenant database provisioned: %w", err)
	}
	if !ok {
		current, err := s.tenants.GetByID(ctx, tenant.ID)
		if err != nil {
			return domain.Tenant{}, err
		}
		return domain.Tenant{}, &domain.InvalidStateError{Entity: "tenant database", Action: string(domain.ProvisioningEventComplete), Current: string(current.DatabaseStatus)}
	}

	s.logger.InfoContext(ctx, "tenant database provisioned",
		slog.String("tenant_id", tenant.ID), slog.String("mode", string(record.Status)))
	s.publish(ctx, s.publisher, tenantEvent(domain.EventTenantProvisioned, tenant))

	updated, err := s.reconciler.Reconcile(ctx, tenant.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "activating tenant after provisioning",
			slog.String("tenant_id", tenant.ID), slog.Any("error", err))
		tenant.DatabaseStatus = domain.ProvisioningProvisioned
		return tenant, nil
	}
	return updated, nil
}

// fail records a failed attempt. Writes use a context detached from the
// caller so a timeout still leaves the tenant in the retriable failed state.
// Connection test failures pass through unchanged; everything else is
// wrapped in a *domain.ProvisioningError.
func (s *ProvisioningService) fail(ctx context.Context, tenant domain.Tenant, step domain.ProvisioningStep, cause error) error {
	ctx = context.WithoutCancel(ctx)

	if _, err := s.tenants.CompareAndSetDatabaseStatus(ctx, tenant.ID,
		domain.Sources(domain.ProvisioningTransitions, domain.ProvisioningEventFail), domain.ProvisioningFailed); err != nil {
		s.logger.ErrorContext(ctx, "marking tenant database failed",
			slog.String("tenant_id", tenant.ID), slog.Any("error", err))
	}

	if record, err := s.databases.Get(ctx, tenant.ID); err == nil {
		record.Status = domain.TenantDatabaseFailed
		record.UpdatedAt = s.now()
		if err := s.databases.Upsert(ctx, record); err != nil {
			s.logger.ErrorContext(ctx, "marking tenant database record failed",
				slog.String("tenant_id", tenant.ID), slog.Any("error", err))
		}
	}

	if current, err := s.tenants.GetByID(ctx, tenant.ID); err == nil {
		current.Metadata = current.Metadata.Merge(domain.Metadata{
			domain.MetaLastProvisionErr: fmt.Sprintf("%s: %v", step, cause),
		})
		current.UpdatedAt = s.now()
		if err := s.tenants.Update(ctx, current); err != nil {
			s.logger.ErrorContext(ctx, "recording provisioning error",
				slog.String("tenant_id", tenant.ID), slog.Any("error", err))
		}
	}

	s.logger.ErrorContext(ctx, "tenant provisioning failed",
		slog.String("tenant_id", tenant.ID), slog.String("step", string(step)), slog.Any("error", cause))

	event := tenantEvent(domain.EventTenantProvisioningFailed, tenant)
	event.Data = map[string]string{"step": string(step)}
	s.publish(ctx, s.publisher, event)

	return &domain.ProvisioningError{TenantID: tenant.ID, Step: step, Cause: cause}
}

func (s *ProvisioningService) credentials(record domain.TenantDatabase) (domain.DatabaseCredentials, error) {
	password, err := s.secrets.Decrypt(record.EncryptedPassword)
	if err != nil {
		return domain.DatabaseCredentials{}, fmt.Errorf("decrypting password: %w", err)
	}
	return domain.DatabaseCredentials{
		Host:     record.Host,
		Port:     record.Port,
		Database: record.Name,
		Username: record.Username,
		Password: password,
	}, nil
}

func (s *ProvisioningService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.settings.ProvisioningTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.settings.ProvisioningTimeout)
}

func seedFor(tenant domain.Tenant) domain.TenantSeed {
	return domain.TenantSeed{
		TenantID:   tenant.ID,
		Name:       tenant.Name,
		Subdomain:  tenant.Subdomain,
		OwnerEmail: tenant.Email,
	}
}
