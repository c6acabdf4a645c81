package domain

import "time"

// TenantStatus represents the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantPending   TenantStatus = "pending"
	TenantApproved  TenantStatus = "approved"
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantCancelled TenantStatus = "cancelled"
)

// TenantEvent is an action that moves a tenant between lifecycle states.
type TenantEvent string

const (
	TenantEventApprove    TenantEvent = "approve"
	TenantEventReject     TenantEvent = "reject"
	TenantEventActivate   TenantEvent = "activate"
	TenantEventLapse      TenantEvent = "lapse"
	TenantEventSuspend    TenantEvent = "suspend"
	TenantEventReactivate TenantEvent = "reactivate"
	TenantEventCancel     TenantEvent = "cancel"
)

// TenantTransitions defines all valid state changes in the tenant lifecycle.
// Activation from approved happens only once the tenant has a live
// subscription and a provisioned database; lapse reverses it when either
// stops holding.
var TenantTransitions = []Transition[TenantStatus, TenantEvent]{
	{Event: TenantEventApprove, Src: TenantPending, Dst: TenantApproved},
	{Event: TenantEventReject, Src: TenantPending, Dst: TenantCancelled},
	{Event: TenantEventActivate, Src: TenantApproved, Dst: TenantActive},
	{Event: TenantEventLapse, Src: TenantActive, Dst: TenantApproved},
	{Event: TenantEventSuspend, Src: TenantApproved, Dst: TenantSuspended},
	{Event: TenantEventSuspend, Src: TenantActive, Dst: TenantSuspended},
	{Event: TenantEventReactivate, Src: TenantSuspended, Dst: TenantActive},
	{Event: TenantEventCancel, Src: TenantPending, Dst: TenantCancelled},
	{Event: TenantEventCancel, Src: TenantApproved, Dst: TenantCancelled},
	{Event: TenantEventCancel, Src: TenantActive, Dst: TenantCancelled},
	{Event: TenantEventCancel, Src: TenantSuspended, Dst: TenantCancelled},
}

// ProvisioningStatus tracks the tenant's isolated database.
type ProvisioningStatus string

const (
	ProvisioningPending     ProvisioningStatus = "pending"
	ProvisioningInProgress  ProvisioningStatus = "provisioning"
	ProvisioningProvisioned ProvisioningStatus = "provisioned"
	ProvisioningFailed      ProvisioningStatus = "failed"
	// ProvisioningManual means an operator has to supply connection details.
	ProvisioningManual ProvisioningStatus = "manual"
)

// ProvisioningEvent drives the database provisioning status.
type ProvisioningEvent string

const (
	ProvisioningEventAwaitManual ProvisioningEvent = "await_manual"
	ProvisioningEventStart       ProvisioningEvent = "start"
	ProvisioningEventComplete    ProvisioningEvent = "complete"
	ProvisioningEventFail        ProvisioningEvent = "fail"
)

// ProvisioningTransitions orders provisioning writes strictly:
// pending → provisioning → {provisioned | failed}, with failed and manual
// being retriable start points.
var ProvisioningTransitions = []Transition[ProvisioningStatus, ProvisioningEvent]{
	{Event: ProvisioningEventAwaitManual, Src: ProvisioningPending, Dst: ProvisioningManual},
	{Event: ProvisioningEventStart, Src: ProvisioningPending, Dst: ProvisioningInProgress},
	{Event: ProvisioningEventStart, Src: ProvisioningFailed, Dst: ProvisioningInProgress},
	{Event: ProvisioningEventStart, Src: ProvisioningManual, Dst: ProvisioningInProgress},
	{Event: ProvisioningEventComplete, Src: ProvisioningInProgress, Dst: ProvisioningProvisioned},
	{Event: ProvisioningEventFail, Src: ProvisioningInProgress, Dst: ProvisioningFailed},
}

// Metadata keys stored on tenants.
const (
	MetaRejectionReason  = "rejection_reason"
	MetaLastProvisionErr = "last_provisioning_error"
)

// Tenant is a customer organization with its own isolated database.
type Tenant struct {
	ID             string
	Name           string
	Email          string
	Subdomain      string
	Status         TenantStatus
	DatabaseStatus ProvisioningStatus
	ApprovedAt     *time.Time
	ApprovedBy     string
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewTenant creates a self-registered tenant awaiting operator approval.
func NewTenant(id, name, email, subdomain string) Tenant {
	now := time.Now().UTC()
	return Tenant{
		ID:             id,
		Name:           name,
		Email:          email,
		Subdomain:      subdomain,
		Status:         TenantPending,
		DatabaseStatus: ProvisioningPending,
		Metadata:       Metadata{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ReadyForActivation reports whether the tenant may be active given whether
// it currently holds a trial or active subscription.
func (t Tenant) ReadyForActivation(hasLiveSubscription bool) bool {
	return hasLiveSubscription && t.DatabaseStatus == ProvisioningProvisioned
}

// Usable reports whether the tenant may use the product at all.
func (t Tenant) Usable() bool {
	return t.Status == TenantApproved || t.Status == TenantActive
}

// TenantFilter holds optional criteria for listing tenants.
type TenantFilter struct {
	Status         *TenantStatus
	DatabaseStatus *ProvisioningStatus
	Limit          int
	Offset         int
}
