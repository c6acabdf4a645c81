package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle is how often a plan is charged.
type BillingCycle string

const (
	CycleMonthly  BillingCycle = "monthly"
	CycleYearly   BillingCycle = "yearly"
	CycleLifetime BillingCycle = "lifetime"
)

// Valid reports whether c is one of the known billing cycles.
func (c BillingCycle) Valid() bool {
	switch c {
	case CycleMonthly, CycleYearly, CycleLifetime:
		return true
	}
	return false
}

// PeriodEnd returns the end of one billing period starting at from.
// Lifetime plans have no end and return nil.
func (c BillingCycle) PeriodEnd(from time.Time) *time.Time {
	var end time.Time
	switch c {
	case CycleYearly:
		end = from.AddDate(1, 0, 0)
	case CycleLifetime:
		return nil
	default:
		end = from.AddDate(0, 1, 0)
	}
	return &end
}

// Plan is a billing offering. Subscriptions capture its price at creation
// time, so later edits never change what existing subscribers pay.
type Plan struct {
	ID           string
	Name         string
	Price        decimal.Decimal
	Currency     string
	BillingCycle BillingCycle
	TrialDays    int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Free reports whether the plan costs nothing.
func (p Plan) Free() bool {
	return p.Price.IsZero()
}
