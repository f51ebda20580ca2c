// Package corptax accrues, files and reverses corporate income tax per
// country, period and organization.
package corptax

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/shared"
)

// Status enumerates filing lifecycle states.
type Status string

const (
	StatusAccrued  Status = "ACCRUED"
	StatusFiled    Status = "FILED"
	StatusReversed Status = "REVERSED"
)

// Filing is one corporate tax accrual and its lifecycle.
type Filing struct {
	ID                int64
	Country           string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	OrganizationID    *int64
	Status            Status
	Income            decimal.Decimal
	Expense           decimal.Decimal
	Profit            decimal.Decimal
	TaxRate           decimal.Decimal
	TaxAmount         decimal.Decimal
	AccrualJournalID  *int64
	ReversalJournalID *int64
	FiledAt           *time.Time
	ReversedAt        *time.Time
	CreatedBy         int64
	CreatedAt         time.Time
}

// Live reports whether the filing still counts for its period.
func (f Filing) Live() bool {
	return f.Status != StatusReversed
}

// AccrueInput requests an accrual.
type AccrueInput struct {
	Country        string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OrganizationID *int64
	// AllowOverride reverses the live filing of the period and accrues anew.
	AllowOverride bool
	ActorID       int64
}

// Policy configures lifecycle rules.
type Policy struct {
	// LockFiled forbids reversing a filing once it has been filed.
	LockFiled bool
}

var (
	// ErrDuplicateFiling rejects a second accrual for the same period without override.
	ErrDuplicateFiling = shared.NewError(shared.ErrStateConflict, "DUPLICATE_FILING", "corptax: filing already exists for period")
	// ErrInvalidTransition rejects filing from a state other than ACCRUED.
	ErrInvalidTransition = shared.NewError(shared.ErrStateConflict, "INVALID_TRANSITION", "corptax: invalid filing transition")
	// ErrCannotReverse rejects reversal of reversed, locked or journal-less filings.
	ErrCannotReverse = shared.NewError(shared.ErrStateConflict, "CANNOT_REVERSE", "corptax: filing cannot be reversed")
	// ErrFilingNotFound indicates a missing filing.
	ErrFilingNotFound = shared.NewError(shared.ErrNotFound, "FILING_NOT_FOUND", "corptax: filing not found")
	// ErrTaxRateNotFound indicates no rate is valid for the country and period.
	ErrTaxRateNotFound = shared.NewError(shared.ErrNotFound, "TAX_RATE_NOT_FOUND", "corptax: tax rate not found for period")
)
