package fx

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/ledger/internal/shared"
)

// RateType enumerates the rate families kept per currency pair.
type RateType string

const (
	RateSpot    RateType = "SPOT"
	RateAverage RateType = "AVERAGE"
	RateFixed   RateType = "FIXED"
	RateClosing RateType = "CLOSING"
)

// Valid reports whether t is a known rate type.
func (t RateType) Valid() bool {
	switch t {
	case RateSpot, RateAverage, RateFixed, RateClosing:
		return true
	}
	return false
}

// Currency is a configured ledger currency.
type Currency struct {
	Code     string
	Name     string
	IsBase   bool
	IsActive bool
}

// ExchangeRate quotes how many units of To buy one unit of From on RateDate.
type ExchangeRate struct {
	ID       int64
	From     string
	To       string
	RateDate time.Time
	Rate     decimal.Decimal
	Type     RateType
	Source   string
	IsActive bool
}

var (
	// ErrRateNotFound is returned when no active rate exists on or before the date.
	ErrRateNotFound = shared.NewError(shared.ErrConfiguration, "RATE_NOT_FOUND", "fx: exchange rate not found")
	// ErrNoBaseCurrencyConfigured is returned when zero or several base currencies are flagged.
	ErrNoBaseCurrencyConfigured = shared.NewError(shared.ErrConfiguration, "NO_BASE_CURRENCY", "fx: exactly one base currency must be configured")
)

// NormalizeCode upper-cases code and checks it against ISO 4217.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", shared.Invalid("fx: unknown currency %q", code)
	}
	return unit.String(), nil
}

// Validate checks an exchange rate before persisting.
func (r *ExchangeRate) Validate() error {
	from, err := NormalizeCode(r.From)
	if err != nil {
		return err
	}
	to, err := NormalizeCode(r.To)
	if err != nil {
		return err
	}
	if from == to {
		return shared.Invalid("fx: rate pair must use two currencies")
	}
	if r.RateDate.IsZero() {
		return shared.Invalid("fx: rate date required")
	}
	if !r.Rate.IsPositive() {
		return shared.Invalid("fx: rate must be positive")
	}
	if r.Type == "" {
		r.Type = RateSpot
	}
	if !r.Type.Valid() {
		return shared.Invalid("fx: unknown rate type %s", r.Type)
	}
	r.From, r.To = from, to
	r.Rate = r.Rate.Round(6)
	r.RateDate = truncateDay(r.RateDate)
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
