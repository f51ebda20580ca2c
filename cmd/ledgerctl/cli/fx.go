package cli

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/fx"
)

// RateStore is the FX surface the operator commands need.
type RateStore interface {
	GetRate(ctx context.Context, from, to string, date time.Time, typ fx.RateType) (decimal.Decimal, error)
	UpsertRate(ctx context.Context, rate fx.ExchangeRate) (fx.ExchangeRate, error)
}

// FXOpsCLI offers operational helpers to manage exchange rates.
type FXOpsCLI struct {
	rates RateStore
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(rates RateStore) (*FXOpsCLI, error) {
	if rates == nil {
		return nil, errors.New("fx cli: rate store required")
	}
	return &FXOpsCLI{rates: rates}, nil
}

// splitPair accepts USDIDR, USD/IDR and USD-IDR.
func splitPair(raw string) (string, string, error) {
	pair := strings.ToUpper(strings.TrimSpace(raw))
	pair = strings.NewReplacer("/", "", "-", "", " ", "").Replace(pair)
	if len(pair) != 6 {
		return "", "", errors.New("pair must look like USDIDR or USD/IDR")
	}
	from, err := fx.NormalizeCode(pair[:3])
	if err != nil {
		return "", "", err
	}
	to, err := fx.NormalizeCode(pair[3:])
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

func parseRateTypes(raw []string) ([]fx.RateType, error) {
	if len(raw) == 0 {
		return []fx.RateType{fx.RateSpot}, nil
	}
	types := make([]fx.RateType, 0, len(raw))
	for _, r := range raw {
		typ := fx.RateType(strings.ToUpper(strings.TrimSpace(r)))
		if !typ.Valid() {
			return nil, errors.New("unknown rate type " + r)
		}
		types = append(types, typ)
	}
	return types, nil
}
