package fx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/ledger/internal/money"
)

// Repository reads and writes rates and currencies.
type Repository interface {
	LatestRate(ctx context.Context, from, to string, typ RateType, date time.Time) (ExchangeRate, error)
	BaseCurrencies(ctx context.Context) ([]Currency, error)
	UpsertRate(ctx context.Context, rate ExchangeRate) (ExchangeRate, error)
}

// Service resolves exchange rates and converts amounts.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs the FX service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// GetRate returns the most recent active rate on or before date for the exact
// pair and type. Inverse pairs are never derived.
func (s *Service) GetRate(ctx context.Context, from, to string, date time.Time, typ RateType) (decimal.Decimal, error) {
	from, err := NormalizeCode(from)
	if err != nil {
		return decimal.Decimal{}, err
	}
	to, err = NormalizeCode(to)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if typ == "" {
		typ = RateSpot
	}
	day := truncateDay(date)
	if rate, ok, err := s.cache.Get(ctx, from, to, typ, day); err != nil {
		s.logger.Warn("fx cache read failed", slog.Any("error", err))
	} else if ok {
		return rate, nil
	}
	key := fmt.Sprintf("%s:%s:%s:%s", from, to, typ, day.Format("2006-01-02"))
	v, err, _ := s.group.Do(key, func() (any, error) {
		found, err := s.repo.LatestRate(ctx, from, to, typ, day)
		if err != nil {
			return decimal.Decimal{}, err
		}
		if err := s.cache.Put(ctx, from, to, typ, day, found.Rate); err != nil {
			s.logger.Warn("fx cache write failed", slog.Any("error", err))
		}
		return found.Rate, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.(decimal.Decimal), nil
}

// Convert returns amount expressed in the target currency, quantized to cents.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time, typ RateType) (decimal.Decimal, error) {
	rate, err := s.GetRate(ctx, from, to, date, typ)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return money.Quantize2(amount.Mul(rate)), nil
}

// BaseCurrency returns the single currency flagged as base.
func (s *Service) BaseCurrency(ctx context.Context) (Currency, error) {
	currencies, err := s.repo.BaseCurrencies(ctx)
	if err != nil {
		return Currency{}, err
	}
	if len(currencies) != 1 {
		return Currency{}, fmt.Errorf("%w: %d flagged", ErrNoBaseCurrencyConfigured, len(currencies))
	}
	return currencies[0], nil
}

// UpsertRate validates and stores a rate, replacing the one with the same
// pair, date and type.
func (s *Service) UpsertRate(ctx context.Context, rate ExchangeRate) (ExchangeRate, error) {
	if err := rate.Validate(); err != nil {
		return ExchangeRate{}, err
	}
	saved, err := s.repo.UpsertRate(ctx, rate)
	if err != nil {
		return ExchangeRate{}, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("fx cache bump failed", slog.Any("error", err))
	}
	return saved, nil
}
