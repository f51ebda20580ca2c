package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository persists rates in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) LatestRate(ctx context.Context, from, to string, typ RateType, date time.Time) (ExchangeRate, error) {
	var rate ExchangeRate
	err := r.pool.QueryRow(ctx, `SELECT id, from_currency, to_currency, rate_date, rate, rate_type, source, is_active
FROM exchange_rates
WHERE from_currency=$1 AND to_currency=$2 AND rate_type=$3 AND rate_date <= $4 AND is_active
ORDER BY rate_date DESC LIMIT 1`, from, to, string(typ), date).
		Scan(&rate.ID, &rate.From, &rate.To, &rate.RateDate, &rate.Rate, &rate.Type, &rate.Source, &rate.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExchangeRate{}, fmt.Errorf("%w: %s/%s %s on %s", ErrRateNotFound, from, to, typ, date.Format("2006-01-02"))
		}
		return ExchangeRate{}, err
	}
	return rate, nil
}

func (r *PgRepository) BaseCurrencies(ctx context.Context) ([]Currency, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, name, is_base, is_active FROM currencies WHERE is_base ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Currency
	for rows.Next() {
		var c Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.IsBase, &c.IsActive); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PgRepository) UpsertRate(ctx context.Context, rate ExchangeRate) (ExchangeRate, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO exchange_rates (from_currency, to_currency, rate_date, rate, rate_type, source, is_active)
VALUES ($1,$2,$3,$4,$5,$6,true)
ON CONFLICT (from_currency, to_currency, rate_date, rate_type)
DO UPDATE SET rate=EXCLUDED.rate, source=EXCLUDED.source, is_active=true
RETURNING id`, rate.From, rate.To, rate.RateDate, rate.Rate, string(rate.Type), rate.Source).Scan(&rate.ID)
	if err != nil {
		return ExchangeRate{}, err
	}
	rate.IsActive = true
	return rate, nil
}
