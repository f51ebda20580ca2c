package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledger/internal/api"
	"github.com/odyssey-erp/ledger/internal/assets"
	"github.com/odyssey-erp/ledger/internal/corptax"
	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/platform/cache"
	"github.com/odyssey-erp/ledger/internal/platform/db"
	"github.com/odyssey-erp/ledger/internal/posting"
	"github.com/odyssey-erp/ledger/internal/procurement"
	"github.com/odyssey-erp/ledger/internal/reports"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// Resources are the external connections shared by every binary.
type Resources struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Connect opens Postgres and Redis. Redis is optional: when it cannot be
// reached the FX cache and posting locks are disabled.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (*Resources, error) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, running without rate cache and posting locks", slog.Any("error", err))
		client = nil
	}
	return &Resources{Pool: pool, Redis: client}, nil
}

// Close releases the connections.
func (r *Resources) Close(logger *slog.Logger) {
	if r == nil {
		return
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// Services holds the wired domain services.
type Services struct {
	LedgerRepo  *ledger.Repository
	Ledger      *ledger.Service
	Invoices    *invoices.Service
	FX          *fx.Service
	Posting     *posting.Engine
	Locker      *posting.RedisLocker
	CorpTax     *corptax.Service
	Assets      *assets.Service
	Procurement *procurement.Service
	Reports     *reports.Service
}

// NewServices builds every domain service from cfg and res.
func NewServices(cfg *Config, res *Resources, logger *slog.Logger) (*Services, error) {
	settings, err := cfg.AssetSettings()
	if err != nil {
		return nil, err
	}
	tolerances, err := cfg.MatchTolerances()
	if err != nil {
		return nil, err
	}

	auditLogger := shared.NewAuditLogger(res.Pool)
	approvalRecorder := shared.NewApprovalRecorder(res.Pool, logger)

	ledgerRepo := ledger.NewRepository(res.Pool)
	invoiceRepo := invoices.NewRepository(res.Pool)
	corptaxRepo := corptax.NewRepository(res.Pool)

	fxService := fx.NewService(fx.NewRepository(res.Pool), fx.NewCache(res.Redis, cfg.FXRateCacheTTL), logger)
	invoiceService := invoices.NewService(invoiceRepo, approvalRecorder)
	invoiceService.WithRates(fxService)
	locker := posting.NewRedisLocker(res.Redis, cfg.PostingLockTTL, cfg.PostingLockWait)

	return &Services{
		LedgerRepo: ledgerRepo,
		Ledger:     ledger.NewService(ledgerRepo, auditLogger),
		Invoices:   invoiceService,
		FX:         fxService,
		Posting: posting.NewEngine(posting.NewRepository(res.Pool), fxService, logger,
			posting.WithLocker(locker),
			posting.WithAudit(auditLogger)),
		Locker:      locker,
		CorpTax:     corptax.NewService(corptaxRepo, corptaxRepo, fxService, cfg.CorpTaxPolicy(), logger),
		Assets:      assets.NewService(assets.NewRepository(res.Pool), fxService, settings, logger),
		Procurement: procurement.NewService(procurement.NewRepository(res.Pool), tolerances, logger),
		Reports:     reports.NewService(ledgerRepo, invoiceRepo),
	}, nil
}

// API exposes the services to the HTTP handlers.
func (s *Services) API() api.Services {
	return api.Services{
		Journals: s.Ledger,
		Invoices: s.Invoices,
		Posting:  s.Posting,
		CorpTax:  s.CorpTax,
		Assets:   s.Assets,
		Match:    s.Procurement,
		FX:       s.FX,
		Reports:  s.Reports,
	}
}
