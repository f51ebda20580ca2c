package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledger/internal/assets"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
	"github.com/odyssey-erp/ledger/internal/posting"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// DepreciationPoster runs the monthly batch.
type DepreciationPoster interface {
	PostMonthlyDepreciation(ctx context.Context, period time.Time, actorID int64) (assets.BatchResult, error)
}

// Locker guards a batch across worker processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// DepreciationJob posts scheduled depreciation for every due asset.
type DepreciationJob struct {
	Service DepreciationPoster
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewDepreciationJob initialises the depreciation handler.
func NewDepreciationJob(service DepreciationPoster, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *DepreciationJob {
	return &DepreciationJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one monthly batch. A batch already running elsewhere is
// skipped without retry.
func (j *DepreciationJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("depreciation: handler not configured")
	}
	var payload DepreciationPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	period, err := j.period(payload.Period)
	if err != nil {
		return asynq.SkipRetry
	}
	label := period.Format(periodLayout)

	tracker := j.Metrics.Track(TaskDepreciationMonthly)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.logger().With(slog.String("period", label))

	if j.Locker != nil {
		release, err := j.Locker.Acquire(ctx, shared.DepreciationLockKey(label))
		if errors.Is(err, posting.ErrDocumentLocked) {
			logger.Info("depreciation batch already running")
			return nil
		}
		if err != nil {
			return err
		}
		defer release()
	}

	start := time.Now()
	result, err := j.Service.PostMonthlyDepreciation(ctx, period, payload.ActorID)
	if err != nil {
		logger.Error("depreciation batch failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddDepreciationRun(label, result.Posted, len(result.Skipped))
	for _, s := range result.Skipped {
		logger.Warn("asset skipped", slog.Int64("asset_id", s.AssetID), slog.String("reason", s.Reason))
	}
	logger.Info("depreciation batch completed",
		slog.Int("posted", result.Posted),
		slog.Int("skipped", len(result.Skipped)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *DepreciationJob) period(raw string) (time.Time, error) {
	if raw != "" {
		return time.Parse(periodLayout, raw)
	}
	now := j.clock()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0), nil
}

func (j *DepreciationJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default().With(slog.String("job", TaskDepreciationMonthly))
	}
	return j.Logger.With(slog.String("job", TaskDepreciationMonthly))
}
