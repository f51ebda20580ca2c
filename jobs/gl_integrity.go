package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
	"github.com/odyssey-erp/ledger/internal/ledger"
)

// ErrUnbalancedLedger is returned when posted entries fail the balance check.
var ErrUnbalancedLedger = errors.New("gl integrity: unbalanced entries found")

// IntegrityScanner lists posted entries whose lines do not balance.
type IntegrityScanner interface {
	UnbalancedEntries(ctx context.Context) ([]ledger.UnbalancedEntry, error)
}

// GLIntegrityJob checks that every posted entry balances.
type GLIntegrityJob struct {
	Scanner IntegrityScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob constructs the integrity handler.
func NewGLIntegrityJob(scanner IntegrityScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle runs one scan. Violations are not retried; they need a person.
func (j *GLIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Scanner == nil {
		return errors.New("gl integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskGLIntegrity))

	entries, err := j.Scanner.UnbalancedEntries(ctx)
	if err != nil {
		return err
	}
	j.Metrics.SetUnbalancedEntries(len(entries))
	if len(entries) == 0 {
		logger.Info("GL integrity check passed")
		return nil
	}
	for _, e := range entries {
		logger.Error("unbalanced journal entry",
			slog.Int64("entry_id", e.EntryID),
			slog.Int64("number", e.Number),
			slog.String("debit", e.Debit.StringFixed(2)),
			slog.String("credit", e.Credit.StringFixed(2)))
	}
	return fmt.Errorf("%w: %d entries: %w", ErrUnbalancedLedger, len(entries), asynq.SkipRetry)
}
