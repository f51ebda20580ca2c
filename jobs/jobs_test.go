package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/assets"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/posting"
	"github.com/odyssey-erp/ledger/internal/shared"
)

type recordingPoster struct {
	periods []time.Time
	result  assets.BatchResult
	err     error
}

func (p *recordingPoster) PostMonthlyDepreciation(ctx context.Context, period time.Time, actorID int64) (assets.BatchResult, error) {
	p.periods = append(p.periods, period)
	return p.result, p.err
}

func newLocker(t *testing.T) (*posting.RedisLocker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return posting.NewRedisLocker(client, time.Minute, 0), client
}

func depreciationTask(t *testing.T, period string) *asynq.Task {
	t.Helper()
	task, err := NewDepreciationTask(DepreciationPayload{Period: period})
	require.NoError(t, err)
	return task
}

func TestDepreciationJobPostsRequestedPeriod(t *testing.T) {
	poster := &recordingPoster{result: assets.BatchResult{Posted: 2, Skipped: []assets.SkippedAsset{{AssetID: 9, Reason: "account not found"}}}}
	locker, _ := newLocker(t)
	job := NewDepreciationJob(poster, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), depreciationTask(t, "2024-02")))
	require.Equal(t, []time.Time{time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}, poster.periods)
}

func TestDepreciationJobDefaultsToPreviousMonth(t *testing.T) {
	poster := &recordingPoster{}
	job := NewDepreciationJob(poster, nil, nil, nil)
	job.clock = func() time.Time { return time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskDepreciationMonthly, nil)))
	require.Equal(t, []time.Time{time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)}, poster.periods)
}

func TestDepreciationJobSkipsWhenLocked(t *testing.T) {
	poster := &recordingPoster{}
	locker, client := newLocker(t)
	require.NoError(t, client.Set(context.Background(), shared.DepreciationLockKey("2024-02"), "other", time.Minute).Err())
	job := NewDepreciationJob(poster, locker, nil, nil)

	require.NoError(t, job.Handle(context.Background(), depreciationTask(t, "2024-02")))
	require.Empty(t, poster.periods)
}

func TestDepreciationJobReleasesLock(t *testing.T) {
	poster := &recordingPoster{}
	locker, client := newLocker(t)
	job := NewDepreciationJob(poster, locker, nil, nil)

	require.NoError(t, job.Handle(context.Background(), depreciationTask(t, "2024-03")))
	require.NoError(t, job.Handle(context.Background(), depreciationTask(t, "2024-03")))
	require.Len(t, poster.periods, 2)

	exists, err := client.Exists(context.Background(), shared.DepreciationLockKey("2024-03")).Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestDepreciationJobPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	job := NewDepreciationJob(&recordingPoster{err: boom}, nil, nil, nil)
	require.ErrorIs(t, job.Handle(context.Background(), depreciationTask(t, "2024-02")), boom)
}

func TestDepreciationJobRejectsBadPayload(t *testing.T) {
	job := NewDepreciationJob(&recordingPoster{}, nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskDepreciationMonthly, []byte(`{"period":"Feb"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewDepreciationTask(DepreciationPayload{Period: "2024/02"})
	require.Error(t, err)
}

type stubScanner struct {
	entries []ledger.UnbalancedEntry
	err     error
}

func (s stubScanner) UnbalancedEntries(ctx context.Context) ([]ledger.UnbalancedEntry, error) {
	return s.entries, s.err
}

func TestGLIntegrityJob(t *testing.T) {
	job := NewGLIntegrityJob(stubScanner{}, nil, nil)
	require.NoError(t, job.Handle(context.Background(), NewGLIntegrityTask()))

	job = NewGLIntegrityJob(stubScanner{entries: []ledger.UnbalancedEntry{
		{EntryID: 1, Number: 10, Debit: decimal.NewFromInt(100), Credit: decimal.NewFromInt(90)},
	}}, nil, nil)
	err := job.Handle(context.Background(), NewGLIntegrityTask())
	require.ErrorIs(t, err, ErrUnbalancedLedger)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, float64(3), body["pending"])
	require.Equal(t, float64(1), body["retry"])

	r = chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("redis down")}, nil).MountRoutes(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRedisOpt(t *testing.T) {
	opt, err := RedisOpt("redis://:secret@queue:6380/3")
	require.NoError(t, err)
	require.Equal(t, "queue:6380", opt.Addr)
	require.Equal(t, "secret", opt.Password)
	require.Equal(t, 3, opt.DB)

	opt, err = RedisOpt("127.0.0.1:6379")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6379", opt.Addr)
}
