package assets_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/ledger/internal/assets"
	"github.com/odyssey-erp/ledger/internal/ledger/ledgertest"
)

type scheduleKey struct {
	assetID int64
	period  string
}

type memoryRepo struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	ledger   *ledgertest.Store
	assets   map[int64]assets.Asset
	schedule map[scheduleKey]assets.ScheduleRow
	nextID   int64
}

func newMemoryRepo(ls *ledgertest.Store) *memoryRepo {
	return &memoryRepo{
		ledger:   ls,
		assets:   make(map[int64]assets.Asset),
		schedule: make(map[scheduleKey]assets.ScheduleRow),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, assets.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	restoreLedger := m.ledger.Checkpoint()
	m.mu.Lock()
	savedAssets := make(map[int64]assets.Asset, len(m.assets))
	for k, v := range m.assets {
		savedAssets[k] = v
	}
	savedSchedule := make(map[scheduleKey]assets.ScheduleRow, len(m.schedule))
	for k, v := range m.schedule {
		savedSchedule[k] = v
	}
	nextID := m.nextID
	m.mu.Unlock()
	if err := fn(ctx, assets.Tx{Assets: m, Ledger: m.ledger}); err != nil {
		restoreLedger()
		m.mu.Lock()
		m.assets, m.schedule, m.nextID = savedAssets, savedSchedule, nextID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryRepo) GetAsset(ctx context.Context, id int64) (assets.Asset, error) {
	return m.GetAssetForUpdate(ctx, id)
}

func (m *memoryRepo) ListSchedule(_ context.Context, assetID int64) ([]assets.ScheduleRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []assets.ScheduleRow
	for k, row := range m.schedule {
		if k.assetID == assetID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodDate.Before(out[j].PeriodDate) })
	return out, nil
}

func (m *memoryRepo) ListAssetsDue(_ context.Context, period time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for k, row := range m.schedule {
		if row.IsPosted || k.period != period.Format("2006-01") || seen[k.assetID] {
			continue
		}
		if m.assets[k.assetID].Status != assets.StatusCapitalized {
			continue
		}
		seen[k.assetID] = true
		ids = append(ids, k.assetID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memoryRepo) InsertAsset(_ context.Context, a assets.Asset) (assets.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.SourceDocumentID != nil && a.SourceLineID != nil {
		for _, other := range m.assets {
			if other.SourceType == a.SourceType && other.SourceDocumentID != nil && other.SourceLineID != nil &&
				*other.SourceDocumentID == *a.SourceDocumentID && *other.SourceLineID == *a.SourceLineID {
				return assets.Asset{}, assets.ErrDuplicateSource
			}
		}
	}
	m.nextID++
	a.ID = m.nextID
	m.assets[a.ID] = a
	return a, nil
}

func (m *memoryRepo) GetAssetForUpdate(_ context.Context, id int64) (assets.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return assets.Asset{}, assets.ErrAssetNotFound
	}
	return a, nil
}

func (m *memoryRepo) UpdateAsset(_ context.Context, a assets.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[a.ID]; !ok {
		return assets.ErrAssetNotFound
	}
	m.assets[a.ID] = a
	return nil
}

func (m *memoryRepo) InsertScheduleRows(_ context.Context, rows []assets.ScheduleRow) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, row := range rows {
		key := scheduleKey{row.AssetID, row.PeriodDate.Format("2006-01")}
		if _, exists := m.schedule[key]; exists {
			continue
		}
		m.schedule[key] = row
		created++
	}
	return created, nil
}

func (m *memoryRepo) ListUnpostedRows(_ context.Context, assetID int64, period time.Time) ([]assets.ScheduleRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.schedule[scheduleKey{assetID, period.Format("2006-01")}]
	if !ok || row.IsPosted {
		return nil, nil
	}
	return []assets.ScheduleRow{row}, nil
}

func (m *memoryRepo) MarkRowPosted(_ context.Context, assetID int64, period time.Time, journalID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scheduleKey{assetID, period.Format("2006-01")}
	row := m.schedule[key]
	row.IsPosted = true
	row.JournalID = &journalID
	m.schedule[key] = row
	return nil
}

func (m *memoryRepo) DeleteUnpostedRows(_ context.Context, assetID int64, after time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, row := range m.schedule {
		if k.assetID == assetID && !row.IsPosted && !row.PeriodDate.Before(after) {
			delete(m.schedule, k)
		}
	}
	return nil
}
