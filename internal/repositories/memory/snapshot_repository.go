package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"networth-api/internal/models"
	"networth-api/internal/repositories"
)

// SnapshotRepository keeps snapshots in process memory. It backs local runs
// without MongoDB and the service tests.
type SnapshotRepository struct {
	mu   sync.RWMutex
	rows map[int64]map[string]models.PerformanceSnapshot
}

func NewSnapshotRepository() *SnapshotRepository {
	return &SnapshotRepository{
		rows: make(map[int64]map[string]models.PerformanceSnapshot),
	}
}

func (r *SnapshotRepository) Upsert(ctx context.Context, snapshot *models.PerformanceSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byDate, ok := r.rows[snapshot.UserID]
	if !ok {
		byDate = make(map[string]models.PerformanceSnapshot)
		r.rows[snapshot.UserID] = byDate
	}
	row := *snapshot
	row.Date = models.DateOf(snapshot.Date)
	byDate[models.FormatDate(row.Date)] = row
	return nil
}

func (r *SnapshotRepository) Get(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[userID][models.FormatDate(day)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &row, nil
}

func (r *SnapshotRepository) LatestBefore(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := models.FormatDate(day)
	var best string
	for k := range r.rows[userID] {
		if k < key && k > best {
			best = k
		}
	}
	if best == "" {
		return nil, repositories.ErrNotFound
	}
	row := r.rows[userID][best]
	return &row, nil
}

func (r *SnapshotRepository) ListRange(ctx context.Context, userID int64, from, to time.Time) ([]models.PerformanceSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lo, hi := models.FormatDate(from), models.FormatDate(to)
	out := make([]models.PerformanceSnapshot, 0)
	for k, row := range r.rows[userID] {
		if k >= lo && k <= hi {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// Count returns the number of stored rows for a user.
func (r *SnapshotRepository) Count(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows[userID])
}
