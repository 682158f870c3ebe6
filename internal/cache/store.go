package cache

import (
	"context"
	"errors"
	"sort"
	"time"

	"networth-api/internal/models"
)

var ErrNotFound = errors.New("rate not cached")

// RateStore holds the latest aggregated rate per canonical pair. Rows are
// overwritten on refresh and never deleted; staleness is decided by
// TTLExpired, not by eviction.
type RateStore interface {
	// Get returns the rate for pair in the requested direction, or ErrNotFound.
	Get(ctx context.Context, pair models.Pair) (*models.CachedRate, error)
	Put(ctx context.Context, rate *models.CachedRate) error
	TTLExpired(rate *models.CachedRate, now time.Time) bool
}

// HistoricalStore holds best-effort rates for past calendar dates.
type HistoricalStore interface {
	GetOn(ctx context.Context, pair models.Pair, day time.Time) (*models.CachedRate, error)
	PutOn(ctx context.Context, rate *models.CachedRate, day time.Time) error
}

// PopularPairs keeps per-user usage hints for pre-warming.
type PopularPairs interface {
	RecordPopular(ctx context.Context, userID int64, pairs ...models.Pair) error
	PopularPairs(ctx context.Context, userID int64, limit int) ([]models.Pair, error)
}

// Store is the full rate cache component.
type Store interface {
	RateStore
	HistoricalStore
	PopularPairs
	Close() error
}

type ttlPolicy time.Duration

func (t ttlPolicy) TTLExpired(rate *models.CachedRate, now time.Time) bool {
	if rate == nil {
		return true
	}
	return rate.Age(now) >= time.Duration(t)
}

// canonicalize returns a copy of rate keyed by its canonical pair.
func canonicalize(rate *models.CachedRate) *models.CachedRate {
	out := copyRate(rate)
	canonical, flipped := rate.Pair.Canonical()
	if flipped {
		out.Pair = canonical
		out.Rate = models.InvertRate(rate.Rate)
	}
	return out
}

// orient returns a copy of a canonical entry expressed in pair's direction.
func orient(entry *models.CachedRate, pair models.Pair) *models.CachedRate {
	out := copyRate(entry)
	if entry.Pair != pair {
		out.Pair = pair
		out.Rate = models.InvertRate(entry.Rate)
	}
	return out
}

func copyRate(rate *models.CachedRate) *models.CachedRate {
	out := *rate
	if rate.Sources != nil {
		out.Sources = append([]string(nil), rate.Sources...)
	}
	return &out
}

type pairScore struct {
	pair  models.Pair
	score float64
}

func topPairs(scores map[models.Pair]float64, limit int) []models.Pair {
	list := make([]pairScore, 0, len(scores))
	for p, s := range scores {
		list = append(list, pairScore{pair: p, score: s})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].pair.String() < list[j].pair.String()
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]models.Pair, 0, len(list))
	for _, ps := range list {
		out = append(out, ps.pair)
	}
	return out
}
