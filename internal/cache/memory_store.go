package cache

import (
	"context"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v2"

	"networth-api/internal/models"
)

// entries never expire on the ccache side; freshness is the TTL policy's job
const retainForever = 100 * 365 * 24 * time.Hour

// MemoryConfig configures the in-process store.
type MemoryConfig struct {
	MaxSize      int64
	ItemsToPrune uint32
	TTL          time.Duration
}

// MemoryStore is an in-process Store. It is used when no Redis is configured
// and in tests. Latest rates live in a plain map and are never evicted; only
// historical rows go through the size-capped ccache.
type MemoryStore struct {
	ttlPolicy
	cache *ccache.Cache

	ratesMu sync.RWMutex
	rates   map[models.Pair]*models.CachedRate

	mu      sync.Mutex
	popular map[int64]map[models.Pair]float64
}

func NewMemoryStore(config *MemoryConfig) *MemoryStore {
	if config.MaxSize <= 0 {
		config.MaxSize = 10000
	}
	if config.ItemsToPrune == 0 {
		config.ItemsToPrune = 100
	}
	return &MemoryStore{
		ttlPolicy: ttlPolicy(config.TTL),
		cache: ccache.New(ccache.Configure().
			MaxSize(config.MaxSize).
			ItemsToPrune(config.ItemsToPrune)),
		rates:   make(map[models.Pair]*models.CachedRate),
		popular: make(map[int64]map[models.Pair]float64),
	}
}

func (s *MemoryStore) Get(ctx context.Context, pair models.Pair) (*models.CachedRate, error) {
	canonical, _ := pair.Canonical()

	s.ratesMu.RLock()
	entry, ok := s.rates[canonical]
	s.ratesMu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return orient(entry, pair), nil
}

func (s *MemoryStore) Put(ctx context.Context, rate *models.CachedRate) error {
	entry := canonicalize(rate)

	s.ratesMu.Lock()
	s.rates[entry.Pair] = entry
	s.ratesMu.Unlock()
	return nil
}

func (s *MemoryStore) GetOn(ctx context.Context, pair models.Pair, day time.Time) (*models.CachedRate, error) {
	canonical, _ := pair.Canonical()
	return s.load(historicalKey(canonical, day), pair)
}

func (s *MemoryStore) PutOn(ctx context.Context, rate *models.CachedRate, day time.Time) error {
	entry := canonicalize(rate)
	s.cache.Set(historicalKey(entry.Pair, day), entry, retainForever)
	return nil
}

func (s *MemoryStore) load(key string, pair models.Pair) (*models.CachedRate, error) {
	item := s.cache.Get(key)
	if item == nil {
		return nil, ErrNotFound
	}
	entry, ok := item.Value().(*models.CachedRate)
	if !ok {
		return nil, ErrNotFound
	}
	return orient(entry, pair), nil
}

func (s *MemoryStore) RecordPopular(ctx context.Context, userID int64, pairs ...models.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scores, ok := s.popular[userID]
	if !ok {
		scores = make(map[models.Pair]float64)
		s.popular[userID] = scores
	}
	for _, p := range pairs {
		if p.IsIdentity() {
			continue
		}
		canonical, _ := p.Canonical()
		scores[canonical]++
	}
	return nil
}

func (s *MemoryStore) PopularPairs(ctx context.Context, userID int64, limit int) ([]models.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return topPairs(s.popular[userID], limit), nil
}

func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}
