package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"networth-api/internal/models"
	pkgcache "networth-api/pkg/cache"
)

// RedisStore keeps one hash per canonical pair so rates survive restarts and
// are shared between API replicas.
type RedisStore struct {
	ttlPolicy
	client *pkgcache.RedisClient
}

func NewRedisStore(client *pkgcache.RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		ttlPolicy: ttlPolicy(ttl),
		client:    client,
	}
}

func (s *RedisStore) Get(ctx context.Context, pair models.Pair) (*models.CachedRate, error) {
	canonical, _ := pair.Canonical()
	return s.load(ctx, rateKey(canonical), canonical, pair)
}

func (s *RedisStore) Put(ctx context.Context, rate *models.CachedRate) error {
	entry := canonicalize(rate)
	return s.store(ctx, rateKey(entry.Pair), entry)
}

func (s *RedisStore) GetOn(ctx context.Context, pair models.Pair, day time.Time) (*models.CachedRate, error) {
	canonical, _ := pair.Canonical()
	return s.load(ctx, historicalKey(canonical, day), canonical, pair)
}

func (s *RedisStore) PutOn(ctx context.Context, rate *models.CachedRate, day time.Time) error {
	entry := canonicalize(rate)
	return s.store(ctx, historicalKey(entry.Pair, day), entry)
}

func (s *RedisStore) store(ctx context.Context, key string, entry *models.CachedRate) error {
	fields := map[string]interface{}{
		"rate":         entry.Rate.String(),
		"sources":      strings.Join(entry.Sources, ","),
		"last_updated": entry.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
	if err := s.client.HSetFields(ctx, key, fields); err != nil {
		return fmt.Errorf("failed to store rate %s: %w", entry.Pair, err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, key string, canonical, pair models.Pair) (*models.CachedRate, error) {
	fields, err := s.client.HGetAll(ctx, key)
	if err != nil {
		if errors.Is(err, pkgcache.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry, err := decodeRate(canonical, fields)
	if err != nil {
		return nil, fmt.Errorf("corrupt rate entry %s: %w", key, err)
	}
	return orient(entry, pair), nil
}

func decodeRate(pair models.Pair, fields map[string]string) (*models.CachedRate, error) {
	rate, err := decimal.NewFromString(fields["rate"])
	if err != nil {
		return nil, err
	}
	updated, err := time.Parse(time.RFC3339Nano, fields["last_updated"])
	if err != nil {
		return nil, err
	}
	var sources []string
	if s := fields["sources"]; s != "" {
		sources = strings.Split(s, ",")
	}
	return &models.CachedRate{
		Pair:        pair,
		Rate:        rate,
		Sources:     sources,
		LastUpdated: updated,
	}, nil
}

func (s *RedisStore) RecordPopular(ctx context.Context, userID int64, pairs ...models.Pair) error {
	members := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.IsIdentity() {
			continue
		}
		canonical, _ := p.Canonical()
		members = append(members, canonical.String())
	}
	return s.client.ZIncrBy(ctx, popularKey(userID), 1, members...)
}

func (s *RedisStore) PopularPairs(ctx context.Context, userID int64, limit int) ([]models.Pair, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := s.client.ZRevRange(ctx, popularKey(userID), 0, stop)
	if err != nil {
		return nil, fmt.Errorf("failed to read popular pairs: %w", err)
	}

	out := make([]models.Pair, 0, len(members))
	for _, m := range members {
		p, err := models.ParsePair(m)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
