package aggregator

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"networth-api/internal/cache"
	"networth-api/internal/models"
	"networth-api/internal/providers"
)

// MockProvider is a mock implementation of providers.Provider
type MockProvider struct {
	mock.Mock
	name string
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Quote(ctx context.Context, pair models.Pair) (*models.Quote, error) {
	args := m.Called(ctx, pair)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Quote), args.Error(1)
}

// MockHistoricalProvider also answers for past dates
type MockHistoricalProvider struct {
	MockProvider
}

func (m *MockHistoricalProvider) QuoteOn(ctx context.Context, pair models.Pair, day time.Time) (*models.Quote, error) {
	args := m.Called(ctx, pair, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Quote), args.Error(1)
}

// blockingProvider never answers until released, ignoring its context.
type blockingProvider struct {
	release chan struct{}
}

func (b *blockingProvider) Name() string { return "blocking" }

func (b *blockingProvider) Quote(ctx context.Context, pair models.Pair) (*models.Quote, error) {
	<-b.release
	return nil, errors.New("released")
}

// delayedProvider answers after delay unless its context ends first.
type delayedProvider struct {
	delay time.Duration
	rate  string
	calls int32
}

func (d *delayedProvider) Name() string { return "delayed" }

func (d *delayedProvider) Quote(ctx context.Context, pair models.Pair) (*models.Quote, error) {
	atomic.AddInt32(&d.calls, 1)
	select {
	case <-time.After(d.delay):
		return quoteAt("delayed", pair, d.rate), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var (
	testNow = time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	eurUSD  = models.NewPair("EUR", "USD")
	usdEUR  = models.NewPair("USD", "EUR")
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestAggregator(store cache.Store, ps ...providers.Provider) *Aggregator {
	cfg := GetDefaultConfig()
	cfg.ProviderTimeout = 100 * time.Millisecond
	a := NewAggregator(providers.NewProviderManager(ps...), store, DefaultPolicy(), cfg, nil, testLogger())
	a.now = func() time.Time { return testNow }
	return a
}

func newStore() *cache.MemoryStore {
	return cache.NewMemoryStore(&cache.MemoryConfig{TTL: time.Hour})
}

func quoteAt(source string, pair models.Pair, rate string) *models.Quote {
	return &models.Quote{Pair: pair, Rate: decimal.RequireFromString(rate), Source: source, ObservedAt: testNow}
}

func TestResolve_Identity(t *testing.T) {
	p := &MockProvider{name: "a"}
	store := newStore()
	agg := newTestAggregator(store, p)

	res, err := agg.Resolve(context.Background(), "usd", "USD", true)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(decimal.NewFromInt(1)))
	assert.False(t, res.Degraded)

	p.AssertNotCalled(t, "Quote", mock.Anything, mock.Anything)
	_, err = store.Get(context.Background(), models.NewPair("USD", "USD"))
	assert.ErrorIs(t, err, cache.ErrNotFound, "identity is never cached")
}

func TestResolve_InvalidCurrency(t *testing.T) {
	agg := newTestAggregator(newStore())
	_, err := agg.Resolve(context.Background(), "EUR", "ABC", false)
	assert.ErrorIs(t, err, models.ErrInvalidCurrency)
}

func TestResolve_FanOutAndCache(t *testing.T) {
	ctx := context.Background()
	a := &MockProvider{name: "a"}
	b := &MockProvider{name: "b"}
	a.On("Quote", mock.Anything, eurUSD).Return(quoteAt("a", eurUSD, "1.10"), nil).Once()
	b.On("Quote", mock.Anything, eurUSD).Return(quoteAt("b", eurUSD, "1.12"), nil).Once()

	store := newStore()
	agg := newTestAggregator(store, a, b)

	res, err := agg.Resolve(ctx, "EUR", "USD", false)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("1.11")), res.Rate.String())
	assert.False(t, res.Cached)
	assert.Equal(t, []string{"a", "b"}, res.Sources)

	cached, err := store.Get(ctx, eurUSD)
	require.NoError(t, err)
	assert.Equal(t, testNow, cached.LastUpdated)

	t.Run("fresh hit does not call adapters", func(t *testing.T) {
		res, err := agg.Resolve(ctx, "EUR", "USD", false)
		require.NoError(t, err)
		assert.True(t, res.Cached)
		assert.True(t, res.Rate.Equal(decimal.RequireFromString("1.11")))
		a.AssertNumberOfCalls(t, "Quote", 1)
	})

	t.Run("inverse served from the same row", func(t *testing.T) {
		inv, err := agg.Resolve(ctx, "USD", "EUR", false)
		require.NoError(t, err)
		assert.Equal(t, usdEUR, inv.Pair)
		product := inv.Rate.Mul(res.Rate)
		assert.True(t, product.Sub(decimal.NewFromInt(1)).Abs().LessThan(decimal.New(1, -12)), product.String())
		b.AssertNumberOfCalls(t, "Quote", 1)
	})
}

func TestResolve_InverseDirectionQueriesCanonicalPair(t *testing.T) {
	p := &MockProvider{name: "a"}
	p.On("Quote", mock.Anything, eurUSD).Return(quoteAt("a", eurUSD, "1.25"), nil).Once()

	agg := newTestAggregator(newStore(), p)
	res, err := agg.Resolve(context.Background(), "USD", "EUR", false)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("0.8")))
	p.AssertExpectations(t)
}

func TestResolve_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	p := &MockProvider{name: "a"}
	p.On("Quote", mock.Anything, eurUSD).Return(quoteAt("a", eurUSD, "1.20"), nil).Once()

	store := newStore()
	require.NoError(t, store.Put(ctx, &models.CachedRate{Pair: eurUSD, Rate: decimal.RequireFromString("1.10"), LastUpdated: testNow}))

	agg := newTestAggregator(store, p)
	res, err := agg.Resolve(ctx, "EUR", "USD", true)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("1.20")))
	p.AssertExpectations(t)
}

func TestResolve_StaleFallback(t *testing.T) {
	ctx := context.Background()
	p := &MockProvider{name: "a"}
	p.On("Quote", mock.Anything, eurUSD).Return(nil, providers.NewProviderError("a", providers.ErrorCodeServerError, "down", true))

	store := newStore()
	lastUpdated := testNow.Add(-2 * time.Hour)
	require.NoError(t, store.Put(ctx, &models.CachedRate{Pair: eurUSD, Rate: decimal.RequireFromString("1.08"), LastUpdated: lastUpdated}))

	agg := newTestAggregator(store, p)
	res, err := agg.Resolve(ctx, "USD", "EUR", false)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.True(t, res.Cached)
	assert.Equal(t, lastUpdated, res.LastUpdated)
	assert.True(t, res.Rate.Equal(models.InvertRate(decimal.RequireFromString("1.08"))))

	stored, err := store.Get(ctx, eurUSD)
	require.NoError(t, err)
	assert.Equal(t, lastUpdated, stored.LastUpdated, "degraded answers are not written back")
}

func TestResolve_Unavailable(t *testing.T) {
	p := &MockProvider{name: "a"}
	p.On("Quote", mock.Anything, models.NewPair("GBP", "JPY")).Return(nil, errors.New("boom"))

	agg := newTestAggregator(newStore(), p)
	_, err := agg.Resolve(context.Background(), "GBP", "JPY", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateUnavailable)

	var unavailable *RateUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, models.NewPair("GBP", "JPY"), unavailable.Pair)
}

func TestResolve_SlowProviderTimesOut(t *testing.T) {
	slow := &blockingProvider{release: make(chan struct{})}
	defer close(slow.release)

	fast := &MockProvider{name: "fast"}
	fast.On("Quote", mock.Anything, eurUSD).Return(quoteAt("fast", eurUSD, "1.09"), nil)

	agg := newTestAggregator(newStore(), slow, fast)

	start := time.Now()
	res, err := agg.Resolve(context.Background(), "EUR", "USD", false)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"fast"}, res.Sources)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("1.09")))
}

func TestResolve_RejectsBadQuotes(t *testing.T) {
	stale := &MockProvider{name: "stale"}
	old := quoteAt("stale", eurUSD, "1.50")
	old.ObservedAt = testNow.Add(-30 * 24 * time.Hour)
	stale.On("Quote", mock.Anything, eurUSD).Return(old, nil)

	zero := &MockProvider{name: "zero"}
	zero.On("Quote", mock.Anything, eurUSD).Return(quoteAt("zero", eurUSD, "0"), nil)

	wrongPair := &MockProvider{name: "wrong"}
	wrongPair.On("Quote", mock.Anything, eurUSD).Return(quoteAt("wrong", models.NewPair("GBP", "USD"), "1.27"), nil)

	inverse := &MockProvider{name: "inverse"}
	inverse.On("Quote", mock.Anything, eurUSD).Return(quoteAt("inverse", usdEUR, "0.8"), nil)

	agg := newTestAggregator(newStore(), stale, zero, wrongPair, inverse)
	res, err := agg.Resolve(context.Background(), "EUR", "USD", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"inverse"}, res.Sources)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("1.25")))
}

func TestResolveAll_Deduplicates(t *testing.T) {
	p := &MockProvider{name: "a"}
	p.On("Quote", mock.Anything, eurUSD).Return(quoteAt("a", eurUSD, "1.25"), nil).Once()
	p.On("Quote", mock.Anything, models.NewPair("GBP", "JPY")).Return(nil, errors.New("boom"))

	agg := newTestAggregator(newStore(), p)
	results, err := agg.ResolveAll(context.Background(), []models.Pair{
		eurUSD, usdEUR, eurUSD, models.NewPair("USD", "USD"), models.NewPair("GBP", "JPY"),
	}, true)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateUnavailable)
	require.Len(t, results, 3)
	assert.True(t, results[eurUSD].Rate.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, results[usdEUR].Rate.Equal(decimal.RequireFromString("0.8")))
	assert.True(t, results[models.NewPair("USD", "USD")].Rate.Equal(decimal.NewFromInt(1)))
	p.AssertNumberOfCalls(t, "Quote", 2)
}

func TestResolveOn(t *testing.T) {
	ctx := context.Background()
	past := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	t.Run("historical provider, then cached", func(t *testing.T) {
		hp := &MockHistoricalProvider{MockProvider{name: "hist"}}
		hq := &models.Quote{Pair: eurUSD, Rate: decimal.RequireFromString("1.0956"), Source: "hist", ObservedAt: past}
		hp.On("QuoteOn", mock.Anything, eurUSD, past).Return(hq, nil).Once()

		store := newStore()
		agg := newTestAggregator(store, hp)

		res, err := agg.ResolveOn(ctx, "USD", "EUR", past)
		require.NoError(t, err)
		assert.False(t, res.Degraded)
		assert.True(t, res.Rate.Mul(decimal.RequireFromString("1.0956")).Sub(decimal.NewFromInt(1)).Abs().LessThan(decimal.New(1, -12)))

		again, err := agg.ResolveOn(ctx, "EUR", "USD", past)
		require.NoError(t, err)
		assert.True(t, again.Cached)
		assert.True(t, again.Rate.Equal(decimal.RequireFromString("1.0956")))
		hp.AssertExpectations(t)
		hp.AssertNotCalled(t, "Quote", mock.Anything, mock.Anything)
	})

	t.Run("falls back to the current rate", func(t *testing.T) {
		p := &MockProvider{name: "live"}
		p.On("Quote", mock.Anything, eurUSD).Return(quoteAt("live", eurUSD, "1.10"), nil).Once()

		agg := newTestAggregator(newStore(), p)
		res, err := agg.ResolveOn(ctx, "EUR", "USD", past)
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.True(t, res.Rate.Equal(decimal.RequireFromString("1.10")))
	})

	t.Run("today goes through Resolve", func(t *testing.T) {
		hp := &MockHistoricalProvider{MockProvider{name: "hist"}}
		hp.On("Quote", mock.Anything, eurUSD).Return(quoteAt("hist", eurUSD, "1.11"), nil).Once()

		agg := newTestAggregator(newStore(), hp)
		res, err := agg.ResolveOn(ctx, "EUR", "USD", testNow)
		require.NoError(t, err)
		assert.False(t, res.Degraded)
		hp.AssertNotCalled(t, "QuoteOn", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	p := &delayedProvider{delay: 40 * time.Millisecond, rate: "1.10"}
	agg := newTestAggregator(newStore(), p)

	short, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	var (
		wg       sync.WaitGroup
		shortErr error
		longRes  *models.RateResult
		longErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, shortErr = agg.Resolve(short, "EUR", "USD", false)
	}()
	go func() {
		defer wg.Done()
		longRes, longErr = agg.Resolve(context.Background(), "EUR", "USD", false)
	}()
	wg.Wait()

	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	require.NoError(t, longErr)
	assert.False(t, longRes.Degraded)
	assert.True(t, longRes.Rate.Equal(decimal.RequireFromString("1.10")))
}

func TestResolve_StaleFallbackSurvivesHistoricalPressure(t *testing.T) {
	ctx := context.Background()
	p := &MockProvider{name: "a"}
	p.On("Quote", mock.Anything, eurUSD).Return(nil, errors.New("down"))

	store := cache.NewMemoryStore(&cache.MemoryConfig{MaxSize: 50, ItemsToPrune: 10, TTL: time.Hour})
	defer store.Close()

	lastUpdated := testNow.Add(-72 * time.Hour)
	require.NoError(t, store.Put(ctx, &models.CachedRate{Pair: eurUSD, Rate: decimal.RequireFromString("1.08"), LastUpdated: lastUpdated}))

	gbpJPY := models.NewPair("GBP", "JPY")
	for i := 0; i < 400; i++ {
		day := testNow.AddDate(0, 0, -i)
		require.NoError(t, store.PutOn(ctx, &models.CachedRate{Pair: gbpJPY, Rate: decimal.NewFromInt(int64(180 + i%10)), LastUpdated: day}, day))
	}

	agg := newTestAggregator(store, p)
	res, err := agg.Resolve(ctx, "EUR", "USD", false)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, lastUpdated, res.LastUpdated)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("1.08")))
}
