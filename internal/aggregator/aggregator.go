package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"networth-api/internal/cache"
	"networth-api/internal/metrics"
	"networth-api/internal/models"
	"networth-api/internal/providers"
)

// Config represents aggregator configuration
type Config struct {
	ProviderTimeout time.Duration // timeout per adapter call
	MaxQuoteAge     time.Duration // older quotes are rejected as stale
	MaxConcurrency  int           // canonical pairs resolved in parallel by ResolveAll
	Location        *time.Location
}

func GetDefaultConfig() *Config {
	return &Config{
		ProviderTimeout: 5 * time.Second,
		MaxQuoteAge:     120 * time.Hour,
		MaxConcurrency:  8,
		Location:        time.UTC,
	}
}

// Aggregator resolves exchange rates through the cache and, on miss or
// expiry, by fanning out to every configured adapter.
type Aggregator struct {
	providerManager *providers.ProviderManager
	store           cache.Store
	policy          *Policy
	config          *Config
	metrics         metrics.MetricsService
	logger          *logrus.Entry

	group singleflight.Group
	now   func() time.Time
}

func NewAggregator(
	providerManager *providers.ProviderManager,
	store cache.Store,
	policy *Policy,
	config *Config,
	metricsService metrics.MetricsService,
	logger *logrus.Logger,
) *Aggregator {
	if config == nil {
		config = GetDefaultConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	if metricsService == nil {
		metricsService = metrics.NewNoopMetrics()
	}

	return &Aggregator{
		providerManager: providerManager,
		store:           store,
		policy:          policy,
		config:          config,
		metrics:         metricsService,
		logger:          logger.WithField("component", "rate_aggregator"),
		now:             time.Now,
	}
}

// ProviderNames lists the configured adapters.
func (a *Aggregator) ProviderNames() []string {
	return a.providerManager.Names()
}

// Resolve returns the rate converting one unit of from into to.
func (a *Aggregator) Resolve(ctx context.Context, from, to string, forceRefresh bool) (*models.RateResult, error) {
	pair := models.NewPair(from, to)
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	if pair.IsIdentity() {
		return a.identity(pair), nil
	}

	canonical, flipped := pair.Canonical()
	res, err := a.resolveCanonical(ctx, canonical, forceRefresh)
	if err != nil {
		return nil, err
	}
	if flipped {
		return res.Invert(), nil
	}
	return res, nil
}

// ResolveAll resolves a batch of pairs. Identical and inverse pairs share a
// single resolution. Pairs that failed are missing from the map and their
// errors are joined in the returned error.
func (a *Aggregator) ResolveAll(ctx context.Context, pairs []models.Pair, forceRefresh bool) (map[models.Pair]*models.RateResult, error) {
	results := make(map[models.Pair]*models.RateResult, len(pairs))
	resolved := make(map[models.Pair]*models.RateResult)
	failures := make(map[models.Pair]error)
	var order []models.Pair
	var errs []error

	for _, p := range pairs {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if p.IsIdentity() {
			results[p] = a.identity(p)
			continue
		}
		c, _ := p.Canonical()
		if _, seen := resolved[c]; !seen {
			resolved[c] = nil
			order = append(order, c)
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, a.config.MaxConcurrency)

	for _, c := range order {
		wg.Add(1)
		go func(pair models.Pair) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			res, err := a.resolveCanonical(ctx, pair, forceRefresh)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[pair] = err
				return
			}
			resolved[pair] = res
		}(c)
	}
	wg.Wait()

	for _, p := range pairs {
		if p.IsIdentity() {
			continue
		}
		c, flipped := p.Canonical()
		res := resolved[c]
		if res == nil {
			continue
		}
		if flipped {
			results[p] = res.Invert()
		} else {
			cp := *res
			results[p] = &cp
		}
	}
	for _, c := range order {
		if err, ok := failures[c]; ok {
			errs = append(errs, err)
		}
	}

	return results, errors.Join(errs...)
}

// ResolveOn returns a best-effort rate for a past calendar date. Today and
// future dates are served by Resolve.
func (a *Aggregator) ResolveOn(ctx context.Context, from, to string, day time.Time) (*models.RateResult, error) {
	pair := models.NewPair(from, to)
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	if pair.IsIdentity() {
		return a.identity(pair), nil
	}

	day = models.DateOf(day)
	if !day.Before(models.Today(a.now(), a.config.Location)) {
		return a.Resolve(ctx, from, to, false)
	}

	canonical, flipped := pair.Canonical()
	res, err := a.resolveHistorical(ctx, canonical, day)
	if err != nil {
		return nil, err
	}
	if flipped {
		return res.Invert(), nil
	}
	return res, nil
}

func (a *Aggregator) identity(pair models.Pair) *models.RateResult {
	a.metrics.RecordRateResolution(metrics.RateIdentity)
	return &models.RateResult{
		Pair:        pair,
		Rate:        decimal.NewFromInt(1),
		LastUpdated: a.now(),
	}
}

// resolveCanonical collapses concurrent lookups of the same pair into one.
// The shared lookup ignores the first caller's cancellation; the provider
// timeout bounds it. Each caller stops waiting when its own ctx is done.
func (a *Aggregator) resolveCanonical(ctx context.Context, pair models.Pair, forceRefresh bool) (*models.RateResult, error) {
	key := pair.String()
	if forceRefresh {
		key += ":force"
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (interface{}, error) {
		return a.doResolve(flightCtx, pair, forceRefresh)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*models.RateResult)
		return &res, nil
	}
}

func (a *Aggregator) doResolve(ctx context.Context, pair models.Pair, forceRefresh bool) (*models.RateResult, error) {
	log := a.logger.WithField("pair", pair.String())

	cached, err := a.store.Get(ctx, pair)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			log.WithError(err).Warn("Rate cache read failed, treating as miss")
		}
		cached = nil
	}

	if !forceRefresh && cached != nil && !a.store.TTLExpired(cached, a.now()) {
		a.metrics.RecordRateResolution(metrics.RateCacheHit)
		return fromCache(cached, true, false), nil
	}

	quotes := a.collectQuotes(ctx, pair, a.providerManager.Providers(), func(ctx context.Context, p providers.Provider) (*models.Quote, error) {
		return p.Quote(ctx, pair)
	}, a.now())

	combined, err := a.policy.Combine(quotes)
	if err != nil {
		if cached != nil {
			a.metrics.RecordRateResolution(metrics.RateDegraded)
			log.WithFields(logrus.Fields{
				"last_updated": cached.LastUpdated,
				"age":          cached.Age(a.now()).String(),
			}).Warn("All rate providers failed, serving last known rate")
			return fromCache(cached, true, true), nil
		}
		a.metrics.RecordRateResolution(metrics.RateUnavailable)
		log.Error("All rate providers failed and no cached rate exists")
		return nil, &RateUnavailableError{Pair: pair}
	}
	a.recordRejected(log, combined)

	entry := &models.CachedRate{
		Pair:        pair,
		Rate:        combined.Rate,
		Sources:     combined.Sources(),
		LastUpdated: a.now(),
	}
	if err := a.store.Put(ctx, entry); err != nil {
		log.WithError(err).Warn("Failed to write rate cache")
	}

	a.metrics.RecordRateResolution(metrics.RateRefreshed)
	log.WithFields(logrus.Fields{
		"rate":    entry.Rate.String(),
		"sources": entry.Sources,
	}).Debug("Rate refreshed")

	return fromCache(entry, false, false), nil
}

func (a *Aggregator) resolveHistorical(ctx context.Context, pair models.Pair, day time.Time) (*models.RateResult, error) {
	log := a.logger.WithFields(logrus.Fields{
		"pair": pair.String(),
		"date": models.FormatDate(day),
	})

	cached, err := a.store.GetOn(ctx, pair, day)
	if err == nil {
		a.metrics.RecordRateResolution(metrics.RateHistoricalHit)
		return fromCache(cached, true, false), nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		log.WithError(err).Warn("Historical rate cache read failed")
	}

	historical := a.providerManager.Historical()
	if len(historical) > 0 {
		ps := make([]providers.Provider, 0, len(historical))
		for _, hp := range historical {
			ps = append(ps, hp)
		}
		// quotes are judged against the end of the requested day
		ref := day.Add(24 * time.Hour)
		quotes := a.collectQuotes(ctx, pair, ps, func(ctx context.Context, p providers.Provider) (*models.Quote, error) {
			return p.(providers.HistoricalProvider).QuoteOn(ctx, pair, day)
		}, ref)

		if combined, err := a.policy.Combine(quotes); err == nil {
			a.recordRejected(log, combined)
			entry := &models.CachedRate{
				Pair:        pair,
				Rate:        combined.Rate,
				Sources:     combined.Sources(),
				LastUpdated: a.now(),
			}
			if err := a.store.PutOn(ctx, entry, day); err != nil {
				log.WithError(err).Warn("Failed to write historical rate cache")
			}
			a.metrics.RecordRateResolution(metrics.RateHistoricalFetched)
			return fromCache(entry, false, false), nil
		}
	}

	a.metrics.RecordRateResolution(metrics.RateHistoricalFallback)
	log.Debug("No historical rate, falling back to current rate")

	res, err := a.resolveCanonical(ctx, pair, false)
	if err != nil {
		return nil, err
	}
	res.Degraded = true
	return res, nil
}

type quoteFunc func(ctx context.Context, p providers.Provider) (*models.Quote, error)

type quoteResult struct {
	quote *models.Quote
	err   error
}

// collectQuotes calls every adapter concurrently, each bounded by the
// provider timeout, and returns the valid quotes in adapter order.
func (a *Aggregator) collectQuotes(ctx context.Context, pair models.Pair, ps []providers.Provider, fetch quoteFunc, ref time.Time) []models.Quote {
	results := make([]*models.Quote, len(ps))
	var wg sync.WaitGroup

	for i, p := range ps {
		wg.Add(1)
		go func(i int, p providers.Provider) {
			defer wg.Done()

			qctx, cancel := context.WithTimeout(ctx, a.config.ProviderTimeout)
			defer cancel()

			start := time.Now()
			ch := make(chan quoteResult, 1)
			go func() {
				q, err := fetch(qctx, p)
				ch <- quoteResult{quote: q, err: err}
			}()

			var r quoteResult
			select {
			case r = <-ch:
			case <-qctx.Done():
				r.err = providers.WrapProviderError(p.Name(), providers.ErrorCodeTimeout, "Provider did not answer in time", true, qctx.Err())
			}

			var q *models.Quote
			err := r.err
			if err == nil {
				q, err = a.validateQuote(p.Name(), pair, r.quote, ref)
			}
			a.metrics.RecordProviderCall(p.Name(), err == nil, providers.ErrorCode(err), time.Since(start))

			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"provider": p.Name(),
					"pair":     pair.String(),
					"error":    err.Error(),
				}).Warn("Rate provider failed")
				return
			}
			results[i] = q
		}(i, p)
	}
	wg.Wait()

	quotes := make([]models.Quote, 0, len(ps))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}

func (a *Aggregator) validateQuote(name string, pair models.Pair, q *models.Quote, ref time.Time) (*models.Quote, error) {
	if q == nil {
		return nil, providers.NewProviderError(name, providers.ErrorCodeMalformed, "Empty quote", false)
	}
	out := *q
	if out.Pair == pair.Inverse() && out.Rate.IsPositive() {
		out = out.Invert()
	}
	if out.Pair != pair {
		return nil, providers.NewProviderError(name, providers.ErrorCodeMalformed,
			fmt.Sprintf("Quote for %s, expected %s", q.Pair, pair), false)
	}
	if !out.Rate.IsPositive() {
		return nil, providers.NewProviderError(name, providers.ErrorCodeMalformed, "Non-positive rate "+out.Rate.String(), false)
	}
	if out.Source == "" {
		out.Source = name
	}
	if out.ObservedAt.IsZero() {
		out.ObservedAt = ref
	}
	if a.config.MaxQuoteAge > 0 && ref.Sub(out.ObservedAt) > a.config.MaxQuoteAge {
		return nil, providers.NewProviderError(name, providers.ErrorCodeStaleQuote,
			"Quote observed at "+out.ObservedAt.Format(time.RFC3339), false)
	}
	return &out, nil
}

func (a *Aggregator) recordRejected(log *logrus.Entry, combined *Combined) {
	for _, q := range combined.Rejected {
		a.metrics.RecordOutlierRejected(q.Source)
		log.WithFields(logrus.Fields{
			"provider": q.Source,
			"rate":     q.Rate.String(),
			"combined": combined.Rate.String(),
		}).Info("Discarded outlier quote")
	}
}

func fromCache(c *models.CachedRate, cached, degraded bool) *models.RateResult {
	return &models.RateResult{
		Pair:        c.Pair,
		Rate:        c.Rate,
		Degraded:    degraded,
		Cached:      cached,
		Sources:     append([]string(nil), c.Sources...),
		LastUpdated: c.LastUpdated,
	}
}
