package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"networth-api/internal/cache"
	"networth-api/internal/ledger"
	"networth-api/internal/metrics"
	"networth-api/internal/models"
	"networth-api/internal/repositories"
)

// RateResolver is the part of the rate aggregator the calculator needs.
type RateResolver interface {
	Resolve(ctx context.Context, from, to string, forceRefresh bool) (*models.RateResult, error)
	ResolveOn(ctx context.Context, from, to string, day time.Time) (*models.RateResult, error)
}

// PerformanceConfig configures snapshot computation
type PerformanceConfig struct {
	DefaultBaseCurrency string
	Location            *time.Location // zone "today" is computed in
	Scale               int32          // decimal places kept on stored figures
	MaxBackfillDays     int
	PopularLimit        int
}

func GetDefaultPerformanceConfig() *PerformanceConfig {
	return &PerformanceConfig{
		DefaultBaseCurrency: "USD",
		Location:            time.UTC,
		Scale:               8,
		MaxBackfillDays:     366,
		PopularLimit:        20,
	}
}

// PerformanceService computes and stores daily P&L snapshots.
type PerformanceService struct {
	accounts  repositories.AccountLedger
	holdings  repositories.CurrencyHoldingLedger
	snapshots repositories.SnapshotRepository
	rates     RateResolver
	hints     cache.PopularPairs
	balances  *ledger.BalanceResolver
	locks     *userLocks
	config    *PerformanceConfig
	metrics   metrics.MetricsService
	logger    *logrus.Entry
	now       func() time.Time
}

func NewPerformanceService(
	accounts repositories.AccountLedger,
	holdings repositories.CurrencyHoldingLedger,
	snapshots repositories.SnapshotRepository,
	rates RateResolver,
	hints cache.PopularPairs,
	config *PerformanceConfig,
	metricsService metrics.MetricsService,
	logger *logrus.Logger,
) *PerformanceService {
	if config == nil {
		config = GetDefaultPerformanceConfig()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if metricsService == nil {
		metricsService = metrics.NewNoopMetrics()
	}

	return &PerformanceService{
		accounts:  accounts,
		holdings:  holdings,
		snapshots: snapshots,
		rates:     rates,
		hints:     hints,
		balances:  ledger.NewBalanceResolver(accounts),
		locks:     newUserLocks(),
		config:    config,
		metrics:   metricsService,
		logger:    logger.WithField("component", "performance_service"),
		now:       time.Now,
	}
}

// Today is the current calendar date in the configured zone.
func (s *PerformanceService) Today() time.Time {
	return models.Today(s.now(), s.config.Location)
}

// ComputeSnapshot computes the user's P&L for day and upserts it. When the
// stored row already carries the same figures it is returned untouched.
func (s *PerformanceService) ComputeSnapshot(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error) {
	start := time.Now()
	day = models.DateOf(day)

	unlock := s.locks.Lock(userID)
	defer unlock()

	snapshot, err := s.compute(ctx, userID, day)
	if err != nil {
		var violation *ReconciliationViolationError
		if errors.As(err, &violation) {
			s.metrics.RecordSnapshotComputation(metrics.SnapshotReconciliation, time.Since(start))
		} else {
			s.metrics.RecordSnapshotComputation(metrics.SnapshotFailed, time.Since(start))
		}
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"date":    models.FormatDate(day),
		}).WithError(err).Error("Snapshot computation failed")
		return nil, err
	}

	existing, err := s.snapshots.Get(ctx, userID, day)
	if err == nil && existing.SameFigures(snapshot) {
		s.metrics.RecordSnapshotComputation(metrics.SnapshotOK, time.Since(start))
		return existing, nil
	}

	if err := s.snapshots.Upsert(ctx, snapshot); err != nil {
		s.metrics.RecordSnapshotComputation(metrics.SnapshotFailed, time.Since(start))
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	s.metrics.RecordSnapshotComputation(metrics.SnapshotOK, time.Since(start))
	s.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"date":      models.FormatDate(day),
		"total_pl":  snapshot.TotalPL.String(),
		"daily_pl":  snapshot.DailyPL.String(),
		"degraded":  snapshot.Degraded,
		"has_prior": snapshot.HasPrior,
	}).Debug("Snapshot stored")

	return snapshot, nil
}

func (s *PerformanceService) compute(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error) {
	base, err := s.baseCurrency(ctx, userID)
	if err != nil {
		return nil, err
	}

	conv := newConverter(s.rates, base, day, day.Before(s.Today()))

	accounts, err := s.accounts.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	accountsPL := decimal.Zero
	for i := range accounts {
		account := &accounts[i]

		balance, err := s.balances.BalanceAsOf(ctx, account, day)
		if err != nil {
			return nil, err
		}
		balanceBase, err := conv.toBase(ctx, balance.Currency, balance.Amount)
		if err != nil {
			return nil, err
		}
		capitalBase, err := conv.toBase(ctx, account.Currency, account.EffectiveCapital())
		if err != nil {
			return nil, err
		}
		accountsPL = accountsPL.Add(balanceBase.Sub(capitalBase))
	}

	holdings, err := s.holdings.ListHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load currency holdings: %w", err)
	}

	currencyPL := decimal.Zero
	for i := range holdings {
		h := &holdings[i]
		if err := h.Validate(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"user_id":    userID,
				"holding_id": h.ID,
			}).WithError(err).Warn("Skipping invalid currency holding")
			continue
		}
		conv.track(h.Pair)
		currencyPL = currencyPL.Add(s.holdingPL(h, base))
	}

	scale := s.config.Scale
	currencyPL = currencyPL.Round(scale)
	totalPL := accountsPL.Round(scale).Add(currencyPL)

	snapshot := &models.PerformanceSnapshot{
		UserID:       userID,
		Date:         day,
		BaseCurrency: base,
		TotalPL:      totalPL,
		InvestmentPL: totalPL.Sub(currencyPL),
		CurrencyPL:   currencyPL,
		DailyPL:      decimal.Zero,
		Degraded:     conv.degraded,
		ComputedAt:   s.now().UTC(),
	}

	prior, err := s.snapshots.LatestBefore(ctx, userID, day)
	switch {
	case err == nil:
		snapshot.DailyPL = totalPL.Sub(prior.TotalPL)
		snapshot.HasPrior = true
	case errors.Is(err, repositories.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load prior snapshot: %w", err)
	}

	if !snapshot.Reconciles() {
		return nil, &ReconciliationViolationError{
			UserID:       userID,
			Date:         day,
			TotalPL:      snapshot.TotalPL,
			InvestmentPL: snapshot.InvestmentPL,
			CurrencyPL:   snapshot.CurrencyPL,
		}
	}

	s.recordHints(ctx, userID, conv.pairs())

	return snapshot, nil
}

// holdingPL expresses a holding's P&L in base. P&L is natively in the quote
// currency; when neither side is base it is taken as already in base.
func (s *PerformanceService) holdingPL(h *models.CurrencyHolding, base string) decimal.Decimal {
	pl := h.ProfitLoss()
	switch base {
	case h.Pair.To:
		return pl
	case h.Pair.From:
		return pl.Div(h.CurrentRate)
	default:
		s.metrics.RecordHoldingApproximation()
		s.logger.WithFields(logrus.Fields{
			"user_id": h.UserID,
			"pair":    h.Pair.String(),
			"base":    base,
		}).Debug("Holding P&L taken as base currency")
		return pl
	}
}

func (s *PerformanceService) baseCurrency(ctx context.Context, userID int64) (string, error) {
	base, err := s.accounts.BaseCurrency(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load base currency: %w", err)
	}
	if base == "" {
		base = s.config.DefaultBaseCurrency
	}
	if err := models.ValidateCurrency(base); err != nil {
		return "", err
	}
	return base, nil
}

func (s *PerformanceService) recordHints(ctx context.Context, userID int64, pairs []models.Pair) {
	if s.hints == nil || len(pairs) == 0 {
		return
	}
	if err := s.hints.RecordPopular(ctx, userID, pairs...); err != nil {
		s.logger.WithField("user_id", userID).WithError(err).Warn("Failed to record popular pairs")
	}
}

// RecomputeToday computes the snapshot for the current date.
func (s *PerformanceService) RecomputeToday(ctx context.Context, userID int64) (*models.PerformanceSnapshot, error) {
	return s.ComputeSnapshot(ctx, userID, s.Today())
}

// Backfill computes every date in [start, end] in ascending order so each
// DailyPL chains onto the row written just before it. A failing date does
// not stop the run. Cancellation is honoured between dates.
func (s *PerformanceService) Backfill(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	start, end = models.DateOf(start), models.DateOf(end)
	if err := s.validateBackfillRange(start, end); err != nil {
		return 0, err
	}

	runID := uuid.New().String()
	log := s.logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"user_id": userID,
		"start":   models.FormatDate(start),
		"end":     models.FormatDate(end),
	})
	log.Info("Backfill started")

	var (
		written   int
		last      time.Time
		failed    []time.Time
		cause     error
		cancelled bool
	)

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			cause = err
			cancelled = true
			break
		}

		// a date in progress runs to completion even if ctx is cancelled
		if _, err := s.ComputeSnapshot(context.WithoutCancel(ctx), userID, day); err != nil {
			s.metrics.RecordBackfillDate("failed")
			failed = append(failed, day)
			cause = err
			log.WithField("date", models.FormatDate(day)).WithError(err).Warn("Backfill date failed")
			continue
		}

		s.metrics.RecordBackfillDate("ok")
		written++
		last = day
	}

	log.WithFields(logrus.Fields{
		"written": written,
		"failed":  len(failed),
	}).Info("Backfill finished")

	if len(failed) > 0 || cancelled {
		return written, &PartialBackfillError{
			RunID:              runID,
			LastSuccessfulDate: last,
			FailedDates:        failed,
			Written:            written,
			Cause:              cause,
		}
	}
	return written, nil
}

func (s *PerformanceService) validateBackfillRange(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, models.FormatDate(end), models.FormatDate(start))
	}
	if end.After(s.Today()) {
		return fmt.Errorf("%w: end %s is in the future", ErrInvalidRange, models.FormatDate(end))
	}
	if days := models.DaysInRange(start, end); s.config.MaxBackfillDays > 0 && days > s.config.MaxBackfillDays {
		return fmt.Errorf("%w: %d days exceeds the limit of %d", ErrInvalidRange, days, s.config.MaxBackfillDays)
	}
	return nil
}

// GetSnapshot returns the stored row or repositories.ErrNotFound.
func (s *PerformanceService) GetSnapshot(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error) {
	return s.snapshots.Get(ctx, userID, models.DateOf(day))
}

// ListSnapshots returns stored rows in [from, to], ascending. Dates without a
// row are absent rather than zero.
func (s *PerformanceService) ListSnapshots(ctx context.Context, userID int64, from, to time.Time) ([]models.PerformanceSnapshot, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, models.FormatDate(to), models.FormatDate(from))
	}
	return s.snapshots.ListRange(ctx, userID, from, to)
}

// UserPairs lists the pairs a user's snapshot depends on: every account
// currency against base, every holding pair, and the recorded hints.
func (s *PerformanceService) UserPairs(ctx context.Context, userID int64) ([]models.Pair, error) {
	base, err := s.baseCurrency(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[models.Pair]struct{})
	var pairs []models.Pair
	add := func(p models.Pair) {
		if p.IsIdentity() || p.Validate() != nil {
			return
		}
		c, _ := p.Canonical()
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		pairs = append(pairs, p)
	}

	accounts, err := s.accounts.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	for _, a := range accounts {
		add(models.NewPair(a.Currency, base))
	}

	holdings, err := s.holdings.ListHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load currency holdings: %w", err)
	}
	for _, h := range holdings {
		add(h.Pair)
	}

	if s.hints != nil {
		hinted, err := s.hints.PopularPairs(ctx, userID, s.config.PopularLimit)
		if err != nil {
			s.logger.WithField("user_id", userID).WithError(err).Warn("Failed to read popular pairs")
		}
		for _, p := range hinted {
			add(p)
		}
	}

	return pairs, nil
}

// PopularPairs returns the recorded hints for a user.
func (s *PerformanceService) PopularPairs(ctx context.Context, userID int64) ([]models.Pair, error) {
	if s.hints == nil {
		return nil, nil
	}
	return s.hints.PopularPairs(ctx, userID, s.config.PopularLimit)
}

// ListUserIDs lists every user known to the ledger.
func (s *PerformanceService) ListUserIDs(ctx context.Context) ([]int64, error) {
	return s.accounts.ListUserIDs(ctx)
}

// converter turns amounts into the base currency for one computation,
// resolving each currency at most once.
type converter struct {
	rates      RateResolver
	base       string
	day        time.Time
	historical bool
	cache      map[string]*models.RateResult
	used       map[models.Pair]struct{}
	degraded   bool
}

func newConverter(rates RateResolver, base string, day time.Time, historical bool) *converter {
	return &converter{
		rates:      rates,
		base:       base,
		day:        day,
		historical: historical,
		cache:      make(map[string]*models.RateResult),
		used:       make(map[models.Pair]struct{}),
	}
}

func (c *converter) toBase(ctx context.Context, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	if currency == "" || currency == c.base {
		return amount, nil
	}
	if amount.IsZero() {
		return amount, nil
	}

	res, ok := c.cache[currency]
	if !ok {
		var err error
		if c.historical {
			res, err = c.rates.ResolveOn(ctx, currency, c.base, c.day)
		} else {
			res, err = c.rates.Resolve(ctx, currency, c.base, false)
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to convert %s to %s: %w", currency, c.base, err)
		}
		c.cache[currency] = res
		c.track(models.NewPair(currency, c.base))
	}
	if res.Degraded {
		c.degraded = true
	}
	return res.Convert(amount), nil
}

func (c *converter) track(p models.Pair) {
	if p.IsIdentity() {
		return
	}
	c.used[p] = struct{}{}
}

func (c *converter) pairs() []models.Pair {
	out := make([]models.Pair, 0, len(c.used))
	for p := range c.used {
		out = append(out, p)
	}
	return out
}
