package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"networth-api/internal/aggregator"
	"networth-api/internal/metrics"
	"networth-api/internal/models"
)

// Notifier receives snapshot updates and soft warnings for a user.
type Notifier interface {
	PublishSnapshot(userID int64, snapshot *models.PerformanceSnapshot)
	PublishWarning(userID int64, message string)
}

// RateRefresher force-refreshes a batch of pairs.
type RateRefresher interface {
	ResolveAll(ctx context.Context, pairs []models.Pair, forceRefresh bool) (map[models.Pair]*models.RateResult, error)
}

// TriggerResult is what a trigger surface reports back. Warnings are soft:
// the caller proceeds with whatever data is available.
type TriggerResult struct {
	Snapshot *models.PerformanceSnapshot `json:"snapshot,omitempty"`
	Rates    []*models.RateResult        `json:"rates,omitempty"`
	Warnings []string                    `json:"warnings,omitempty"`
}

func (r *TriggerResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// DailyReport summarizes one scheduled run.
type DailyReport struct {
	RunID          string        `json:"run_id"`
	Date           string        `json:"date"`
	Users          int           `json:"users"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	FailedUsers    []int64       `json:"failed_users,omitempty"`
	PairsRefreshed int           `json:"pairs_refreshed"`
	Duration       time.Duration `json:"duration"`
}

// TriggerService is the entry point for everything that causes a
// recomputation: ledger edits, manual rate refreshes and the daily run.
// Failures are logged and turned into warnings, never returned as panics
// or hard errors to the surface that fired the trigger.
type TriggerService struct {
	performance *PerformanceService
	rates       RateRefresher
	notifier    Notifier
	metrics     metrics.MetricsService
	logger      *logrus.Entry
}

func NewTriggerService(
	performance *PerformanceService,
	rates RateRefresher,
	notifier Notifier,
	metricsService metrics.MetricsService,
	logger *logrus.Logger,
) *TriggerService {
	if metricsService == nil {
		metricsService = metrics.NewNoopMetrics()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &TriggerService{
		performance: performance,
		rates:       rates,
		notifier:    notifier,
		metrics:     metricsService,
		logger:      logger.WithField("component", "trigger_service"),
	}
}

// OnLedgerChange recomputes today's snapshot after a balance or holding edit.
func (t *TriggerService) OnLedgerChange(ctx context.Context, userID int64, reason string) *TriggerResult {
	result := &TriggerResult{}
	t.recompute(ctx, userID, reason, result)
	return result
}

// RefreshRates force-refreshes every pair the user depends on, then
// recomputes today's snapshot.
func (t *TriggerService) RefreshRates(ctx context.Context, userID int64) *TriggerResult {
	result := &TriggerResult{}
	log := t.logger.WithField("user_id", userID)

	pairs, err := t.performance.UserPairs(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("Failed to list user pairs")
		result.warn("rate refresh skipped: %v", err)
	} else if len(pairs) > 0 {
		rates, err := t.rates.ResolveAll(ctx, pairs, true)
		if err != nil {
			log.WithError(err).Warn("Rate refresh failed for some pairs")
			result.warn("rate refresh failed for some pairs, showing last known")
		}
		for _, p := range pairs {
			r, ok := rates[p]
			if !ok {
				result.warn("rate %s unavailable", p)
				continue
			}
			if r.Degraded {
				result.warn("rate refresh failed for %s, showing last known", p)
			}
			result.Rates = append(result.Rates, r)
		}
	}

	t.recompute(ctx, userID, "rates.refresh_requested", result)
	return result
}

func (t *TriggerService) recompute(ctx context.Context, userID int64, reason string, result *TriggerResult) {
	log := t.logger.WithFields(logrus.Fields{"user_id": userID, "reason": reason})

	snapshot, err := t.performance.RecomputeToday(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("Recompute failed, chart data is stale")
		msg := "snapshot not updated, showing previous data"
		if errors.Is(err, aggregator.ErrRateUnavailable) {
			msg = "exchange rate unavailable, snapshot not updated"
		}
		result.warn("%s", msg)
		t.notifier.PublishWarning(userID, msg)
		return
	}

	result.Snapshot = snapshot
	if snapshot.Degraded {
		msg := "rate refresh failed, showing last known"
		result.warn("%s", msg)
		t.notifier.PublishWarning(userID, msg)
	}
	t.notifier.PublishSnapshot(userID, snapshot)
}

// RunDaily force-refreshes every hinted pair once, then recomputes today's
// snapshot for all users with at most workers in parallel.
func (t *TriggerService) RunDaily(ctx context.Context, workers int) (*DailyReport, error) {
	start := time.Now()
	report := &DailyReport{
		RunID: uuid.New().String(),
		Date:  models.FormatDate(t.performance.Today()),
	}
	log := t.logger.WithFields(logrus.Fields{"run_id": report.RunID, "date": report.Date})

	userIDs, err := t.performance.ListUserIDs(ctx)
	if err != nil {
		t.metrics.RecordSchedulerRun("failed", 0, time.Since(start))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	report.Users = len(userIDs)

	report.PairsRefreshed = t.refreshHinted(ctx, userIDs, log)

	if workers <= 0 {
		workers = 1
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, id := range userIDs {
		userID := id
		g.Go(func() error {
			_, err := t.performance.RecomputeToday(gctx, userID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.FailedUsers = append(report.FailedUsers, userID)
				log.WithField("user_id", userID).WithError(err).Warn("Daily snapshot failed")
				return nil
			}
			report.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	status := "ok"
	if report.Failed > 0 {
		status = "partial"
	}
	t.metrics.RecordSchedulerRun(status, report.Users, report.Duration)
	log.WithFields(logrus.Fields{
		"users":     report.Users,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"duration":  report.Duration.String(),
	}).Info("Daily snapshot run finished")

	return report, ctx.Err()
}

func (t *TriggerService) refreshHinted(ctx context.Context, userIDs []int64, log *logrus.Entry) int {
	seen := make(map[models.Pair]struct{})
	var pairs []models.Pair
	for _, id := range userIDs {
		hinted, err := t.performance.PopularPairs(ctx, id)
		if err != nil {
			log.WithField("user_id", id).WithError(err).Warn("Failed to read popular pairs")
			continue
		}
		for _, p := range hinted {
			c, _ := p.Canonical()
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			pairs = append(pairs, c)
		}
	}
	if len(pairs) == 0 {
		return 0
	}

	rates, err := t.rates.ResolveAll(ctx, pairs, true)
	if err != nil {
		log.WithError(err).Warn("Some popular pairs could not be refreshed")
	}
	return len(rates)
}

type noopNotifier struct{}

func (noopNotifier) PublishSnapshot(int64, *models.PerformanceSnapshot) {}
func (noopNotifier) PublishWarning(int64, string)                       {}
