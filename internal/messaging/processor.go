package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"networth-api/internal/metrics"
	"networth-api/internal/models"
	"networth-api/internal/services"
)

// ErrInvalidEvent marks payloads that can never be processed.
var ErrInvalidEvent = errors.New("invalid ledger event")

// Triggers is the part of the trigger service events drive.
type Triggers interface {
	OnLedgerChange(ctx context.Context, userID int64, reason string) *services.TriggerResult
	RefreshRates(ctx context.Context, userID int64) *services.TriggerResult
}

// Backfiller recomputes past dates after a back-dated balance edit.
type Backfiller interface {
	Backfill(ctx context.Context, userID int64, start, end time.Time) (int, error)
	Today() time.Time
}

// EventProcessor maps ledger events onto triggers. It has no broker
// dependency so it can be driven directly.
type EventProcessor struct {
	triggers        Triggers
	backfiller      Backfiller
	validate        *validator.Validate
	maxBackfillDays int
	metrics         metrics.MetricsService
	logger          *logrus.Entry
}

func NewEventProcessor(triggers Triggers, backfiller Backfiller, maxBackfillDays int, metricsService metrics.MetricsService, logger *logrus.Logger) *EventProcessor {
	if metricsService == nil {
		metricsService = metrics.NewNoopMetrics()
	}
	return &EventProcessor{
		triggers:        triggers,
		backfiller:      backfiller,
		validate:        validator.New(),
		maxBackfillDays: maxBackfillDays,
		metrics:         metricsService,
		logger:          logger.WithField("component", "ledger_events"),
	}
}

// Handle decodes and processes one message body. Only malformed events
// return an error; trigger failures are logged as warnings.
func (p *EventProcessor) Handle(ctx context.Context, body []byte) error {
	var event LedgerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		p.metrics.RecordLedgerEvent("unknown", "invalid")
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := p.validate.Struct(&event); err != nil {
		p.metrics.RecordLedgerEvent(event.Type, "invalid")
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	log := p.logger.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"type":     event.Type,
		"user_id":  event.UserID,
	})

	var result *services.TriggerResult
	switch event.Type {
	case EventRatesRefreshRequested:
		result = p.triggers.RefreshRates(ctx, event.UserID)
	case EventBalanceUpdated:
		if p.backdated(&event) {
			p.backfillFrom(ctx, &event, log)
		}
		result = p.triggers.OnLedgerChange(ctx, event.UserID, event.Type)
	default:
		result = p.triggers.OnLedgerChange(ctx, event.UserID, event.Type)
	}

	status := "ok"
	if len(result.Warnings) > 0 {
		status = "warning"
		log.WithField("warnings", result.Warnings).Warn("Ledger event processed with warnings")
	} else {
		log.Debug("Ledger event processed")
	}
	p.metrics.RecordLedgerEvent(event.Type, status)
	return nil
}

func (p *EventProcessor) backdated(event *LedgerEvent) bool {
	if p.backfiller == nil || event.Date == "" {
		return false
	}
	d, err := models.ParseDate(event.Date)
	return err == nil && d.Before(p.backfiller.Today())
}

// backfillFrom recomputes from the edited date up to yesterday; today is
// recomputed by the regular trigger right after.
func (p *EventProcessor) backfillFrom(ctx context.Context, event *LedgerEvent, log *logrus.Entry) {
	start, _ := models.ParseDate(event.Date)
	end := p.backfiller.Today().AddDate(0, 0, -1)
	if p.maxBackfillDays > 0 {
		if earliest := end.AddDate(0, 0, -(p.maxBackfillDays - 1)); start.Before(earliest) {
			start = earliest
		}
	}

	written, err := p.backfiller.Backfill(ctx, event.UserID, start, end)
	if err != nil {
		log.WithError(err).WithField("written", written).Warn("Back-dated edit backfill incomplete")
		return
	}
	log.WithField("written", written).Info("Back-dated edit backfilled")
}
