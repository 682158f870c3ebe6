package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"networth-api/internal/models"
)

var ErrInvalidRange = errors.New("invalid date range")

// PartialBackfillError reports a backfill that stopped early or skipped
// dates. Rows up to LastSuccessfulDate are consistent; a caller may resume
// from the day after it.
type PartialBackfillError struct {
	RunID              string
	LastSuccessfulDate time.Time // zero when nothing was written
	FailedDates        []time.Time
	Written            int
	Cause              error
}

func (e *PartialBackfillError) Error() string {
	last := "none"
	if !e.LastSuccessfulDate.IsZero() {
		last = models.FormatDate(e.LastSuccessfulDate)
	}
	failed := make([]string, 0, len(e.FailedDates))
	for _, d := range e.FailedDates {
		failed = append(failed, models.FormatDate(d))
	}
	return fmt.Sprintf("backfill incomplete: %d written, last successful %s, failed [%s]: %v",
		e.Written, last, strings.Join(failed, ","), e.Cause)
}

func (e *PartialBackfillError) Unwrap() error {
	return e.Cause
}

// ReconciliationViolationError means a computed snapshot failed
// TotalPL == InvestmentPL + CurrencyPL and was not written.
type ReconciliationViolationError struct {
	UserID       int64
	Date         time.Time
	TotalPL      decimal.Decimal
	InvestmentPL decimal.Decimal
	CurrencyPL   decimal.Decimal
}

func (e *ReconciliationViolationError) Error() string {
	return fmt.Sprintf("reconciliation violated for user %d on %s: total %s != investment %s + currency %s",
		e.UserID, models.FormatDate(e.Date), e.TotalPL, e.InvestmentPL, e.CurrencyPL)
}
