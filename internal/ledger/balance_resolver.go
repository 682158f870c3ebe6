package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"networth-api/internal/models"
)

// HistorySource yields an account's balance entries, most recent first.
type HistorySource interface {
	HistoryEntries(ctx context.Context, accountID int64) ([]models.AccountHistoryEntry, error)
}

// Balance is an account balance as of a date.
type Balance struct {
	Amount   decimal.Decimal
	Currency string
	// FromEntry is false when the account floor was used.
	FromEntry bool
}

// BalanceResolver answers "what was this account's balance on date D".
type BalanceResolver struct {
	history HistorySource
}

func NewBalanceResolver(history HistorySource) *BalanceResolver {
	return &BalanceResolver{history: history}
}

// BalanceAsOf returns the latest entry dated on or before day, ties broken by
// the latest creation time. Without one, the account's opening balance (or
// original capital) in the account currency is returned.
func (r *BalanceResolver) BalanceAsOf(ctx context.Context, account *models.Account, day time.Time) (Balance, error) {
	entries, err := r.history.HistoryEntries(ctx, account.ID)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to load history of account %d: %w", account.ID, err)
	}

	if e := LatestAsOf(entries, day); e != nil {
		currency := e.Currency
		if currency == "" {
			currency = account.Currency
		}
		return Balance{Amount: e.Balance, Currency: currency, FromEntry: true}, nil
	}

	return Balance{Amount: account.Floor(), Currency: account.Currency}, nil
}

// LatestAsOf picks the qualifying entry. Entries are expected most recent
// first, so the scan stops once it reaches an older date than its candidate.
func LatestAsOf(entries []models.AccountHistoryEntry, day time.Time) *models.AccountHistoryEntry {
	day = models.DateOf(day)

	var best *models.AccountHistoryEntry
	for i := range entries {
		e := &entries[i]
		ed := models.DateOf(e.Date)
		if ed.After(day) {
			continue
		}
		if best != nil && ed.Before(models.DateOf(best.Date)) {
			break
		}
		if best == nil || e.After(best) {
			best = e
		}
	}
	return best
}
