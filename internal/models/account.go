package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountKind string

const (
	AccountKindBank       AccountKind = "bank"
	AccountKindInvestment AccountKind = "investment"
	AccountKindManual     AccountKind = "manual"
	AccountKindBroker     AccountKind = "broker"
)

// Account is a financial container owned by a user.
type Account struct {
	ID              int64               `json:"id"`
	UserID          int64               `json:"user_id"`
	Name            string              `json:"name"`
	Kind            AccountKind         `json:"kind"`
	Currency        string              `json:"currency"`
	OriginalCapital decimal.Decimal     `json:"original_capital"`
	OpeningBalance  decimal.NullDecimal `json:"opening_balance"`
	CapitalBearing  bool                `json:"capital_bearing"`
	CreatedAt       time.Time           `json:"created_at"`
}

// EffectiveCapital is the capital P&L is measured against. Bank accounts and
// accounts not flagged as capital bearing contribute zero.
func (a *Account) EffectiveCapital() decimal.Decimal {
	if a.Kind == AccountKindBank || !a.CapitalBearing {
		return decimal.Zero
	}
	return a.OriginalCapital
}

// Floor is the balance used when no history entry exists on or before a date.
func (a *Account) Floor() decimal.Decimal {
	if a.OpeningBalance.Valid {
		return a.OpeningBalance.Decimal
	}
	return a.OriginalCapital
}

// AccountHistoryEntry is an append-only balance observation.
type AccountHistoryEntry struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Date      time.Time       `json:"date"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// After reports whether e sorts after o: later date, or same date and later
// creation time.
func (e *AccountHistoryEntry) After(o *AccountHistoryEntry) bool {
	ed, od := DateOf(e.Date), DateOf(o.Date)
	if !ed.Equal(od) {
		return ed.After(od)
	}
	return e.CreatedAt.After(o.CreatedAt)
}
