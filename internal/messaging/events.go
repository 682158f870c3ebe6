package messaging

import "time"

// Ledger event types published by the account service
const (
	EventBalanceUpdated        = "account.balance_updated"
	EventHoldingUpdated        = "holding.updated"
	EventRatesRefreshRequested = "rates.refresh_requested"
)

// LedgerEvent notifies that a user's ledger changed or that fresh rates were
// requested.
type LedgerEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type" validate:"required,oneof=account.balance_updated holding.updated rates.refresh_requested"`
	UserID     int64     `json:"user_id" validate:"required,gt=0"`
	AccountID  int64     `json:"account_id,omitempty" validate:"omitempty,gt=0"`
	HoldingID  int64     `json:"holding_id,omitempty" validate:"omitempty,gt=0"`
	Date       string    `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"` // date of the edited balance entry
	OccurredAt time.Time `json:"occurred_at"`
}
