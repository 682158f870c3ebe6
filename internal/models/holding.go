package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyHolding is a speculative position in a foreign currency, denominated
// in Pair.To.
type CurrencyHolding struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Pair        Pair            `json:"pair"`
	Amount      decimal.Decimal `json:"amount"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	CurrentRate decimal.Decimal `json:"current_rate"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ProfitLoss is Amount * (CurrentRate - AvgCost), expressed in Pair.To.
func (h *CurrencyHolding) ProfitLoss() decimal.Decimal {
	return h.Amount.Mul(h.CurrentRate.Sub(h.AvgCost))
}

func (h *CurrencyHolding) Validate() error {
	if err := h.Pair.Validate(); err != nil {
		return err
	}
	if h.Amount.IsNegative() {
		return fmt.Errorf("holding %d: amount must not be negative", h.ID)
	}
	if !h.AvgCost.IsPositive() {
		return fmt.Errorf("holding %d: average cost must be positive", h.ID)
	}
	if !h.CurrentRate.IsPositive() {
		return fmt.Errorf("holding %d: current rate must be positive", h.ID)
	}
	return nil
}
