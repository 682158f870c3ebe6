package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PerformanceSnapshot is the derived daily P&L row for one user.
type PerformanceSnapshot struct {
	UserID       int64           `json:"user_id"`
	Date         time.Time       `json:"date"`
	BaseCurrency string          `json:"base_currency"`
	TotalPL      decimal.Decimal `json:"total_pl"`
	InvestmentPL decimal.Decimal `json:"investment_pl"`
	CurrencyPL   decimal.Decimal `json:"currency_pl"`
	DailyPL      decimal.Decimal `json:"daily_pl"`
	HasPrior     bool            `json:"has_prior"`
	Degraded     bool            `json:"degraded"`
	ComputedAt   time.Time       `json:"computed_at"`
}

// Reconciles reports whether TotalPL == InvestmentPL + CurrencyPL exactly.
func (s *PerformanceSnapshot) Reconciles() bool {
	return s.TotalPL.Equal(s.InvestmentPL.Add(s.CurrencyPL))
}

// SameFigures compares everything except ComputedAt.
func (s *PerformanceSnapshot) SameFigures(o *PerformanceSnapshot) bool {
	return s.UserID == o.UserID &&
		DateOf(s.Date).Equal(DateOf(o.Date)) &&
		s.BaseCurrency == o.BaseCurrency &&
		s.TotalPL.Equal(o.TotalPL) &&
		s.InvestmentPL.Equal(o.InvestmentPL) &&
		s.CurrencyPL.Equal(o.CurrencyPL) &&
		s.DailyPL.Equal(o.DailyPL) &&
		s.HasPrior == o.HasPrior &&
		s.Degraded == o.Degraded
}

func (s PerformanceSnapshot) MarshalJSON() ([]byte, error) {
	type alias PerformanceSnapshot
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{
		alias: alias(s),
		Date:  FormatDate(s.Date),
	})
}

func (s *PerformanceSnapshot) UnmarshalJSON(data []byte) error {
	type alias PerformanceSnapshot
	aux := struct {
		*alias
		Date string `json:"date"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Date == "" {
		s.Date = time.Time{}
		return nil
	}
	day, err := ParseDate(aux.Date)
	if err != nil {
		return err
	}
	s.Date = day
	return nil
}
