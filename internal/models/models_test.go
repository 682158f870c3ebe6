package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPair(t *testing.T) {
	t.Run("normalizes codes", func(t *testing.T) {
		p := NewPair(" eur", "usd ")
		assert.Equal(t, Pair{From: "EUR", To: "USD"}, p)
		assert.Equal(t, "EUR/USD", p.String())
	})

	t.Run("canonical ordering", func(t *testing.T) {
		c, flipped := NewPair("USD", "EUR").Canonical()
		assert.True(t, flipped)
		assert.Equal(t, NewPair("EUR", "USD"), c)

		c, flipped = NewPair("EUR", "USD").Canonical()
		assert.False(t, flipped)
		assert.Equal(t, NewPair("EUR", "USD"), c)
	})

	t.Run("parse", func(t *testing.T) {
		p, err := ParsePair("gbp/jpy")
		require.NoError(t, err)
		assert.Equal(t, NewPair("GBP", "JPY"), p)

		p, err = ParsePair("EUR:CHF")
		require.NoError(t, err)
		assert.Equal(t, NewPair("EUR", "CHF"), p)

		_, err = ParsePair("EURUSD")
		assert.ErrorIs(t, err, ErrInvalidPair)

		_, err = ParsePair("EUR/XXY")
		assert.ErrorIs(t, err, ErrInvalidCurrency)
	})
}

func TestRateResultInvert(t *testing.T) {
	r := &RateResult{Pair: NewPair("EUR", "USD"), Rate: decimal.RequireFromString("1.25"), Sources: []string{"a"}}
	inv := r.Invert()

	assert.Equal(t, NewPair("USD", "EUR"), inv.Pair)
	assert.True(t, inv.Rate.Equal(decimal.RequireFromString("0.8")))
	assert.True(t, r.Rate.Equal(decimal.RequireFromString("1.25")), "original must not change")
	assert.True(t, inv.Rate.Mul(r.Rate).Sub(decimal.NewFromInt(1)).Abs().LessThan(decimal.New(1, -12)))
}

func TestAccountCapitalAndFloor(t *testing.T) {
	bank := Account{Kind: AccountKindBank, CapitalBearing: true, OriginalCapital: decimal.NewFromInt(500)}
	assert.True(t, bank.EffectiveCapital().IsZero())

	inv := Account{Kind: AccountKindInvestment, CapitalBearing: true, OriginalCapital: decimal.NewFromInt(1000)}
	assert.True(t, inv.EffectiveCapital().Equal(decimal.NewFromInt(1000)))
	assert.True(t, inv.Floor().Equal(decimal.NewFromInt(1000)))

	inv.OpeningBalance = decimal.NewNullDecimal(decimal.NewFromInt(900))
	assert.True(t, inv.Floor().Equal(decimal.NewFromInt(900)))
}

func TestHoldingProfitLoss(t *testing.T) {
	h := CurrencyHolding{
		Pair:        NewPair("EUR", "USD"),
		Amount:      decimal.NewFromInt(1000),
		AvgCost:     decimal.RequireFromString("1.05"),
		CurrentRate: decimal.RequireFromString("1.10"),
	}
	require.NoError(t, h.Validate())
	assert.True(t, h.ProfitLoss().Equal(decimal.NewFromInt(50)))

	h.AvgCost = decimal.Zero
	assert.Error(t, h.Validate())
}

func TestDates(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	now := time.Date(2024, 1, 4, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-05", FormatDate(Today(now, loc)))
	assert.Equal(t, "2024-01-04", FormatDate(Today(now, time.UTC)))

	start, _ := ParseDate("2024-01-01")
	end, _ := ParseDate("2024-01-05")
	assert.Equal(t, 5, DaysInRange(start, end))
	assert.Equal(t, 0, DaysInRange(end, start))

	_, err = ParseDate("05/01/2024")
	assert.Error(t, err)
}

func TestSnapshotJSONAndReconciliation(t *testing.T) {
	s := PerformanceSnapshot{
		UserID:       1,
		Date:         time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		BaseCurrency: "USD",
		TotalPL:      decimal.NewFromInt(150),
		InvestmentPL: decimal.NewFromInt(100),
		CurrencyPL:   decimal.NewFromInt(50),
	}
	assert.True(t, s.Reconciles())

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "2024-01-05", decoded["date"])
	assert.Equal(t, "150", decoded["total_pl"])

	var back PerformanceSnapshot
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.SameFigures(&s))
	assert.Error(t, json.Unmarshal([]byte(`{"date":"05/01/2024"}`), &back))

	s.CurrencyPL = decimal.NewFromInt(49)
	assert.False(t, s.Reconciles())
}
