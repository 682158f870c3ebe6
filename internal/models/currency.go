package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrInvalidPair     = errors.New("invalid currency pair")
)

// Pair is an ordered currency tuple: one unit of From is worth Rate units of To.
type Pair struct {
	From string `json:"from" bson:"from"`
	To   string `json:"to" bson:"to"`
}

// NewPair normalizes both codes to upper case.
func NewPair(from, to string) Pair {
	return Pair{
		From: strings.ToUpper(strings.TrimSpace(from)),
		To:   strings.ToUpper(strings.TrimSpace(to)),
	}
}

// ParsePair accepts "EUR/USD" or "EUR:USD".
func ParsePair(s string) (Pair, error) {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = ":"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	p := NewPair(parts[0], parts[1])
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}
	return p, nil
}

func (p Pair) String() string {
	return p.From + "/" + p.To
}

func (p Pair) Inverse() Pair {
	return Pair{From: p.To, To: p.From}
}

func (p Pair) IsIdentity() bool {
	return p.From == p.To
}

// Canonical returns the lexicographically ordered form of the pair and
// whether the receiver had to be flipped to get it.
func (p Pair) Canonical() (Pair, bool) {
	if p.From <= p.To {
		return p, false
	}
	return p.Inverse(), true
}

// Validate checks both sides against the ISO-4217 table.
func (p Pair) Validate() error {
	if err := ValidateCurrency(p.From); err != nil {
		return err
	}
	return ValidateCurrency(p.To)
}

// ValidateCurrency reports whether code is a known ISO-4217 currency.
func ValidateCurrency(code string) error {
	if len(code) != 3 || money.GetCurrency(code) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return nil
}

// Quote is a single adapter observation. It is never persisted.
type Quote struct {
	Pair       Pair            `json:"pair"`
	Rate       decimal.Decimal `json:"rate"`
	Source     string          `json:"source"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Invert returns the quote for the opposite direction.
func (q Quote) Invert() Quote {
	q.Pair = q.Pair.Inverse()
	q.Rate = InvertRate(q.Rate)
	return q
}

// CachedRate is the stored aggregate for a canonical pair.
type CachedRate struct {
	Pair        Pair            `json:"pair"`
	Rate        decimal.Decimal `json:"rate"`
	Sources     []string        `json:"sources"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Age returns how long ago the rate was written.
func (c *CachedRate) Age(now time.Time) time.Duration {
	return now.Sub(c.LastUpdated)
}

// RateResult is what callers of the aggregator get back.
type RateResult struct {
	Pair        Pair            `json:"pair"`
	Rate        decimal.Decimal `json:"rate"`
	Degraded    bool            `json:"degraded"`
	Cached      bool            `json:"cached"`
	Sources     []string        `json:"sources,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Invert flips the result to the opposite direction.
func (r *RateResult) Invert() *RateResult {
	out := *r
	out.Pair = r.Pair.Inverse()
	out.Rate = InvertRate(r.Rate)
	if r.Sources != nil {
		out.Sources = append([]string(nil), r.Sources...)
	}
	return &out
}

// Convert applies the rate to an amount in Pair.From.
func (r *RateResult) Convert(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(r.Rate)
}

// InvertRate returns 1/rate. Callers guarantee rate > 0.
func InvertRate(rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Div(rate)
}
