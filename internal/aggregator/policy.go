package aggregator

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"networth-api/internal/models"
)

var ErrNoQuotes = errors.New("no quotes to combine")

var hundred = decimal.NewFromInt(100)

// Policy decides how several quotes for the same pair become one rate.
type Policy struct {
	// Weights maps a source name to its trust weight. Sources missing from
	// the map get DefaultWeight.
	Weights       map[string]decimal.Decimal
	DefaultWeight decimal.Decimal

	// Quotes deviating from the median by more than OutlierThresholdPct
	// percent are discarded once at least MinQuotesForOutliers are present.
	OutlierThresholdPct  decimal.Decimal
	MinQuotesForOutliers int

	// Precision is the number of decimal places kept by a weighted mean.
	Precision int32
}

// Combined is the outcome of Policy.Combine.
type Combined struct {
	Rate     decimal.Decimal
	Used     []models.Quote
	Rejected []models.Quote
}

// Sources lists the sources that contributed, in quote order.
func (c *Combined) Sources() []string {
	out := make([]string, 0, len(c.Used))
	for _, q := range c.Used {
		out = append(out, q.Source)
	}
	return out
}

func DefaultPolicy() *Policy {
	return &Policy{
		Weights:              map[string]decimal.Decimal{},
		DefaultWeight:        decimal.NewFromInt(1),
		OutlierThresholdPct:  decimal.NewFromInt(5),
		MinQuotesForOutliers: 3,
		Precision:            10,
	}
}

func (p *Policy) weightOf(source string) decimal.Decimal {
	if w, ok := p.Weights[source]; ok && !w.IsNegative() {
		return w
	}
	if p.DefaultWeight.IsPositive() {
		return p.DefaultWeight
	}
	return decimal.NewFromInt(1)
}

// Combine merges quotes for a single pair. A single quote is returned as is.
func (p *Policy) Combine(quotes []models.Quote) (*Combined, error) {
	if len(quotes) == 0 {
		return nil, ErrNoQuotes
	}
	if len(quotes) == 1 {
		return &Combined{Rate: quotes[0].Rate, Used: quotes}, nil
	}

	used, rejected := p.removeOutliers(quotes)
	if len(used) == 0 {
		// every quote looked like an outlier, keep them all
		used, rejected = quotes, nil
	}

	return &Combined{
		Rate:     p.weightedMean(used),
		Used:     used,
		Rejected: rejected,
	}, nil
}

func (p *Policy) removeOutliers(quotes []models.Quote) (kept, rejected []models.Quote) {
	if len(quotes) < p.MinQuotesForOutliers || !p.OutlierThresholdPct.IsPositive() {
		return quotes, nil
	}

	rates := make([]decimal.Decimal, 0, len(quotes))
	for _, q := range quotes {
		rates = append(rates, q.Rate)
	}
	med := Median(rates)
	if !med.IsPositive() {
		return quotes, nil
	}

	for _, q := range quotes {
		deviation := q.Rate.Sub(med).Abs().Div(med).Mul(hundred)
		if deviation.GreaterThan(p.OutlierThresholdPct) {
			rejected = append(rejected, q)
			continue
		}
		kept = append(kept, q)
	}
	return kept, rejected
}

func (p *Policy) weightedMean(quotes []models.Quote) decimal.Decimal {
	var weightedSum, totalWeight decimal.Decimal
	for _, q := range quotes {
		w := p.weightOf(q.Source)
		weightedSum = weightedSum.Add(q.Rate.Mul(w))
		totalWeight = totalWeight.Add(w)
	}
	if totalWeight.IsZero() {
		// all weights configured as zero: plain mean
		for _, q := range quotes {
			weightedSum = weightedSum.Add(q.Rate)
		}
		totalWeight = decimal.NewFromInt(int64(len(quotes)))
	}
	return weightedSum.Div(totalWeight).Round(p.Precision)
}

// Median of a non-empty slice; the input is not modified.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})

	n := len(sorted)
	if n%2 == 0 {
		return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
	}
	return sorted[n/2]
}
