package static

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"networth-api/internal/models"
	"networth-api/internal/providers"
)

// Provider serves operator-maintained rates, typically for pegged currencies
// or as a last-resort source. Either direction of a configured pair is served.
type Provider struct {
	name  string
	mu    sync.RWMutex
	rates map[models.Pair]decimal.Decimal
	now   func() time.Time
}

func New(name string, rates map[models.Pair]decimal.Decimal) *Provider {
	if name == "" {
		name = "static"
	}
	p := &Provider{
		name:  name,
		rates: make(map[models.Pair]decimal.Decimal, len(rates)),
		now:   time.Now,
	}
	for pair, rate := range rates {
		p.Set(pair, rate)
	}
	return p
}

// Parse reads a definition of the form "EUR/USD=1.0850,USD/HKD=7.80".
func Parse(name, def string) (*Provider, error) {
	rates := make(map[models.Pair]decimal.Decimal)
	for _, item := range strings.Split(def, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid static rate %q", item)
		}
		pair, err := models.ParsePair(kv[0])
		if err != nil {
			return nil, err
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid static rate %q: %w", item, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("invalid static rate %q: must be positive", item)
		}
		rates[pair] = rate
	}
	return New(name, rates), nil
}

func (p *Provider) Name() string {
	return p.name
}

// Set replaces the rate of a pair.
func (p *Provider) Set(pair models.Pair, rate decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	canonical, flipped := pair.Canonical()
	if flipped {
		rate = models.InvertRate(rate)
	}
	p.rates[canonical] = rate
}

func (p *Provider) Quote(ctx context.Context, pair models.Pair) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, providers.WrapProviderError(p.name, providers.ErrorCodeTimeout, "Request cancelled", true, err)
	}

	p.mu.RLock()
	canonical, flipped := pair.Canonical()
	rate, ok := p.rates[canonical]
	p.mu.RUnlock()

	if !ok {
		return nil, providers.NewProviderError(p.name, providers.ErrorCodeUnsupportedPair, "No static rate for "+pair.String(), false)
	}

	q := &models.Quote{
		Pair:       canonical,
		Rate:       rate,
		Source:     p.name,
		ObservedAt: p.now(),
	}
	if flipped {
		inv := q.Invert()
		q = &inv
	}
	return q, nil
}
