package app

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"networth-api/internal/aggregator"
	"networth-api/internal/config"
	"networth-api/internal/providers"
	"networth-api/internal/providers/frankfurter"
	"networth-api/internal/providers/httpjson"
	"networth-api/internal/providers/static"
)

// buildProviders registers adapters in the order listed by RATES_PROVIDERS.
// JSON sources are referenced by their configured name.
func buildProviders(cfg config.RatesConfig) (*providers.ProviderManager, error) {
	jsonSources := make(map[string]config.JSONSourceConfig, len(cfg.JSONSources))
	for _, src := range cfg.JSONSources {
		jsonSources[strings.ToLower(src.Name)] = src
	}

	pm := providers.NewProviderManager()
	for _, name := range cfg.Providers {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
			continue
		case "frankfurter":
			pm.AddProvider(frankfurter.NewClient(&frankfurter.Config{
				BaseURL:   cfg.FrankfurterURL,
				Timeout:   cfg.ProviderTimeout,
				RateLimit: cfg.FrankfurterRateLimit,
			}))
		case "static":
			p, err := static.Parse("static", cfg.StaticRates)
			if err != nil {
				return nil, fmt.Errorf("invalid static rates: %w", err)
			}
			pm.AddProvider(p)
		default:
			src, ok := jsonSources[name]
			if !ok {
				return nil, fmt.Errorf("unknown rate provider %q", name)
			}
			client, err := httpjson.NewClient(&httpjson.Config{
				Name:          src.Name,
				URL:           src.URL,
				HistoricalURL: src.HistoricalURL,
				RatePath:      src.RatePath,
				TimePath:      src.TimePath,
				TimeLayout:    src.TimeLayout,
				Headers:       src.Headers,
				Timeout:       cfg.ProviderTimeout,
				RateLimit:     src.RateLimit,
			})
			if err != nil {
				return nil, err
			}
			pm.AddProvider(client)
		}
	}

	if pm.Len() == 0 {
		return nil, fmt.Errorf("no rate providers configured")
	}
	return pm, nil
}

func buildPolicy(cfg config.RatesConfig) *aggregator.Policy {
	policy := aggregator.DefaultPolicy()
	for name, w := range cfg.Weights {
		policy.Weights[name] = decimal.NewFromFloat(w)
	}
	if cfg.OutlierThresholdPct > 0 {
		policy.OutlierThresholdPct = decimal.NewFromFloat(cfg.OutlierThresholdPct)
	}
	if cfg.MinQuotesForOutliers > 0 {
		policy.MinQuotesForOutliers = cfg.MinQuotesForOutliers
	}
	if cfg.Precision > 0 {
		policy.Precision = cfg.Precision
	}
	return policy
}
