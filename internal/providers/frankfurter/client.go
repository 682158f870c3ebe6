package frankfurter

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"networth-api/internal/models"
	"networth-api/internal/providers"
)

const providerName = "frankfurter"

// Client queries the Frankfurter API (ECB reference rates). It supports both
// latest and historical quotes.
type Client struct {
	*providers.HTTPSource
	baseURL string
}

// Config represents Frankfurter client configuration
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit int
}

type ratesResponse struct {
	Amount decimal.Decimal            `json:"amount"`
	Base   string                     `json:"base"`
	Date   string                     `json:"date"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

func NewClient(config *Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.frankfurter.app"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 60
	}

	return &Client{
		HTTPSource: providers.NewHTTPSource(providerName, config.Timeout, config.RateLimit, nil),
		baseURL:    config.BaseURL,
	}
}

func (c *Client) Name() string {
	return providerName
}

func (c *Client) Quote(ctx context.Context, pair models.Pair) (*models.Quote, error) {
	return c.fetch(ctx, "/latest", pair)
}

func (c *Client) QuoteOn(ctx context.Context, pair models.Pair, day time.Time) (*models.Quote, error) {
	return c.fetch(ctx, "/"+models.FormatDate(day), pair)
}

func (c *Client) fetch(ctx context.Context, endpoint string, pair models.Pair) (*models.Quote, error) {
	params := url.Values{}
	params.Set("from", pair.From)
	params.Set("to", pair.To)

	body, err := c.Get(ctx, c.baseURL+endpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp ratesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providers.WrapProviderError(providerName, providers.ErrorCodeMalformed, "Failed to parse response", false, err)
	}

	rate, ok := resp.Rates[pair.To]
	if !ok {
		return nil, providers.NewProviderError(providerName, providers.ErrorCodeNoData, "No rate for "+pair.String(), false)
	}
	// The API quotes per "amount" units of base; it is 1 unless requested otherwise.
	if resp.Amount.IsPositive() && !resp.Amount.Equal(decimal.NewFromInt(1)) {
		rate = rate.Div(resp.Amount)
	}

	observed, err := models.ParseDate(resp.Date)
	if err != nil {
		return nil, providers.WrapProviderError(providerName, providers.ErrorCodeMalformed, "Invalid date in response", false, err)
	}

	return &models.Quote{
		Pair:       pair,
		Rate:       rate,
		Source:     providerName,
		ObservedAt: observed,
	}, nil
}
