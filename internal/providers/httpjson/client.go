package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"networth-api/internal/models"
	"networth-api/internal/providers"
)

// Config describes a generic JSON rate endpoint. URL and paths may contain
// {from} and {to} placeholders, HistoricalURL may also contain {date}.
type Config struct {
	Name          string            `json:"name" validate:"required"`
	URL           string            `json:"url" validate:"required,startswith=http"`
	HistoricalURL string            `json:"historical_url,omitempty" validate:"omitempty,startswith=http"`
	RatePath      string            `json:"rate_path" validate:"required,startswith=$"`
	TimePath      string            `json:"time_path,omitempty" validate:"omitempty,startswith=$"`
	TimeLayout    string            `json:"time_layout,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Timeout       time.Duration     `json:"-"`
	RateLimit     int               `json:"rate_limit,omitempty"`
}

var validate = validator.New()

func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Client extracts a rate out of an arbitrary JSON document with a jsonpath
// expression.
type Client struct {
	*providers.HTTPSource
	config *Config
}

func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid json source %q: %w", config.Name, err)
	}
	if config.TimeLayout == "" {
		config.TimeLayout = time.RFC3339
	}
	return &Client{
		HTTPSource: providers.NewHTTPSource(config.Name, config.Timeout, config.RateLimit, config.Headers),
		config:     config,
	}, nil
}

func (c *Client) Name() string {
	return c.config.Name
}

func (c *Client) Quote(ctx context.Context, pair models.Pair) (*models.Quote, error) {
	return c.fetch(ctx, expand(c.config.URL, pair, time.Time{}), pair)
}

// QuoteOn is only meaningful when a historical URL is configured.
func (c *Client) QuoteOn(ctx context.Context, pair models.Pair, day time.Time) (*models.Quote, error) {
	if c.config.HistoricalURL == "" {
		return nil, providers.NewProviderError(c.Name(), providers.ErrorCodeNoData, "Historical rates not configured", false)
	}
	return c.fetch(ctx, expand(c.config.HistoricalURL, pair, day), pair)
}

// SupportsHistory reports whether QuoteOn can succeed.
func (c *Client) SupportsHistory() bool {
	return c.config.HistoricalURL != ""
}

func (c *Client) fetch(ctx context.Context, url string, pair models.Pair) (*models.Quote, error) {
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}

	var jobj any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&jobj); err != nil {
		return nil, providers.WrapProviderError(c.Name(), providers.ErrorCodeMalformed, "Failed to parse response", false, err)
	}

	path := expand(c.config.RatePath, pair, time.Time{})
	jval, err := lookup(path, jobj)
	if err != nil {
		return nil, providers.WrapProviderError(c.Name(), providers.ErrorCodeNoData, "No rate at "+path, false, err)
	}
	rate, err := toDecimal(jval)
	if err != nil {
		return nil, providers.WrapProviderError(c.Name(), providers.ErrorCodeMalformed, "Rate is not a number", false, err)
	}

	observed := time.Now()
	if c.config.TimePath != "" {
		tval, err := lookup(c.config.TimePath, jobj)
		if err != nil {
			return nil, providers.WrapProviderError(c.Name(), providers.ErrorCodeMalformed, "No timestamp at "+c.config.TimePath, false, err)
		}
		observed, err = c.parseTime(tval)
		if err != nil {
			return nil, providers.WrapProviderError(c.Name(), providers.ErrorCodeMalformed, "Invalid timestamp", false, err)
		}
	}

	return &models.Quote{
		Pair:       pair,
		Rate:       rate,
		Source:     c.Name(),
		ObservedAt: observed,
	}, nil
}

func (c *Client) parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case json.Number:
		secs, err := t.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(secs, 0).UTC(), nil
	case string:
		return time.Parse(c.config.TimeLayout, t)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func lookup(path string, jobj any) (any, error) {
	jval, err := jsonpath.Get(path, jobj)
	if err != nil {
		return nil, err
	}
	// jsonpath may answer with a list of one element
	if jlist, ok := jval.([]any); ok {
		if len(jlist) == 0 {
			return nil, fmt.Errorf("empty result for %q", path)
		}
		jval = jlist[0]
	}
	return jval, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	case float64:
		return decimal.NewFromFloat(n), nil
	default:
		return decimal.Zero, fmt.Errorf("unexpected value type %T", v)
	}
}

func expand(tmpl string, pair models.Pair, day time.Time) string {
	r := strings.NewReplacer(
		"{from}", pair.From,
		"{to}", pair.To,
		"{from_lower}", strings.ToLower(pair.From),
		"{to_lower}", strings.ToLower(pair.To),
	)
	out := r.Replace(tmpl)
	if !day.IsZero() {
		out = strings.ReplaceAll(out, "{date}", models.FormatDate(day))
	}
	return out
}
