package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"networth-api/internal/models"
)

// Provider is an external exchange-rate source. Implementations must honour
// ctx cancellation and return a *ProviderError on failure.
type Provider interface {
	Name() string
	Quote(ctx context.Context, pair models.Pair) (*models.Quote, error)
}

// HistoricalProvider is implemented by sources that can quote a past date.
type HistoricalProvider interface {
	Provider
	QuoteOn(ctx context.Context, pair models.Pair, day time.Time) (*models.Quote, error)
}

// Common error codes
const (
	ErrorCodeRateLimit       = "RATE_LIMIT_EXCEEDED"
	ErrorCodeTimeout         = "TIMEOUT"
	ErrorCodeNetworkError    = "NETWORK_ERROR"
	ErrorCodeServerError     = "SERVER_ERROR"
	ErrorCodeBadRequest      = "BAD_REQUEST"
	ErrorCodeMalformed       = "MALFORMED_RESPONSE"
	ErrorCodeStaleQuote      = "STALE_QUOTE"
	ErrorCodeUnsupportedPair = "UNSUPPORTED_PAIR"
	ErrorCodeNoData          = "NO_DATA"
)

// ProviderError represents an error from a rate provider
type ProviderError struct {
	Provider  string    `json:"provider"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

func (pe *ProviderError) Error() string {
	if pe.Err != nil {
		return fmt.Sprintf("%s: %s: %v", pe.Provider, pe.Message, pe.Err)
	}
	return pe.Provider + ": " + pe.Message
}

func (pe *ProviderError) Unwrap() error {
	return pe.Err
}

func (pe *ProviderError) IsRetryable() bool {
	return pe.Retryable
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now(),
	}
}

// WrapProviderError is NewProviderError with an underlying cause.
func WrapProviderError(provider, code, message string, retryable bool, err error) *ProviderError {
	pe := NewProviderError(provider, code, message, retryable)
	pe.Err = err
	return pe
}

// ErrorCode extracts the provider error code, or "" for foreign errors.
func ErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ProviderManager holds the configured adapters in registration order.
type ProviderManager struct {
	providers []Provider
}

func NewProviderManager(providers ...Provider) *ProviderManager {
	pm := &ProviderManager{}
	for _, p := range providers {
		pm.AddProvider(p)
	}
	return pm
}

func (pm *ProviderManager) AddProvider(p Provider) {
	if p == nil {
		return
	}
	pm.providers = append(pm.providers, p)
}

// Providers returns a copy of the registered adapters.
func (pm *ProviderManager) Providers() []Provider {
	return append([]Provider(nil), pm.providers...)
}

// Historical returns the adapters able to quote past dates.
func (pm *ProviderManager) Historical() []HistoricalProvider {
	var out []HistoricalProvider
	for _, p := range pm.providers {
		hp, ok := p.(HistoricalProvider)
		if !ok {
			continue
		}
		if hs, ok := p.(interface{ SupportsHistory() bool }); ok && !hs.SupportsHistory() {
			continue
		}
		out = append(out, hp)
	}
	return out
}

func (pm *ProviderManager) Names() []string {
	names := make([]string, 0, len(pm.providers))
	for _, p := range pm.providers {
		names = append(names, p.Name())
	}
	return names
}

func (pm *ProviderManager) Len() int {
	return len(pm.providers)
}
