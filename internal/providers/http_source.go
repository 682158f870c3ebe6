package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	userAgent = "networth-api/1.0"

	// maxResponseBytes caps how much of a rate response is buffered.
	maxResponseBytes = 1 << 20
)

// HTTPSource is the shared transport of the HTTP based adapters: a client
// with a timeout behind a token-bucket limiter.
type HTTPSource struct {
	name       string
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    map[string]string
}

// NewHTTPSource builds a source allowing rateLimit requests per minute.
func NewHTTPSource(name string, timeout time.Duration, rateLimit int, headers map[string]string) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rateLimit <= 0 {
		rateLimit = 60
	}
	return &HTTPSource{
		name:       name,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rateLimit)), 10),
		headers:    headers,
	}
}

// Get performs a GET request and returns the body of a 200 response.
func (s *HTTPSource) Get(ctx context.Context, url string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, WrapProviderError(s.name, ErrorCodeRateLimit, "Rate limit wait cancelled", true, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, WrapProviderError(s.name, ErrorCodeBadRequest, "Failed to create request", false, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, WrapProviderError(s.name, ErrorCodeTimeout, "Request timed out", true, err)
		}
		return nil, WrapProviderError(s.name, ErrorCodeNetworkError, "Network error", true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, WrapProviderError(s.name, ErrorCodeNetworkError, "Failed to read response", true, err)
	}
	if len(body) > maxResponseBytes {
		return nil, NewProviderError(s.name, ErrorCodeMalformed, fmt.Sprintf("Response exceeds %d bytes", maxResponseBytes), false)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

func (s *HTTPSource) handleErrorResponse(statusCode int, body []byte) error {
	msg := fmt.Sprintf("HTTP %d", statusCode)
	if len(body) > 0 && len(body) < 256 {
		msg += ": " + string(body)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewProviderError(s.name, ErrorCodeRateLimit, msg, true)
	case statusCode == http.StatusNotFound:
		return NewProviderError(s.name, ErrorCodeNoData, msg, false)
	case statusCode >= 500:
		return NewProviderError(s.name, ErrorCodeServerError, msg, true)
	default:
		return NewProviderError(s.name, strconv.Itoa(statusCode), msg, false)
	}
}
