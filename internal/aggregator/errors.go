package aggregator

import (
	"errors"

	"networth-api/internal/models"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// RateUnavailableError is returned when no adapter produced a quote and the
// pair was never cached.
type RateUnavailableError struct {
	Pair models.Pair
}

func (e *RateUnavailableError) Error() string {
	return "exchange rate unavailable for " + e.Pair.String()
}

func (e *RateUnavailableError) Is(target error) bool {
	return target == ErrRateUnavailable
}
