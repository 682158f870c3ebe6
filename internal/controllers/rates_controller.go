package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"networth-api/internal/aggregator"
	"networth-api/internal/models"
	"networth-api/internal/services"
)

// RateResolver is the aggregator surface exposed over HTTP.
type RateResolver interface {
	Resolve(ctx context.Context, from, to string, forceRefresh bool) (*models.RateResult, error)
	ProviderNames() []string
}

// RateRefreshTrigger refreshes a user's pairs and recomputes today.
type RateRefreshTrigger interface {
	RefreshRates(ctx context.Context, userID int64) *services.TriggerResult
}

type RatesController struct {
	rates    RateResolver
	triggers RateRefreshTrigger
	timeout  time.Duration
	logger   *logrus.Entry
}

func NewRatesController(rates RateResolver, triggers RateRefreshTrigger, timeout time.Duration, logger *logrus.Logger) *RatesController {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RatesController{
		rates:    rates,
		triggers: triggers,
		timeout:  timeout,
		logger:   logger.WithField("component", "rates_controller"),
	}
}

func (rc *RatesController) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/providers", rc.ListProviders)
	r.GET("/:from/:to", rc.GetRate)
	r.POST("/refresh/:userId", rc.RefreshUserRates)
}

// RateResponse is the wire form of a resolved rate.
type RateResponse struct {
	Pair        string     `json:"pair"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Rate        string     `json:"rate"`
	Degraded    bool       `json:"degraded"`
	Cached      bool       `json:"cached"`
	Sources     []string   `json:"sources,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	Warning     string     `json:"warning,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func newRateResponse(r *models.RateResult) RateResponse {
	resp := RateResponse{
		Pair:     r.Pair.String(),
		From:     r.Pair.From,
		To:       r.Pair.To,
		Rate:     r.Rate.String(),
		Degraded: r.Degraded,
		Cached:   r.Cached,
		Sources:  r.Sources,
	}
	if !r.LastUpdated.IsZero() {
		t := r.LastUpdated
		resp.LastUpdated = &t
	}
	if r.Degraded {
		resp.Warning = "rate refresh failed, showing last known"
	}
	return resp
}

// GetRate resolves one pair. Unavailable rates answer 503 with rate "N/A".
func (rc *RatesController) GetRate(c *gin.Context) {
	pair := models.NewPair(c.Param("from"), c.Param("to"))
	if err := pair.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), rc.timeout)
	defer cancel()

	res, err := rc.rates.Resolve(ctx, pair.From, pair.To, refresh)
	if err != nil {
		if errors.Is(err, aggregator.ErrRateUnavailable) {
			c.JSON(http.StatusServiceUnavailable, RateResponse{
				Pair:  pair.String(),
				From:  pair.From,
				To:    pair.To,
				Rate:  "N/A",
				Error: err.Error(),
			})
			return
		}
		requestLogger(rc.logger, c).WithError(err).WithField("pair", pair.String()).Error("Failed to resolve rate")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve rate"})
		return
	}

	c.JSON(http.StatusOK, newRateResponse(res))
}

// RefreshUserRates force-refreshes the user's pairs and recomputes today.
// Degradation is reported as a warning, not as a failure.
func (rc *RatesController) RefreshUserRates(c *gin.Context) {
	userID, err := parseUserID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), rc.timeout)
	defer cancel()

	result := rc.triggers.RefreshRates(ctx, userID)

	rates := make([]RateResponse, 0, len(result.Rates))
	for _, r := range result.Rates {
		rates = append(rates, newRateResponse(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID,
		"rates":    rates,
		"snapshot": result.Snapshot,
		"warning":  firstWarning(result.Warnings),
		"warnings": result.Warnings,
	})
}

func (rc *RatesController) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": rc.rates.ProviderNames()})
}
