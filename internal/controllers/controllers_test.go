package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"networth-api/internal/aggregator"
	"networth-api/internal/models"
	"networth-api/internal/repositories"
	"networth-api/internal/services"
)

type MockRates struct{ mock.Mock }

func (m *MockRates) Resolve(ctx context.Context, from, to string, forceRefresh bool) (*models.RateResult, error) {
	args := m.Called(ctx, from, to, forceRefresh)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RateResult), args.Error(1)
}

func (m *MockRates) ProviderNames() []string {
	return m.Called().Get(0).([]string)
}

type MockTriggers struct{ mock.Mock }

func (m *MockTriggers) RefreshRates(ctx context.Context, userID int64) *services.TriggerResult {
	return m.Called(ctx, userID).Get(0).(*services.TriggerResult)
}

func (m *MockTriggers) OnLedgerChange(ctx context.Context, userID int64, reason string) *services.TriggerResult {
	return m.Called(ctx, userID, reason).Get(0).(*services.TriggerResult)
}

type MockPerformance struct{ mock.Mock }

func (m *MockPerformance) GetSnapshot(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error) {
	args := m.Called(ctx, userID, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PerformanceSnapshot), args.Error(1)
}

func (m *MockPerformance) ListSnapshots(ctx context.Context, userID int64, from, to time.Time) ([]models.PerformanceSnapshot, error) {
	args := m.Called(ctx, userID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PerformanceSnapshot), args.Error(1)
}

func (m *MockPerformance) Backfill(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	args := m.Called(ctx, userID, start, end)
	return args.Int(0), args.Error(1)
}

func (m *MockPerformance) Today() time.Time {
	return m.Called().Get(0).(time.Time)
}

func day(s string) time.Time {
	t, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

type ControllersTestSuite struct {
	suite.Suite
	router      *gin.Engine
	rates       *MockRates
	triggers    *MockTriggers
	performance *MockPerformance
}

func TestControllersTestSuite(t *testing.T) {
	suite.Run(t, new(ControllersTestSuite))
}

func (s *ControllersTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s.rates = &MockRates{}
	s.triggers = &MockTriggers{}
	s.performance = &MockPerformance{}

	s.router = NewRouter(
		RouterConfig{Environment: "test"},
		NewRatesController(s.rates, s.triggers, time.Second, logger),
		NewPerformanceController(s.performance, s.triggers, nil, logger),
		func() map[string]string { return map[string]string{"cache": "ok"} },
		nil,
		logger,
	)
}

func (s *ControllersTestSuite) TearDownTest() {
	s.rates.AssertExpectations(s.T())
	s.triggers.AssertExpectations(s.T())
	s.performance.AssertExpectations(s.T())
}

func (s *ControllersTestSuite) do(method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (s *ControllersTestSuite) TestHealth() {
	w, body := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("networth-api", body["service"])
	s.NotEmpty(w.Header().Get("X-Request-ID"))
}

func (s *ControllersTestSuite) TestGetRate() {
	s.rates.On("Resolve", mock.Anything, "EUR", "USD", true).Return(&models.RateResult{
		Pair:        models.NewPair("EUR", "USD"),
		Rate:        decimal.RequireFromString("1.0857"),
		Sources:     []string{"frankfurter"},
		LastUpdated: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	}, nil)

	w, body := s.do(http.MethodGet, "/api/rates/eur/usd?refresh=true", nil)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("EUR/USD", body["pair"])
	s.Equal("1.0857", body["rate"])
	s.Equal(false, body["degraded"])
	s.Nil(body["warning"])
}

func (s *ControllersTestSuite) TestGetRate_DegradedCarriesWarning() {
	s.rates.On("Resolve", mock.Anything, "EUR", "USD", false).Return(&models.RateResult{
		Pair:     models.NewPair("EUR", "USD"),
		Rate:     decimal.RequireFromString("1.08"),
		Degraded: true,
		Cached:   true,
	}, nil)

	w, body := s.do(http.MethodGet, "/api/rates/EUR/USD", nil)

	s.Equal(http.StatusOK, w.Code)
	s.Equal(true, body["degraded"])
	s.Equal("rate refresh failed, showing last known", body["warning"])
}

func (s *ControllersTestSuite) TestGetRate_Unavailable() {
	s.rates.On("Resolve", mock.Anything, "GBP", "JPY", false).
		Return(nil, &aggregator.RateUnavailableError{Pair: models.NewPair("GBP", "JPY")})

	w, body := s.do(http.MethodGet, "/api/rates/GBP/JPY", nil)

	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.Equal("N/A", body["rate"])
	s.NotEmpty(body["error"])
}

func (s *ControllersTestSuite) TestGetRate_InvalidCurrency() {
	w, _ := s.do(http.MethodGet, "/api/rates/EURO/USD", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ControllersTestSuite) TestRefreshUserRates() {
	s.triggers.On("RefreshRates", mock.Anything, int64(7)).Return(&services.TriggerResult{
		Warnings: []string{"rate GBP/JPY unavailable"},
	})

	w, body := s.do(http.MethodPost, "/api/rates/refresh/7", nil)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("rate GBP/JPY unavailable", body["warning"])
}

func (s *ControllersTestSuite) TestRefreshUserRates_BadUser() {
	w, _ := s.do(http.MethodPost, "/api/rates/refresh/abc", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ControllersTestSuite) TestGetSnapshot() {
	s.performance.On("GetSnapshot", mock.Anything, int64(1), day("2024-01-09")).Return(&models.PerformanceSnapshot{
		UserID:       1,
		Date:         day("2024-01-09"),
		BaseCurrency: "USD",
		TotalPL:      decimal.RequireFromString("150"),
		InvestmentPL: decimal.RequireFromString("100"),
		CurrencyPL:   decimal.RequireFromString("50"),
	}, nil)

	w, body := s.do(http.MethodGet, "/api/performance/1/snapshots/2024-01-09", nil)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("2024-01-09", body["date"])
	s.Equal("150", body["total_pl"])
}

func (s *ControllersTestSuite) TestGetSnapshot_NotFound() {
	s.performance.On("GetSnapshot", mock.Anything, int64(1), day("2024-01-09")).Return(nil, repositories.ErrNotFound)

	w, _ := s.do(http.MethodGet, "/api/performance/1/snapshots/2024-01-09", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *ControllersTestSuite) TestGetSnapshot_BadDate() {
	w, _ := s.do(http.MethodGet, "/api/performance/1/snapshots/09-01-2024", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ControllersTestSuite) TestListSnapshots_DefaultWindow() {
	s.performance.On("Today").Return(day("2024-01-30"))
	s.performance.On("ListSnapshots", mock.Anything, int64(1), day("2024-01-01"), day("2024-01-30")).
		Return([]models.PerformanceSnapshot{{UserID: 1, Date: day("2024-01-02")}}, nil)

	w, body := s.do(http.MethodGet, "/api/performance/1/snapshots", nil)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("2024-01-01", body["from"])
	s.Equal(float64(1), body["count"])
}

func (s *ControllersTestSuite) TestListSnapshots_InvalidRange() {
	s.performance.On("Today").Return(day("2024-01-30"))
	s.performance.On("ListSnapshots", mock.Anything, int64(1), day("2024-01-20"), day("2024-01-10")).
		Return(nil, services.ErrInvalidRange)

	w, _ := s.do(http.MethodGet, "/api/performance/1/snapshots?from=2024-01-20&to=2024-01-10", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ControllersTestSuite) TestRecompute() {
	s.triggers.On("OnLedgerChange", mock.Anything, int64(3), "manual").Return(&services.TriggerResult{
		Warnings: []string{"exchange rate unavailable, snapshot not updated"},
	})

	w, body := s.do(http.MethodPost, "/api/performance/3/recompute", nil)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("exchange rate unavailable, snapshot not updated", body["warning"])
}

func (s *ControllersTestSuite) TestBackfill() {
	s.performance.On("Backfill", mock.Anything, int64(1), day("2024-01-01"), day("2024-01-05")).Return(5, nil)

	w, body := s.do(http.MethodPost, "/api/performance/1/backfill", map[string]string{"start": "2024-01-01", "end": "2024-01-05"})

	s.Equal(http.StatusOK, w.Code)
	s.Equal(float64(5), body["written"])
}

func (s *ControllersTestSuite) TestBackfill_Partial() {
	partial := &services.PartialBackfillError{
		RunID:              "run-1",
		LastSuccessfulDate: day("2024-01-02"),
		FailedDates:        []time.Time{day("2024-01-03")},
		Written:            4,
		Cause:              errors.New("exchange rate unavailable"),
	}
	s.performance.On("Backfill", mock.Anything, int64(1), day("2024-01-01"), day("2024-01-05")).Return(4, partial)

	w, body := s.do(http.MethodPost, "/api/performance/1/backfill", map[string]string{"start": "2024-01-01", "end": "2024-01-05"})

	s.Equal(http.StatusMultiStatus, w.Code)
	s.Equal("2024-01-02", body["last_successful_date"])
	s.Equal([]interface{}{"2024-01-03"}, body["failed_dates"])
	s.Equal(float64(4), body["written"])
}

func (s *ControllersTestSuite) TestBackfill_InvalidRange() {
	s.performance.On("Backfill", mock.Anything, int64(1), day("2024-01-05"), day("2024-01-01")).
		Return(0, services.ErrInvalidRange)

	w, _ := s.do(http.MethodPost, "/api/performance/1/backfill", map[string]string{"start": "2024-01-05", "end": "2024-01-01"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ControllersTestSuite) TestBackfill_BadBody() {
	w, _ := s.do(http.MethodPost, "/api/performance/1/backfill", map[string]string{"start": "yesterday"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func TestCorsConfig_AllowAll(t *testing.T) {
	cfg := corsConfig([]string{"*"})
	assert.True(t, cfg.AllowAllOrigins)
	assert.Empty(t, cfg.AllowOrigins)

	cfg = corsConfig([]string{"https://app.example.com"})
	assert.False(t, cfg.AllowAllOrigins)
	require.Len(t, cfg.AllowOrigins, 1)
}

func TestParseUserID(t *testing.T) {
	id, err := parseUserID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = parseUserID("0")
	assert.Error(t, err)
	_, err = parseUserID("x")
	assert.Error(t, err)
}
