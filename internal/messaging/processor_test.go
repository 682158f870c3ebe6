package messaging

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"networth-api/internal/models"
	"networth-api/internal/services"
)

// MockTriggers is a mock implementation of Triggers
type MockTriggers struct {
	mock.Mock
}

func (m *MockTriggers) OnLedgerChange(ctx context.Context, userID int64, reason string) *services.TriggerResult {
	args := m.Called(ctx, userID, reason)
	return args.Get(0).(*services.TriggerResult)
}

func (m *MockTriggers) RefreshRates(ctx context.Context, userID int64) *services.TriggerResult {
	args := m.Called(ctx, userID)
	return args.Get(0).(*services.TriggerResult)
}

// MockBackfiller is a mock implementation of Backfiller
type MockBackfiller struct {
	mock.Mock
	today time.Time
}

func (m *MockBackfiller) Backfill(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	args := m.Called(ctx, userID, start, end)
	return args.Int(0), args.Error(1)
}

func (m *MockBackfiller) Today() time.Time {
	return m.today
}

func day(s string) time.Time {
	d, _ := models.ParseDate(s)
	return d
}

func newTestProcessor() (*EventProcessor, *MockTriggers, *MockBackfiller) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	triggers := new(MockTriggers)
	backfiller := &MockBackfiller{today: day("2024-03-10")}
	return NewEventProcessor(triggers, backfiller, 30, nil, logger), triggers, backfiller
}

func TestHandle_BalanceUpdatedToday(t *testing.T) {
	p, triggers, backfiller := newTestProcessor()
	triggers.On("OnLedgerChange", mock.Anything, int64(7), EventBalanceUpdated).Return(&services.TriggerResult{}).Once()

	err := p.Handle(context.Background(), []byte(`{"event_id":"e1","type":"account.balance_updated","user_id":7,"account_id":3,"date":"2024-03-10"}`))

	assert.NoError(t, err)
	triggers.AssertExpectations(t)
	backfiller.AssertNotCalled(t, "Backfill", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_BackdatedBalanceBackfills(t *testing.T) {
	p, triggers, backfiller := newTestProcessor()
	backfiller.On("Backfill", mock.Anything, int64(7), day("2024-03-01"), day("2024-03-09")).Return(9, nil).Once()
	triggers.On("OnLedgerChange", mock.Anything, int64(7), EventBalanceUpdated).Return(&services.TriggerResult{}).Once()

	err := p.Handle(context.Background(), []byte(`{"type":"account.balance_updated","user_id":7,"date":"2024-03-01"}`))

	assert.NoError(t, err)
	backfiller.AssertExpectations(t)
	triggers.AssertExpectations(t)
}

func TestHandle_BackdatedBackfillIsCapped(t *testing.T) {
	p, triggers, backfiller := newTestProcessor()
	// 30 days ending 2024-03-09
	backfiller.On("Backfill", mock.Anything, int64(7), day("2024-02-09"), day("2024-03-09")).Return(30, nil).Once()
	triggers.On("OnLedgerChange", mock.Anything, int64(7), EventBalanceUpdated).Return(&services.TriggerResult{}).Once()

	err := p.Handle(context.Background(), []byte(`{"type":"account.balance_updated","user_id":7,"date":"2023-01-01"}`))

	assert.NoError(t, err)
	backfiller.AssertExpectations(t)
}

func TestHandle_HoldingAndRefresh(t *testing.T) {
	p, triggers, _ := newTestProcessor()
	triggers.On("OnLedgerChange", mock.Anything, int64(2), EventHoldingUpdated).Return(&services.TriggerResult{}).Once()
	triggers.On("RefreshRates", mock.Anything, int64(2)).Return(&services.TriggerResult{Warnings: []string{"rate EUR/USD unavailable"}}).Once()

	assert.NoError(t, p.Handle(context.Background(), []byte(`{"type":"holding.updated","user_id":2,"holding_id":5}`)))
	assert.NoError(t, p.Handle(context.Background(), []byte(`{"type":"rates.refresh_requested","user_id":2}`)))
	triggers.AssertExpectations(t)
}

func TestHandle_InvalidEvents(t *testing.T) {
	p, triggers, _ := newTestProcessor()

	bodies := []string{
		`not json`,
		`{"type":"account.deleted","user_id":1}`,
		`{"type":"holding.updated"}`,
		`{"type":"account.balance_updated","user_id":1,"date":"03/01/2024"}`,
	}
	for _, body := range bodies {
		err := p.Handle(context.Background(), []byte(body))
		assert.ErrorIs(t, err, ErrInvalidEvent, body)
	}
	triggers.AssertNotCalled(t, "OnLedgerChange", mock.Anything, mock.Anything, mock.Anything)
}
