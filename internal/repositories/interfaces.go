package repositories

import (
	"context"
	"errors"
	"time"

	"networth-api/internal/models"
)

var ErrNotFound = errors.New("not found")

// AccountLedger is the read-only view of accounts and their balance history
// owned by the account service.
type AccountLedger interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
	ListAccounts(ctx context.Context, userID int64) ([]models.Account, error)
	// HistoryEntries returns the account's entries most recent first.
	HistoryEntries(ctx context.Context, accountID int64) ([]models.AccountHistoryEntry, error)
	// BaseCurrency returns "" when the user has not chosen one.
	BaseCurrency(ctx context.Context, userID int64) (string, error)
}

// CurrencyHoldingLedger is the read-only view of speculative currency positions.
type CurrencyHoldingLedger interface {
	ListHoldings(ctx context.Context, userID int64) ([]models.CurrencyHolding, error)
}

// SnapshotRepository persists one PerformanceSnapshot per (user, date).
type SnapshotRepository interface {
	// Upsert fully replaces any existing row for the same user and date.
	Upsert(ctx context.Context, snapshot *models.PerformanceSnapshot) error
	Get(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error)
	// LatestBefore returns the most recent snapshot strictly before day.
	LatestBefore(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error)
	// ListRange returns snapshots in [from, to] ordered by date ascending.
	ListRange(ctx context.Context, userID int64, from, to time.Time) ([]models.PerformanceSnapshot, error)
}
