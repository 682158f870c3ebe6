package sql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"networth-api/internal/models"
	"networth-api/internal/repositories"
)

// LedgerRepository reads accounts, balance history and currency holdings
// from the account service's relational database. It never writes.
type LedgerRepository struct {
	db *gorm.DB
}

var (
	_ repositories.AccountLedger         = (*LedgerRepository)(nil)
	_ repositories.CurrencyHoldingLedger = (*LedgerRepository)(nil)
)

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	var accountUsers, holdingUsers []int64
	if err := r.db.WithContext(ctx).Model(&AccountRow{}).Distinct("user_id").Pluck("user_id", &accountUsers).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&CurrencyHoldingRow{}).Distinct("user_id").Pluck("user_id", &holdingUsers).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	seen := make(map[int64]struct{}, len(accountUsers)+len(holdingUsers))
	ids := make([]int64, 0, len(accountUsers)+len(holdingUsers))
	for _, id := range append(accountUsers, holdingUsers...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *LedgerRepository) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	var rows []AccountRow
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := make([]models.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].toModel())
	}
	return accounts, nil
}

func (r *LedgerRepository) HistoryEntries(ctx context.Context, accountID int64) ([]models.AccountHistoryEntry, error) {
	var rows []AccountHistoryRow
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("date DESC").
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load account history: %w", err)
	}

	entries := make([]models.AccountHistoryEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toModel())
	}
	return entries, nil
}

func (r *LedgerRepository) BaseCurrency(ctx context.Context, userID int64) (string, error) {
	var profile UserProfileRow
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get base currency: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(profile.BaseCurrency)), nil
}

func (r *LedgerRepository) ListHoldings(ctx context.Context, userID int64) ([]models.CurrencyHolding, error) {
	var rows []CurrencyHoldingRow
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list currency holdings: %w", err)
	}

	holdings := make([]models.CurrencyHolding, 0, len(rows))
	for i := range rows {
		holdings = append(holdings, rows[i].toModel())
	}
	return holdings, nil
}
