package sql

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"networth-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestLedgerRepository_Accounts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&AccountRow{UserID: 2, Name: "Checking", Kind: "bank", Currency: "EUR", OriginalCapital: decimal.NewFromInt(100)}).Error)
	require.NoError(t, db.Create(&AccountRow{
		UserID:          1,
		Name:            "Brokerage",
		Kind:            "investment",
		Currency:        "USD",
		OriginalCapital: decimal.RequireFromString("1000.50"),
		OpeningBalance:  decimal.NewNullDecimal(decimal.NewFromInt(900)),
		CapitalBearing:  true,
	}).Error)
	require.NoError(t, db.Create(&CurrencyHoldingRow{UserID: 3, FromCurrency: "eur", ToCurrency: "usd", Amount: decimal.NewFromInt(1), AvgCost: decimal.NewFromInt(1), CurrentRate: decimal.NewFromInt(1)}).Error)

	ids, err := repo.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	accounts, err := repo.ListAccounts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	acc := accounts[0]
	assert.Equal(t, models.AccountKindInvestment, acc.Kind)
	assert.True(t, acc.OriginalCapital.Equal(decimal.RequireFromString("1000.5")))
	assert.True(t, acc.OpeningBalance.Valid)
	assert.True(t, acc.Floor().Equal(decimal.NewFromInt(900)))
}

func TestLedgerRepository_HistoryEntriesMostRecentFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	created := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	rows := []AccountHistoryRow{
		{AccountID: 1, Balance: decimal.NewFromInt(100), Currency: "EUR", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), CreatedAt: created},
		{AccountID: 1, Balance: decimal.NewFromInt(120), Currency: "EUR", Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), CreatedAt: created.Add(time.Hour)},
		{AccountID: 1, Balance: decimal.NewFromInt(125), Currency: "EUR", Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), CreatedAt: created.Add(2 * time.Hour)},
		{AccountID: 2, Balance: decimal.NewFromInt(7), Currency: "GBP", Date: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), CreatedAt: created},
	}
	require.NoError(t, db.Create(&rows).Error)

	entries, err := repo.HistoryEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "125", entries[0].Balance.String())
	assert.Equal(t, "120", entries[1].Balance.String())
	assert.Equal(t, "100", entries[2].Balance.String())
	assert.Equal(t, "2024-01-05", models.FormatDate(entries[0].Date))
}

func TestLedgerRepository_BaseCurrencyAndHoldings(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	code, err := repo.BaseCurrency(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "", code)

	require.NoError(t, db.Create(&UserProfileRow{UserID: 1, BaseCurrency: " eur"}).Error)
	code, err = repo.BaseCurrency(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "EUR", code)

	require.NoError(t, db.Create(&CurrencyHoldingRow{
		UserID:       1,
		FromCurrency: "eur",
		ToCurrency:   "usd",
		Amount:       decimal.NewFromInt(1000),
		AvgCost:      decimal.RequireFromString("1.05"),
		CurrentRate:  decimal.RequireFromString("1.10"),
	}).Error)

	holdings, err := repo.ListHoldings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, models.NewPair("EUR", "USD"), holdings[0].Pair)
	assert.True(t, holdings[0].ProfitLoss().Equal(decimal.NewFromInt(50)))
}
