package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"networth-api/internal/models"
	"networth-api/internal/repositories"
)

func date(s string) time.Time {
	d, _ := models.ParseDate(s)
	return d
}

func TestSnapshotRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepository()

	for _, d := range []string{"2024-01-03", "2024-01-01", "2024-01-02"} {
		require.NoError(t, repo.Upsert(ctx, &models.PerformanceSnapshot{UserID: 1, Date: date(d), TotalPL: decimal.NewFromInt(1)}))
	}
	require.NoError(t, repo.Upsert(ctx, &models.PerformanceSnapshot{UserID: 1, Date: date("2024-01-02"), TotalPL: decimal.NewFromInt(5)}))
	assert.Equal(t, 3, repo.Count(1))

	got, err := repo.Get(ctx, 1, date("2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, "5", got.TotalPL.String())

	_, err = repo.Get(ctx, 2, date("2024-01-02"))
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	prior, err := repo.LatestBefore(ctx, 1, date("2024-01-10"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", models.FormatDate(prior.Date))

	_, err = repo.LatestBefore(ctx, 1, date("2024-01-01"))
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	rows, err := repo.ListRange(ctx, 1, date("2024-01-02"), date("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-02", models.FormatDate(rows[0].Date))
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	acc := l.AddAccount(models.Account{UserID: 4, Currency: "EUR"})
	assert.Equal(t, int64(1), acc.ID)
	l.SetHoldings(9, models.CurrencyHolding{UserID: 9, Pair: models.NewPair("EUR", "USD")})

	first := l.AppendEntry(models.AccountHistoryEntry{AccountID: acc.ID, Balance: decimal.NewFromInt(1), Date: date("2024-01-05")})
	second := l.AppendEntry(models.AccountHistoryEntry{AccountID: acc.ID, Balance: decimal.NewFromInt(2), Date: date("2024-01-05")})
	l.AppendEntry(models.AccountHistoryEntry{AccountID: acc.ID, Balance: decimal.NewFromInt(3), Date: date("2024-01-01")})
	assert.True(t, second.CreatedAt.After(first.CreatedAt))

	entries, err := l.HistoryEntries(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "2", entries[0].Balance.String())
	assert.Equal(t, "3", entries[2].Balance.String())

	ids, err := l.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, ids)

	code, _ := l.BaseCurrency(ctx, 4)
	assert.Equal(t, "", code)
	l.SetBaseCurrency(4, "GBP")
	code, _ = l.BaseCurrency(ctx, 4)
	assert.Equal(t, "GBP", code)
}
