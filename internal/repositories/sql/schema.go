package sql

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"networth-api/internal/models"
)

// AccountRow maps the account service's accounts table.
type AccountRow struct {
	ID              int64               `gorm:"primaryKey;autoIncrement"`
	UserID          int64               `gorm:"index;not null"`
	Name            string              `gorm:"size:120"`
	Kind            string              `gorm:"size:20;not null"`
	Currency        string              `gorm:"size:3;not null"`
	OriginalCapital decimal.Decimal     `gorm:"type:decimal(24,8);not null"`
	OpeningBalance  decimal.NullDecimal `gorm:"type:decimal(24,8)"`
	CapitalBearing  bool                `gorm:"not null"`
	CreatedAt       time.Time
}

func (AccountRow) TableName() string { return "accounts" }

func (r *AccountRow) toModel() models.Account {
	return models.Account{
		ID:              r.ID,
		UserID:          r.UserID,
		Name:            r.Name,
		Kind:            models.AccountKind(r.Kind),
		Currency:        r.Currency,
		OriginalCapital: r.OriginalCapital,
		OpeningBalance:  r.OpeningBalance,
		CapitalBearing:  r.CapitalBearing,
		CreatedAt:       r.CreatedAt,
	}
}

// AccountHistoryRow maps the append-only balance history table.
type AccountHistoryRow struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	AccountID int64           `gorm:"index:idx_history_account_date,priority:1;not null"`
	Balance   decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	Currency  string          `gorm:"size:3"`
	Date      time.Time       `gorm:"type:date;index:idx_history_account_date,priority:2;not null"`
	Note      string          `gorm:"size:255"`
	CreatedAt time.Time
}

func (AccountHistoryRow) TableName() string { return "account_history" }

func (r *AccountHistoryRow) toModel() models.AccountHistoryEntry {
	return models.AccountHistoryEntry{
		ID:        r.ID,
		AccountID: r.AccountID,
		Balance:   r.Balance,
		Currency:  r.Currency,
		Date:      models.DateOf(r.Date),
		Note:      r.Note,
		CreatedAt: r.CreatedAt,
	}
}

// CurrencyHoldingRow maps the currency holdings table.
type CurrencyHoldingRow struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	UserID       int64           `gorm:"index;not null"`
	FromCurrency string          `gorm:"size:3;not null"`
	ToCurrency   string          `gorm:"size:3;not null"`
	Amount       decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	AvgCost      decimal.Decimal `gorm:"type:decimal(24,10);not null"`
	CurrentRate  decimal.Decimal `gorm:"type:decimal(24,10);not null"`
	UpdatedAt    time.Time
}

func (CurrencyHoldingRow) TableName() string { return "currency_holdings" }

func (r *CurrencyHoldingRow) toModel() models.CurrencyHolding {
	return models.CurrencyHolding{
		ID:          r.ID,
		UserID:      r.UserID,
		Pair:        models.NewPair(r.FromCurrency, r.ToCurrency),
		Amount:      r.Amount,
		AvgCost:     r.AvgCost,
		CurrentRate: r.CurrentRate,
		UpdatedAt:   r.UpdatedAt,
	}
}

// UserProfileRow carries the user's preferred base currency.
type UserProfileRow struct {
	UserID       int64  `gorm:"primaryKey;autoIncrement:false"`
	BaseCurrency string `gorm:"size:3"`
}

func (UserProfileRow) TableName() string { return "user_profiles" }

// Migrate creates the ledger tables. Production databases are owned by the
// account service; this is for local SQLite runs and tests.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&AccountRow{}, &AccountHistoryRow{}, &CurrencyHoldingRow{}, &UserProfileRow{})
}
