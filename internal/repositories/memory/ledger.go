package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"networth-api/internal/models"
)

// Ledger is an in-memory AccountLedger and CurrencyHoldingLedger.
type Ledger struct {
	mu            sync.RWMutex
	accounts      map[int64]models.Account
	entries       map[int64][]models.AccountHistoryEntry
	holdings      map[int64][]models.CurrencyHolding
	baseCurrency  map[int64]string
	nextEntryID   int64
	nextAccountID int64
	now           func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts:     make(map[int64]models.Account),
		entries:      make(map[int64][]models.AccountHistoryEntry),
		holdings:     make(map[int64][]models.CurrencyHolding),
		baseCurrency: make(map[int64]string),
		now:          time.Now,
	}
}

// AddAccount stores the account, assigning an ID when it has none.
func (l *Ledger) AddAccount(a models.Account) models.Account {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a.ID == 0 {
		l.nextAccountID++
		a.ID = l.nextAccountID
	} else if a.ID > l.nextAccountID {
		l.nextAccountID = a.ID
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now()
	}
	l.accounts[a.ID] = a
	return a
}

// AppendEntry records a balance observation. Entries without a creation time
// are stamped strictly after every earlier entry.
func (l *Ledger) AppendEntry(e models.AccountHistoryEntry) models.AccountHistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextEntryID++
	e.ID = l.nextEntryID
	e.Date = models.DateOf(e.Date)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().Add(time.Duration(e.ID) * time.Millisecond)
	}
	l.entries[e.AccountID] = append(l.entries[e.AccountID], e)
	return e
}

func (l *Ledger) SetHoldings(userID int64, holdings ...models.CurrencyHolding) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holdings[userID] = append([]models.CurrencyHolding(nil), holdings...)
}

func (l *Ledger) SetBaseCurrency(userID int64, code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.baseCurrency[userID] = code
}

func (l *Ledger) ListUserIDs(ctx context.Context) ([]int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[int64]struct{})
	for _, a := range l.accounts {
		seen[a.UserID] = struct{}{}
	}
	for userID := range l.holdings {
		seen[userID] = struct{}{}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (l *Ledger) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.Account
	for _, a := range l.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *Ledger) HistoryEntries(ctx context.Context, accountID int64) ([]models.AccountHistoryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := append([]models.AccountHistoryEntry(nil), l.entries[accountID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].After(&out[j]) })
	return out, nil
}

func (l *Ledger) BaseCurrency(ctx context.Context, userID int64) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.baseCurrency[userID], nil
}

func (l *Ledger) ListHoldings(ctx context.Context, userID int64) ([]models.CurrencyHolding, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.CurrencyHolding(nil), l.holdings[userID]...), nil
}
