package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the format of wallet reset dates (local calendar day).
const DateLayout = "2006-01-02"

// Wallet holds one currency's balance and its transactional metadata.
type Wallet struct {
	Balance       decimal.Decimal `json:"balance" yaml:"balance"`
	Sent          decimal.Decimal `json:"sent" yaml:"sent"`
	Received      decimal.Decimal `json:"received" yaml:"received"`
	SentToday     int             `json:"sent_today" yaml:"sent_today"`
	RequestsToday int             `json:"requests_today" yaml:"requests_today"`
	LastTransfer  time.Time       `json:"last_transfer" yaml:"last_transfer"`
	LastRequest   time.Time       `json:"last_request" yaml:"last_request"`
	ResetDate     string          `json:"reset_date" yaml:"reset_date"`
}

// RollDay zeroes the daily counters if today is a later calendar day than the
// last reset. It reports whether a reset happened. Calling it repeatedly on the
// same day is a no-op, however many days were skipped.
func (w *Wallet) RollDay(today string) bool {
	if w.ResetDate >= today {
		return false
	}
	w.SentToday = 0
	w.RequestsToday = 0
	w.ResetDate = today
	return true
}

// Account is a player's balances in every currency.
type Account struct {
	ID        uuid.UUID            `json:"id" yaml:"id"`
	Name      string               `json:"name" yaml:"name"`
	FirstSeen time.Time            `json:"first_seen" yaml:"first_seen"`
	LastSeen  time.Time            `json:"last_seen" yaml:"last_seen"`
	Wallets   map[Currency]*Wallet `json:"wallets" yaml:"wallets"`
}

// NewAccount creates an account seeded with each currency's starting balance.
func NewAccount(id uuid.UUID, name string, currencies CurrencyTable, now time.Time) *Account {
	a := &Account{
		ID:        id,
		Name:      name,
		FirstSeen: now,
		LastSeen:  now,
		Wallets:   make(map[Currency]*Wallet, len(Currencies)),
	}
	today := now.Format(DateLayout)
	for _, c := range Currencies {
		a.Wallets[c] = &Wallet{
			Balance:   currencies.Info(c).StartingBalance,
			ResetDate: today,
		}
	}
	return a
}

// Wallet returns the wallet for c, creating an empty one if missing.
func (a *Account) Wallet(c Currency) *Wallet {
	if a.Wallets == nil {
		a.Wallets = make(map[Currency]*Wallet, len(Currencies))
	}
	w, ok := a.Wallets[c]
	if !ok {
		w = &Wallet{}
		a.Wallets[c] = w
	}
	return w
}

// Balance returns the balance of c (zero if the wallet does not exist).
func (a *Account) Balance(c Currency) decimal.Decimal {
	if w, ok := a.Wallets[c]; ok {
		return w.Balance
	}
	return decimal.Zero
}

// RollDay applies Wallet.RollDay to every currency and reports how many reset.
func (a *Account) RollDay(today string) int {
	n := 0
	for _, c := range Currencies {
		if a.Wallet(c).RollDay(today) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand to another goroutine.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Wallets = make(map[Currency]*Wallet, len(a.Wallets))
	for c, w := range a.Wallets {
		wc := *w
		cp.Wallets[c] = &wc
	}
	return &cp
}
