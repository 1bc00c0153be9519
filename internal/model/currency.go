package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies one of the ledger's currencies.
type Currency string

const (
	Money   Currency = "money"
	MobCoin Currency = "mobcoin"
	Gem     Currency = "gem"
)

// Currencies is the closed set, in display order.
var Currencies = []Currency{Money, MobCoin, Gem}

// ParseCurrency accepts ids case-insensitively.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return c, nil
}

func (c Currency) Valid() bool {
	switch c {
	case Money, MobCoin, Gem:
		return true
	}
	return false
}

// CurrencyInfo describes how a currency is shown and seeded.
type CurrencyInfo struct {
	ID              Currency
	Name            string
	Symbol          string
	StartingBalance decimal.Decimal
	Enabled         bool
}

// CurrencyTable is an immutable lookup of currency descriptors.
type CurrencyTable map[Currency]CurrencyInfo

// DefaultCurrencies returns the built-in descriptors.
func DefaultCurrencies() CurrencyTable {
	return CurrencyTable{
		Money:   {ID: Money, Name: "Money", Symbol: "$", StartingBalance: decimal.NewFromInt(50000), Enabled: true},
		MobCoin: {ID: MobCoin, Name: "MobCoin", Symbol: "MC", StartingBalance: decimal.NewFromInt(500), Enabled: true},
		Gem:     {ID: Gem, Name: "Gem", Symbol: "◆", StartingBalance: decimal.NewFromInt(5), Enabled: true},
	}
}

// Info returns the descriptor for c, falling back to the built-in one.
func (t CurrencyTable) Info(c Currency) CurrencyInfo {
	if info, ok := t[c]; ok {
		return info
	}
	return DefaultCurrencies()[c]
}

func (t CurrencyTable) Enabled(c Currency) bool {
	return c.Valid() && t.Info(c).Enabled
}
