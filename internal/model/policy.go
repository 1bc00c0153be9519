package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyPolicy holds the transfer rules a rank applies to one currency.
type CurrencyPolicy struct {
	Enabled            bool
	TransferTax        decimal.Decimal // percent
	TransferCooldown   time.Duration
	DailyTransferLimit int
	DailyRequestLimit  int
	RequestCooldown    time.Duration
	MinTransfer        decimal.Decimal
	MaxTransfer        decimal.Decimal // zero means unlimited
	BossKillBonus      decimal.Decimal // percent, mobcoin only
}

// Rank is a named policy set.
type Rank struct {
	ID                string
	DisplayName       string
	Priority          int
	Currencies        map[Currency]CurrencyPolicy
	ConversionEnabled bool
	ConversionTax     decimal.Decimal // percent
}

// DefaultCurrencyPolicy is used when a rank omits a currency section.
func DefaultCurrencyPolicy() CurrencyPolicy {
	return CurrencyPolicy{
		Enabled:            true,
		TransferTax:        decimal.NewFromInt(5),
		TransferCooldown:   300 * time.Second,
		DailyTransferLimit: 5,
		DailyRequestLimit:  5,
		RequestCooldown:    300 * time.Second,
		MinTransfer:        decimal.New(1, -2),
	}
}

// DefaultRank is the built-in rank used when nothing is configured.
func DefaultRank() Rank {
	r := Rank{
		ID:                "default",
		DisplayName:       "Default",
		Currencies:        make(map[Currency]CurrencyPolicy, len(Currencies)),
		ConversionEnabled: true,
		ConversionTax:     decimal.NewFromInt(3),
	}
	for _, c := range Currencies {
		r.Currencies[c] = DefaultCurrencyPolicy()
	}
	return r
}

// For returns the rank's policy for c, or the default when absent.
func (r Rank) For(c Currency) CurrencyPolicy {
	if p, ok := r.Currencies[c]; ok {
		return p
	}
	return DefaultCurrencyPolicy()
}

// RankPolicy is a rank's rules for a single currency, as the processor sees them.
type RankPolicy struct {
	RankID string
	CurrencyPolicy
	ConversionEnabled bool
	ConversionTax     decimal.Decimal
}

// Policy flattens the rank for one currency.
func (r Rank) Policy(c Currency) RankPolicy {
	return RankPolicy{
		RankID:            r.ID,
		CurrencyPolicy:    r.For(c),
		ConversionEnabled: r.ConversionEnabled,
		ConversionTax:     r.ConversionTax,
	}
}
