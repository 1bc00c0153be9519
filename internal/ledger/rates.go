package ledger

import (
	"github.com/shopspring/decimal"

	"RealmLedger/internal/model"
	"RealmLedger/internal/money"
)

// Rates holds the three base conversion rates. The other three directions
// use the reciprocal of the matching base rate. Converting there and back is
// not expected to return the starting amount.
type Rates struct {
	GemToMobCoin   decimal.Decimal
	GemToMoney     decimal.Decimal
	MobCoinToMoney decimal.Decimal
}

// DefaultRates are the built-in base rates.
func DefaultRates() Rates {
	return Rates{
		GemToMobCoin:   decimal.NewFromInt(100),
		GemToMoney:     decimal.NewFromInt(10000),
		MobCoinToMoney: decimal.NewFromInt(100),
	}
}

// base returns the base rate between a and b, and whether a→b is the base
// direction (false means the reciprocal applies).
func (r Rates) base(from, to model.Currency) (decimal.Decimal, bool, bool) {
	switch {
	case from == model.Gem && to == model.MobCoin:
		return r.GemToMobCoin, true, true
	case from == model.MobCoin && to == model.Gem:
		return r.GemToMobCoin, false, true
	case from == model.Gem && to == model.Money:
		return r.GemToMoney, true, true
	case from == model.Money && to == model.Gem:
		return r.GemToMoney, false, true
	case from == model.MobCoin && to == model.Money:
		return r.MobCoinToMoney, true, true
	case from == model.Money && to == model.MobCoin:
		return r.MobCoinToMoney, false, true
	}
	return decimal.Zero, false, false
}

// reciprocalPlaces is the precision of a reverse-direction rate.
const reciprocalPlaces = 10

// Rate returns the multiplier for from→to. Reverse directions use 1/base
// truncated to ten places, so with a base of 3 converting 3 yields 0.99.
func (r Rates) Rate(from, to model.Currency) (decimal.Decimal, bool) {
	rate, forward, known := r.base(from, to)
	if !known || rate.Sign() <= 0 {
		return decimal.Zero, false
	}
	if forward {
		return rate, true
	}
	q, _ := decimal.NewFromInt(1).QuoRem(rate, reciprocalPlaces)
	return q, true
}

// Convert returns floor(amount × rate) for from→to. Unknown pairs and
// non-positive rates yield zero.
func (r Rates) Convert(from, to model.Currency, amount decimal.Decimal) decimal.Decimal {
	rate, ok := r.Rate(from, to)
	if !ok {
		return decimal.Zero
	}
	return money.Floor(amount.Mul(rate))
}
