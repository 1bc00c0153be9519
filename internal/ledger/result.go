package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Code identifies the outcome of a ledger operation.
type Code string

const (
	CodeOK                       Code = "ok"
	CodeNotFound                 Code = "not-found"
	CodeSelfTarget               Code = "self-target"
	CodeCurrencyDisabled         Code = "currency-disabled"
	CodeInvalidAmount            Code = "invalid-amount"
	CodeBelowMinimum             Code = "below-minimum"
	CodeAboveMaximum             Code = "above-maximum"
	CodeInsufficientFunds        Code = "insufficient-funds"
	CodeInsufficientFundsWithTax Code = "insufficient-funds-with-tax"
	CodeDailyLimitReached        Code = "daily-limit-reached"
	CodeCooldownActive           Code = "cooldown-active"
	CodeSameCurrency             Code = "same-currency"
	CodeConversionDisabled       Code = "conversion-disabled"
	CodeConversionTooSmall       Code = "conversion-too-small"
	CodeRequestPending           Code = "request-pending"
	CodeRequestExpired           Code = "request-expired"
	CodePlayerOffline            Code = "player-offline"
	CodeAccountUnavailable       Code = "account-unavailable"
)

// Result is returned by every ledger operation. Failures are ordinary values;
// only Success and Code are meaningful for them, plus Retry for cooldowns.
type Result struct {
	Success     bool
	Code        Code
	PreBalance  decimal.Decimal
	PostBalance decimal.Decimal
	Tax         decimal.Decimal
	Converted   decimal.Decimal
	Retry       time.Duration
}

// Fail builds an unsuccessful result.
func Fail(code Code) Result {
	return Result{Code: code}
}

func succeeded(pre, post decimal.Decimal) Result {
	return Result{Success: true, Code: CodeOK, PreBalance: pre, PostBalance: post}
}
