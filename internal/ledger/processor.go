package ledger

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RealmLedger/internal/cache"
	"RealmLedger/internal/metrics"
	"RealmLedger/internal/model"
	"RealmLedger/internal/money"
	"RealmLedger/internal/policy"
)

// Rules are the reloadable economy settings.
type Rules struct {
	Currencies model.CurrencyTable
	Rates      Rates
}

// Options configures a Processor. Zero values get defaults.
type Options struct {
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Processor validates and applies balance changes. Every mutation runs inside
// cache.Update, so it holds the locks of all accounts it touches.
type Processor struct {
	cache   *cache.Cache
	policy  *policy.Resolver
	rules   atomic.Pointer[Rules]
	metrics *metrics.Metrics
	now     func() time.Time

	taxMu   sync.Mutex
	taxSunk map[model.Currency]decimal.Decimal
}

func NewProcessor(c *cache.Cache, r *policy.Resolver, rules Rules, opts Options) *Processor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Processor{
		cache:   c,
		policy:  r,
		metrics: opts.Metrics,
		now:     opts.Now,
		taxSunk: make(map[model.Currency]decimal.Decimal),
	}
	p.Reload(rules)
	return p
}

// Reload swaps the currency table and conversion rates.
func (p *Processor) Reload(rules Rules) {
	if rules.Currencies == nil {
		rules.Currencies = model.DefaultCurrencies()
	}
	p.rules.Store(&rules)
}

// Currencies returns the current currency table.
func (p *Processor) Currencies() model.CurrencyTable {
	return p.rules.Load().Currencies
}

// Now is the processor's clock.
func (p *Processor) Now() time.Time {
	return p.now()
}

func (p *Processor) today() string {
	return p.now().Format(model.DateLayout)
}

func (p *Processor) observe(op string, res Result) Result {
	p.metrics.ObserveOp(op, string(res.Code))
	return res
}

func (p *Processor) sink(c model.Currency, tax decimal.Decimal) {
	if tax.Sign() <= 0 {
		return
	}
	p.taxMu.Lock()
	p.taxSunk[c] = p.taxSunk[c].Add(tax)
	p.taxMu.Unlock()
	p.metrics.AddTax(string(c), tax.InexactFloat64())
}

// TakeTaxSunk returns the tax removed per currency since the last call and
// starts a new period.
func (p *Processor) TakeTaxSunk() map[model.Currency]decimal.Decimal {
	p.taxMu.Lock()
	defer p.taxMu.Unlock()
	out := p.taxSunk
	p.taxSunk = make(map[model.Currency]decimal.Decimal)
	return out
}

// GetBalance reports a balance as both PreBalance and PostBalance.
func (p *Processor) GetBalance(ctx context.Context, id uuid.UUID, c model.Currency) Result {
	if id == uuid.Nil || !c.Valid() {
		return Fail(CodeNotFound)
	}
	var bal decimal.Decimal
	if err := p.cache.View(ctx, id, func(a *model.Account) {
		bal = a.Balance(c)
	}); err != nil {
		log.Printf("[ERROR] get balance %s: %v", id, err)
		return Fail(CodeAccountUnavailable)
	}
	return succeeded(bal, bal)
}

// HasBalance reports whether the account holds at least amount of c.
func (p *Processor) HasBalance(ctx context.Context, id uuid.UUID, c model.Currency, amount decimal.Decimal) bool {
	res := p.GetBalance(ctx, id, c)
	return res.Success && res.PostBalance.GreaterThanOrEqual(money.Floor(amount))
}

// LoadedAccounts returns copies of every account in memory.
func (p *Processor) LoadedAccounts() []*model.Account {
	return p.cache.Loaded()
}

// Deposit credits amount to the account. source is only logged.
func (p *Processor) Deposit(ctx context.Context, id uuid.UUID, c model.Currency, amount decimal.Decimal, source string) Result {
	return p.observe("deposit", p.deposit(ctx, id, c, amount, source))
}

func (p *Processor) deposit(ctx context.Context, id uuid.UUID, c model.Currency, amount decimal.Decimal, source string) Result {
	if id == uuid.Nil {
		return Fail(CodeNotFound)
	}
	if !p.Currencies().Enabled(c) {
		return Fail(CodeCurrencyDisabled)
	}
	amount = money.Floor(amount)
	if amount.Sign() <= 0 {
		return Fail(CodeInvalidAmount)
	}

	var res Result
	err := p.cache.Update(ctx, []uuid.UUID{id}, func(accts map[uuid.UUID]*model.Account) bool {
		w := accts[id].Wallet(c)
		pre := w.Balance
		w.Balance = w.Balance.Add(amount)
		w.Received = w.Received.Add(amount)
		res = succeeded(pre, w.Balance)
		return true
	})
	if err != nil {
		log.Printf("[ERROR] deposit %s: %v", id, err)
		return Fail(CodeAccountUnavailable)
	}
	if source != "" {
		log.Printf("[INFO] deposit %s %s to %s (%s)", money.Format(amount), c, id, source)
	}
	return res
}

// Withdraw debits amount from the account. reason is only logged.
func (p *Processor) Withdraw(ctx context.Context, id uuid.UUID, c model.Currency, amount decimal.Decimal, reason string) Result {
	return p.observe("withdraw", p.withdraw(ctx, id, c, amount, reason))
}

func (p *Processor) withdraw(ctx context.Context, id uuid.UUID, c model.Currency, amount decimal.Decimal, reason string) Result {
	if id == uuid.Nil {
		return Fail(CodeNotFound)
	}
	if !p.Currencies().Enabled(c) {
		return Fail(CodeCurrencyDisabled)
	}
	amount = money.Floor(amount)
	if amount.Sign() <= 0 {
		return Fail(CodeInvalidAmount)
	}

	var res Result
	err := p.cache.Update(ctx, []uuid.UUID{id}, func(accts map[uuid.UUID]*model.Account) bool {
		w := accts[id].Wallet(c)
		if w.Balance.LessThan(amount) {
			res = Fail(CodeInsufficientFunds)
			res.PreBalance, res.PostBalance = w.Balance, w.Balance
			return false
		}
		pre := w.Balance
		w.Balance = w.Balance.Sub(amount)
		w.Sent = w.Sent.Add(amount)
		res = succeeded(pre, w.Balance)
		return true
	})
	if err != nil {
		log.Printf("[ERROR] withdraw %s: %v", id, err)
		return Fail(CodeAccountUnavailable)
	}
	if res.Success && reason != "" {
		log.Printf("[INFO] withdraw %s %s from %s (%s)", money.Format(amount), c, id, reason)
	}
	return res
}

// SetBalance overwrites a balance without any policy checks.
func (p *Processor) SetBalance(ctx context.Context, id uuid.UUID, c model.Currency, amount decimal.Decimal) Result {
	return p.observe("set", p.setBalance(ctx, id, c, amount))
}

func (p *Processor) setBalance(ctx context.Context, id uuid.UUID, c model.Currency, amount decimal.Decimal) Result {
	if id == uuid.Nil || !c.Valid() {
		return Fail(CodeNotFound)
	}
	amount = money.Floor(amount)
	if amount.Sign() < 0 {
		return Fail(CodeInvalidAmount)
	}
	var res Result
	err := p.cache.Update(ctx, []uuid.UUID{id}, func(accts map[uuid.UUID]*model.Account) bool {
		w := accts[id].Wallet(c)
		pre := w.Balance
		w.Balance = amount
		res = succeeded(pre, amount)
		return true
	})
	if err != nil {
		log.Printf("[ERROR] set balance %s: %v", id, err)
		return Fail(CodeAccountUnavailable)
	}
	log.Printf("[INFO] balance of %s set: %s %s -> %s", id, c, money.Format(res.PreBalance), money.Format(amount))
	return res
}

// Transfer moves amount of c from one account to another. With applyTax the
// sender also pays the rank's transfer tax, which leaves circulation. Checks
// run in a fixed order and the first failure is returned.
func (p *Processor) Transfer(ctx context.Context, from, to uuid.UUID, c model.Currency, amount decimal.Decimal, applyTax bool) Result {
	return p.observe("transfer", p.transfer(ctx, from, to, c, amount, applyTax))
}

func (p *Processor) transfer(ctx context.Context, from, to uuid.UUID, c model.Currency, amount decimal.Decimal, applyTax bool) Result {
	if from == uuid.Nil || to == uuid.Nil {
		return Fail(CodeNotFound)
	}
	pol := p.policy.Resolve(ctx, from, c)
	now := p.now()
	today := now.Format(model.DateLayout)

	var res Result
	err := p.cache.Update(ctx, []uuid.UUID{from, to}, func(accts map[uuid.UUID]*model.Account) bool {
		if from == to {
			res = Fail(CodeSelfTarget)
			return false
		}
		sender, receiver := accts[from], accts[to]
		rolled := sender.Wallet(c).RollDay(today)

		var tax decimal.Decimal
		res, tax = checkTransfer(sender.Wallet(c), pol, p.Currencies().Enabled(c), amount, applyTax, now)
		if !res.Success {
			return rolled
		}
		amount = money.Floor(amount)
		fw, tw := sender.Wallet(c), receiver.Wallet(c)
		fw.Balance = fw.Balance.Sub(amount.Add(tax))
		fw.Sent = fw.Sent.Add(amount)
		fw.SentToday++
		fw.LastTransfer = now
		tw.Balance = tw.Balance.Add(amount)
		tw.Received = tw.Received.Add(amount)
		res.PostBalance = fw.Balance
		return true
	})
	if err != nil {
		log.Printf("[ERROR] transfer %s -> %s: %v", from, to, err)
		return Fail(CodeAccountUnavailable)
	}
	if res.Success {
		p.sink(c, res.Tax)
	}
	return res
}

// checkTransfer runs the sender-side checks in order. On success the result
// carries the pre-balance and tax; the caller applies the change.
func checkTransfer(w *model.Wallet, pol model.RankPolicy, enabled bool, amount decimal.Decimal, applyTax bool, now time.Time) (Result, decimal.Decimal) {
	fail := func(code Code) (Result, decimal.Decimal) {
		r := Fail(code)
		r.PreBalance, r.PostBalance = w.Balance, w.Balance
		return r, decimal.Zero
	}
	if !enabled || !pol.Enabled {
		return fail(CodeCurrencyDisabled)
	}
	amount = money.Floor(amount)
	if amount.Sign() <= 0 {
		return fail(CodeInvalidAmount)
	}
	if amount.LessThan(pol.MinTransfer) {
		return fail(CodeBelowMinimum)
	}
	if pol.MaxTransfer.Sign() > 0 && amount.GreaterThan(pol.MaxTransfer) {
		return fail(CodeAboveMaximum)
	}
	if w.Balance.LessThan(amount) {
		return fail(CodeInsufficientFunds)
	}
	tax := decimal.Zero
	if applyTax {
		tax = money.Percent(amount, pol.TransferTax)
	}
	if w.Balance.LessThan(amount.Add(tax)) {
		return fail(CodeInsufficientFundsWithTax)
	}
	if pol.DailyTransferLimit > 0 && w.SentToday >= pol.DailyTransferLimit {
		return fail(CodeDailyLimitReached)
	}
	if !w.LastTransfer.IsZero() {
		if until := w.LastTransfer.Add(pol.TransferCooldown); now.Before(until) {
			r, _ := fail(CodeCooldownActive)
			r.Retry = until.Sub(now)
			return r, decimal.Zero
		}
	}
	r := Result{Success: true, Code: CodeOK, PreBalance: w.Balance, Tax: tax}
	return r, tax
}

// Convert exchanges amount of one currency into another for a single account.
// The rank's conversion tax is charged on top of amount in the source currency.
func (p *Processor) Convert(ctx context.Context, id uuid.UUID, from, to model.Currency, amount decimal.Decimal) Result {
	return p.observe("convert", p.convert(ctx, id, from, to, amount))
}

func (p *Processor) convert(ctx context.Context, id uuid.UUID, from, to model.Currency, amount decimal.Decimal) Result {
	if id == uuid.Nil {
		return Fail(CodeNotFound)
	}
	if from == to {
		return Fail(CodeSameCurrency)
	}
	rules := p.rules.Load()
	if !rules.Currencies.Enabled(from) || !rules.Currencies.Enabled(to) {
		return Fail(CodeCurrencyDisabled)
	}
	rank := p.policy.Rank(ctx, id)
	pol := rank.For(from)
	if !pol.Enabled || !rank.For(to).Enabled {
		return Fail(CodeCurrencyDisabled)
	}
	if !rank.ConversionEnabled {
		return Fail(CodeConversionDisabled)
	}
	amount = money.Floor(amount)
	switch {
	case amount.Sign() <= 0:
		return Fail(CodeInvalidAmount)
	case amount.LessThan(pol.MinTransfer):
		return Fail(CodeBelowMinimum)
	case pol.MaxTransfer.Sign() > 0 && amount.GreaterThan(pol.MaxTransfer):
		return Fail(CodeAboveMaximum)
	}
	converted := rules.Rates.Convert(from, to, amount)
	tax := money.Percent(amount, rank.ConversionTax)

	var res Result
	err := p.cache.Update(ctx, []uuid.UUID{id}, func(accts map[uuid.UUID]*model.Account) bool {
		fw, tw := accts[id].Wallet(from), accts[id].Wallet(to)
		res = Result{PreBalance: fw.Balance, PostBalance: fw.Balance}
		switch {
		case fw.Balance.LessThan(amount):
			res.Code = CodeInsufficientFunds
			return false
		case fw.Balance.LessThan(amount.Add(tax)):
			res.Code = CodeInsufficientFundsWithTax
			return false
		case converted.Sign() <= 0:
			res.Code = CodeConversionTooSmall
			return false
		}
		fw.Balance = fw.Balance.Sub(amount.Add(tax))
		tw.Balance = tw.Balance.Add(converted)
		res.Success, res.Code = true, CodeOK
		res.PostBalance, res.Tax, res.Converted = fw.Balance, tax, converted
		return true
	})
	if err != nil {
		log.Printf("[ERROR] convert %s: %v", id, err)
		return Fail(CodeAccountUnavailable)
	}
	if res.Success {
		p.sink(from, tax)
	}
	return res
}
