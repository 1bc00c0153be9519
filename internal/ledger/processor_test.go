package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RealmLedger/internal/cache"
	"RealmLedger/internal/model"
	"RealmLedger/internal/policy"
	"RealmLedger/internal/storage"
)

type fixture struct {
	p      *Processor
	cache  *cache.Cache
	ranks  *policy.Assignments
	clock  time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fastRank has no cooldowns or daily limits and a 10% boss bonus.
func fastRank() model.Rank {
	r := model.DefaultRank()
	r.ID = "fast"
	for c, p := range r.Currencies {
		p.TransferCooldown = 0
		p.DailyTransferLimit = 0
		if c == model.Money {
			p.MinTransfer = dec("1")
			p.MaxTransfer = dec("1000")
		}
		if c == model.MobCoin {
			p.BossKillBonus = dec("10")
		}
		r.Currencies[c] = p
	}
	return r
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ranks: policy.NewAssignments(),
		clock: time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local),
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())
	now := func() time.Time { return f.clock }

	f.cache = cache.New(storage.NewMemory(), cache.Options{Now: now})
	resolver := policy.NewResolver(f.ranks, map[string]model.Rank{"fast": fastRank()}, "", time.Minute)
	f.p = NewProcessor(f.cache, resolver, Rules{Currencies: model.DefaultCurrencies(), Rates: DefaultRates()}, Options{Now: now})
	t.Cleanup(func() {
		f.cache.Close(context.Background())
		f.cancel()
	})
	return f
}

func (f *fixture) account(t *testing.T, money string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if res := f.p.SetBalance(f.ctx, id, model.Money, dec(money)); !res.Success {
		t.Fatalf("set balance: %s", res.Code)
	}
	return id
}

func (f *fixture) balance(t *testing.T, id uuid.UUID, c model.Currency) decimal.Decimal {
	t.Helper()
	res := f.p.GetBalance(f.ctx, id, c)
	if !res.Success {
		t.Fatalf("get balance: %s", res.Code)
	}
	return res.PostBalance
}

func TestTransfer_TaxIsSunk(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "1000.00")
	b := f.account(t, "250.00")

	res := f.p.Transfer(f.ctx, a, b, model.Money, dec("100.00"), true)
	if !res.Success {
		t.Fatalf("transfer failed: %s", res.Code)
	}
	if !res.Tax.Equal(dec("5")) {
		t.Errorf("tax: got %s", res.Tax)
	}
	if !res.PreBalance.Equal(dec("1000")) || !res.PostBalance.Equal(dec("895")) {
		t.Errorf("pre/post: got %s/%s", res.PreBalance, res.PostBalance)
	}
	if got := f.balance(t, a, model.Money); !got.Equal(dec("895")) {
		t.Errorf("sender: got %s", got)
	}
	if got := f.balance(t, b, model.Money); !got.Equal(dec("350")) {
		t.Errorf("receiver: got %s", got)
	}
	if sunk := f.p.TakeTaxSunk()[model.Money]; !sunk.Equal(dec("5")) {
		t.Errorf("tax sunk: got %s", sunk)
	}
	if len(f.p.TakeTaxSunk()) != 0 {
		t.Error("tax sink not reset after take")
	}
}

func TestTransfer_DailyLimit(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "1000")
	b := f.account(t, "0")

	for i := 0; i < 5; i++ {
		if res := f.p.Transfer(f.ctx, a, b, model.Money, dec("10"), true); !res.Success {
			t.Fatalf("transfer %d: %s", i+1, res.Code)
		}
		f.clock = f.clock.Add(301 * time.Second)
	}
	before := f.balance(t, a, model.Money)

	res := f.p.Transfer(f.ctx, a, b, model.Money, dec("10"), true)
	if res.Code != CodeDailyLimitReached {
		t.Fatalf("expected daily-limit-reached, got %s", res.Code)
	}
	if got := f.balance(t, a, model.Money); !got.Equal(before) {
		t.Errorf("failed transfer changed balance: %s -> %s", before, got)
	}

	// Next calendar day the counter starts over.
	f.clock = f.clock.Add(24 * time.Hour)
	if res := f.p.Transfer(f.ctx, a, b, model.Money, dec("10"), true); !res.Success {
		t.Errorf("transfer on next day: %s", res.Code)
	}
}

func TestTransfer_Cooldown(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "1000")
	b := f.account(t, "0")

	if res := f.p.Transfer(f.ctx, a, b, model.Money, dec("10"), false); !res.Success {
		t.Fatal(res.Code)
	}
	f.clock = f.clock.Add(100 * time.Second)
	res := f.p.Transfer(f.ctx, a, b, model.Money, dec("10"), false)
	if res.Code != CodeCooldownActive {
		t.Fatalf("expected cooldown-active, got %s", res.Code)
	}
	if res.Retry != 200*time.Second {
		t.Errorf("retry: got %v", res.Retry)
	}
	f.clock = f.clock.Add(200 * time.Second)
	if res := f.p.Transfer(f.ctx, a, b, model.Money, dec("10"), false); !res.Success {
		t.Errorf("cooldown did not expire: %s", res.Code)
	}
}

func TestTransfer_ValidationOrder(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "100")
	b := f.account(t, "0")
	fast := f.account(t, "500")
	f.ranks.Set(fast, "fast")

	disabled := model.DefaultCurrencies()
	gem := disabled[model.Gem]
	gem.Enabled = false
	disabled[model.Gem] = gem
	f.p.Reload(Rules{Currencies: disabled, Rates: DefaultRates()})

	tests := []struct {
		name   string
		from   uuid.UUID
		to     uuid.UUID
		cur    model.Currency
		amount string
		want   Code
	}{
		{"nil sender", uuid.Nil, b, model.Money, "1", CodeNotFound},
		{"self", a, a, model.Money, "1", CodeSelfTarget},
		{"disabled currency", a, b, model.Gem, "1", CodeCurrencyDisabled},
		{"zero", a, b, model.Money, "0", CodeInvalidAmount},
		{"negative", a, b, model.Money, "-5", CodeInvalidAmount},
		{"floors to zero", a, b, model.Money, "0.009", CodeInvalidAmount},
		{"below minimum", fast, b, model.Money, "0.5", CodeBelowMinimum},
		{"above maximum", fast, b, model.Money, "1000.01", CodeAboveMaximum},
		{"insufficient", a, b, model.Money, "100.01", CodeInsufficientFunds},
		{"insufficient with tax", a, b, model.Money, "96", CodeInsufficientFundsWithTax},
		{"exact with tax", a, b, model.Money, "95", CodeOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.p.Transfer(f.ctx, tt.from, tt.to, tt.cur, dec(tt.amount), true)
			if res.Code != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.Code)
			}
		})
	}
	if got := f.balance(t, a, model.Money); !got.Equal(dec("0.25")) {
		t.Errorf("after exact transfer: got %s", got)
	}
}

func TestTransfer_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "1000")
	f.ranks.Set(a, "fast")

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.p.Transfer(f.ctx, a, uuid.New(), model.Money, dec("10"), false)
			if res.Success {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 100 {
		t.Errorf("expected 100 successful transfers, got %d", succeeded.Load())
	}
	if got := f.balance(t, a, model.Money); !got.IsZero() {
		t.Errorf("sender balance: got %s", got)
	}
}

func TestConvert(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "20000")

	res := f.p.Convert(f.ctx, a, model.Money, model.Gem, dec("10000"))
	if !res.Success {
		t.Fatalf("convert: %s", res.Code)
	}
	if !res.Tax.Equal(dec("300")) || !res.Converted.Equal(dec("1")) {
		t.Errorf("tax/converted: got %s/%s", res.Tax, res.Converted)
	}
	if got := f.balance(t, a, model.Money); !got.Equal(dec("9700")) {
		t.Errorf("money: got %s", got)
	}
	if got := f.balance(t, a, model.Gem); !got.Equal(dec("6")) {
		t.Errorf("gem: got %s", got)
	}
}

func TestConvert_Failures(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "100")

	tests := []struct {
		name     string
		from, to model.Currency
		amount   string
		want     Code
	}{
		{"same currency", model.Money, model.Money, "10", CodeSameCurrency},
		{"invalid amount", model.Money, model.Gem, "0", CodeInvalidAmount},
		{"insufficient", model.Money, model.Gem, "200", CodeInsufficientFunds},
		{"insufficient with tax", model.Money, model.MobCoin, "99", CodeInsufficientFundsWithTax},
		{"too small", model.Money, model.Gem, "50", CodeConversionTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := f.p.Convert(f.ctx, a, tt.from, tt.to, dec(tt.amount)); res.Code != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.Code)
			}
		})
	}
	if got := f.balance(t, a, model.Money); !got.Equal(dec("100")) {
		t.Errorf("failed conversions changed balance: %s", got)
	}
}

func TestConvert_RoundTripLosesValue(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "1000")

	first := f.p.Convert(f.ctx, a, model.Money, model.MobCoin, dec("1000"))
	if first.Code != CodeInsufficientFundsWithTax {
		t.Fatalf("expected tax to block full conversion, got %s", first.Code)
	}
	first = f.p.Convert(f.ctx, a, model.Money, model.MobCoin, dec("900"))
	if !first.Success || !first.Converted.Equal(dec("9")) {
		t.Fatalf("money->mobcoin: %s %s", first.Code, first.Converted)
	}
	back := f.p.Convert(f.ctx, a, model.MobCoin, model.Money, first.Converted)
	if !back.Success {
		t.Fatalf("mobcoin->money: %s", back.Code)
	}
	if !back.Converted.LessThanOrEqual(dec("900")) {
		t.Errorf("round trip gained value: %s", back.Converted)
	}
	if got := f.balance(t, a, model.Money); !got.LessThan(dec("1000")) {
		t.Errorf("round trip should cost tax, money=%s", got)
	}
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "10")

	if res := f.p.Deposit(f.ctx, a, model.Money, dec("5.239"), "test"); !res.Success || !res.PostBalance.Equal(dec("15.23")) {
		t.Fatalf("deposit: %s %s", res.Code, res.PostBalance)
	}
	if res := f.p.Deposit(f.ctx, a, model.Money, dec("0"), "test"); res.Code != CodeInvalidAmount {
		t.Errorf("zero deposit: %s", res.Code)
	}
	if res := f.p.Withdraw(f.ctx, a, model.Money, dec("20"), "test"); res.Code != CodeInsufficientFunds {
		t.Errorf("overdraw: %s", res.Code)
	}
	if res := f.p.Withdraw(f.ctx, a, model.Money, dec("15.23"), "test"); !res.Success || !res.PostBalance.IsZero() {
		t.Errorf("withdraw all: %s %s", res.Code, res.PostBalance)
	}
	if !f.p.HasBalance(f.ctx, a, model.Money, decimal.Zero) || f.p.HasBalance(f.ctx, a, model.Money, dec("0.01")) {
		t.Error("HasBalance disagrees with balance")
	}
	if res := f.p.SetBalance(f.ctx, a, model.Money, dec("-1")); res.Code != CodeInvalidAmount {
		t.Errorf("negative set: %s", res.Code)
	}
}

func TestReward_BossBonus(t *testing.T) {
	f := newFixture(t)
	a := uuid.New()
	f.ranks.Set(a, "fast")

	if res := f.p.Reward(f.ctx, a, dec("100"), true); !res.Success {
		t.Fatal(res.Code)
	}
	if got := f.balance(t, a, model.MobCoin); !got.Equal(dec("610")) {
		t.Errorf("expected 500 + 110, got %s", got)
	}
	f.p.Reward(f.ctx, a, dec("100"), false)
	if got := f.balance(t, a, model.MobCoin); !got.Equal(dec("710")) {
		t.Errorf("expected plain reward, got %s", got)
	}
}

func TestSeize(t *testing.T) {
	f := newFixture(t)
	victim := f.account(t, "300")
	killer := f.account(t, "100")

	seized, res := f.p.Seize(f.ctx, victim, killer, []model.Currency{model.Money, model.Gem})
	if !res.Success {
		t.Fatal(res.Code)
	}
	if !seized[model.Money].Equal(dec("300")) || !seized[model.Gem].Equal(dec("5")) {
		t.Errorf("seized: %v", seized)
	}
	if got := f.balance(t, killer, model.Money); !got.Equal(dec("400")) {
		t.Errorf("killer money: %s", got)
	}
	if got := f.balance(t, victim, model.MobCoin); !got.Equal(dec("500")) {
		t.Errorf("unlisted currency was taken: %s", got)
	}
	if _, res := f.p.Seize(f.ctx, victim, victim, model.Currencies); res.Code != CodeSelfTarget {
		t.Errorf("self seize: %s", res.Code)
	}
}

func TestDailyReset_ExactlyOnceAcrossGap(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "1000")
	b := f.account(t, "0")
	f.p.Transfer(f.ctx, a, b, model.Money, dec("10"), true)

	if n := f.p.DailyReset(f.ctx); n != 0 {
		t.Fatalf("same-day sweep reset %d wallets", n)
	}

	f.clock = f.clock.Add(72 * time.Hour)
	if n := f.p.DailyReset(f.ctx); n != 6 {
		t.Errorf("expected 6 wallets reset (2 accounts x 3 currencies), got %d", n)
	}
	for i := 0; i < 5; i++ {
		if n := f.p.DailyReset(f.ctx); n != 0 {
			t.Fatalf("sweep %d reset again: %d", i, n)
		}
	}
	acct, _ := f.cache.Get(f.ctx, a)
	if acct.Wallet(model.Money).SentToday != 0 {
		t.Error("counter not zeroed")
	}
}

func TestDailyReset_SkipsEvictedAccounts(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "1000")
	b := f.account(t, "0")
	f.p.Transfer(f.ctx, a, b, model.Money, dec("10"), true)
	if err := f.cache.Evict(f.ctx, a); err != nil {
		t.Fatal(err)
	}

	f.clock = f.clock.Add(24 * time.Hour)
	if n := f.p.DailyReset(f.ctx); n != 3 {
		t.Errorf("expected 3 wallets reset, got %d", n)
	}
	if f.cache.IsLoaded(a) {
		t.Error("daily reset reloaded an evicted account")
	}
}

func TestConvert_RankDisabledCurrency(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "100000")

	noGem := model.DefaultRank()
	noGem.ID = "nogem"
	p := noGem.Currencies[model.Gem]
	p.Enabled = false
	noGem.Currencies[model.Gem] = p
	f.p.policy.Reload(map[string]model.Rank{"fast": fastRank(), "nogem": noGem}, "")
	f.ranks.Set(a, "nogem")

	if res := f.p.Convert(f.ctx, a, model.Money, model.Gem, dec("10000")); res.Code != CodeCurrencyDisabled {
		t.Errorf("into disabled: expected %s, got %s", CodeCurrencyDisabled, res.Code)
	}
	if res := f.p.Convert(f.ctx, a, model.Gem, model.Money, dec("1")); res.Code != CodeCurrencyDisabled {
		t.Errorf("out of disabled: expected %s, got %s", CodeCurrencyDisabled, res.Code)
	}
	if res := f.p.Convert(f.ctx, a, model.Money, model.MobCoin, dec("100")); !res.Success {
		t.Errorf("enabled pair: %s", res.Code)
	}
}
