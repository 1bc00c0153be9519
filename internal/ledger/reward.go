package ledger

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RealmLedger/internal/model"
	"RealmLedger/internal/money"
)

// Reward pays a mob-kill reward in mobcoin. Boss kills add the killer's rank
// bonus, floor(base × bonus%).
func (p *Processor) Reward(ctx context.Context, killer uuid.UUID, base decimal.Decimal, boss bool) Result {
	amount := money.Floor(base)
	if boss && killer != uuid.Nil {
		bonus := money.Percent(amount, p.policy.Resolve(ctx, killer, model.MobCoin).BossKillBonus)
		amount = amount.Add(bonus)
	}
	source := "mob kill"
	if boss {
		source = "boss kill"
	}
	return p.observe("reward", p.deposit(ctx, killer, model.MobCoin, amount, source))
}

// Seize moves the victim's whole balance of each listed currency to the
// killer without tax. Disabled currencies are skipped. The returned map holds
// the amount taken per currency.
func (p *Processor) Seize(ctx context.Context, victim, killer uuid.UUID, currencies []model.Currency) (map[model.Currency]decimal.Decimal, Result) {
	seized := make(map[model.Currency]decimal.Decimal, len(currencies))
	if victim == uuid.Nil || killer == uuid.Nil {
		return seized, p.observe("seize", Fail(CodeNotFound))
	}
	if victim == killer {
		return seized, p.observe("seize", Fail(CodeSelfTarget))
	}
	table := p.Currencies()

	err := p.cache.Update(ctx, []uuid.UUID{victim, killer}, func(accts map[uuid.UUID]*model.Account) bool {
		changed := false
		for _, c := range currencies {
			if !table.Enabled(c) {
				continue
			}
			vw := accts[victim].Wallet(c)
			if vw.Balance.Sign() <= 0 {
				continue
			}
			kw := accts[killer].Wallet(c)
			amt := vw.Balance
			vw.Balance = decimal.Zero
			vw.Sent = vw.Sent.Add(amt)
			kw.Balance = kw.Balance.Add(amt)
			kw.Received = kw.Received.Add(amt)
			seized[c] = amt
			changed = true
		}
		return changed
	})
	if err != nil {
		log.Printf("[ERROR] seize %s -> %s: %v", victim, killer, err)
		return seized, p.observe("seize", Fail(CodeAccountUnavailable))
	}
	for c, amt := range seized {
		log.Printf("[INFO] %s seized %s %s from %s", killer, money.Format(amt), c, victim)
	}
	return seized, p.observe("seize", Result{Success: true, Code: CodeOK})
}
