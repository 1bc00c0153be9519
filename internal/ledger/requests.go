package ledger

import (
	"context"
	"log"

	"github.com/google/uuid"

	"RealmLedger/internal/model"
)

// ReserveRequest charges one payment request against the requester's daily
// request limit and starts the request cooldown. It moves no funds.
func (p *Processor) ReserveRequest(ctx context.Context, requester uuid.UUID, c model.Currency) Result {
	return p.observe("request", p.reserveRequest(ctx, requester, c))
}

func (p *Processor) reserveRequest(ctx context.Context, requester uuid.UUID, c model.Currency) Result {
	if requester == uuid.Nil {
		return Fail(CodeNotFound)
	}
	pol := p.policy.Resolve(ctx, requester, c)
	if !p.Currencies().Enabled(c) || !pol.Enabled {
		return Fail(CodeCurrencyDisabled)
	}
	now := p.now()
	today := now.Format(model.DateLayout)

	var res Result
	err := p.cache.Update(ctx, []uuid.UUID{requester}, func(accts map[uuid.UUID]*model.Account) bool {
		w := accts[requester].Wallet(c)
		rolled := w.RollDay(today)
		if pol.DailyRequestLimit > 0 && w.RequestsToday >= pol.DailyRequestLimit {
			res = Fail(CodeDailyLimitReached)
			return rolled
		}
		if !w.LastRequest.IsZero() {
			if until := w.LastRequest.Add(pol.RequestCooldown); now.Before(until) {
				res = Fail(CodeCooldownActive)
				res.Retry = until.Sub(now)
				return rolled
			}
		}
		w.RequestsToday++
		w.LastRequest = now
		res = succeeded(w.Balance, w.Balance)
		return true
	})
	if err != nil {
		log.Printf("[ERROR] reserve request %s: %v", requester, err)
		return Fail(CodeAccountUnavailable)
	}
	return res
}
