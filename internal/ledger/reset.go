package ledger

import (
	"context"
	"log"

	"RealmLedger/internal/model"
)

// DailyReset zeroes the daily counters of every loaded wallet whose last reset
// was on an earlier calendar day, and returns how many wallets were reset.
// Each account is locked on its own, so a sweep never holds more than one lock.
func (p *Processor) DailyReset(ctx context.Context) int {
	today := p.today()
	total := 0
	for _, id := range p.cache.LoadedIDs() {
		if ctx.Err() != nil {
			break
		}
		// Accounts evicted since the listing are skipped, not reloaded.
		p.cache.UpdateLoaded(id, func(acct *model.Account) bool {
			n := acct.RollDay(today)
			total += n
			return n > 0
		})
	}
	if total > 0 {
		p.metrics.AddResets(total)
		log.Printf("[INFO] daily reset: %d wallets rolled to %s", total, today)
	}
	return total
}
