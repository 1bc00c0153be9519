package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"RealmLedger/internal/cache"
	"RealmLedger/internal/ledger"
	"RealmLedger/internal/model"
	"RealmLedger/internal/recorder"
	"RealmLedger/internal/request"
)

// Job names.
const (
	JobDailyReset   = "daily-reset"
	JobRequestSweep = "request-sweep"
	JobAutosave     = "autosave"
	JobSnapshot     = "snapshot"
	JobEvictIdle    = "evict-idle"
)

// Specs holds the cron spec of each ledger job.
type Specs struct {
	DailyReset   string
	RequestSweep string
	Autosave     string
	Snapshot     string
	EvictIdle    string
}

// Tasks are the ledger's periodic jobs.
type Tasks struct {
	Ctx      context.Context
	Ledger   *ledger.Processor
	Requests *request.Negotiator
	Cache    *cache.Cache
	Recorder recorder.Recorder
	Idle     time.Duration // accounts unused this long are evicted
}

// RegisterAll registers every ledger job. An empty EvictIdle spec leaves idle
// eviction to the host.
func (s *Scheduler) RegisterAll(t *Tasks, specs Specs) error {
	jobs := []struct {
		name, spec string
		fn         func()
	}{
		{JobDailyReset, specs.DailyReset, t.DailyReset},
		{JobRequestSweep, specs.RequestSweep, t.SweepRequests},
		{JobAutosave, specs.Autosave, t.Autosave},
		{JobSnapshot, specs.Snapshot, t.Snapshot},
	}
	if specs.EvictIdle != "" {
		jobs = append(jobs, struct {
			name, spec string
			fn         func()
		}{JobEvictIdle, specs.EvictIdle, t.EvictIdle})
	}
	for _, j := range jobs {
		if err := s.Register(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tasks) DailyReset() {
	t.Ledger.DailyReset(t.Ctx)
}

func (t *Tasks) SweepRequests() {
	t.Requests.Sweep(t.Ctx)
}

func (t *Tasks) Autosave() {
	start := time.Now()
	failed := t.Cache.FlushAll(t.Ctx)
	if failed > 0 {
		log.Printf("[WARN] autosave: %d accounts failed to save", failed)
		return
	}
	log.Printf("[INFO] autosave done in %v", time.Since(start).Round(time.Millisecond))
}

// EvictIdle drops idle accounts from memory and cancels their pending
// requests, the way a player quitting would.
func (t *Tasks) EvictIdle() {
	if t.Idle <= 0 {
		return
	}
	evicted := t.Cache.EvictIdle(t.Ctx, t.Idle)
	cancelled := 0
	for _, id := range evicted {
		cancelled += t.Requests.Disconnect(t.Ctx, id)
	}
	if len(evicted) > 0 {
		log.Printf("[INFO] evicted %d idle accounts, cancelled %d requests", len(evicted), cancelled)
	}
}

// Snapshot records circulating supply of the loaded accounts and the tax sunk
// since the previous snapshot.
func (t *Tasks) Snapshot() {
	snap := BuildSnapshot(t.Ledger.LoadedAccounts(), t.Ledger.TakeTaxSunk(), t.Ledger.Now())
	if err := t.Recorder.RecordSnapshot(snap); err != nil {
		log.Printf("[ERROR] record snapshot: %v", err)
		return
	}
	log.Printf("[INFO] economy snapshot recorded (%d accounts)", snap.Accounts)
}

// BuildSnapshot sums balances per currency.
func BuildSnapshot(accts []*model.Account, taxSunk map[model.Currency]decimal.Decimal, now time.Time) *recorder.EconomySnapshot {
	snap := &recorder.EconomySnapshot{Taken: now, Accounts: len(accts)}
	for _, c := range model.Currencies {
		supply := decimal.Zero
		for _, a := range accts {
			supply = supply.Add(a.Balance(c))
		}
		snap.Currencies = append(snap.Currencies, recorder.CurrencySnapshot{
			Currency: string(c),
			Supply:   supply,
			TaxSunk:  taxSunk[c],
		})
	}
	return snap
}
