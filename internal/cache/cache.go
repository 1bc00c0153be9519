package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"RealmLedger/internal/metrics"
	"RealmLedger/internal/model"
	"RealmLedger/internal/storage"
)

const saveTimeout = 30 * time.Second

// Options tunes the cache. Zero values get defaults.
type Options struct {
	Workers    int
	QueueSize  int
	Currencies func() model.CurrencyTable
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type entry struct {
	mu      sync.Mutex
	acct    *model.Account
	evicted bool

	saveMu sync.Mutex // serializes writes of this account
	queued atomic.Bool
	dirty  atomic.Bool
	used   atomic.Int64 // unix nanos of the last Update
}

// waitEvicted blocks until an in-flight eviction has saved and unlinked e.
func (e *entry) waitEvicted() {
	e.saveMu.Lock()
	e.saveMu.Unlock()
}

// Cache holds loaded accounts in memory and writes them through to a backend
// asynchronously. Mutations always go through Update so that every account is
// changed under its own lock.
type Cache struct {
	backend    storage.Backend
	currencies func() model.CurrencyTable
	metrics    *metrics.Metrics
	now        func() time.Time

	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
	loads   singleflight.Group

	queue     chan *entry
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a cache over backend and starts its persistence workers.
func New(backend storage.Backend, opts Options) *Cache {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Currencies == nil {
		opts.Currencies = model.DefaultCurrencies
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Cache{
		backend:    backend,
		currencies: opts.Currencies,
		metrics:    opts.Metrics,
		now:        opts.Now,
		entries:    make(map[uuid.UUID]*entry),
		queue:      make(chan *entry, opts.QueueSize),
		done:       make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for {
		select {
		case e := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			c.persist(ctx, e)
			cancel()
		case <-c.done:
			return
		}
	}
}

// load returns the entry for id, reading or creating the account on a miss.
// Concurrent misses for the same id share one backend read.
func (c *Cache) load(ctx context.Context, id uuid.UUID) (*entry, error) {
	c.mu.RLock()
	e := c.entries[id]
	c.mu.RUnlock()
	if e != nil {
		return e, nil
	}

	v, err, _ := c.loads.Do(id.String(), func() (any, error) {
		c.mu.RLock()
		e := c.entries[id]
		c.mu.RUnlock()
		if e != nil {
			return e, nil
		}

		acct, err := c.backend.Load(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			acct = model.NewAccount(id, "", c.currencies(), c.now())
			if err := c.backend.Save(ctx, acct); err != nil {
				log.Printf("[ERROR] persist new account %s: %v", id, err)
				c.metrics.PersistFailed()
			}
			log.Printf("[INFO] created account %s", id)
		case err != nil:
			return nil, fmt.Errorf("load account %s: %w", id, err)
		}
		for _, cur := range model.Currencies {
			acct.Wallet(cur)
		}

		e = &entry{acct: acct}
		e.used.Store(c.now().UnixNano())
		c.mu.Lock()
		if existing := c.entries[id]; existing != nil {
			e = existing
		} else {
			c.entries[id] = e
		}
		n := len(c.entries)
		c.mu.Unlock()
		c.metrics.SetLoaded(n)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

// Update locks the named accounts in UUID order, loading them if needed, and
// runs fn with every account keyed by id. If fn reports a change, the accounts
// are queued for persistence. Duplicate ids are locked once.
func (c *Cache) Update(ctx context.Context, ids []uuid.UUID, fn func(accts map[uuid.UUID]*model.Account) bool) error {
	ids = sortedUnique(ids)
	for {
		entries := make([]*entry, len(ids))
		for i, id := range ids {
			e, err := c.load(ctx, id)
			if err != nil {
				return err
			}
			entries[i] = e
		}

		var stale *entry
		locked := 0
		for _, e := range entries {
			e.mu.Lock()
			locked++
			if e.evicted {
				stale = e
				break
			}
		}
		if stale != nil {
			for _, e := range entries[:locked] {
				e.mu.Unlock()
			}
			stale.waitEvicted()
			continue
		}

		now := c.now().UnixNano()
		accts := make(map[uuid.UUID]*model.Account, len(entries))
		for i, e := range entries {
			e.used.Store(now)
			accts[ids[i]] = e.acct
		}
		changed := fn(accts)
		for _, e := range entries {
			if changed {
				e.dirty.Store(true)
			}
			e.mu.Unlock()
		}
		if changed {
			for _, e := range entries {
				c.enqueue(e)
			}
		}
		return nil
	}
}

// UpdateLoaded runs fn on id only if it is in memory and reports whether it
// ran. It never loads, and it does not count as use for idle eviction.
func (c *Cache) UpdateLoaded(id uuid.UUID, fn func(acct *model.Account) bool) bool {
	c.mu.RLock()
	e := c.entries[id]
	c.mu.RUnlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return false
	}
	changed := fn(e.acct)
	if changed {
		e.dirty.Store(true)
	}
	e.mu.Unlock()
	if changed {
		c.enqueue(e)
	}
	return true
}

// View runs fn with the account locked. fn must not retain or modify acct.
func (c *Cache) View(ctx context.Context, id uuid.UUID, fn func(acct *model.Account)) error {
	return c.Update(ctx, []uuid.UUID{id}, func(accts map[uuid.UUID]*model.Account) bool {
		fn(accts[id])
		return false
	})
}

// Get returns a copy of the account, loading or creating it first.
func (c *Cache) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	var cp *model.Account
	err := c.View(ctx, id, func(acct *model.Account) {
		cp = acct.Clone()
	})
	return cp, err
}

// Touch records a player join: name and last-seen time.
func (c *Cache) Touch(ctx context.Context, id uuid.UUID, name string) error {
	return c.Update(ctx, []uuid.UUID{id}, func(accts map[uuid.UUID]*model.Account) bool {
		a := accts[id]
		if name != "" {
			a.Name = name
		}
		a.LastSeen = c.now()
		return true
	})
}

// MarkDirty queues a loaded account for an asynchronous save.
func (c *Cache) MarkDirty(id uuid.UUID) {
	c.mu.RLock()
	e := c.entries[id]
	c.mu.RUnlock()
	if e == nil {
		return
	}
	e.dirty.Store(true)
	c.enqueue(e)
}

func (c *Cache) enqueue(e *entry) {
	if !e.queued.CompareAndSwap(false, true) {
		return
	}
	select {
	case c.queue <- e:
	case <-c.done:
		e.queued.Store(false)
	}
}

// persist writes a snapshot of e. Failures are logged and counted, and the
// entry stays dirty for the next flush.
func (c *Cache) persist(ctx context.Context, e *entry) error {
	e.queued.Store(false)
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	// An evicted entry was already written by Evict; a later write could
	// overwrite a newer copy loaded since.
	e.mu.Lock()
	evicted := e.evicted
	e.mu.Unlock()
	if evicted {
		return nil
	}
	return c.save(ctx, e)
}

// save must be called with e.saveMu held.
func (c *Cache) save(ctx context.Context, e *entry) error {
	e.dirty.Store(false)
	e.mu.Lock()
	snap := e.acct.Clone()
	e.mu.Unlock()

	start := time.Now()
	err := c.backend.Save(ctx, snap)
	c.metrics.ObserveSave(time.Since(start))
	if err != nil {
		e.dirty.Store(true)
		c.metrics.PersistFailed()
		log.Printf("[ERROR] save account %s: %v", snap.ID, err)
		return fmt.Errorf("save account %s: %w", snap.ID, err)
	}
	return nil
}

// Flush synchronously saves one loaded account.
func (c *Cache) Flush(ctx context.Context, id uuid.UUID) error {
	c.mu.RLock()
	e := c.entries[id]
	c.mu.RUnlock()
	if e == nil {
		return nil
	}
	return c.persist(ctx, e)
}

// FlushAll synchronously saves every dirty account and returns how many
// saves failed.
func (c *Cache) FlushAll(ctx context.Context) int {
	failed := 0
	for _, e := range c.snapshotEntries() {
		if !e.dirty.Load() {
			continue
		}
		if err := c.persist(ctx, e); err != nil {
			failed++
		}
	}
	return failed
}

// Evict saves the account synchronously and drops it from memory. The entry is
// unlinked even if the save fails; the failure is logged and returned.
func (c *Cache) Evict(ctx context.Context, id uuid.UUID) error {
	c.mu.RLock()
	e := c.entries[id]
	c.mu.RUnlock()
	if e == nil {
		return nil
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	e.evicted = true
	e.mu.Unlock()

	err := c.save(ctx, e)

	c.mu.Lock()
	if c.entries[id] == e {
		delete(c.entries, id)
	}
	n := len(c.entries)
	c.mu.Unlock()
	c.metrics.SetLoaded(n)
	return err
}

// EvictIdle evicts every account not updated within idle and returns the
// evicted ids. Failed saves are logged by Evict; the account is dropped anyway.
func (c *Cache) EvictIdle(ctx context.Context, idle time.Duration) []uuid.UUID {
	cutoff := c.now().Add(-idle).UnixNano()
	var out []uuid.UUID
	for _, id := range c.LoadedIDs() {
		c.mu.RLock()
		e := c.entries[id]
		c.mu.RUnlock()
		if e == nil || e.used.Load() > cutoff {
			continue
		}
		c.Evict(ctx, id)
		out = append(out, id)
	}
	return out
}

// Loaded returns copies of every account currently in memory.
func (c *Cache) Loaded() []*model.Account {
	entries := c.snapshotEntries()
	out := make([]*model.Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted {
			out = append(out, e.acct.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// LoadedIDs lists the ids currently in memory.
func (c *Cache) LoadedIDs() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// IsLoaded reports whether id is in memory.
func (c *Cache) IsLoaded(id uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Close stops the workers and flushes every dirty account.
func (c *Cache) Close(ctx context.Context) int {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	failed := c.FlushAll(ctx)
	log.Printf("[INFO] account cache closed (%d accounts, %d failed saves)", len(c.LoadedIDs()), failed)
	return failed
}

func (c *Cache) snapshotEntries() []*entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
