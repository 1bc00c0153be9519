package policy

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"RealmLedger/internal/model"
)

const rankCacheSize = 4096

// RankSource reports a player's primary permission group. An empty id means
// the player has none.
type RankSource interface {
	PrimaryRank(ctx context.Context, player uuid.UUID) (string, error)
}

// Assignments is an in-memory RankSource.
type Assignments struct {
	mu    sync.RWMutex
	ranks map[uuid.UUID]string
}

func NewAssignments() *Assignments {
	return &Assignments{ranks: make(map[uuid.UUID]string)}
}

func (a *Assignments) Set(player uuid.UUID, rank string) {
	a.mu.Lock()
	a.ranks[player] = rank
	a.mu.Unlock()
}

func (a *Assignments) PrimaryRank(_ context.Context, player uuid.UUID) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ranks[player], nil
}

type table struct {
	ranks    map[string]model.Rank
	fallback string
}

// Resolver maps players to the rank policy that applies to them.
type Resolver struct {
	source RankSource
	table  atomic.Pointer[table]
	cache  *expirable.LRU[uuid.UUID, string]
}

// NewResolver builds a resolver over ranks. ttl bounds how long a player's
// resolved rank id is reused.
func NewResolver(source RankSource, ranks map[string]model.Rank, fallback string, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	r := &Resolver{
		source: source,
		cache:  expirable.NewLRU[uuid.UUID, string](rankCacheSize, nil, ttl),
	}
	r.Reload(ranks, fallback)
	return r
}

// Reload swaps in a new rank table and drops cached assignments.
func (r *Resolver) Reload(ranks map[string]model.Rank, fallback string) {
	t := &table{ranks: make(map[string]model.Rank, len(ranks)), fallback: strings.ToLower(fallback)}
	for id, rank := range ranks {
		t.ranks[strings.ToLower(id)] = rank
	}
	r.table.Store(t)
	r.cache.Purge()
	log.Printf("[INFO] rank table loaded: %d ranks, fallback=%q", len(t.ranks), t.fallback)
}

// Rank returns the player's rank: their primary group if configured, else the
// fallback rank, else the built-in default.
func (r *Resolver) Rank(ctx context.Context, player uuid.UUID) model.Rank {
	t := r.table.Load()
	if rank, ok := t.ranks[r.rankID(ctx, player)]; ok {
		return rank
	}
	if rank, ok := t.ranks[t.fallback]; ok {
		return rank
	}
	return model.DefaultRank()
}

// Resolve returns the player's rules for one currency.
func (r *Resolver) Resolve(ctx context.Context, player uuid.UUID, c model.Currency) model.RankPolicy {
	return r.Rank(ctx, player).Policy(c)
}

func (r *Resolver) rankID(ctx context.Context, player uuid.UUID) string {
	if id, ok := r.cache.Get(player); ok {
		return id
	}
	if r.source == nil {
		return ""
	}
	id, err := r.source.PrimaryRank(ctx, player)
	if err != nil {
		log.Printf("[WARN] rank lookup for %s: %v", player, err)
		return ""
	}
	id = strings.ToLower(id)
	r.cache.Add(player, id)
	return id
}

// Invalidate forgets the cached rank of one player.
func (r *Resolver) Invalidate(player uuid.UUID) {
	r.cache.Remove(player)
}

// InvalidateAll forgets every cached rank.
func (r *Resolver) InvalidateAll() {
	r.cache.Purge()
}
