package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RealmLedger/internal/model"
)

func vipRank() model.Rank {
	r := model.DefaultRank()
	r.ID = "vip"
	p := r.Currencies[model.Money]
	p.TransferTax = decimal.NewFromInt(1)
	r.Currencies[model.Money] = p
	return r
}

func TestResolve_FallbackChain(t *testing.T) {
	ctx := context.Background()
	src := NewAssignments()
	vip, guest, ghost := uuid.New(), uuid.New(), uuid.New()
	src.Set(vip, "VIP")
	src.Set(ghost, "missing-rank")

	guestRank := model.DefaultRank()
	guestRank.ID = "guest"
	ranks := map[string]model.Rank{"vip": vipRank(), "guest": guestRank}
	r := NewResolver(src, ranks, "guest", time.Minute)

	tests := []struct {
		name   string
		player uuid.UUID
		want   string
	}{
		{"configured rank", vip, "vip"},
		{"no rank", guest, "guest"},
		{"unknown rank", ghost, "guest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Rank(ctx, tt.player).ID; got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	if tax := r.Resolve(ctx, vip, model.Money).TransferTax; !tax.Equal(decimal.NewFromInt(1)) {
		t.Errorf("vip money tax: got %s", tax)
	}
}

func TestResolve_BuiltInDefault(t *testing.T) {
	r := NewResolver(nil, nil, "nope", time.Minute)
	p := r.Resolve(context.Background(), uuid.New(), model.Gem)
	if p.RankID != "default" || !p.TransferTax.Equal(decimal.NewFromInt(5)) {
		t.Errorf("unexpected default policy: %+v", p)
	}
	if !p.ConversionTax.Equal(decimal.NewFromInt(3)) {
		t.Errorf("conversion tax: got %s", p.ConversionTax)
	}
}

type countingSource struct {
	calls int
	rank  string
	err   error
}

func (s *countingSource) PrimaryRank(context.Context, uuid.UUID) (string, error) {
	s.calls++
	return s.rank, s.err
}

func TestResolve_CachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{rank: "vip"}
	r := NewResolver(src, map[string]model.Rank{"vip": vipRank()}, "", time.Minute)
	p := uuid.New()

	r.Rank(ctx, p)
	r.Rank(ctx, p)
	if src.calls != 1 {
		t.Fatalf("expected 1 lookup, got %d", src.calls)
	}
	r.Invalidate(p)
	r.Rank(ctx, p)
	if src.calls != 2 {
		t.Fatalf("expected lookup after invalidate, got %d", src.calls)
	}
	r.Reload(map[string]model.Rank{"vip": vipRank()}, "")
	r.Rank(ctx, p)
	if src.calls != 3 {
		t.Fatalf("expected lookup after reload, got %d", src.calls)
	}
}

func TestResolve_SourceErrorNotCached(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{err: errors.New("permissions offline")}
	r := NewResolver(src, nil, "", time.Minute)
	p := uuid.New()
	r.Rank(ctx, p)
	r.Rank(ctx, p)
	if src.calls != 2 {
		t.Errorf("failed lookups should not be cached, got %d calls", src.calls)
	}
}
