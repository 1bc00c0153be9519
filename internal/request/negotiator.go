package request

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RealmLedger/internal/ledger"
	"RealmLedger/internal/metrics"
	"RealmLedger/internal/model"
	"RealmLedger/internal/money"
	"RealmLedger/internal/notifier"
)

// Presence reports whether a player is currently connected.
type Presence interface {
	Online(player uuid.UUID) bool
}

// PresenceFunc adapts a function to Presence.
type PresenceFunc func(player uuid.UUID) bool

func (f PresenceFunc) Online(player uuid.UUID) bool { return f(player) }

// Options configures a Negotiator. Zero values get defaults.
type Options struct {
	Timeout  time.Duration
	Presence Presence
	Notifier notifier.Notifier
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// entry guards one request. Its mutex is held while the request is being
// accepted, denied or expired; state changes happen only under it.
type entry struct {
	mu  sync.Mutex
	req model.TransferRequest
}

// Negotiator tracks payment requests. A target has at most one pending
// request at a time.
type Negotiator struct {
	ledger   *ledger.Processor
	timeout  time.Duration
	presence Presence
	notifier notifier.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	pending map[uuid.UUID]*entry // by target
}

func NewNegotiator(p *ledger.Processor, opts Options) *Negotiator {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.Presence == nil {
		opts.Presence = PresenceFunc(func(uuid.UUID) bool { return true })
	}
	if opts.Notifier == nil {
		opts.Notifier = notifier.LogNotifier{}
	}
	if opts.Now == nil {
		opts.Now = p.Now
	}
	return &Negotiator{
		ledger:   p,
		timeout:  opts.Timeout,
		presence: opts.Presence,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		now:      opts.Now,
		pending:  make(map[uuid.UUID]*entry),
	}
}

// Create asks target to pay amount of c to requester.
func (n *Negotiator) Create(ctx context.Context, requester, target uuid.UUID, c model.Currency, amount decimal.Decimal) (model.TransferRequest, ledger.Result) {
	switch {
	case requester == uuid.Nil || target == uuid.Nil:
		return model.TransferRequest{}, ledger.Fail(ledger.CodeNotFound)
	case requester == target:
		return model.TransferRequest{}, ledger.Fail(ledger.CodeSelfTarget)
	case !n.ledger.Currencies().Enabled(c):
		return model.TransferRequest{}, ledger.Fail(ledger.CodeCurrencyDisabled)
	}
	amount = money.Floor(amount)
	if amount.Sign() <= 0 {
		return model.TransferRequest{}, ledger.Fail(ledger.CodeInvalidAmount)
	}
	if !n.presence.Online(target) {
		return model.TransferRequest{}, ledger.Fail(ledger.CodePlayerOffline)
	}

	now := n.now()
	e := &entry{req: model.TransferRequest{
		ID:        uuid.New(),
		Requester: requester,
		Target:    target,
		Currency:  c,
		Amount:    amount,
		CreatedAt: now,
		State:     model.RequestCreated,
	}}

	// Hold the slot while the requester's limits are checked.
	e.mu.Lock()
	defer e.mu.Unlock()
	n.mu.Lock()
	if cur, ok := n.pending[target]; ok {
		n.mu.Unlock()
		if !n.expireIfStale(ctx, target, cur) {
			return model.TransferRequest{}, ledger.Fail(ledger.CodeRequestPending)
		}
		n.mu.Lock()
		if _, taken := n.pending[target]; taken {
			n.mu.Unlock()
			return model.TransferRequest{}, ledger.Fail(ledger.CodeRequestPending)
		}
	}
	n.pending[target] = e
	n.mu.Unlock()

	if res := n.ledger.ReserveRequest(ctx, requester, c); !res.Success {
		e.req.State = model.RequestCancelled
		n.remove(target, e)
		return model.TransferRequest{}, res
	}

	e.req.State = model.RequestPending
	n.metrics.SetPending(n.Len())
	n.notify(ctx, notifier.RequestReceived, e.req, "")
	return e.req, ledger.Result{Success: true, Code: ledger.CodeOK}
}

// expireIfStale expires e if its timeout has passed and reports whether the
// slot was freed. A request that is busy is left alone.
func (n *Negotiator) expireIfStale(ctx context.Context, target uuid.UUID, e *entry) bool {
	if !e.mu.TryLock() {
		return false
	}
	defer e.mu.Unlock()
	if e.req.State.Terminal() {
		return true
	}
	if e.req.State != model.RequestPending || !e.req.Expired(n.now(), n.timeout) {
		return false
	}
	n.finish(ctx, target, e, model.RequestExpired, notifier.RequestExpired, "")
	return true
}

// lookup returns the entry pending for target, locked.
func (n *Negotiator) lookup(target uuid.UUID) *entry {
	n.mu.Lock()
	e := n.pending[target]
	n.mu.Unlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if e.req.State != model.RequestPending {
		e.mu.Unlock()
		return nil
	}
	return e
}

// Accept pays the request pending for target. The transfer runs with target
// as sender under target's rank. A failed transfer leaves the request pending.
func (n *Negotiator) Accept(ctx context.Context, target uuid.UUID) ledger.Result {
	e := n.lookup(target)
	if e == nil {
		return ledger.Fail(ledger.CodeNotFound)
	}
	defer e.mu.Unlock()

	if e.req.Expired(n.now(), n.timeout) {
		n.finish(ctx, target, e, model.RequestExpired, notifier.RequestExpired, "")
		return ledger.Fail(ledger.CodeRequestExpired)
	}
	if !n.presence.Online(e.req.Requester) || !n.presence.Online(target) {
		n.finish(ctx, target, e, model.RequestCancelled, notifier.RequestCancelled, "player offline")
		return ledger.Fail(ledger.CodePlayerOffline)
	}

	res := n.ledger.Transfer(ctx, target, e.req.Requester, e.req.Currency, e.req.Amount, true)
	if !res.Success {
		return res
	}
	n.finish(ctx, target, e, model.RequestAccepted, notifier.RequestAccepted, "")
	return res
}

// Deny drops the request pending for target. No funds move.
func (n *Negotiator) Deny(ctx context.Context, target uuid.UUID) ledger.Result {
	e := n.lookup(target)
	if e == nil {
		return ledger.Fail(ledger.CodeNotFound)
	}
	defer e.mu.Unlock()

	if !n.presence.Online(e.req.Requester) || !n.presence.Online(target) {
		n.finish(ctx, target, e, model.RequestCancelled, notifier.RequestCancelled, "player offline")
		return ledger.Fail(ledger.CodePlayerOffline)
	}
	n.finish(ctx, target, e, model.RequestDenied, notifier.RequestDenied, "")
	return ledger.Result{Success: true, Code: ledger.CodeOK}
}

// Disconnect cancels every pending request the player is part of.
func (n *Negotiator) Disconnect(ctx context.Context, player uuid.UUID) int {
	cancelled := 0
	for target, e := range n.snapshot() {
		if e.req.Requester != player && target != player {
			continue
		}
		e.mu.Lock()
		if e.req.State == model.RequestPending {
			n.finish(ctx, target, e, model.RequestCancelled, notifier.RequestCancelled, "player left")
			cancelled++
		}
		e.mu.Unlock()
	}
	return cancelled
}

// Sweep expires every pending request older than the timeout and returns how
// many it expired. Requests busy in another operation are skipped until the
// next sweep.
func (n *Negotiator) Sweep(ctx context.Context) int {
	now := n.now()
	expired := 0
	for target, e := range n.snapshot() {
		if !e.mu.TryLock() {
			continue
		}
		if e.req.State == model.RequestPending && e.req.Expired(now, n.timeout) {
			n.finish(ctx, target, e, model.RequestExpired, notifier.RequestExpired, "")
			expired++
		}
		e.mu.Unlock()
	}
	n.metrics.SetPending(n.Len())
	if expired > 0 {
		log.Printf("[INFO] request sweep: %d expired", expired)
	}
	return expired
}

// Pending returns the request pending for target, if any.
func (n *Negotiator) Pending(target uuid.UUID) (model.TransferRequest, bool) {
	e := n.lookup(target)
	if e == nil {
		return model.TransferRequest{}, false
	}
	defer e.mu.Unlock()
	return e.req, true
}

// Len is the number of tracked requests.
func (n *Negotiator) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// finish moves e to a terminal state and removes it. e.mu must be held.
func (n *Negotiator) finish(ctx context.Context, target uuid.UUID, e *entry, state model.RequestState, kind notifier.EventKind, reason string) {
	e.req.State = state
	n.remove(target, e)
	n.metrics.SetPending(n.Len())
	n.notify(ctx, kind, e.req, reason)
}

func (n *Negotiator) remove(target uuid.UUID, e *entry) {
	n.mu.Lock()
	if n.pending[target] == e {
		delete(n.pending, target)
	}
	n.mu.Unlock()
}

func (n *Negotiator) snapshot() map[uuid.UUID]*entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[uuid.UUID]*entry, len(n.pending))
	for k, v := range n.pending {
		out[k] = v
	}
	return out
}

func (n *Negotiator) notify(ctx context.Context, kind notifier.EventKind, req model.TransferRequest, reason string) {
	n.notifier.Notify(ctx, notifier.Event{
		Kind:      kind,
		RequestID: req.ID,
		Requester: req.Requester,
		Target:    req.Target,
		Currency:  string(req.Currency),
		Amount:    money.Format(req.Amount),
		Reason:    reason,
		At:        n.now(),
	})
}
