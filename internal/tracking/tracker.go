package tracking

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	goset "github.com/deckarep/golang-set/v2"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/orderpulse/internal/actor"
	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/partition"
	"github.com/pscheid92/orderpulse/internal/session"
)

const orderKeyPrefix = "order:"

func orderKey(orderID string) string {
	return orderKeyPrefix + orderID
}

type Options struct {
	// Dispatcher receives every transition applied through UpdateStatus.
	// Nil disables forwarding.
	Dispatcher  domain.Dispatcher
	Clock       clockwork.Clock
	IdleTimeout time.Duration // 0 disables idle eviction
	Metrics     *metrics.WebSocketMetrics
}

// subscriptions is the advisory per-session set of order ids a client
// asked to follow.
// Only the actor goroutine touches it.
type subscriptions = goset.Set[string]

type Tracker struct {
	name        partition.Name
	store       *actor.Store
	orders      map[string]*domain.OrderState
	sessions    *session.Registry[subscriptions]
	dispatcher  domain.Dispatcher
	clock       clockwork.Clock
	idleTimeout time.Duration
}

var (
	_ actor.Behavior = (*Tracker)(nil)
	_ actor.Sweeper  = (*Tracker)(nil)
	_ actor.Idler    = (*Tracker)(nil)
)

func NewFactory(opts Options) actor.Factory[*Tracker] {
	return func(name partition.Name, store *actor.Store) *Tracker {
		return New(name, store, opts)
	}
}

func New(name partition.Name, store *actor.Store, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	t := &Tracker{
		name:        name,
		store:       store,
		orders:      make(map[string]*domain.OrderState),
		dispatcher:  opts.Dispatcher,
		clock:       opts.Clock,
		idleTimeout: opts.IdleTimeout,
	}
	t.sessions = session.NewRegistry[subscriptions](func(id, reason string) {
		opts.Metrics.Evicted(reason)
		slog.Debug("Tracking session evicted", "partition", name, "session_id", id, "reason", reason)
	})
	return t
}

// Hydrate loads persisted orders. Entries that do not decode are skipped so
// one corrupt record cannot take the whole partition offline.
func (t *Tracker) Hydrate(_ context.Context, entries []domain.Entry) error {
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, orderKeyPrefix) {
			continue
		}
		var state domain.OrderState
		if err := json.Unmarshal(e.Value, &state); err != nil {
			slog.Warn("Skipping corrupt order entry", "partition", t.name, "key", e.Key, "error", err)
			continue
		}
		if state.OrderID == "" {
			slog.Warn("Skipping order entry without id", "partition", t.name, "key", e.Key)
			continue
		}
		t.orders[state.OrderID] = &state
	}
	return nil
}

func (t *Tracker) Shutdown(reason string) {
	t.sessions.CloseAll(reason)
}

func (t *Tracker) Sweep(_ context.Context, now time.Time) {
	if t.idleTimeout <= 0 {
		return
	}
	if evicted := t.sessions.Sweep(now, t.idleTimeout); len(evicted) > 0 {
		slog.Debug("Evicted idle tracking sessions", "partition", t.name, "count", len(evicted))
	}
}

// OpenChannel registers ch under sessionID and pushes the current snapshot.
func (t *Tracker) OpenChannel(sessionID string, ch session.Channel) {
	t.sessions.Add(sessionID, ch, goset.NewThreadUnsafeSet[string]())
	t.push(sessionID, domain.InitialOrdersMessage{
		Type:   domain.MsgInitialOrders,
		Orders: t.snapshot(),
	})
}

// CloseChannel unregisters sessionID if it is still bound to ch.
func (t *Tracker) CloseChannel(sessionID string, ch session.Channel) bool {
	return t.sessions.Remove(sessionID, ch)
}

// UpdateStatus applies cmd, persists it and only then commits it to memory,
// pushes it to every session and forwards it to the dispatcher. Extra
// fields are merged over the previous ones.
func (t *Tracker) UpdateStatus(ctx context.Context, cmd domain.StatusUpdate) (*domain.OrderState, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	next := &domain.OrderState{
		OrderID:      cmd.OrderID,
		Status:       cmd.Status,
		RestaurantID: cmd.RestaurantID,
		UserID:       cmd.UserID,
		UpdatedAt:    t.clock.Now().UTC(),
		Revision:     1,
	}
	if prev, ok := t.orders[cmd.OrderID]; ok {
		next.Revision = prev.Revision + 1
		next.Extra = maps.Clone(prev.Extra)
		next.RestaurantID = cmp.Or(next.RestaurantID, prev.RestaurantID)
		next.UserID = cmp.Or(next.UserID, prev.UserID)
	}
	if len(cmd.Extra) > 0 {
		if next.Extra == nil {
			next.Extra = make(map[string]any, len(cmd.Extra))
		}
		maps.Copy(next.Extra, cmd.Extra)
	}

	if err := t.persist(ctx, next); err != nil {
		return nil, err
	}
	t.commit(next)

	if t.dispatcher != nil {
		t.dispatcher.Forward(domain.NewOrderStatusEvent(next))
	}
	return next.Clone(), nil
}

// ApplyMirror stores a copy of a state owned by another partition. Copies
// that are not newer than what the partition already holds are ignored.
func (t *Tracker) ApplyMirror(ctx context.Context, state *domain.OrderState) (bool, error) {
	if state == nil || state.OrderID == "" {
		return false, fmt.Errorf("%w: mirrored order has no id", domain.ErrInvalidCommand)
	}
	if cur, ok := t.orders[state.OrderID]; ok && cur.Revision >= state.Revision {
		return false, nil
	}

	next := state.Clone()
	if err := t.persist(ctx, next); err != nil {
		return false, err
	}
	t.commit(next)
	return true, nil
}

func (t *Tracker) persist(ctx context.Context, state *domain.OrderState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", state.OrderID, err)
	}
	if err := t.store.Put(ctx, orderKey(state.OrderID), data); err != nil {
		return fmt.Errorf("%w: order %s: %w", domain.ErrPersistence, state.OrderID, err)
	}
	return nil
}

func (t *Tracker) commit(state *domain.OrderState) {
	t.orders[state.OrderID] = state
	t.broadcast(domain.OrderUpdateMessage{Type: domain.MsgOrderUpdate, Order: *state})
}

func (t *Tracker) GetStatus(orderID string) (*domain.OrderState, error) {
	state, ok := t.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return state.Clone(), nil
}

// Subscribe records the advisory interest of sessionID in orderID and
// acknowledges it. Broadcasts are not filtered by subscriptions.
func (t *Tracker) Subscribe(sessionID, orderID string) {
	e, ok := t.sessions.Get(sessionID)
	if !ok {
		return
	}
	if orderID == "" {
		t.pushError(sessionID, "orderId is required")
		return
	}
	e.Meta.Add(orderID)
	t.push(sessionID, domain.SubscriptionMessage{Type: domain.MsgOrderSubscribed, OrderID: orderID})
}

func (t *Tracker) Unsubscribe(sessionID, orderID string) {
	e, ok := t.sessions.Get(sessionID)
	if !ok {
		return
	}
	if orderID == "" {
		t.pushError(sessionID, "orderId is required")
		return
	}
	e.Meta.Remove(orderID)
	t.push(sessionID, domain.SubscriptionMessage{Type: domain.MsgOrderUnsubscribed, OrderID: orderID})
}

// Subscriptions returns the sorted order ids sessionID follows.
func (t *Tracker) Subscriptions(sessionID string) []string {
	e, ok := t.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	ids := e.Meta.ToSlice()
	slices.Sort(ids)
	return ids
}

func (t *Tracker) Ping(sessionID string) {
	t.push(sessionID, domain.PongMessage{Type: domain.MsgPong})
}

// HandleClientMessage dispatches one frame received from sessionID.
func (t *Tracker) HandleClientMessage(sessionID string, raw []byte) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.pushError(sessionID, "invalid message")
		return
	}

	switch msg.Type {
	case domain.MsgSubscribeOrder:
		t.Subscribe(sessionID, msg.OrderID)
	case domain.MsgUnsubscribeOrder:
		t.Unsubscribe(sessionID, msg.OrderID)
	case domain.MsgPing:
		t.Ping(sessionID)
	default:
		t.pushError(sessionID, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// Len returns the number of open sessions.
func (t *Tracker) Len() int {
	return t.sessions.Len()
}

// Idle reports whether no session is attached. Everything else is persisted.
func (t *Tracker) Idle() bool {
	return t.sessions.Len() == 0
}

// snapshot returns all orders sorted by last update, then id.
func (t *Tracker) snapshot() []domain.OrderState {
	out := make([]domain.OrderState, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, *o)
	}
	slices.SortFunc(out, func(a, b domain.OrderState) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.OrderID, b.OrderID)
	})
	return out
}

func (t *Tracker) push(sessionID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode push message", "partition", t.name, "error", err)
		return
	}
	t.sessions.Send(sessionID, data)
}

func (t *Tracker) pushError(sessionID, text string) {
	t.push(sessionID, domain.ErrorMessage{Type: domain.MsgError, Error: text})
}

func (t *Tracker) broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode broadcast message", "partition", t.name, "error", err)
		return
	}
	t.sessions.Broadcast(data, nil)
}
