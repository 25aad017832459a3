package notify

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/orderpulse/internal/actor"
	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/partition"
	"github.com/pscheid92/orderpulse/internal/session"
)

const notificationKeyPrefix = "notification:"

func notificationKey(id string) string {
	return notificationKeyPrefix + id
}

var sessionKeyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// SessionKey derives the registry key for a connection: userID, or
// userID:restaurantID. Both parts are escaped so the separator is
// unambiguous; ids without ':' or '%' are used as is.
func SessionKey(userID, restaurantID string) string {
	user := sessionKeyEscaper.Replace(userID)
	if restaurantID == "" {
		return user
	}
	return user + ":" + sessionKeyEscaper.Replace(restaurantID)
}

type Options struct {
	Clock       clockwork.Clock
	IdleTimeout time.Duration // 0 disables idle eviction
	// Retention deletes read notifications whose readAt is older than this
	// during sweeps. 0 keeps them forever.
	Retention time.Duration
	Metrics   *metrics.WebSocketMetrics
	NewID     func() string
}

type scope struct {
	userID       string
	restaurantID string
}

// matches reports whether rec is visible to a session with scope s. User
// scoped records require the exact (user, restaurant) pair; broadcasts match
// on restaurant, and unscoped broadcasts match everyone.
func (s scope) matches(rec *domain.NotificationRecord) bool {
	if !rec.IsBroadcast() {
		return rec.UserID == s.userID && rec.RestaurantID == s.restaurantID
	}
	return rec.RestaurantID == "" || rec.RestaurantID == s.restaurantID
}

type Center struct {
	name        partition.Name
	store       *actor.Store
	records     map[string]*domain.NotificationRecord
	sessions    *session.Registry[scope]
	clock       clockwork.Clock
	idleTimeout time.Duration
	retention   time.Duration
	newID       func() string
}

var (
	_ actor.Behavior = (*Center)(nil)
	_ actor.Sweeper  = (*Center)(nil)
	_ actor.Idler    = (*Center)(nil)
)

func NewFactory(opts Options) actor.Factory[*Center] {
	return func(name partition.Name, store *actor.Store) *Center {
		return New(name, store, opts)
	}
}

func New(name partition.Name, store *actor.Store, opts Options) *Center {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	c := &Center{
		name:        name,
		store:       store,
		records:     make(map[string]*domain.NotificationRecord),
		clock:       opts.Clock,
		idleTimeout: opts.IdleTimeout,
		retention:   opts.Retention,
		newID:       opts.NewID,
	}
	c.sessions = session.NewRegistry[scope](func(id, reason string) {
		opts.Metrics.Evicted(reason)
		slog.Debug("Notification session evicted", "partition", name, "session_id", id, "reason", reason)
	})
	return c
}

func (c *Center) Hydrate(_ context.Context, entries []domain.Entry) error {
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, notificationKeyPrefix) {
			continue
		}
		var rec domain.NotificationRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			slog.Warn("Skipping corrupt notification entry", "partition", c.name, "key", e.Key, "error", err)
			continue
		}
		if rec.ID == "" {
			slog.Warn("Skipping notification entry without id", "partition", c.name, "key", e.Key)
			continue
		}
		c.records[rec.ID] = &rec
	}
	return nil
}

func (c *Center) Shutdown(reason string) {
	c.sessions.CloseAll(reason)
}

// Sweep evicts idle sessions and, with a retention configured, deletes
// read notifications past it. Deletion hits the store first so memory
// never drops a record the store still holds.
func (c *Center) Sweep(ctx context.Context, now time.Time) {
	if c.idleTimeout > 0 {
		if evicted := c.sessions.Sweep(now, c.idleTimeout); len(evicted) > 0 {
			slog.Debug("Evicted idle notification sessions", "partition", c.name, "count", len(evicted))
		}
	}
	if c.retention <= 0 {
		return
	}

	removed := 0
	for id, rec := range c.records {
		if !rec.Read || rec.ReadAt == nil || now.Sub(*rec.ReadAt) <= c.retention {
			continue
		}
		if err := c.store.Delete(ctx, notificationKey(id)); err != nil {
			slog.Warn("Failed to delete expired notification", "partition", c.name, "notification_id", id, "error", err)
			continue
		}
		delete(c.records, id)
		removed++
	}
	if removed > 0 {
		slog.Info("Compacted read notifications", "partition", c.name, "removed", removed)
	}
}

// OpenChannel registers ch and replays the unread notifications visible to
// it. It returns the session key.
func (c *Center) OpenChannel(userID, restaurantID string, ch session.Channel) string {
	key := SessionKey(userID, restaurantID)
	c.sessions.Add(key, ch, scope{userID: userID, restaurantID: restaurantID})
	c.push(key, domain.PendingNotificationsMessage{
		Type:          domain.MsgPendingNotifications,
		Notifications: c.Pending(userID, restaurantID),
	})
	return key
}

func (c *Center) CloseChannel(sessionKey string, ch session.Channel) bool {
	return c.sessions.Remove(sessionKey, ch)
}

// Pending returns unread notifications visible to (userID, restaurantID),
// oldest first.
func (c *Center) Pending(userID, restaurantID string) []domain.NotificationRecord {
	s := scope{userID: userID, restaurantID: restaurantID}
	out := make([]domain.NotificationRecord, 0)
	for _, rec := range c.records {
		if !rec.Read && s.matches(rec) {
			out = append(out, *rec)
		}
	}
	sortRecords(out)
	return out
}

func (c *Center) Broadcast(ctx context.Context, req domain.BroadcastRequest) (*domain.NotificationRecord, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidCommand)
	}

	rec := c.newRecord(req.Message, req.Type, req.Priority, req.RestaurantID, "")
	if err := c.persist(ctx, rec); err != nil {
		return nil, err
	}
	c.records[rec.ID] = rec

	data, ok := c.encode(domain.NotificationMessage{Type: domain.MsgNotification, Notification: *rec})
	if ok {
		c.sessions.Broadcast(data, func(e *session.Entry[scope]) bool {
			return e.Meta.matches(rec)
		})
	}
	return copyRecord(rec), nil
}

// SendTargeted stores a user-scoped notification and pushes it to the
// matching session if one is connected. Otherwise it waits for replay.
func (c *Center) SendTargeted(ctx context.Context, req domain.TargetedRequest) (*domain.NotificationRecord, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidCommand)
	}
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidCommand)
	}

	rec := c.newRecord(req.Message, req.Type, req.Priority, req.RestaurantID, req.UserID)
	if err := c.persist(ctx, rec); err != nil {
		return nil, err
	}
	c.records[rec.ID] = rec

	key := SessionKey(req.UserID, req.RestaurantID)
	if e, ok := c.sessions.Get(key); ok && e.Meta.matches(rec) {
		c.push(key, domain.NotificationMessage{Type: domain.MsgNotification, Notification: *rec})
	}
	return copyRecord(rec), nil
}

// MarkRead is idempotent. ReadAt is set on the first transition only.
func (c *Center) MarkRead(ctx context.Context, id string) (*domain.NotificationRecord, error) {
	rec, ok := c.records[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	if rec.Read {
		return copyRecord(rec), nil
	}

	next := c.markedRead(rec)
	if err := c.persist(ctx, next); err != nil {
		return nil, err
	}
	c.records[id] = next
	return copyRecord(next), nil
}

// MarkAllRead marks every unread record scoped exactly to (userID,
// restaurantID). Broadcasts and other scopes are never touched. On a store
// failure the records already persisted stay marked and the count so far is
// returned with the error.
func (c *Center) MarkAllRead(ctx context.Context, userID, restaurantID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: userId is required", domain.ErrInvalidCommand)
	}

	var targets []*domain.NotificationRecord
	for _, rec := range c.records {
		if !rec.Read && rec.UserID == userID && rec.RestaurantID == restaurantID {
			targets = append(targets, rec)
		}
	}
	slices.SortFunc(targets, func(a, b *domain.NotificationRecord) int {
		return compareRecords(*a, *b)
	})

	marked := 0
	for _, rec := range targets {
		next := c.markedRead(rec)
		if err := c.persist(ctx, next); err != nil {
			return marked, err
		}
		c.records[rec.ID] = next
		marked++
	}
	return marked, nil
}

// Get returns a copy of one record.
func (c *Center) Get(id string) (*domain.NotificationRecord, error) {
	rec, ok := c.records[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	return copyRecord(rec), nil
}

func (c *Center) Ping(sessionKey string) {
	c.push(sessionKey, domain.PongMessage{Type: domain.MsgPong})
}

// HandleClientMessage dispatches one frame received from sessionKey. A
// session may only mark notifications it can see.
func (c *Center) HandleClientMessage(ctx context.Context, sessionKey string, raw []byte) {
	e, ok := c.sessions.Get(sessionKey)
	if !ok {
		return
	}

	var msg domain.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.pushError(sessionKey, "invalid message")
		return
	}

	switch msg.Type {
	case domain.MsgMarkRead:
		rec, ok := c.records[msg.NotificationID]
		if !ok || !e.Meta.matches(rec) {
			c.pushError(sessionKey, domain.ErrNotificationNotFound.Error())
			return
		}
		if _, err := c.MarkRead(ctx, msg.NotificationID); err != nil {
			slog.WarnContext(ctx, "mark_read failed", "partition", c.name, "notification_id", msg.NotificationID, "error", err)
			c.pushError(sessionKey, "failed to mark notification as read")
			return
		}
		c.push(sessionKey, domain.MarkedReadMessage{Type: domain.MsgMarkedRead, NotificationID: msg.NotificationID, Count: 1})
	case domain.MsgMarkAllRead:
		n, err := c.MarkAllRead(ctx, e.Meta.userID, e.Meta.restaurantID)
		if err != nil {
			slog.WarnContext(ctx, "mark_all_read failed", "partition", c.name, "session_id", sessionKey, "marked", n, "error", err)
			c.pushError(sessionKey, "failed to mark notifications as read")
			return
		}
		c.push(sessionKey, domain.MarkedReadMessage{Type: domain.MsgMarkedRead, Count: n})
	case domain.MsgPing:
		c.Ping(sessionKey)
	default:
		c.pushError(sessionKey, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// Len returns the number of open sessions.
func (c *Center) Len() int {
	return c.sessions.Len()
}

// Idle reports whether no session is attached. Everything else is persisted.
func (c *Center) Idle() bool {
	return c.sessions.Len() == 0
}

func (c *Center) newRecord(message, typ, priority, restaurantID, userID string) *domain.NotificationRecord {
	return &domain.NotificationRecord{
		ID:           c.newID(),
		Message:      message,
		Type:         cmp.Or(typ, domain.DefaultNotificationType),
		Priority:     cmp.Or(priority, domain.DefaultNotificationPriority),
		RestaurantID: restaurantID,
		UserID:       userID,
		CreatedAt:    c.clock.Now().UTC(),
	}
}

func (c *Center) markedRead(rec *domain.NotificationRecord) *domain.NotificationRecord {
	next := copyRecord(rec)
	now := c.clock.Now().UTC()
	next.Read = true
	next.ReadAt = &now
	return next
}

func (c *Center) persist(ctx context.Context, rec *domain.NotificationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode notification %s: %w", rec.ID, err)
	}
	if err := c.store.Put(ctx, notificationKey(rec.ID), data); err != nil {
		return fmt.Errorf("%w: notification %s: %w", domain.ErrPersistence, rec.ID, err)
	}
	return nil
}

func (c *Center) encode(msg any) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode push message", "partition", c.name, "error", err)
		return nil, false
	}
	return data, true
}

func (c *Center) push(sessionKey string, msg any) {
	if data, ok := c.encode(msg); ok {
		c.sessions.Send(sessionKey, data)
	}
}

func (c *Center) pushError(sessionKey, text string) {
	c.push(sessionKey, domain.ErrorMessage{Type: domain.MsgError, Error: text})
}

func copyRecord(rec *domain.NotificationRecord) *domain.NotificationRecord {
	c := *rec
	if rec.ReadAt != nil {
		t := *rec.ReadAt
		c.ReadAt = &t
	}
	return &c
}

func compareRecords(a, b domain.NotificationRecord) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func sortRecords(recs []domain.NotificationRecord) {
	slices.SortFunc(recs, compareRecords)
}
