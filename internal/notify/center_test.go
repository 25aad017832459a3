package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/orderpulse/internal/actor"
	"github.com/pscheid92/orderpulse/internal/adapter/memory"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/partition"
	"github.com/pscheid92/orderpulse/internal/session"
	"github.com/pscheid92/orderpulse/internal/session/sessiontest"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type flakyStore struct {
	*memory.Store
	putCalls  int
	failAfter int // fail every Put once putCalls exceeds this; <0 never fails
	failDel   bool
}

func (s *flakyStore) Put(ctx context.Context, p, key string, value []byte) error {
	s.putCalls++
	if s.failAfter >= 0 && s.putCalls > s.failAfter {
		return errors.New("store unavailable")
	}
	return s.Store.Put(ctx, p, key, value)
}

func (s *flakyStore) Delete(ctx context.Context, p, key string) error {
	if s.failDel {
		return errors.New("store unavailable")
	}
	return s.Store.Delete(ctx, p, key)
}

type fixture struct {
	center  *Center
	backend *flakyStore
	clock   *clockwork.FakeClock
	opts    Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	seq := 0
	f := &fixture{
		backend: &flakyStore{Store: memory.NewStore(), failAfter: -1},
		clock:   clockwork.NewFakeClockAt(testStart),
	}
	f.opts = Options{
		Clock:       f.clock,
		IdleTimeout: 90 * time.Second,
		NewID: func() string {
			seq++
			return fmt.Sprintf("n%03d", seq)
		},
	}
	f.center = f.reopen(t)
	return f
}

// reopen builds a fresh Center over the fixture's backend, as after a restart.
func (f *fixture) reopen(t *testing.T) *Center {
	t.Helper()
	name := partition.Global()
	store := actor.NewStore(f.backend, name, time.Second)
	c := New(name, store, f.opts)
	entries, err := store.List(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, c.Hydrate(context.Background(), entries))
	return c
}

func pendingIDs(t *testing.T, ch *sessiontest.Channel) []string {
	t.Helper()
	msgs := ch.OfType(domain.MsgPendingNotifications)
	require.NotEmpty(t, msgs)
	var ids []string
	for _, n := range msgs[len(msgs)-1]["notifications"].([]any) {
		ids = append(ids, n.(map[string]any)["id"].(string))
	}
	return ids
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "u1", SessionKey("u1", ""))
	assert.Equal(t, "u1:r1", SessionKey("u1", "r1"))
	assert.Equal(t, "a%3Ab", SessionKey("a:b", ""))
	assert.Equal(t, "a%253A:b", SessionKey("a%3A", "b"))
	assert.NotEqual(t, SessionKey("a:b", ""), SessionKey("a", "b"))
	assert.NotEqual(t, SessionKey("a:b", "c"), SessionKey("a", "b:c"))
}

func TestScopeMatches(t *testing.T) {
	tests := []struct {
		name  string
		rec   domain.NotificationRecord
		scope scope
		want  bool
	}{
		{"global broadcast reaches user", domain.NotificationRecord{}, scope{"u1", ""}, true},
		{"global broadcast reaches restaurant session", domain.NotificationRecord{}, scope{"u1", "r1"}, true},
		{"restaurant broadcast same restaurant", domain.NotificationRecord{RestaurantID: "r1"}, scope{"u1", "r1"}, true},
		{"restaurant broadcast other restaurant", domain.NotificationRecord{RestaurantID: "r1"}, scope{"u1", "r2"}, false},
		{"restaurant broadcast unscoped session", domain.NotificationRecord{RestaurantID: "r1"}, scope{"u1", ""}, false},
		{"targeted exact", domain.NotificationRecord{UserID: "u1"}, scope{"u1", ""}, true},
		{"targeted other user", domain.NotificationRecord{UserID: "u1"}, scope{"u2", ""}, false},
		{"targeted with restaurant exact", domain.NotificationRecord{UserID: "u1", RestaurantID: "r1"}, scope{"u1", "r1"}, true},
		{"targeted with restaurant, session unscoped", domain.NotificationRecord{UserID: "u1", RestaurantID: "r1"}, scope{"u1", ""}, false},
		{"targeted unscoped, session scoped", domain.NotificationRecord{UserID: "u1"}, scope{"u1", "r1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.matches(&tt.rec))
		})
	}
}

func TestBroadcast_ReplayedOnlyToMatchingRestaurant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.center.Broadcast(ctx, domain.BroadcastRequest{
		Message: "Half off today!", Type: "promo", Priority: "high", RestaurantID: "r1",
	})
	require.NoError(t, err)

	r1, r2 := sessiontest.New(), sessiontest.New()
	f.center.OpenChannel("u9", "r1", r1)
	f.center.OpenChannel("u9", "r2", r2)

	assert.Equal(t, []string{rec.ID}, pendingIDs(t, r1))
	assert.Empty(t, pendingIDs(t, r2))

	pending := r1.OfType(domain.MsgPendingNotifications)[0]["notifications"].([]any)[0].(map[string]any)
	assert.Equal(t, "Half off today!", pending["message"])
	assert.Equal(t, "promo", pending["type"])
	assert.Equal(t, "high", pending["priority"])
}

func TestBroadcast_PushesToMatchingSessions(t *testing.T) {
	f := newFixture(t)
	r1, r2, unscoped := sessiontest.New(), sessiontest.New(), sessiontest.New()
	f.center.OpenChannel("u1", "r1", r1)
	f.center.OpenChannel("u2", "r2", r2)
	f.center.OpenChannel("u3", "", unscoped)

	_, err := f.center.Broadcast(context.Background(), domain.BroadcastRequest{Message: "kitchen closes early", RestaurantID: "r1"})
	require.NoError(t, err)
	_, err = f.center.Broadcast(context.Background(), domain.BroadcastRequest{Message: "maintenance tonight"})
	require.NoError(t, err)

	assert.Len(t, r1.OfType(domain.MsgNotification), 2)
	assert.Len(t, r2.OfType(domain.MsgNotification), 1)
	assert.Len(t, unscoped.OfType(domain.MsgNotification), 1)
}

func TestBroadcast_AppliesDefaults(t *testing.T) {
	f := newFixture(t)

	rec, err := f.center.Broadcast(context.Background(), domain.BroadcastRequest{Message: "hello"})
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultNotificationType, rec.Type)
	assert.Equal(t, domain.DefaultNotificationPriority, rec.Priority)
	assert.Equal(t, testStart, rec.CreatedAt)
	assert.False(t, rec.Read)
	assert.Nil(t, rec.ReadAt)
}

func TestBroadcast_RequiresMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.center.Broadcast(context.Background(), domain.BroadcastRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
}

func TestSendTargeted_OfflineUserGetsReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u1", RestaurantID: "r1", Message: "Your table is ready"})
	require.NoError(t, err)

	// Survives a restart.
	restarted := f.reopen(t)

	other, unscoped, exact := sessiontest.New(), sessiontest.New(), sessiontest.New()
	restarted.OpenChannel("u2", "r1", other)
	restarted.OpenChannel("u1", "", unscoped)
	restarted.OpenChannel("u1", "r1", exact)

	assert.Empty(t, pendingIDs(t, other))
	assert.Empty(t, pendingIDs(t, unscoped))
	assert.Equal(t, []string{rec.ID}, pendingIDs(t, exact))
}

func TestSendTargeted_PushesOnlyToExactSession(t *testing.T) {
	f := newFixture(t)
	exact, sameUserOtherScope := sessiontest.New(), sessiontest.New()
	f.center.OpenChannel("u1", "r1", exact)
	f.center.OpenChannel("u1", "", sameUserOtherScope)

	_, err := f.center.SendTargeted(context.Background(), domain.TargetedRequest{UserID: "u1", RestaurantID: "r1", Message: "hi"})
	require.NoError(t, err)

	assert.Len(t, exact.OfType(domain.MsgNotification), 1)
	assert.Empty(t, sameUserOtherScope.OfType(domain.MsgNotification))
}

func TestSendTargeted_SeparatorInUserIDDoesNotCrossUsers(t *testing.T) {
	f := newFixture(t)
	colonUser := sessiontest.New()
	f.center.OpenChannel("a:b", "", colonUser)

	_, err := f.center.SendTargeted(context.Background(), domain.TargetedRequest{UserID: "a", RestaurantID: "b", Message: "for a at b"})
	require.NoError(t, err)
	assert.Empty(t, colonUser.OfType(domain.MsgNotification))

	scoped := sessiontest.New()
	f.center.OpenChannel("a", "b", scoped)

	assert.Zero(t, colonUser.CloseCount())
	assert.Equal(t, 2, f.center.Len())
	assert.Len(t, pendingIDs(t, scoped), 1)

	_, err = f.center.SendTargeted(context.Background(), domain.TargetedRequest{UserID: "a:b", Message: "for a:b"})
	require.NoError(t, err)
	assert.Len(t, colonUser.OfType(domain.MsgNotification), 1)
	assert.Empty(t, scoped.OfType(domain.MsgNotification))
}

func TestSendTargeted_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.center.SendTargeted(ctx, domain.TargetedRequest{Message: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)

	_, err = f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
}

func TestSendTargeted_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.failAfter = 0
	ch := sessiontest.New()
	f.center.OpenChannel("u1", "", ch)

	_, err := f.center.SendTargeted(context.Background(), domain.TargetedRequest{UserID: "u1", Message: "x"})

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Empty(t, f.center.Pending("u1", ""))
	assert.Empty(t, ch.OfType(domain.MsgNotification))
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u1", Message: "x"})
	require.NoError(t, err)

	first, err := f.center.MarkRead(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)

	f.clock.Advance(time.Hour)
	second, err := f.center.MarkRead(ctx, rec.ID)
	require.NoError(t, err)

	assert.True(t, second.Read)
	assert.Equal(t, *first.ReadAt, *second.ReadAt)
	assert.Empty(t, f.center.Pending("u1", ""))

	persisted := f.reopen(t)
	got, err := persisted.Get(rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.Equal(t, testStart, got.ReadAt.UTC())
}

func TestMarkRead_BroadcastReadStateIsShared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.center.Broadcast(ctx, domain.BroadcastRequest{Message: "Kitchen closes early", RestaurantID: "r1"})
	require.NoError(t, err)

	require.Len(t, f.center.Pending("u1", "r1"), 1)
	require.Len(t, f.center.Pending("u2", "r1"), 1)

	n, err := f.center.MarkAllRead(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.center.Pending("u2", "r1"), 1)

	_, err = f.center.MarkRead(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, f.center.Pending("u1", "r1"))
	assert.Empty(t, f.center.Pending("u2", "r1"))
}

func TestMarkRead_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.center.MarkRead(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)
}

func TestMarkRead_PersistenceFailureKeepsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u1", Message: "x"})
	require.NoError(t, err)

	f.backend.failAfter = 1
	_, err = f.center.MarkRead(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	got, err := f.center.Get(rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Read)
}

func TestMarkAllRead_TouchesOnlyExactScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	send := func(user, restaurant string) string {
		rec, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: user, RestaurantID: restaurant, Message: "m"})
		require.NoError(t, err)
		return rec.ID
	}
	mine1 := send("u1", "r1")
	mine2 := send("u1", "r1")
	otherRestaurant := send("u1", "r2")
	noRestaurant := send("u1", "")
	otherUser := send("u2", "r1")
	broadcast, err := f.center.Broadcast(ctx, domain.BroadcastRequest{Message: "b", RestaurantID: "r1"})
	require.NoError(t, err)

	n, err := f.center.MarkAllRead(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, wantRead := range map[string]bool{
		mine1: true, mine2: true,
		otherRestaurant: false, noRestaurant: false, otherUser: false, broadcast.ID: false,
	} {
		got, err := f.center.Get(id)
		require.NoError(t, err)
		assert.Equal(t, wantRead, got.Read, id)
	}

	n, err = f.center.MarkAllRead(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMarkAllRead_PartialFailureKeepsMemoryInSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 3 {
		_, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u1", Message: "m"})
		require.NoError(t, err)
	}

	f.backend.failAfter = 4 // three creates plus one mark succeed
	n, err := f.center.MarkAllRead(ctx, "u1", "")

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 1, n)
	assert.Len(t, f.center.Pending("u1", ""), 2)

	f.backend.failAfter = -1
	restarted := f.reopen(t)
	assert.Len(t, restarted.Pending("u1", ""), 2)
}

func TestMarkAllRead_RequiresUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.center.MarkAllRead(context.Background(), "", "r1")
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
}

func TestPending_OldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		_, err := f.center.Broadcast(ctx, domain.BroadcastRequest{Message: msg})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	var got []string
	for _, rec := range f.center.Pending("u1", "") {
		got = append(got, rec.Message)
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestHandleClientMessage_MarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u1", Message: "m"})
	require.NoError(t, err)
	theirs, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u2", Message: "m"})
	require.NoError(t, err)

	ch := sessiontest.New()
	key := f.center.OpenChannel("u1", "", ch)
	ch.Reset()

	f.center.HandleClientMessage(ctx, key, []byte(`{"type":"mark_read","notificationId":"`+mine.ID+`"}`))
	assert.Equal(t, map[string]any{"type": "marked_read", "notificationId": mine.ID, "count": 1.0}, ch.Last())

	f.center.HandleClientMessage(ctx, key, []byte(`{"type":"mark_read","notificationId":"`+theirs.ID+`"}`))
	assert.Equal(t, "error", ch.Last()["type"])

	got, err := f.center.Get(theirs.ID)
	require.NoError(t, err)
	assert.False(t, got.Read)
}

func TestHandleClientMessage_MarkAllRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 2 {
		_, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u1", RestaurantID: "r1", Message: "m"})
		require.NoError(t, err)
	}

	ch := sessiontest.New()
	key := f.center.OpenChannel("u1", "r1", ch)

	f.center.HandleClientMessage(ctx, key, []byte(`{"type":"mark_all_read"}`))

	assert.Equal(t, map[string]any{"type": "marked_read", "count": 2.0}, ch.Last())
	assert.Empty(t, f.center.Pending("u1", "r1"))
}

func TestHandleClientMessage_PingAndErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := sessiontest.New()
	key := f.center.OpenChannel("u1", "", ch)

	f.center.HandleClientMessage(ctx, key, []byte(`{"type":"ping"}`))
	assert.Equal(t, "pong", ch.Last()["type"])

	f.center.HandleClientMessage(ctx, key, []byte(`nope`))
	assert.Equal(t, "invalid message", ch.Last()["error"])

	f.center.HandleClientMessage(ctx, key, []byte(`{"type":"subscribe_order"}`))
	assert.Equal(t, `unknown message type "subscribe_order"`, ch.Last()["error"])
}

func TestSweep_EvictsIdleSessions(t *testing.T) {
	f := newFixture(t)
	idle, active := sessiontest.New(), sessiontest.New()
	idle.SetLastActivity(testStart)
	active.SetLastActivity(testStart.Add(2 * time.Minute))
	f.center.OpenChannel("idle", "", idle)
	f.center.OpenChannel("active", "", active)

	f.center.Sweep(context.Background(), testStart.Add(2*time.Minute))

	assert.Equal(t, session.ReasonIdle, idle.CloseReason())
	assert.Equal(t, 1, f.center.Len())
}

func TestSweep_RetentionDeletesOldReadRecords(t *testing.T) {
	f := newFixture(t)
	f.opts.Retention = 24 * time.Hour
	f.center = f.reopen(t)
	ctx := context.Background()

	old, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u1", Message: "old"})
	require.NoError(t, err)
	unread, err := f.center.SendTargeted(ctx, domain.TargetedRequest{UserID: "u1", Message: "unread"})
	require.NoError(t, err)
	_, err = f.center.MarkRead(ctx, old.ID)
	require.NoError(t, err)

	f.center.Sweep(ctx, testStart.Add(23*time.Hour))
	_, err = f.center.Get(old.ID)
	require.NoError(t, err, "not yet past retention")

	f.backend.failDel = true
	f.center.Sweep(ctx, testStart.Add(25*time.Hour))
	_, err = f.center.Get(old.ID)
	require.NoError(t, err, "store failure keeps the record")

	f.backend.failDel = false
	f.center.Sweep(ctx, testStart.Add(25*time.Hour))
	_, err = f.center.Get(old.ID)
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)
	_, err = f.center.Get(unread.ID)
	assert.NoError(t, err)

	restarted := f.reopen(t)
	_, err = restarted.Get(old.ID)
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)
}

func TestHydrate_SkipsCorruptEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := string(partition.Global())
	require.NoError(t, f.backend.Store.Put(ctx, p, "notification:bad", []byte(`{`)))
	require.NoError(t, f.backend.Store.Put(ctx, p, "notification:noid", []byte(`{"message":"x"}`)))
	require.NoError(t, f.backend.Store.Put(ctx, p, "notification:ok", []byte(`{"id":"ok","message":"x","type":"info","priority":"normal"}`)))
	require.NoError(t, f.backend.Store.Put(ctx, p, "order:ord_1", []byte(`{"orderId":"ord_1"}`)))

	c := f.reopen(t)

	pending := c.Pending("u1", "")
	require.Len(t, pending, 1)
	assert.Equal(t, "ok", pending[0].ID)
}

func TestShutdown_ClosesSessions(t *testing.T) {
	f := newFixture(t)
	ch := sessiontest.New()
	key := f.center.OpenChannel("u1", "", ch)

	f.center.Shutdown(session.ReasonShutdown)

	assert.Equal(t, session.ReasonShutdown, ch.CloseReason())
	assert.False(t, f.center.CloseChannel(key, ch))
}

func TestNew_DefaultsToUUIDs(t *testing.T) {
	name := partition.Global()
	c := New(name, actor.NewStore(memory.NewStore(), name, time.Second), Options{})

	rec, err := c.Broadcast(context.Background(), domain.BroadcastRequest{Message: "x"})
	require.NoError(t, err)
	assert.Len(t, rec.ID, 36)
}
