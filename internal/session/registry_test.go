package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/orderpulse/internal/session"
	"github.com/pscheid92/orderpulse/internal/session/sessiontest"
)

type eviction struct {
	id     string
	reason string
}

func newRegistry(t *testing.T) (*session.Registry[string], *[]eviction) {
	t.Helper()
	var evictions []eviction
	r := session.NewRegistry[string](func(id, reason string) {
		evictions = append(evictions, eviction{id, reason})
	})
	return r, &evictions
}

func TestRegistry_AddGetLen(t *testing.T) {
	r, _ := newRegistry(t)
	ch := sessiontest.New()

	e := r.Add("s1", ch, "meta")
	require.NotNil(t, e)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.Equal(t, "meta", got.Meta)
}

func TestRegistry_AddReplacesAndClosesOldChannel(t *testing.T) {
	r, evictions := newRegistry(t)
	old := sessiontest.New()
	fresh := sessiontest.New()

	r.Add("s1", old, "")
	r.Add("s1", fresh, "")

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, old.CloseCount())
	assert.Equal(t, session.ReasonReplaced, old.CloseReason())
	assert.Equal(t, 0, fresh.CloseCount())
	assert.Equal(t, []eviction{{"s1", session.ReasonReplaced}}, *evictions)
}

func TestRegistry_AddSameChannelTwiceIsNoop(t *testing.T) {
	r, evictions := newRegistry(t)
	ch := sessiontest.New()

	r.Add("s1", ch, "")
	r.Add("s1", ch, "")

	assert.Equal(t, 0, ch.CloseCount())
	assert.Empty(t, *evictions)
}

func TestRegistry_RemoveIsIdentityGuarded(t *testing.T) {
	r, _ := newRegistry(t)
	old := sessiontest.New()
	fresh := sessiontest.New()

	r.Add("s1", old, "")
	r.Add("s1", fresh, "")

	assert.False(t, r.Remove("s1", old), "stale channel must not remove its successor")
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove("s1", fresh))
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Remove("s1", fresh))
}

func TestRegistry_SendFailureEvictsExactlyOnce(t *testing.T) {
	r, evictions := newRegistry(t)
	dead := sessiontest.New()
	alive := sessiontest.New()
	r.Add("dead", dead, "")
	r.Add("alive", alive, "")

	dead.Close("client went away")

	delivered := r.Broadcast([]byte(`{"type":"order_update"}`), nil)
	assert.Equal(t, 1, delivered)

	delivered = r.Broadcast([]byte(`{"type":"order_update"}`), nil)
	assert.Equal(t, 1, delivered)

	assert.Equal(t, []eviction{{"dead", session.ReasonSendFailed}}, *evictions)
	assert.Equal(t, 1, dead.SendAttempts(), "evicted session must not be retried")
	assert.Len(t, alive.Messages(), 2)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SendToOne(t *testing.T) {
	r, evictions := newRegistry(t)
	ch := sessiontest.New()
	r.Add("s1", ch, "")

	assert.True(t, r.Send("s1", []byte(`{"type":"pong"}`)))
	assert.False(t, r.Send("missing", []byte(`{"type":"pong"}`)))

	ch.FailWith(session.ErrSlowConsumer)
	assert.False(t, r.Send("s1", []byte(`{"type":"pong"}`)))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, []eviction{{"s1", session.ReasonSendFailed}}, *evictions)
}

func TestRegistry_BroadcastFilter(t *testing.T) {
	r, _ := newRegistry(t)
	a := sessiontest.New()
	b := sessiontest.New()
	r.Add("a", a, "r1")
	r.Add("b", b, "r2")

	n := r.Broadcast([]byte(`{}`), func(e *session.Entry[string]) bool { return e.Meta == "r1" })

	assert.Equal(t, 1, n)
	assert.Len(t, a.Messages(), 1)
	assert.Empty(t, b.Messages())
}

func TestRegistry_FailureDoesNotAffectOthers(t *testing.T) {
	r, _ := newRegistry(t)
	var chans []*sessiontest.Channel
	for i := range 5 {
		ch := sessiontest.New()
		if i == 2 {
			ch.FailWith(errors.New("broken pipe"))
		}
		chans = append(chans, ch)
		r.Add(string(rune('a'+i)), ch, "")
	}

	n := r.Broadcast([]byte(`{}`), nil)

	assert.Equal(t, 4, n)
	assert.Equal(t, 4, r.Len())
	for i, ch := range chans {
		if i == 2 {
			assert.Equal(t, 1, ch.CloseCount())
			continue
		}
		assert.Len(t, ch.Messages(), 1)
	}
}

func TestRegistry_Sweep(t *testing.T) {
	r, evictions := newRegistry(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	stale := sessiontest.New()
	stale.SetLastActivity(now.Add(-2 * time.Minute))
	fresh := sessiontest.New()
	fresh.SetLastActivity(now.Add(-10 * time.Second))

	r.Add("stale", stale, "")
	r.Add("fresh", fresh, "")

	evicted := r.Sweep(now, 90*time.Second)

	assert.Equal(t, []string{"stale"}, evicted)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, session.ReasonIdle, stale.CloseReason())
	assert.Equal(t, []eviction{{"stale", session.ReasonIdle}}, *evictions)
}

func TestRegistry_CloseAll(t *testing.T) {
	r, _ := newRegistry(t)
	a := sessiontest.New()
	b := sessiontest.New()
	r.Add("a", a, "")
	r.Add("b", b, "")

	r.CloseAll(session.ReasonShutdown)

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, session.ReasonShutdown, a.CloseReason())
	assert.Equal(t, session.ReasonShutdown, b.CloseReason())
}

func TestRegistry_Each(t *testing.T) {
	r, _ := newRegistry(t)
	r.Add("a", sessiontest.New(), "x")
	r.Add("b", sessiontest.New(), "y")

	seen := map[string]string{}
	r.Each(func(e *session.Entry[string]) { seen[e.ID] = e.Meta })

	assert.Equal(t, map[string]string{"a": "x", "b": "y"}, seen)
}
