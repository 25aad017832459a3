package session

import (
	"errors"
	"time"
)

var (
	ErrClosed       = errors.New("session channel closed")
	ErrSlowConsumer = errors.New("session channel send buffer full")
)

// Eviction reasons, also used as close reasons for the underlying channel.
const (
	ReasonSendFailed = "send failed"
	ReasonIdle       = "idle timeout"
	ReasonReplaced   = "replaced by newer connection"
	ReasonShutdown   = "server shutting down"
)

// Channel is the push side of one client connection.
type Channel interface {
	// Send hands data to the connection without blocking. A non-nil error
	// means the channel is unusable and the session should be dropped.
	Send(data []byte) error
	// Close terminates the connection. It must be safe to call repeatedly.
	Close(reason string)
	// LastActivity reports when the peer was last heard from.
	LastActivity() time.Time
}

type Entry[M any] struct {
	ID      string
	Channel Channel
	Meta    M
}

// EvictFunc observes evictions. It is called on the owning actor's goroutine.
type EvictFunc func(id, reason string)

type Registry[M any] struct {
	sessions map[string]*Entry[M]
	onEvict  EvictFunc
}

func NewRegistry[M any](onEvict EvictFunc) *Registry[M] {
	return &Registry[M]{
		sessions: make(map[string]*Entry[M]),
		onEvict:  onEvict,
	}
}

// Add registers ch under id. A different channel already registered under
// the same id is closed and replaced.
func (r *Registry[M]) Add(id string, ch Channel, meta M) *Entry[M] {
	if old, ok := r.sessions[id]; ok && old.Channel != ch {
		r.evict(old, ReasonReplaced)
	}
	e := &Entry[M]{ID: id, Channel: ch, Meta: meta}
	r.sessions[id] = e
	return e
}

// Remove unregisters id only if it is still bound to ch, so a late close of
// a replaced connection never removes its successor.
func (r *Registry[M]) Remove(id string, ch Channel) bool {
	e, ok := r.sessions[id]
	if !ok || e.Channel != ch {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *Registry[M]) Get(id string) (*Entry[M], bool) {
	e, ok := r.sessions[id]
	return e, ok
}

func (r *Registry[M]) Len() int {
	return len(r.sessions)
}

func (r *Registry[M]) Each(fn func(e *Entry[M])) {
	for _, e := range r.sessions {
		fn(e)
	}
}

// Send pushes msg to one session. A failed send evicts the session; the
// error is never returned to the caller.
func (r *Registry[M]) Send(id string, msg []byte) bool {
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	return r.deliver(e, msg)
}

// Broadcast pushes msg to every session accepted by match (all sessions when
// match is nil) and returns how many sends succeeded.
func (r *Registry[M]) Broadcast(msg []byte, match func(e *Entry[M]) bool) int {
	delivered := 0
	for _, e := range r.sessions {
		if match != nil && !match(e) {
			continue
		}
		if r.deliver(e, msg) {
			delivered++
		}
	}
	return delivered
}

// Sweep evicts sessions whose channel has been silent for longer than
// maxIdle and returns their ids.
func (r *Registry[M]) Sweep(now time.Time, maxIdle time.Duration) []string {
	var evicted []string
	for id, e := range r.sessions {
		if now.Sub(e.Channel.LastActivity()) > maxIdle {
			r.evict(e, ReasonIdle)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// CloseAll closes every channel and empties the registry.
func (r *Registry[M]) CloseAll(reason string) {
	for _, e := range r.sessions {
		r.evict(e, reason)
	}
}

func (r *Registry[M]) deliver(e *Entry[M], msg []byte) bool {
	if err := e.Channel.Send(msg); err != nil {
		r.evict(e, ReasonSendFailed)
		return false
	}
	return true
}

func (r *Registry[M]) evict(e *Entry[M], reason string) {
	if cur, ok := r.sessions[e.ID]; ok && cur == e {
		delete(r.sessions, e.ID)
	}
	e.Channel.Close(reason)
	if r.onEvict != nil {
		r.onEvict(e.ID, reason)
	}
}
