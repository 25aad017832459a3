package httpserver

import "sync/atomic"

// connectionLimiter caps concurrently open push channels. A limit of zero
// or less disables the cap.
type connectionLimiter struct {
	limit int64
	open  atomic.Int64
}

func newConnectionLimiter(limit int) *connectionLimiter {
	return &connectionLimiter{limit: int64(limit)}
}

func (l *connectionLimiter) acquire() bool {
	if l.limit <= 0 {
		l.open.Add(1)
		return true
	}
	if l.open.Add(1) > l.limit {
		l.open.Add(-1)
		return false
	}
	return true
}

func (l *connectionLimiter) release() {
	l.open.Add(-1)
}

func (l *connectionLimiter) count() int64 {
	return l.open.Load()
}
