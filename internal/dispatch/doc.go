// Package dispatch forwards order status transitions to the outbound
// email/SMS queue without ever blocking the caller.
//
// A Bridge owns a bounded buffer and a single worker that delivers events to
// a Sink with bounded retries. When the buffer is full events are dropped
// and counted; delivery is best effort.
package dispatch
