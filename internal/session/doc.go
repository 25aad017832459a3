// Package session provides the per-actor session registry: a map from
// session id to an open push channel.
//
// A Registry is owned by exactly one actor and is only touched from that
// actor's goroutine, so it carries no locking of its own. Dead channels are
// pruned reactively (the first failed send evicts the session) and by a
// periodic idle sweep.
package session
