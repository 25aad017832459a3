// Package actor hosts one single-threaded actor per partition.
//
// Runtime.Get returns the partition's actor, creating it on first access.
// A new actor is hydrated from its partition's store before it is published,
// so no request ever observes a partially loaded state. Every command sent
// to an actor runs on its own goroutine, strictly one at a time and in
// arrival order; behaviors therefore need no locks.
package actor
