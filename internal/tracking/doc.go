// Package tracking implements the order tracking partition: the live status
// of every order routed to one partition, and the push channels watching it.
//
// A Tracker is owned by one actor (see package actor) and is never touched
// concurrently, so it carries no locks. Restaurant partitions are
// authoritative and forward transitions to the dispatch bridge. Order
// partitions receive mirrored copies through ApplyMirror.
package tracking
