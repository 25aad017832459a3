// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (order.go, notification.go, store.go, dispatch.go,
// messages.go) hold shared types and cross-cutting contracts. No
// implementation code lives here, which keeps the actor packages and the
// adapters free of circular imports.
package domain
