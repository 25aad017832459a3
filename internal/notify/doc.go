// Package notify implements the notification partition: broadcast and
// targeted notifications, read tracking and replay of unread notifications
// to reconnecting clients.
//
// Sessions are keyed by user id, or "user:restaurant" when the client
// connected with a restaurant scope.
package notify
