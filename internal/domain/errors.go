package domain

import "errors"

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrKeyNotFound          = errors.New("key not found")

	// ErrInvalidCommand wraps malformed commands: missing ids, empty status,
	// unknown client message types.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrPersistence wraps store failures that aborted a mutation. The
	// in-memory state is unchanged when this is returned.
	ErrPersistence = errors.New("persistence failed")
)
