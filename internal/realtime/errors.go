package realtime

import "errors"

var (
	// ErrInvalidTopic marks a malformed topic string.
	ErrInvalidTopic = errors.New("realtime: invalid topic")
	// ErrUnknownEntity marks a subscription to a device or location
	// that does not exist.
	ErrUnknownEntity = errors.New("realtime: unknown entity")
	// ErrSessionNotFound marks an operation on an unregistered connection.
	ErrSessionNotFound = errors.New("realtime: session not found")
	// ErrDuplicateSession marks a second registration of the same
	// connection id.
	ErrDuplicateSession = errors.New("realtime: duplicate connection id")
)
