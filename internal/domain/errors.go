package domain

import "errors"

var (
	ErrNotFound              = errors.New("room not found")
	ErrAlreadyExists         = errors.New("room already exists")
	ErrPublisherConflict     = errors.New("publisher already attached")
	ErrNoPublisher           = errors.New("room has no publisher")
	ErrInvalidDescription    = errors.New("invalid session description")
	ErrIncompatibleTransport = errors.New("publisher transport does not match")
	ErrTransportFailure      = errors.New("transport failure")
	ErrPersistenceFailure    = errors.New("persistence failure")
)
