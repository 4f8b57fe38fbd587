package domain

import "errors"

var (
	// ErrNotFound indicates the referenced list, task or anchor does not
	// exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAnchor indicates the anchor is not a member of the target scope.
	ErrInvalidAnchor = errors.New("invalid anchor")
	// ErrInvalidOrder indicates a reorder payload is not a permutation of the scope.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrConflict indicates that the underlying storage rejected a write
	// because the scope changed concurrently.
	ErrConflict     = errors.New("concurrency conflict")
	ErrValidation   = errors.New("validation failed")
	ErrEmailTaken   = errors.New("email already registered")
	ErrUnauthorized = errors.New("unauthorized")
)
