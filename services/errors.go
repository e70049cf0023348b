package services

import "errors"

var (
	// ErrIdentityIndeterminate means the record carries neither an
	// external id nor a complete address, so it cannot be resolved.
	ErrIdentityIndeterminate = errors.New("record has no resolvable identity")

	// ErrIdentityConflict means the external id is already claimed by a
	// listing from a different data source.
	ErrIdentityConflict = errors.New("external id belongs to another source")

	// ErrAmbiguousMatch means more than one stored listing matched the
	// incoming address above the similarity threshold.
	ErrAmbiguousMatch = errors.New("multiple fuzzy candidates for address")

	// ErrConstraintViolation means a unique constraint fired and the
	// one-shot retry did not converge on the winning row.
	ErrConstraintViolation = errors.New("constraint violation did not resolve")

	// ErrStorageUnavailable wraps infrastructure failures from the store.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
