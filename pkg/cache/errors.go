package cache

import "errors"

// Sentinel errors for the remote tier and serialization paths. The
// Manager catches all of these and degrades; they never reach a
// caller's request path.
var (
	// ErrNotFound indicates the key is absent from the remote tier.
	ErrNotFound = errors.New("cache: key not found")

	// ErrStoreDisabled indicates the remote tier is marked disabled
	// after repeated connectivity failures; operations fail fast until
	// a successful ping re-enables it.
	ErrStoreDisabled = errors.New("cache: remote store disabled")

	// ErrSerialization indicates a value could not be encoded or
	// decoded.
	ErrSerialization = errors.New("cache: serialization failed")
)
