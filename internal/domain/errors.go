package domain

import "errors"

// Error taxonomy shared by all core components. Components wrap these with
// fmt.Errorf("...: %w", err); the HTTP layer maps them to response codes
// with errors.Is.
var (
	// ErrInvalidInput marks a malformed or missing required field. Always
	// client-correctable, never retried server-side.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a reference to a catalog entity that does not exist
	// and is not eligible for self-healing creation.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated marks a request that needs a resolvable actor but
	// has none.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrStorageUnavailable is internal: the durable backend failed and no
	// fallback could absorb the operation. It is never surfaced to a caller
	// whose write was absorbed by the fallback.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
