package store

import "errors"

var (
	// ErrSchema is returned when the merged table parameters are empty or invalid.
	// It is raised before any request is sent.
	ErrSchema = errors.New("ddbstack: invalid table schema")

	// ErrTableExists is returned by Initialize when the table already exists.
	ErrTableExists = errors.New("ddbstack: table already exists")

	// ErrTableNotFound is returned by Describe when the table doesn't exist.
	ErrTableNotFound = errors.New("ddbstack: table not found")

	// ErrNotInitialized is returned by item operations against a table that doesn't exist.
	ErrNotInitialized = errors.New("ddbstack: collection table not initialized")

	// ErrNotFound is returned when an item doesn't exist or has expired.
	ErrNotFound = errors.New("ddbstack: item not found")

	// ErrConditionFailed is returned when a conditional write's precondition fails.
	ErrConditionFailed = errors.New("ddbstack: condition failed")

	// ErrStoreUnavailable is returned for transport and throttling failures.
	ErrStoreUnavailable = errors.New("ddbstack: store unavailable")

	// ErrTimeout is returned when a single round trip exceeds the configured timeout.
	ErrTimeout = errors.New("ddbstack: operation timed out")
)

// IsRetryable reports whether err is a transient failure worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTimeout)
}

// IsAlreadyExists reports whether err means the table was already created.
// Initialize surfaces this rather than suppressing it; most callers treat it as success.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrTableExists)
}
