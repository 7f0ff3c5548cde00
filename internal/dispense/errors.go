package dispense

import "errors"

// Error kinds returned by the engine. Callers match with errors.Is; the
// wrapped message carries the specifics (which medication, which batch).
var (
	// ErrNotFound means the referenced medication or batch does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument means the request itself is malformed: a
	// non-positive quantity, or a forced batch that belongs to a different
	// medication. Retrying without changing the request cannot succeed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientStock means the medication's eligible batches together
	// cannot cover the requested quantity. Nothing was dispensed.
	ErrInsufficientStock = errors.New("not enough stock")

	// ErrInsufficientBatchStock means a forced batch cannot cover the
	// requested quantity on its own. Forcing a batch never falls back to
	// other batches.
	ErrInsufficientBatchStock = errors.New("not enough units in batch")

	// ErrInternal means storage or commit failure. No partial state was
	// written, so the request is safe to retry as-is.
	ErrInternal = errors.New("internal error")
)
