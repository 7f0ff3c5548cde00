package dispense

import (
	"context"

	"medcaravan/m/domain"
)

// Store is the narrow persistence capability the engine runs on. The engine
// owns the allocation decision; the store owns durability.
type Store interface {
	// MedicationExists reports whether the medication id resolves.
	MedicationExists(ctx context.Context, medicationID int64) (bool, error)

	// BatchByID returns the batch or nil when it does not exist.
	BatchByID(ctx context.Context, batchID int64) (*domain.Batch, error)

	// EligibleBatches returns the medication's batches that still hold
	// stock (quantity_units > 0). Order is not relied upon; the engine
	// sorts candidates itself.
	EligibleBatches(ctx context.Context, medicationID int64) ([]domain.Batch, error)

	// Apply runs fn against a transaction scope. Every mutation made
	// through the Tx becomes visible together on a nil return, and none of
	// them on an error return.
	Apply(ctx context.Context, fn func(tx Tx) error) error
}

// Tx groups the mutations of one dispense into an atomic unit.
type Tx interface {
	// DecrementBatch subtracts units from the batch's quantity. It must
	// fail, aborting the whole unit, if the batch no longer holds at least
	// that many units.
	DecrementBatch(batchID, units int64) error

	// AppendDispense inserts one ledger entry and fills in rec.ID.
	AppendDispense(rec *domain.DispenseRecord) error
}
