// Package dispense owns the stock-dispensing path: given a request for N
// units of a medication it picks the batches to debit (oldest expiry first,
// unless one batch is forced), decrements them and appends the matching
// ledger entries as one atomic unit. All other writers to batch quantities
// must go through the same per-medication lock (WithMedicationLock).
package dispense

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"medcaravan/m/domain"
)

// DefaultLockTimeout bounds how long a call waits for a medication that is
// already being dispensed by someone else.
const DefaultLockTimeout = 5 * time.Second

// Request describes one dispense. BatchID forces allocation from a single
// batch; when nil the engine allocates FIFO by expiration date. The metadata
// fields are passed through to the ledger entries verbatim.
type Request struct {
	MedicationID  int64
	QuantityUnits int64
	BatchID       *int64
	EventID       *int64
	DispensedBy   string
	PatientInfo   *domain.PatientInfo
	Notes         string
}

// Engine executes dispense requests against a Store. Calls for the same
// medication are serialized; calls for different medications run in
// parallel.
type Engine struct {
	store       Store
	lockTimeout time.Duration

	mu    sync.Mutex
	locks map[int64]chan struct{}
}

// NewEngine constructs an Engine with the default lock timeout.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:       store,
		lockTimeout: DefaultLockTimeout,
		locks:       make(map[int64]chan struct{}),
	}
}

// Dispense validates the request, allocates stock and commits the batch
// decrements together with the new ledger entries. On success it returns
// the created records, one per batch touched, summing exactly to the
// requested quantity. On any error no state was changed.
func (e *Engine) Dispense(ctx context.Context, req Request) ([]domain.DispenseRecord, error) {
	if req.QuantityUnits <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d: %w", req.QuantityUnits, ErrInvalidArgument)
	}

	unlock, err := e.acquire(ctx, req.MedicationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	exists, err := e.store.MedicationExists(ctx, req.MedicationID)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up medication: %v", ErrInternal, err)
	}
	if !exists {
		return nil, fmt.Errorf("medication %d: %w", req.MedicationID, ErrNotFound)
	}

	candidates, err := e.candidates(ctx, req)
	if err != nil {
		return nil, err
	}

	var available int64
	for _, b := range candidates {
		available += b.QuantityUnits
	}
	if available < req.QuantityUnits {
		if req.BatchID != nil {
			return nil, fmt.Errorf("batch %d holds %d of %d requested units: %w",
				*req.BatchID, available, req.QuantityUnits, ErrInsufficientBatchStock)
		}
		return nil, fmt.Errorf("medication %d holds %d of %d requested units: %w",
			req.MedicationID, available, req.QuantityUnits, ErrInsufficientStock)
	}

	records := allocate(req, candidates, time.Now().UTC().Format(time.RFC3339))

	err = e.store.Apply(ctx, func(tx Tx) error {
		for i := range records {
			if err := tx.DecrementBatch(records[i].BatchID, records[i].QuantityUnits); err != nil {
				return fmt.Errorf("decrement batch %d: %w", records[i].BatchID, err)
			}
			if err := tx.AppendDispense(&records[i]); err != nil {
				return fmt.Errorf("append ledger entry for batch %d: %w", records[i].BatchID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrInternal, err)
	}
	return records, nil
}

// WithMedicationLock runs fn while holding the medication's dispense lock.
// Manual stock corrections use this so they cannot race an allocation in
// progress.
func (e *Engine) WithMedicationLock(ctx context.Context, medicationID int64, fn func() error) error {
	unlock, err := e.acquire(ctx, medicationID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// candidates resolves the batch set the request may allocate from, sorted
// for allocation. Forcing a batch narrows the set to that batch only.
func (e *Engine) candidates(ctx context.Context, req Request) ([]domain.Batch, error) {
	if req.BatchID != nil {
		b, err := e.store.BatchByID(ctx, *req.BatchID)
		if err != nil {
			return nil, fmt.Errorf("%w: looking up batch: %v", ErrInternal, err)
		}
		if b == nil {
			return nil, fmt.Errorf("batch %d: %w", *req.BatchID, ErrNotFound)
		}
		if b.MedicationID != req.MedicationID {
			return nil, fmt.Errorf("batch %d does not belong to medication %d: %w",
				*req.BatchID, req.MedicationID, ErrInvalidArgument)
		}
		return []domain.Batch{*b}, nil
	}

	batches, err := e.store.EligibleBatches(ctx, req.MedicationID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading batches: %v", ErrInternal, err)
	}
	sortFIFO(batches)
	return batches, nil
}

// sortFIFO orders batches oldest expiry first. Batches without an expiration
// date go last (never-expiring stock has the lowest dispensing priority),
// equal dates break ties by id ascending so allocation stays deterministic.
func sortFIFO(batches []domain.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		bi, bj := batches[i], batches[j]
		switch {
		case bi.ExpirationDate == nil && bj.ExpirationDate == nil:
			return bi.ID < bj.ID
		case bi.ExpirationDate == nil:
			return false
		case bj.ExpirationDate == nil:
			return true
		case *bi.ExpirationDate != *bj.ExpirationDate:
			return *bi.ExpirationDate < *bj.ExpirationDate
		default:
			return bi.ID < bj.ID
		}
	})
}

// allocate walks the ordered candidates greedily. The caller has already
// checked that the candidates cover the requested quantity.
func allocate(req Request, candidates []domain.Batch, dispensedAt string) []domain.DispenseRecord {
	records := make([]domain.DispenseRecord, 0, 1)
	remaining := req.QuantityUnits
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		take := remaining
		if b.QuantityUnits < take {
			take = b.QuantityUnits
		}
		if take == 0 {
			continue
		}
		records = append(records, domain.DispenseRecord{
			MedicationID:  req.MedicationID,
			BatchID:       b.ID,
			QuantityUnits: take,
			DispenseDate:  dispensedAt,
			EventID:       req.EventID,
			DispensedBy:   req.DispensedBy,
			PatientInfo:   req.PatientInfo,
			Notes:         req.Notes,
		})
		remaining -= take
	}
	return records
}

// acquire takes the medication's lock with a bounded wait. The returned
// func releases it.
func (e *Engine) acquire(ctx context.Context, medicationID int64) (func(), error) {
	e.mu.Lock()
	l, ok := e.locks[medicationID]
	if !ok {
		l = make(chan struct{}, 1)
		e.locks[medicationID] = l
	}
	e.mu.Unlock()

	timer := time.NewTimer(e.lockTimeout)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrInternal, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("%w: timed out waiting to dispense medication %d", ErrInternal, medicationID)
	}
}
