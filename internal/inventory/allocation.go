package inventory

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"boticapos/backend/internal/domain"
	"boticapos/backend/internal/store"
	"boticapos/backend/internal/xid"
)

// InsufficientStockError reports how much eligible stock existed when a
// request could not be satisfied.
type InsufficientStockError struct {
	ProductID string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %s, available %s",
		e.ProductID, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == store.ErrInsufficientStock
}

// TransferPlan is the outcome of a warehouse transfer: decrements to apply
// at the source and new batch rows for the destination. Expiry dates are
// carried over untouched; this engine never fabricates them.
type TransferPlan struct {
	Decrements []domain.BatchAllocation `json:"decrements"`
	Additions  []domain.Batch           `json:"additions"`
}

// SelectBatches picks the batches that satisfy quantity for a product using
// FEFO: only batches in the available zone, with stock, and expiring after
// now are eligible; the soonest-expiring batch is always consumed first.
// Ties on expiry break by received-at, then batch id, so allocation is
// deterministic. The input slice is never mutated.
func SelectBatches(batches []domain.Batch, productID string, quantity decimal.Decimal, now time.Time) ([]domain.BatchAllocation, error) {
	if quantity.Sign() <= 0 {
		return nil, store.ErrInvalidRequest
	}

	eligible := make([]domain.Batch, 0, len(batches))
	available := decimal.Zero
	for _, batch := range batches {
		if !isEligible(batch, productID, now) {
			continue
		}
		eligible = append(eligible, batch)
		available = available.Add(batch.Quantity)
	}

	if available.LessThan(quantity) {
		return nil, &InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
		}
	}

	slices.SortFunc(eligible, compareFEFO)

	allocations := make([]domain.BatchAllocation, 0, len(eligible))
	remaining := quantity
	for _, batch := range eligible {
		if remaining.Sign() <= 0 {
			break
		}
		take := decimal.Min(remaining, batch.Quantity)
		allocations = append(allocations, domain.BatchAllocation{
			BatchID:  batch.ID,
			Quantity: take,
		})
		remaining = remaining.Sub(take)
	}

	return allocations, nil
}

// Available sums the quantity this engine would consider dispensable.
func Available(batches []domain.Batch, productID string, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, batch := range batches {
		if isEligible(batch, productID, now) {
			total = total.Add(batch.Quantity)
		}
	}
	return total
}

// ExpiringSoon lists still-dispensable batches whose expiry falls within
// windowDays of now, soonest first. Read-only; zones are never touched.
func ExpiringSoon(batches []domain.Batch, now time.Time, windowDays int) []domain.Batch {
	cutoff := now.AddDate(0, 0, windowDays)
	result := make([]domain.Batch, 0, len(batches))
	for _, batch := range batches {
		if !isEligible(batch, "", now) {
			continue
		}
		if batch.ExpiresAt.After(cutoff) {
			continue
		}
		result = append(result, batch)
	}
	slices.SortFunc(result, compareFEFO)
	return result
}

// Expired lists available-zone batches that still hold stock but can no
// longer be dispensed. Reportable so they can be pulled, never selectable.
func Expired(batches []domain.Batch, now time.Time) []domain.Batch {
	result := make([]domain.Batch, 0, len(batches))
	for _, batch := range batches {
		if batch.Zone != domain.ZoneAvailable || batch.Quantity.Sign() <= 0 {
			continue
		}
		if batch.ExpiresAt.After(now) {
			continue
		}
		result = append(result, batch)
	}
	slices.SortFunc(result, compareFEFO)
	return result
}

func IsLowStock(product domain.Product, available decimal.Decimal) bool {
	return available.LessThanOrEqual(product.MinStock)
}

func NeedsReorder(product domain.Product, available decimal.Decimal) bool {
	return available.LessThanOrEqual(product.ReorderPoint)
}

// TransferBetweenWarehouses plans moving quantity of a product from one
// warehouse to another, consuming source batches in FEFO order. The caller
// applies the decrements and inserts the addition rows; original expiry
// dates and received-at times are preserved so FEFO order survives the move.
func TransferBetweenWarehouses(batches []domain.Batch, fromID, toID, productID string, quantity decimal.Decimal, now time.Time) (TransferPlan, error) {
	if fromID == "" || toID == "" || fromID == toID {
		return TransferPlan{}, store.ErrInvalidRequest
	}

	source := make([]domain.Batch, 0, len(batches))
	byID := make(map[string]domain.Batch, len(batches))
	for _, batch := range batches {
		if batch.WarehouseID != fromID {
			continue
		}
		source = append(source, batch)
		byID[batch.ID] = batch
	}

	allocations, err := SelectBatches(source, productID, quantity, now)
	if err != nil {
		return TransferPlan{}, err
	}

	plan := TransferPlan{
		Decrements: allocations,
		Additions:  make([]domain.Batch, 0, len(allocations)),
	}
	for _, alloc := range allocations {
		origin := byID[alloc.BatchID]
		plan.Additions = append(plan.Additions, domain.Batch{
			ID:          xid.New("batch"),
			ProductID:   origin.ProductID,
			WarehouseID: toID,
			Quantity:    alloc.Quantity,
			ExpiresAt:   origin.ExpiresAt,
			Zone:        origin.Zone,
			ReceivedAt:  origin.ReceivedAt,
		})
	}
	return plan, nil
}

func isEligible(batch domain.Batch, productID string, now time.Time) bool {
	if productID != "" && batch.ProductID != productID {
		return false
	}
	if batch.Zone != domain.ZoneAvailable {
		return false
	}
	if batch.Quantity.Sign() <= 0 {
		return false
	}
	return batch.ExpiresAt.After(now)
}

func compareFEFO(a, b domain.Batch) int {
	if a.ExpiresAt.Before(b.ExpiresAt) {
		return -1
	}
	if a.ExpiresAt.After(b.ExpiresAt) {
		return 1
	}
	if a.ReceivedAt.Before(b.ReceivedAt) {
		return -1
	}
	if a.ReceivedAt.After(b.ReceivedAt) {
		return 1
	}
	return cmpString(a.ID, b.ID)
}

func cmpString(a, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
