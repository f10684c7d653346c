package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"boticapos/backend/internal/domain"
	"boticapos/backend/internal/store"
)

func testBatches(now time.Time) []domain.Batch {
	return []domain.Batch{
		{ID: "b-late", ProductID: "prod-a", WarehouseID: "main", Quantity: decimal.NewFromInt(50), ExpiresAt: now.AddDate(1, 0, 0), Zone: domain.ZoneAvailable, ReceivedAt: now.AddDate(0, -1, 0)},
		{ID: "b-soon", ProductID: "prod-a", WarehouseID: "main", Quantity: decimal.NewFromInt(10), ExpiresAt: now.AddDate(0, 1, 0), Zone: domain.ZoneAvailable, ReceivedAt: now.AddDate(0, -3, 0)},
		{ID: "b-expired", ProductID: "prod-a", WarehouseID: "main", Quantity: decimal.NewFromInt(30), ExpiresAt: now.AddDate(0, 0, -1), Zone: domain.ZoneAvailable, ReceivedAt: now.AddDate(0, -6, 0)},
		{ID: "b-quarantine", ProductID: "prod-a", WarehouseID: "main", Quantity: decimal.NewFromInt(30), ExpiresAt: now.AddDate(0, 2, 0), Zone: domain.ZoneQuarantine, ReceivedAt: now.AddDate(0, -1, 0)},
		{ID: "b-other", ProductID: "prod-b", WarehouseID: "main", Quantity: decimal.NewFromInt(99), ExpiresAt: now.AddDate(0, 1, 0), Zone: domain.ZoneAvailable, ReceivedAt: now.AddDate(0, -1, 0)},
	}
}

func TestSelectBatchesPrefersEarliestExpiry(t *testing.T) {
	now := time.Now().UTC()
	allocations, err := SelectBatches(testBatches(now), "prod-a", decimal.NewFromInt(15), now)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}

	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}
	if allocations[0].BatchID != "b-soon" || !allocations[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("first allocation should drain b-soon fully, got %+v", allocations[0])
	}
	if allocations[1].BatchID != "b-late" || !allocations[1].Quantity.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("second allocation should take 5 from b-late, got %+v", allocations[1])
	}
}

func TestSelectBatchesSkipsExpiredAndNonAvailable(t *testing.T) {
	now := time.Now().UTC()
	allocations, err := SelectBatches(testBatches(now), "prod-a", decimal.NewFromInt(60), now)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}

	for _, alloc := range allocations {
		if alloc.BatchID == "b-expired" || alloc.BatchID == "b-quarantine" || alloc.BatchID == "b-other" {
			t.Fatalf("allocated from ineligible batch %s", alloc.BatchID)
		}
	}
}

func TestSelectBatchesInsufficientStock(t *testing.T) {
	now := time.Now().UTC()
	batches := testBatches(now)

	_, err := SelectBatches(batches, "prod-a", decimal.NewFromInt(61), now)
	if err == nil {
		t.Fatalf("expected insufficient stock")
	}
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected typed error, got %T", err)
	}
	if !stockErr.Available.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected available 60, got %s", stockErr.Available)
	}
	if !stockErr.Requested.Equal(decimal.NewFromInt(61)) {
		t.Fatalf("expected requested 61, got %s", stockErr.Requested)
	}

	// A failed allocation must leave the input untouched.
	if !batches[1].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("input slice was mutated")
	}
}

func TestSelectBatchesTieBreakIsDeterministic(t *testing.T) {
	now := time.Now().UTC()
	expiry := now.AddDate(0, 1, 0)
	received := now.AddDate(0, -1, 0)
	batches := []domain.Batch{
		{ID: "b-z", ProductID: "prod-a", Quantity: decimal.NewFromInt(5), ExpiresAt: expiry, Zone: domain.ZoneAvailable, ReceivedAt: received},
		{ID: "b-a", ProductID: "prod-a", Quantity: decimal.NewFromInt(5), ExpiresAt: expiry, Zone: domain.ZoneAvailable, ReceivedAt: received},
	}

	for i := 0; i < 10; i++ {
		allocations, err := SelectBatches(batches, "prod-a", decimal.NewFromInt(3), now)
		if err != nil {
			t.Fatalf("select failed: %v", err)
		}
		if len(allocations) != 1 || allocations[0].BatchID != "b-a" {
			t.Fatalf("tie break should always pick b-a, got %+v", allocations)
		}
	}
}

func TestSelectBatchesRejectsNonPositiveQuantity(t *testing.T) {
	now := time.Now().UTC()
	if _, err := SelectBatches(testBatches(now), "prod-a", decimal.Zero, now); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAvailableCountsEligibleOnly(t *testing.T) {
	now := time.Now().UTC()
	available := Available(testBatches(now), "prod-a", now)
	if !available.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected 60 available, got %s", available)
	}
}

func TestExpiringSoonWindow(t *testing.T) {
	now := time.Now().UTC()
	soon := ExpiringSoon(testBatches(now), now, 45)
	if len(soon) != 2 {
		t.Fatalf("expected 2 batches inside 45-day window, got %+v", soon)
	}
	if soon[0].ID != "b-soon" || soon[1].ID != "b-other" {
		t.Fatalf("expected FEFO order b-soon then b-other, got %s, %s", soon[0].ID, soon[1].ID)
	}
}

func TestExpiredListsOnlyAvailableZone(t *testing.T) {
	now := time.Now().UTC()
	expired := Expired(testBatches(now), now)
	if len(expired) != 1 || expired[0].ID != "b-expired" {
		t.Fatalf("expected only b-expired, got %+v", expired)
	}
}

func TestTransferBetweenWarehousesKeepsExpiry(t *testing.T) {
	now := time.Now().UTC()
	plan, err := TransferBetweenWarehouses(testBatches(now), "main", "annex", "prod-a", decimal.NewFromInt(12), now)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if len(plan.Decrements) != 2 || plan.Decrements[0].BatchID != "b-soon" {
		t.Fatalf("transfer should consume FEFO order, got %+v", plan.Decrements)
	}
	for i, addition := range plan.Additions {
		if addition.WarehouseID != "annex" {
			t.Fatalf("addition %d landed in %s", i, addition.WarehouseID)
		}
	}
	if !plan.Additions[0].ExpiresAt.Equal(now.AddDate(0, 1, 0)) {
		t.Fatalf("expiry must be carried over, got %s", plan.Additions[0].ExpiresAt)
	}
}

func TestTransferRejectsSameWarehouse(t *testing.T) {
	now := time.Now().UTC()
	if _, err := TransferBetweenWarehouses(testBatches(now), "main", "main", "prod-a", decimal.NewFromInt(1), now); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
