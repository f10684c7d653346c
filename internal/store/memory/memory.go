package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"boticapos/backend/internal/domain"
	"boticapos/backend/internal/store"
)

// Store is the in-memory Repository used by tests and by the demo server
// when no database is configured.
type Store struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	batches  map[string]domain.Batch
	kv       map[string][]byte
}

func New() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		batches:  make(map[string]domain.Batch),
		kv:       make(map[string][]byte),
	}
}

// NewSeeded returns a store preloaded with a small pharmacy catalog and
// batches at staggered expiries, enough to exercise every flow by hand.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{
			ID: "prod-paracetamol-500", Name: "Paracetamol 500mg x10", GenericName: "Acetaminofen",
			Code: "MED-001", Barcode: "7591234500017", Category: "analgesicos",
			UnitType: domain.UnitTypeUnit,
			PriceUSD: decimal.RequireFromString("2.50"), PriceVES: decimal.RequireFromString("90.00"),
			TaxRate:  decimal.RequireFromString("0.16"),
			MinStock: decimal.NewFromInt(20), ReorderPoint: decimal.NewFromInt(40), MaxStock: decimal.NewFromInt(200),
			Active: true,
		},
		{
			ID: "prod-amoxicilina-500", Name: "Amoxicilina 500mg x12", GenericName: "Amoxicilina",
			Code: "MED-002", Barcode: "7591234500024", Category: "antibioticos",
			UnitType: domain.UnitTypeUnit,
			PriceUSD: decimal.RequireFromString("6.00"), PriceVES: decimal.RequireFromString("216.00"),
			TaxRate:  decimal.RequireFromString("0.16"),
			MinStock: decimal.NewFromInt(10), ReorderPoint: decimal.NewFromInt(25), MaxStock: decimal.NewFromInt(120),
			Active: true,
		},
		{
			ID: "prod-jarabe-ambroxol", Name: "Ambroxol jarabe 120ml", GenericName: "Ambroxol",
			Code: "MED-003", Barcode: "7591234500031", Category: "antigripales",
			UnitType: domain.UnitTypeFraction,
			PriceUSD: decimal.RequireFromString("4.80"), PriceVES: decimal.RequireFromString("172.80"),
			TaxRate:  decimal.RequireFromString("0.16"),
			MinStock: decimal.NewFromInt(6), ReorderPoint: decimal.NewFromInt(12), MaxStock: decimal.NewFromInt(60),
			Active: true,
		},
		{
			ID: "prod-vitamina-c", Name: "Vitamina C 1g efervescente", GenericName: "Acido ascorbico",
			Code: "SUP-001", Barcode: "7591234500048", Category: "suplementos",
			UnitType: domain.UnitTypeUnit,
			PriceUSD: decimal.RequireFromString("3.20"), PriceVES: decimal.RequireFromString("115.20"),
			TaxRate:  decimal.Zero,
			MinStock: decimal.NewFromInt(15), ReorderPoint: decimal.NewFromInt(30), MaxStock: decimal.NewFromInt(150),
			Active: true,
		},
	}
	for _, product := range products {
		s.products[product.ID] = product
	}

	batches := []domain.Batch{
		{ID: "batch-par-001", ProductID: "prod-paracetamol-500", WarehouseID: "main", Quantity: decimal.NewFromInt(40), ExpiresAt: now.AddDate(0, 3, 0), Zone: domain.ZoneAvailable, ReceivedAt: now.AddDate(0, -2, 0)},
		{ID: "batch-par-002", ProductID: "prod-paracetamol-500", WarehouseID: "main", Quantity: decimal.NewFromInt(80), ExpiresAt: now.AddDate(1, 0, 0), Zone: domain.ZoneAvailable, ReceivedAt: now.AddDate(0, -1, 0)},
		{ID: "batch-amx-001", ProductID: "prod-amoxicilina-500", WarehouseID: "main", Quantity: decimal.NewFromInt(30), ExpiresAt: now.AddDate(0, 6, 0), Zone: domain.ZoneAvailable, ReceivedAt: now.AddDate(0, -1, 0)},
		{ID: "batch-amx-002", ProductID: "prod-amoxicilina-500", WarehouseID: "main", Quantity: decimal.NewFromInt(15), ExpiresAt: now.AddDate(0, 1, 15), Zone: domain.ZoneQuarantine, ReceivedAt: now.AddDate(0, 0, -10)},
		{ID: "batch-amb-001", ProductID: "prod-jarabe-ambroxol", WarehouseID: "main", Quantity: decimal.NewFromInt(18), ExpiresAt: now.AddDate(0, 2, 0), Zone: domain.ZoneAvailable, ReceivedAt: now.AddDate(0, -3, 0)},
		{ID: "batch-vic-001", ProductID: "prod-vitamina-c", WarehouseID: "main", Quantity: decimal.NewFromInt(60), ExpiresAt: now.AddDate(2, 0, 0), Zone: domain.ZoneAvailable, ReceivedAt: now.AddDate(0, -1, 0)},
	}
	for _, batch := range batches {
		s.batches[batch.ID] = batch
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		products = append(products, product)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := product
	return &clone, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return store.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
	return nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([]domain.Batch, 0, len(s.batches))
	for _, batch := range s.batches {
		if productID != "" && batch.ProductID != productID {
			continue
		}
		batches = append(batches, batch)
	}
	slices.SortFunc(batches, func(a, b domain.Batch) int {
		return strings.Compare(a.ID, b.ID)
	})
	return batches, nil
}

func (s *Store) UpsertBatch(_ context.Context, batch domain.Batch) error {
	if strings.TrimSpace(batch.ID) == "" || strings.TrimSpace(batch.ProductID) == "" {
		return store.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	return nil
}

// CommitSale validates every decrement before touching anything, then
// applies decrements and record writes under one lock hold.
func (s *Store) CommitSale(_ context.Context, decrements []domain.BatchAllocation, records []store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dec := range decrements {
		batch, ok := s.batches[dec.BatchID]
		if !ok {
			return fmt.Errorf("%w: batch %s", store.ErrNotFound, dec.BatchID)
		}
		if batch.Quantity.LessThan(dec.Quantity) {
			return fmt.Errorf("%w: batch %s has %s, need %s", store.ErrInsufficientStock, dec.BatchID, batch.Quantity, dec.Quantity)
		}
	}

	for _, dec := range decrements {
		batch := s.batches[dec.BatchID]
		batch.Quantity = batch.Quantity.Sub(dec.Quantity)
		s.batches[dec.BatchID] = batch
	}
	for _, record := range records {
		s.kv[record.Key] = slices.Clone(record.Data)
	}
	return nil
}

func (s *Store) SaveRecord(_ context.Context, key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return store.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = slices.Clone(data)
	return nil
}

func (s *Store) LoadRecord(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.kv[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(data), nil
}

func (s *Store) DeleteRecord(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.kv[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.kv, key)
	return nil
}

func (s *Store) ListByPrefix(_ context.Context, prefix string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]store.Record, 0)
	for key, data := range s.kv {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		records = append(records, store.Record{Key: key, Data: slices.Clone(data)})
	}
	slices.SortFunc(records, func(a, b store.Record) int {
		return strings.Compare(a.Key, b.Key)
	})
	return records, nil
}
