package store

import (
	"context"
	"errors"

	"boticapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Record is one durable key-value row. Held carts, ledger entries and
// vouchers all travel through this surface as JSON payloads.
type Record struct {
	Key  string
	Data []byte
}

type Repository interface {
	// Product catalog (externally owned reference data).
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) error

	// Batch/lot store. productID "" lists every batch.
	ListBatches(ctx context.Context, productID string) ([]domain.Batch, error)
	UpsertBatch(ctx context.Context, batch domain.Batch) error

	// CommitSale applies batch decrements and saves the given records in
	// one atomic write. A decrement that would drive a batch negative
	// fails the whole commit with ErrInsufficientStock and nothing is
	// persisted.
	CommitSale(ctx context.Context, decrements []domain.BatchAllocation, records []Record) error

	// Key-value sink for held carts, ledger entries and vouchers.
	SaveRecord(ctx context.Context, key string, data []byte) error
	LoadRecord(ctx context.Context, key string) ([]byte, error)
	DeleteRecord(ctx context.Context, key string) error
	ListByPrefix(ctx context.Context, prefix string) ([]Record, error)
}
