package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"boticapos/backend/internal/domain"
	"boticapos/backend/internal/store"
)

// Store is the PostgreSQL Repository. Schema: products and batches as
// relational tables, plus a kv_records(key text primary key, data jsonb)
// table backing the key-value sink.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, generic_name, code, barcode, category, unit_type,
		       price_usd, price_ves, tax_rate, min_stock, reorder_point, max_stock, active
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.GenericName, &p.Code, &p.Barcode, &p.Category, &p.UnitType,
			&p.PriceUSD, &p.PriceVES, &p.TaxRate, &p.MinStock, &p.ReorderPoint, &p.MaxStock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, generic_name, code, barcode, category, unit_type,
		       price_usd, price_ves, tax_rate, min_stock, reorder_point, max_stock, active
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.GenericName, &p.Code, &p.Barcode, &p.Category, &p.UnitType,
		&p.PriceUSD, &p.PriceVES, &p.TaxRate, &p.MinStock, &p.ReorderPoint, &p.MaxStock, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" || product.Name == "" {
		return store.ErrInvalidRequest
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, name, generic_name, code, barcode, category, unit_type,
			price_usd, price_ves, tax_rate, min_stock, reorder_point, max_stock, active,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			generic_name = EXCLUDED.generic_name,
			code = EXCLUDED.code,
			barcode = EXCLUDED.barcode,
			category = EXCLUDED.category,
			unit_type = EXCLUDED.unit_type,
			price_usd = EXCLUDED.price_usd,
			price_ves = EXCLUDED.price_ves,
			tax_rate = EXCLUDED.tax_rate,
			min_stock = EXCLUDED.min_stock,
			reorder_point = EXCLUDED.reorder_point,
			max_stock = EXCLUDED.max_stock,
			active = EXCLUDED.active,
			updated_at = now()
	`, product.ID, product.Name, product.GenericName, product.Code, product.Barcode, product.Category, product.UnitType,
		product.PriceUSD, product.PriceVES, product.TaxRate, product.MinStock, product.ReorderPoint, product.MaxStock, product.Active)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidRequest
	}
	return err
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	query := `
		SELECT id, product_id, warehouse_id, quantity, expires_at, zone, received_at
		FROM batches
	`
	args := []any{}
	if productID != "" {
		query += ` WHERE product_id = $1`
		args = append(args, productID)
	}
	query += ` ORDER BY expires_at, received_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 64)
	for rows.Next() {
		var b domain.Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.WarehouseID, &b.Quantity, &b.ExpiresAt, &b.Zone, &b.ReceivedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return batches, nil
}

func (s *Store) UpsertBatch(ctx context.Context, batch domain.Batch) error {
	if batch.ID == "" || batch.ProductID == "" {
		return store.ErrInvalidRequest
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, warehouse_id, quantity, expires_at, zone, received_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (id) DO UPDATE SET
			warehouse_id = EXCLUDED.warehouse_id,
			quantity = EXCLUDED.quantity,
			expires_at = EXCLUDED.expires_at,
			zone = EXCLUDED.zone,
			updated_at = now()
	`, batch.ID, batch.ProductID, batch.WarehouseID, batch.Quantity, batch.ExpiresAt, batch.Zone, batch.ReceivedAt)
	return err
}

// CommitSale runs the whole sale in one transaction. The quantity guard
// in the UPDATE keeps a concurrent sale from driving a batch negative;
// zero rows affected means someone got there first and the commit rolls
// back untouched.
func (s *Store) CommitSale(ctx context.Context, decrements []domain.BatchAllocation, records []store.Record) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, dec := range decrements {
		res, err := tx.ExecContext(ctx, `
			UPDATE batches
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2 AND quantity >= $1
		`, dec.Quantity, dec.BatchID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: batch %s", store.ErrInsufficientStock, dec.BatchID)
		}
	}

	for _, record := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv_records (key, data, updated_at)
			VALUES ($1,$2,now())
			ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
		`, record.Key, record.Data)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) SaveRecord(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_records (key, data, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, key, data)
	return err
}

func (s *Store) LoadRecord(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM kv_records WHERE key = $1
	`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) DeleteRecord(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_records WHERE key = $1`, key)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, data FROM kv_records
		WHERE key LIKE $1 || '%'
		ORDER BY key
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]store.Record, 0, 64)
	for rows.Next() {
		var record store.Record
		if err := rows.Scan(&record.Key, &record.Data); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
