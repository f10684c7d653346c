package catalog

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"boticapos/backend/internal/domain"
	"boticapos/backend/internal/inventory"
)

// StockView pairs a product with its sellable quantity and the derived
// replenishment flags the counter screens show.
type StockView struct {
	Product      domain.Product  `json:"product"`
	Available    decimal.Decimal `json:"available"`
	LowStock     bool            `json:"low_stock"`
	NeedsReorder bool            `json:"needs_reorder"`
}

// Search matches the query as a case-insensitive substring of the name,
// generic name or internal code. An empty query returns the whole active
// catalog. Inactive products never surface here.
func Search(products []domain.Product, query string) []domain.Product {
	query = strings.ToLower(strings.TrimSpace(query))
	matched := make([]domain.Product, 0, len(products))
	for _, product := range products {
		if !product.Active {
			continue
		}
		if query == "" || matchesQuery(product, query) {
			matched = append(matched, product)
		}
	}
	slices.SortFunc(matched, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return matched
}

func matchesQuery(product domain.Product, query string) bool {
	return strings.Contains(strings.ToLower(product.Name), query) ||
		strings.Contains(strings.ToLower(product.GenericName), query) ||
		strings.Contains(strings.ToLower(product.Code), query) ||
		// A scanned barcode typed into the search box matches whole, never
		// as a substring.
		(product.Barcode != "" && strings.ToLower(product.Barcode) == query)
}

// FindByBarcode is an exact match; scanners send the code verbatim.
func FindByBarcode(products []domain.Product, barcode string) (domain.Product, bool) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, false
	}
	for _, product := range products {
		if product.Active && product.Barcode == barcode {
			return product, true
		}
	}
	return domain.Product{}, false
}

func ByCategory(products []domain.Product, category string) []domain.Product {
	category = strings.ToLower(strings.TrimSpace(category))
	matched := make([]domain.Product, 0)
	for _, product := range products {
		if product.Active && strings.ToLower(product.Category) == category {
			matched = append(matched, product)
		}
	}
	slices.SortFunc(matched, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return matched
}

// StockLevels computes sellable quantity per product from the batch list
// and flags the ones at or below their thresholds.
func StockLevels(products []domain.Product, batches []domain.Batch, now time.Time) []StockView {
	views := make([]StockView, 0, len(products))
	for _, product := range products {
		if !product.Active {
			continue
		}
		available := inventory.Available(batches, product.ID, now)
		views = append(views, StockView{
			Product:      product,
			Available:    available,
			LowStock:     inventory.IsLowStock(product, available),
			NeedsReorder: inventory.NeedsReorder(product, available),
		})
	}
	slices.SortFunc(views, func(a, b StockView) int {
		return strings.Compare(a.Product.Name, b.Product.Name)
	})
	return views
}

// LowStock keeps only the products at or below their minimum.
func LowStock(products []domain.Product, batches []domain.Batch, now time.Time) []StockView {
	views := StockLevels(products, batches, now)
	low := views[:0]
	for _, view := range views {
		if view.LowStock {
			low = append(low, view)
		}
	}
	return slices.Clip(low)
}
