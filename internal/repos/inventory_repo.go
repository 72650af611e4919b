package repos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type InventoryRepo struct{ db *sqlx.DB }

func NewInventoryRepo(db *sqlx.DB) *InventoryRepo { return &InventoryRepo{db: db} }

// InventoryRow is one stock-keeping unit, used by admin inventory pages.
// VariantID is empty for product-level stock.
type InventoryRow struct {
	ProductID string `db:"product_id" json:"product_id"`
	VariantID string `db:"variant_id" json:"variant_id,omitempty"`
	Name      string `db:"name" json:"name"`
	Size      string `db:"size" json:"size,omitempty"`
	Color     string `db:"color" json:"color,omitempty"`
	Stock     int    `db:"stock" json:"stock"`
}

// ListAll returns product-level and variant-level stock, products first.
func (r *InventoryRepo) ListAll(ctx context.Context) ([]InventoryRow, error) {
	var rows []InventoryRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id AS product_id, '' AS variant_id, name, '' AS size, '' AS color, stock
		FROM products
		UNION ALL
		SELECT v.product_id, v.id AS variant_id, p.name, COALESCE(v.size,'') AS size, COALESCE(v.color,'') AS color, v.stock
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		ORDER BY product_id, variant_id
	`)
	return rows, err
}

// Stock returns the product-level stock.
// If the product does not exist, it returns sql.ErrNoRows.
func (r *InventoryRepo) Stock(ctx context.Context, productID string) (int, error) {
	var qty int
	err := r.db.GetContext(ctx, &qty, r.db.Rebind(`SELECT stock FROM products WHERE id = ?`), productID)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

// VariantStock returns the stock of a variant that belongs to productID.
// A variant of another product is reported as sql.ErrNoRows.
func (r *InventoryRepo) VariantStock(ctx context.Context, productID, variantID string) (int, error) {
	var qty int
	err := r.db.GetContext(ctx, &qty, r.db.Rebind(`
		SELECT stock FROM product_variants
		WHERE id = ? AND product_id = ?
	`), variantID, productID)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

// SetStock overwrites product-level stock.
func (r *InventoryRepo) SetStock(ctx context.Context, productID string, qty int) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE products SET stock = ?, updated_at = ? WHERE id = ?`), qty, stamp(), productID)
	return affectedOne(res, err)
}

// SetVariantStock overwrites a variant's stock.
func (r *InventoryRepo) SetVariantStock(ctx context.Context, productID, variantID string, qty int) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE product_variants SET stock = ?, updated_at = ?
		WHERE id = ? AND product_id = ?
	`), qty, stamp(), variantID, productID)
	return affectedOne(res, err)
}

// affectedOne turns "no row matched" into sql.ErrNoRows.
func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
