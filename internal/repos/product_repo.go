package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

type ProductRepo struct{ db *sqlx.DB }

func NewProductRepo(db *sqlx.DB) *ProductRepo { return &ProductRepo{db: db} }

const productCols = `id, name, price, COALESCE(image_url,'') AS image_url, stock`

const variantCols = `id, product_id, COALESCE(size,'') AS size, COALESCE(color,'') AS color, price_adjustment, stock`

// Products loads snapshots for ids in one query. Unknown ids are absent
// from the result.
func (r *ProductRepo) Products(ctx context.Context, ids []string) (map[string]domain.ProductSnapshot, error) {
	out := make(map[string]domain.ProductSnapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+productCols+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []domain.ProductSnapshot
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

// Variants loads variant snapshots for ids in one query.
func (r *ProductRepo) Variants(ctx context.Context, ids []string) (map[string]domain.VariantSnapshot, error) {
	out := make(map[string]domain.VariantSnapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+variantCols+` FROM product_variants WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []domain.VariantSnapshot
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, v := range rows {
		out[v.ID] = v
	}
	return out, nil
}
