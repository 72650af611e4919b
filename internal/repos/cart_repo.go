package repos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// CartRepo stores persisted carts. Every statement is scoped by user_id so
// a row id alone never reaches another user's cart.
type CartRepo struct {
	db   *sqlx.DB
	feed *CartFeed
}

func NewCartRepo(db *sqlx.DB, feed *CartFeed) *CartRepo {
	if feed == nil {
		feed = NewCartFeed()
	}
	return &CartRepo{db: db, feed: feed}
}

const rowCols = `id, user_id, product_id, COALESCE(variant_id,'') AS variant_id, quantity, COALESCE(updated_at,'') AS updated_at`

// entryRow is the flat shape of the cart/product/variant join.
type entryRow struct {
	ID        string              `db:"id"`
	ProductID string              `db:"product_id"`
	VariantID string              `db:"variant_id"`
	Quantity  int                 `db:"quantity"`
	PID       sql.NullString      `db:"p_id"`
	PName     sql.NullString      `db:"p_name"`
	PPrice    decimal.NullDecimal `db:"p_price"`
	PImage    sql.NullString      `db:"p_image"`
	PStock    sql.NullInt64       `db:"p_stock"`
	VID       sql.NullString      `db:"v_id"`
	VSize     sql.NullString      `db:"v_size"`
	VColor    sql.NullString      `db:"v_color"`
	VAdj      decimal.NullDecimal `db:"v_adj"`
	VStock    sql.NullInt64       `db:"v_stock"`
}

func (r entryRow) entry() domain.LineEntry {
	e := domain.LineEntry{
		ID:        r.ID,
		ProductID: r.ProductID,
		VariantID: r.VariantID,
		Quantity:  r.Quantity,
	}
	if r.PID.Valid {
		e.Product = &domain.ProductSnapshot{
			ID:       r.PID.String,
			Name:     r.PName.String,
			Price:    r.PPrice.Decimal,
			ImageURL: r.PImage.String,
			Stock:    int(r.PStock.Int64),
		}
	}
	if r.VID.Valid {
		e.Variant = &domain.VariantSnapshot{
			ID:              r.VID.String,
			ProductID:       r.ProductID,
			Size:            r.VSize.String,
			Color:           r.VColor.String,
			PriceAdjustment: r.VAdj.Decimal,
			Stock:           int(r.VStock.Int64),
		}
	}
	return e
}

// Entries returns the user's cart joined with current product and variant
// data, oldest line first.
func (r *CartRepo) Entries(ctx context.Context, userID string) ([]domain.LineEntry, error) {
	var rows []entryRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
	  SELECT c.id, c.product_id, COALESCE(c.variant_id,'') AS variant_id, c.quantity,
	         p.id AS p_id, p.name AS p_name, p.price AS p_price, p.image_url AS p_image, p.stock AS p_stock,
	         v.id AS v_id, v.size AS v_size, v.color AS v_color, v.price_adjustment AS v_adj, v.stock AS v_stock
	  FROM cart_rows c
	  LEFT JOIN products p ON p.id = c.product_id
	  LEFT JOIN product_variants v ON v.id = c.variant_id
	  WHERE c.user_id = ?
	  ORDER BY c.created_at, c.id
	`), userID); err != nil {
		return nil, err
	}
	out := make([]domain.LineEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.entry())
	}
	return out, nil
}

// Row returns one of the user's rows by id.
func (r *CartRepo) Row(ctx context.Context, userID, rowID string) (domain.CartRow, error) {
	var row domain.CartRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+rowCols+` FROM cart_rows WHERE id = ? AND user_id = ?`), rowID, userID)
	return row, err
}

// FindLine looks up the row for (productID, variantID); variantID "" only
// matches rows without a variant. Returns sql.ErrNoRows when absent.
func (r *CartRepo) FindLine(ctx context.Context, userID, productID, variantID string) (domain.CartRow, error) {
	var row domain.CartRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT `+rowCols+` FROM cart_rows
		WHERE user_id = ? AND product_id = ? AND COALESCE(variant_id,'') = ?
	`), userID, productID, variantID)
	return row, err
}

func (r *CartRepo) Insert(ctx context.Context, userID, productID, variantID string, qty int) (domain.CartRow, error) {
	row := domain.CartRow{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  qty,
		UpdatedAt: stamp(),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO cart_rows(id, user_id, product_id, variant_id, quantity, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`), row.ID, row.UserID, row.ProductID, nilIfEmpty(row.VariantID), row.Quantity, row.UpdatedAt, row.UpdatedAt)
	if err != nil {
		return domain.CartRow{}, err
	}
	r.feed.Publish(userID)
	return row, nil
}

func (r *CartRepo) UpdateQuantity(ctx context.Context, userID, rowID string, qty int) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE cart_rows SET quantity = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`), qty, stamp(), rowID, userID)
	if err := affectedOne(res, err); err != nil {
		return err
	}
	r.feed.Publish(userID)
	return nil
}

func (r *CartRepo) Delete(ctx context.Context, userID, rowID string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM cart_rows WHERE id = ? AND user_id = ?`), rowID, userID)
	if err := affectedOne(res, err); err != nil {
		return err
	}
	r.feed.Publish(userID)
	return nil
}

// DeleteAll empties the user's cart. An already empty cart is not an error.
func (r *CartRepo) DeleteAll(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM cart_rows WHERE user_id = ?`), userID); err != nil {
		return err
	}
	r.feed.Publish(userID)
	return nil
}

// Subscribe registers fn for changes to the user's cart made through any
// CartRepo sharing this feed.
func (r *CartRepo) Subscribe(userID string, fn func()) func() {
	return r.feed.Subscribe(userID, fn)
}
