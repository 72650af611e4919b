package domain

import "github.com/shopspring/decimal"

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 99

type ProductSnapshot struct {
	ID       string          `db:"id" json:"id"`
	Name     string          `db:"name" json:"name"`
	Price    decimal.Decimal `db:"price" json:"price"`
	ImageURL string          `db:"image_url" json:"image_url,omitempty"`
	Stock    int             `db:"stock" json:"stock"`
}

type VariantSnapshot struct {
	ID              string          `db:"id" json:"id"`
	ProductID       string          `db:"product_id" json:"product_id"`
	Size            string          `db:"size" json:"size,omitempty"`
	Color           string          `db:"color" json:"color,omitempty"`
	PriceAdjustment decimal.Decimal `db:"price_adjustment" json:"price_adjustment"`
	Stock           int             `db:"stock" json:"stock"`
}

// LineEntry is one (product, variant, quantity) unit of a cart. VariantID
// "" means no variant. Snapshots are attached at read time and may be nil.
type LineEntry struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	VariantID string           `json:"variant_id,omitempty"`
	Quantity  int              `json:"quantity"`
	Product   *ProductSnapshot `json:"product,omitempty"`
	Variant   *VariantSnapshot `json:"variant,omitempty"`
}

// UnitPrice is price plus variant adjustment; zero without a product snapshot.
func (e LineEntry) UnitPrice() decimal.Decimal {
	if e.Product == nil {
		return decimal.Zero
	}
	p := e.Product.Price
	if e.Variant != nil {
		p = p.Add(e.Variant.PriceAdjustment)
	}
	return p
}

func (e LineEntry) Subtotal() decimal.Decimal {
	return e.UnitPrice().Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// CartRow is a persisted cart line owned by a user.
type CartRow struct {
	ID        string `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"user_id"`
	ProductID string `db:"product_id" json:"product_id"`
	VariantID string `db:"variant_id" json:"variant_id,omitempty"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UpdatedAt string `db:"updated_at" json:"updated_at"`
}

// GuestLine is the minimal line kept in the device-local guest record.
type GuestLine struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type Availability struct {
	Status string `json:"status"` // IN_STOCK | LOW_STOCK | OUT_OF_STOCK
	Qty    int    `json:"qty,omitempty"`
}
