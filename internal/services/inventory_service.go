package services

import (
	"context"
	"database/sql"
	"errors"

	"storefront/internal/domain"
	"storefront/internal/repos"
	"storefront/internal/validate"
)

// LowStockThreshold is the quantity below which stock is reported as low.
const LowStockThreshold = 5

type InventoryService struct {
	Inv *repos.InventoryRepo
}

func NewInventoryService(inv *repos.InventoryRepo) *InventoryService {
	return &InventoryService{Inv: inv}
}

// CheckAvailability converts qty to IN_STOCK / LOW_STOCK / OUT_OF_STOCK.
// A variant, when given, is authoritative over product stock.
func (s *InventoryService) CheckAvailability(ctx context.Context, productID, variantID string) (domain.Availability, error) {
	var qty int
	var err error
	if variantID == "" {
		qty, err = s.Inv.Stock(ctx, productID)
	} else {
		qty, err = s.Inv.VariantStock(ctx, productID, variantID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Availability{}, notFound("product not found")
		}
		return domain.Availability{}, unavailable("read stock", err)
	}
	return availability(qty), nil
}

func availability(qty int) domain.Availability {
	status := "OUT_OF_STOCK"
	switch {
	case qty >= LowStockThreshold:
		status = "IN_STOCK"
	case qty > 0:
		status = "LOW_STOCK"
	}
	return domain.Availability{Status: status, Qty: qty}
}

func (s *InventoryService) List(ctx context.Context) ([]repos.InventoryRow, error) {
	rows, err := s.Inv.ListAll(ctx)
	if err != nil {
		return nil, unavailable("list inventory", err)
	}
	return rows, nil
}

// SetStock overwrites stock for a product, or for one of its variants.
func (s *InventoryService) SetStock(ctx context.Context, productID, variantID string, qty int) error {
	pid, ok := validate.ID(productID)
	if !ok {
		return invalid("invalid product id")
	}
	vid, ok := validate.OptionalID(variantID)
	if !ok {
		return invalid("invalid variant id")
	}
	if qty < 0 || qty > 100000 {
		return invalid("stock must be between 0 and 100000")
	}
	var err error
	if vid == "" {
		err = s.Inv.SetStock(ctx, pid, qty)
	} else {
		err = s.Inv.SetVariantStock(ctx, pid, vid, qty)
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notFound("product not found")
	case err != nil:
		return unavailable("set stock", err)
	}
	return nil
}
