package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"storefront/internal/domain"
	applog "storefront/internal/log"
)

// MergePolicy decides how stock is treated when a guest cart is folded
// into a persisted one at sign-in.
type MergePolicy int

const (
	// MergeUnchecked sums quantities without looking at stock. A later
	// update is what catches an over-stocked line.
	MergeUnchecked MergePolicy = iota
	// MergeClamp caps each merged line at current stock and the line
	// ceiling. Lines with nothing left to add are skipped.
	MergeClamp
)

func ParseMergePolicy(s string) MergePolicy {
	if strings.EqualFold(strings.TrimSpace(s), "clamp") {
		return MergeClamp
	}
	return MergeUnchecked
}

func (p MergePolicy) String() string {
	if p == MergeClamp {
		return "clamp"
	}
	return "unchecked"
}

// merge folds the guest record into userID's persisted cart, in guest
// order. The record is taken (read and deleted) up front, so concurrent
// carts on the same device fold it in once. A failing line is logged and
// skipped. An empty guest record causes no writes at all.
func (s *CartService) merge(ctx context.Context, userID string) error {
	lines, err := s.guest.Take(ctx)
	if err != nil {
		applog.Error(ctx, "cart.merge_read", err, map[string]any{"user_id": userID})
		return unavailable("read guest cart", err)
	}
	if len(lines) == 0 {
		return nil
	}

	merged := 0
	for _, gl := range lines {
		if err := s.mergeLine(ctx, userID, gl); err != nil {
			applog.Error(ctx, "cart.merge_line", err, map[string]any{
				"product_id": gl.ProductID,
				"variant_id": gl.VariantID,
				"qty":        gl.Quantity,
			})
			continue
		}
		merged++
	}

	applog.Info(ctx, "cart.merge", map[string]any{
		"lines":  len(lines),
		"merged": merged,
		"policy": s.policy.String(),
	})
	return nil
}

func (s *CartService) mergeLine(ctx context.Context, userID string, gl domain.GuestLine) error {
	if gl.Quantity < 1 {
		return invalid("guest line has no quantity")
	}
	row, err := s.carts.FindLine(ctx, userID, gl.ProductID, gl.VariantID)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	qty := gl.Quantity
	if found {
		qty += row.Quantity
	}
	if s.policy == MergeClamp {
		avail, err := s.available(ctx, gl.ProductID, gl.VariantID)
		if err != nil {
			return err
		}
		qty = min(qty, avail, domain.MaxLineQuantity)
		if qty < 1 || (found && qty <= row.Quantity) {
			return nil
		}
	}

	if found {
		return s.carts.UpdateQuantity(ctx, userID, row.ID, qty)
	}
	_, err = s.carts.Insert(ctx, userID, gl.ProductID, gl.VariantID, qty)
	return err
}
