package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	applog "storefront/internal/log"
	"storefront/internal/services"
)

type AdminHandler struct {
	Inv *services.InventoryService
}

// GET /admin/inventory
func (h *AdminHandler) Inventory(c *fiber.Ctx) error {
	rows, err := h.Inv.List(c.UserContext())
	if err != nil {
		applog.Error(c.UserContext(), "admin.inventory.list.fail", err, nil)
		return c.Status(fiber.StatusInternalServerError).Render("notfound", fiber.Map{"Message": "Could not load inventory"})
	}
	return render(c, "admin_inventory", fiber.Map{"Rows": rows})
}

// POST /admin/inventory
func (h *AdminHandler) UpdateInventory(c *fiber.Ctx) error {
	ctx := c.UserContext()
	pid := c.FormValue("product_id")
	vid := c.FormValue("variant_id")
	qty, err := strconv.Atoi(c.FormValue("qty"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid input")
	}
	fields := map[string]any{"product": pid, "variant": vid, "qty": qty}

	if err := h.Inv.SetStock(ctx, pid, vid, qty); err != nil {
		code := statusFor(err)
		if code >= 500 {
			applog.Error(ctx, "admin.inventory.save.fail", err, fields)
		}
		return c.Status(code).SendString(services.UserMessage(err))
	}
	applog.Audit(ctx, "admin.inventory.save", fields)
	return c.Redirect("/admin/inventory")
}
