package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/services"
	"storefront/internal/validate"
)

type InventoryHandler struct {
	Inv *services.InventoryService
}

// GET /api/v1/availability?productId=&variantId=
func (h *InventoryHandler) Check(c *fiber.Ctx) error {
	productID, ok := validate.ID(c.Query("productId"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing or invalid productId",
		})
	}
	variantID, ok := validate.OptionalID(c.Query("variantId"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid variantId",
		})
	}

	avail, err := h.Inv.CheckAvailability(c.UserContext(), productID, variantID)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error": services.UserMessage(err),
		})
	}
	return c.JSON(avail)
}
