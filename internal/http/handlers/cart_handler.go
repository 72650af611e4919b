package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/repos"
	"storefront/internal/services"
	"storefront/internal/validate"
)

// eventHeartbeat keeps idle event streams open through proxies.
const eventHeartbeat = 15 * time.Second

// CartHandler builds a cart engine per request, keyed by the sid cookie as
// the guest device and by the signed-in user, if any.
type CartHandler struct {
	Stock        services.StockReader
	Snaps        services.SnapshotReader
	Carts        services.CartStore
	Guests       *repos.GuestCartRepo
	Policy       services.MergePolicy
	CookieSecure bool
}

func ensureSID(c *fiber.Ctx, secure bool) string {
	sid := c.Cookies("sid")
	if sid == "" {
		sid = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     "sid",
			Value:    sid,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
			Secure:   secure,
		})
	}
	return sid
}

// open returns a cart for the caller with its identity already applied.
// The caller must Close it.
func (h *CartHandler) open(c *fiber.Ctx, notices *services.Notices, opts ...services.Option) (*services.CartService, error) {
	sid := ensureSID(c, h.CookieSecure)
	base := []services.Option{
		services.WithNotifier(notices),
		services.WithMergePolicy(h.Policy),
		services.WithLiveUpdates(false),
	}
	cart := services.NewCartService(h.Stock, h.Snaps, h.Carts, h.Guests.Device(sid), append(base, opts...)...)

	id := domain.Guest()
	if u := currentUser(c); u != nil {
		id = domain.Signed(u.ID)
	}
	if err := cart.SetIdentity(c.UserContext(), id); err != nil {
		cart.Close()
		return nil, err
	}
	return cart, nil
}

// Adopt folds the device's guest cart into u's persisted cart. Used right
// after sign-in.
func (h *CartHandler) Adopt(c *fiber.Ctx, u *domain.User) error {
	c.Locals("user", u)
	cart, err := h.open(c, &services.Notices{})
	if err != nil {
		return err
	}
	cart.Close()
	return nil
}

// ---------- HTML ----------

// GET /cart
func (h *CartHandler) View(c *fiber.Ctx) error {
	notices := &services.Notices{}
	cart, err := h.open(c, notices)
	if err != nil {
		return h.page(c, statusFor(err), services.CartView{}, []services.Notice{{Kind: services.NoticeError, Message: services.UserMessage(err)}})
	}
	defer cart.Close()
	return h.page(c, fiber.StatusOK, cart.View(), notices.List())
}

// POST /cart
func (h *CartHandler) Add(c *fiber.Ctx) error {
	notices := &services.Notices{}
	cart, err := h.open(c, notices)
	if err != nil {
		return h.page(c, statusFor(err), services.CartView{}, []services.Notice{{Kind: services.NoticeError, Message: services.UserMessage(err)}})
	}
	defer cart.Close()

	qty, ok := validate.ParseQty(c.FormValue("qty"), 1)
	if !ok {
		qty = 0 // rejected by the cart as invalid
	}
	if err := cart.Add(c.UserContext(), c.FormValue("productId"), c.FormValue("variantId"), qty); err != nil {
		return h.page(c, statusFor(err), cart.View(), notices.List())
	}
	return c.Redirect("/cart")
}

func (h *CartHandler) page(c *fiber.Ctx, status int, v services.CartView, notices []services.Notice) error {
	c.Status(status)
	return render(c, "cart", fiber.Map{
		"Cart":    toCartJSON(v, nil),
		"Notices": notices,
	})
}

// ---------- JSON API ----------

type itemJSON struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Name      string `json:"name"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Subtotal  string `json:"subtotal"`
}

type cartJSON struct {
	Items         []itemJSON        `json:"items"`
	Count         int               `json:"count"`
	Total         string            `json:"total"`
	Authenticated bool              `json:"authenticated"`
	Loading       bool              `json:"loading,omitempty"`
	Notices       []services.Notice `json:"notices,omitempty"`
}

func toCartJSON(v services.CartView, notices []services.Notice) cartJSON {
	out := cartJSON{
		Items:         make([]itemJSON, 0, len(v.Entries)),
		Count:         v.Count,
		Total:         v.Total.StringFixed(2),
		Authenticated: v.Authenticated,
		Loading:       v.Loading,
		Notices:       notices,
	}
	for _, e := range v.Entries {
		it := itemJSON{
			ID:        e.ID,
			ProductID: e.ProductID,
			VariantID: e.VariantID,
			Quantity:  e.Quantity,
			UnitPrice: e.UnitPrice().StringFixed(2),
			Subtotal:  e.Subtotal().StringFixed(2),
		}
		if e.Product != nil {
			it.Name = e.Product.Name
			it.ImageURL = e.Product.ImageURL
		}
		if e.Variant != nil {
			it.Size = e.Variant.Size
			it.Color = e.Variant.Color
		}
		out.Items = append(out.Items, it)
	}
	return out
}

// apiError writes the taxonomy error as JSON, with stock details when the
// request ran out of stock.
func apiError(c *fiber.Ctx, err error, notices []services.Notice) error {
	body := fiber.Map{"error": services.UserMessage(err)}
	var se *services.StockError
	if errors.As(err, &se) {
		body["available"] = se.Available
		body["remaining"] = se.Remaining()
	}
	if len(notices) > 0 {
		body["notices"] = notices
	}
	return c.Status(statusFor(err)).JSON(body)
}

// run opens a cart, applies op and answers with the resulting view.
func (h *CartHandler) run(c *fiber.Ctx, status int, op func(*services.CartService) error) error {
	notices := &services.Notices{}
	cart, err := h.open(c, notices)
	if err != nil {
		return apiError(c, err, notices.List())
	}
	defer cart.Close()
	if op != nil {
		if err := op(cart); err != nil {
			return apiError(c, err, notices.List())
		}
	}
	return c.Status(status).JSON(toCartJSON(cart.View(), notices.List()))
}

// GET /api/v1/cart
func (h *CartHandler) Get(c *fiber.Ctx) error {
	return h.run(c, fiber.StatusOK, nil)
}

type addItemReq struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  *int   `json:"quantity"`
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	var req addItemReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	return h.run(c, fiber.StatusCreated, func(cart *services.CartService) error {
		return cart.Add(c.UserContext(), req.ProductID, req.VariantID, qty)
	})
}

type updateItemReq struct {
	Quantity *int `json:"quantity"`
}

// PATCH /api/v1/cart/items/:id
func (h *CartHandler) UpdateItem(c *fiber.Ctx) error {
	var req updateItemReq
	if err := c.BodyParser(&req); err != nil || req.Quantity == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "quantity is required"})
	}
	return h.run(c, fiber.StatusOK, func(cart *services.CartService) error {
		return cart.UpdateQuantity(c.UserContext(), c.Params("id"), *req.Quantity)
	})
}

// DELETE /api/v1/cart/items/:id
func (h *CartHandler) RemoveItem(c *fiber.Ctx) error {
	return h.run(c, fiber.StatusOK, func(cart *services.CartService) error {
		return cart.Remove(c.UserContext(), c.Params("id"))
	})
}

// DELETE /api/v1/cart
func (h *CartHandler) Clear(c *fiber.Ctx) error {
	return h.run(c, fiber.StatusOK, func(cart *services.CartService) error {
		return cart.Clear(c.UserContext())
	})
}

// GET /api/v1/cart/events streams the signed-in user's cart as server-sent
// events: one "cart" event now and one after every change.
func (h *CartHandler) Events(c *fiber.Ctx) error {
	views := make(chan services.CartView, 1)
	latest := func(v services.CartView) {
		for {
			select {
			case views <- v:
				return
			default:
				select {
				case <-views:
				default:
				}
			}
		}
	}

	cart, err := h.open(c, &services.Notices{}, services.WithLiveUpdates(true), services.WithObserver(latest))
	if err != nil {
		return apiError(c, err, nil)
	}
	userID := currentUser(c).ID
	ctx := c.UserContext()
	applog.Info(ctx, "cart.events.open", nil)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cart.Close()
		defer applog.Info(applog.WithUser(ctx, userID), "cart.events.close", nil)

		tick := time.NewTicker(eventHeartbeat)
		defer tick.Stop()

		if err := writeCartEvent(w, cart.View()); err != nil {
			return
		}
		for {
			select {
			case v := <-views:
				if v.Loading {
					continue
				}
				if err := writeCartEvent(w, v); err != nil {
					return
				}
			case <-tick.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

func writeCartEvent(w *bufio.Writer, v services.CartView) error {
	b, err := json.Marshal(toCartJSON(v, nil))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: cart\ndata: %s\n\n", b); err != nil {
		return err
	}
	return w.Flush()
}
