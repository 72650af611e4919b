package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/log"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type AuthHandler struct {
	Auth         *services.AuthService
	Tokens       *services.TokenIssuer
	Cart         *CartHandler
	CookieSecure bool
}

func (h *AuthHandler) LoginForm(c *fiber.Ctx) error {
	return render(c, "login", fiber.Map{"Err": ""})
}

func (h *AuthHandler) loginFailed(c *fiber.Ctx, email, reason string) error {
	log.Security(c.UserContext(), "auth.login.fail", map[string]any{"email": email, "reason": reason})
	c.Status(fiber.StatusUnauthorized)
	return render(c, "login", fiber.Map{"Err": "Invalid email or password"})
}

// POST /login binds the session and folds the device's guest cart into
// the user's cart.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	sid := ensureSID(c, h.CookieSecure)
	email := c.FormValue("email")
	pass := c.FormValue("password")
	if _, ok := validate.Email(email); !ok {
		return h.loginFailed(c, email, "bad_format")
	}
	if !validate.Password(pass) {
		return h.loginFailed(c, email, "bad_password_format")
	}

	ctx := c.UserContext()
	u, err := h.Auth.Login(ctx, sid, email, pass)
	if err != nil {
		return h.loginFailed(c, email, "bad_credentials")
	}
	c.SetUserContext(log.WithUser(ctx, u.ID))
	log.Audit(c.UserContext(), "auth.login.success", map[string]any{"email": email})

	if h.Cart != nil {
		if err := h.Cart.Adopt(c, u); err != nil {
			// signed in either way; the cart page reports the problem
			log.Error(c.UserContext(), "cart.adopt.fail", err, nil)
		}
	}
	return c.Redirect("/cart")
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sid := ensureSID(c, h.CookieSecure)
	if err := h.Auth.Logout(c.UserContext(), sid); err != nil {
		log.Error(c.UserContext(), "auth.logout.fail", err, nil)
	}
	c.Cookie(&fiber.Cookie{
		Name:     "sid",
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   h.CookieSecure,
		Expires:  time.Now().Add(-1 * time.Hour),
	})
	log.Audit(c.UserContext(), "auth.logout", nil)
	return c.Redirect("/cart")
}

type tokenReq struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// POST /api/v1/auth/token issues a bearer token for API clients.
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req tokenReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	ctx := c.UserContext()
	email, ok := validate.Email(req.Email)
	if !ok || req.Password == "" {
		log.Security(ctx, "auth.token.fail", map[string]any{"email": req.Email, "reason": "bad_format"})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid email or password"})
	}
	u, err := h.Auth.Authenticate(ctx, email, req.Password)
	if err != nil {
		log.Security(ctx, "auth.token.fail", map[string]any{"email": email})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid email or password"})
	}
	tok, exp, err := h.Tokens.Issue(u)
	if err != nil {
		log.Error(ctx, "auth.token.sign", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not issue token"})
	}
	log.Audit(log.WithUser(ctx, u.ID), "auth.token.issued", map[string]any{"expires_at": exp.UTC().Format(time.RFC3339)})
	return c.JSON(fiber.Map{
		"token":      tok,
		"token_type": "Bearer",
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}
