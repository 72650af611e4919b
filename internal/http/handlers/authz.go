package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/services"
)

// Identify resolves the caller from a bearer token or the sid session
// cookie and stores the user in Locals("user"). Anonymous requests pass
// through; a bad bearer token is rejected outright.
func Identify(auth *services.AuthService, tokens *services.TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		var u *domain.User

		if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
			claims, err := tokens.Parse(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
			if err != nil {
				applog.Security(ctx, "auth.token.invalid", nil)
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
			}
			u, err = auth.UserByID(ctx, claims.Subject)
			if err != nil {
				applog.Security(ctx, "auth.token.unknown_user", map[string]any{"sub": claims.Subject})
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
			}
		} else if sid := c.Cookies("sid"); sid != "" {
			if cu, err := auth.CurrentUser(ctx, sid); err == nil && cu != nil {
				u = cu
			}
		}

		if u != nil {
			c.Locals("user", u)
			c.SetUserContext(applog.WithUser(ctx, u.ID))
		}
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) *domain.User {
	u, _ := c.Locals("user").(*domain.User)
	return u
}

func isAPI(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Path(), "/api/")
}

// RequireUser enforces a signed-in caller. Pages redirect to the login
// form, API calls get 401.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if currentUser(c) != nil {
			return c.Next()
		}
		if isAPI(c) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "sign in required"})
		}
		return c.Redirect("/login")
	}
}

func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		u := currentUser(c)
		if u == nil {
			return c.Redirect("/login")
		}
		if !u.IsAdmin() {
			applog.Security(c.UserContext(), "access.denied.admin", map[string]any{"path": c.Path()})
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Access denied"})
		}
		return c.Next()
	}
}
