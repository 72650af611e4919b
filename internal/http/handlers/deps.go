package handlers

import (
	"github.com/jmoiron/sqlx"

	"storefront/internal/config"
	"storefront/internal/repos"
	"storefront/internal/services"
)

type Deps struct {
	Auth   *services.AuthService
	Tokens *services.TokenIssuer

	AuthHandler      *AuthHandler
	CartHandler      *CartHandler
	InventoryHandler *InventoryHandler
	AdminHandler     *AdminHandler
}

// NewDeps wires repositories, services and handlers over one database and
// one in-process cart feed.
func NewDeps(db *sqlx.DB, cfg config.Config) *Deps {
	feed := repos.NewCartFeed()
	prodRepo := repos.NewProductRepo(db)
	invRepo := repos.NewInventoryRepo(db)
	cartRepo := repos.NewCartRepo(db, feed)
	guestRepo := repos.NewGuestCartRepo(db)
	userRepo := repos.NewUserRepo(db)

	authSvc := services.NewAuthService(userRepo)
	tokens := services.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	invSvc := services.NewInventoryService(invRepo)

	cartH := &CartHandler{
		Stock:        invRepo,
		Snaps:        prodRepo,
		Carts:        cartRepo,
		Guests:       guestRepo,
		Policy:       services.ParseMergePolicy(cfg.MergePolicy),
		CookieSecure: cfg.CookieSecure,
	}

	return &Deps{
		Auth:   authSvc,
		Tokens: tokens,
		AuthHandler: &AuthHandler{
			Auth:         authSvc,
			Tokens:       tokens,
			Cart:         cartH,
			CookieSecure: cfg.CookieSecure,
		},
		CartHandler:      cartH,
		InventoryHandler: &InventoryHandler{Inv: invSvc},
		AdminHandler:     &AdminHandler{Inv: invSvc},
	}
}
