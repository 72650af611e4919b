package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/jmoiron/sqlx"

	"storefront/internal/config"
	"storefront/internal/http/handlers"
	applog "storefront/internal/log"
	"storefront/internal/repos"
)

type testApp struct {
	app  *fiber.App
	db   *sqlx.DB
	deps *handlers.Deps
}

func testConfig() config.Config {
	return config.Config{
		DBDSN:       ":memory:",
		JWTSecret:   "test-secret",
		TokenTTL:    time.Hour,
		MergePolicy: "unchecked",
	}
}

// newTestApp wires the real handlers behind the same middleware chain as
// cmd/storefront, minus the global limiter and access logger.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cfg := testConfig()
	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	deps := handlers.NewDeps(db, cfg)

	engine := html.New("../../web/templates", ".html")
	app := fiber.New(fiber.Config{Views: engine, ErrorHandler: handlers.ErrorHandler})
	app.Server().MaxRequestBodySize = 1 << 20
	app.Use(requestid.New())
	app.Use(applog.Middleware())
	app.Use(handlers.Identify(deps.Auth, deps.Tokens))
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		ContextKey:     "csrf",
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/")
		},
	}))

	app.Get("/cart", deps.CartHandler.View)
	app.Post("/cart", deps.CartHandler.Add)
	app.Get("/login", deps.AuthHandler.LoginForm)
	app.Post("/login", deps.AuthHandler.Login)
	app.Post("/logout", deps.AuthHandler.Logout)

	api := app.Group("/api/v1")
	api.Post("/auth/token", deps.AuthHandler.Token)
	api.Get("/availability", limiter.New(limiter.Config{Max: 3, Expiration: time.Minute}), deps.InventoryHandler.Check)
	api.Get("/cart", deps.CartHandler.Get)
	api.Delete("/cart", deps.CartHandler.Clear)
	api.Post("/cart/items", deps.CartHandler.AddItem)
	api.Patch("/cart/items/:id", deps.CartHandler.UpdateItem)
	api.Delete("/cart/items/:id", deps.CartHandler.RemoveItem)
	api.Get("/cart/events", handlers.RequireUser(), deps.CartHandler.Events)

	app.Get("/healthz", handlers.Health(db))

	admin := app.Group("/admin", handlers.RequireAdmin())
	admin.Get("/inventory", deps.AdminHandler.Inventory)
	admin.Post("/inventory", deps.AdminHandler.UpdateInventory)

	return &testApp{app: app, db: db, deps: deps}
}

func (ta *testApp) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	return resp
}

// bindSession signs userID in on sid without going through the form.
func (ta *testApp) bindSession(t *testing.T, sid, userID string) {
	t.Helper()
	if err := repos.NewUserRepo(ta.db).BindSession(context.Background(), sid, userID); err != nil {
		t.Fatal(err)
	}
}

func jsonReq(method, path string, body any, cookies ...*http.Cookie) *http.Request {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func formReq(path, form string, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest("POST", path, strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func extractCookie(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// csrfToken fetches the login form and returns the csrf cookie value.
func (ta *testApp) csrfToken(t *testing.T) string {
	t.Helper()
	resp := ta.do(t, httptest.NewRequest("GET", "/login", nil))
	tok := extractCookie(resp, "csrf_")
	if tok == "" {
		t.Fatal("csrf token missing")
	}
	return tok
}

type cartResp struct {
	Items []struct {
		ID        string `json:"id"`
		ProductID string `json:"productId"`
		VariantID string `json:"variantId"`
		Name      string `json:"name"`
		Quantity  int    `json:"quantity"`
		Subtotal  string `json:"subtotal"`
	} `json:"items"`
	Count         int    `json:"count"`
	Total         string `json:"total"`
	Authenticated bool   `json:"authenticated"`
	Notices       []struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"notices"`

	Error     string `json:"error"`
	Available int    `json:"available"`
	Remaining int    `json:"remaining"`
}

func decodeCart(t *testing.T, resp *http.Response) cartResp {
	t.Helper()
	defer resp.Body.Close()
	var out cartResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

type logEntry struct {
	Level  string         `json:"level"`
	Action string         `json:"action"`
	UserID string         `json:"user_id"`
	ReqID  string         `json:"req_id"`
	Fields map[string]any `json:"fields"`
}

type lockedBuf struct {
	b  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedBuf{b: &buf, mu: &mu})
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	mu.Lock()
	raw := buf.String()
	mu.Unlock()
	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func findAction(entries []logEntry, action string) (logEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return logEntry{}, false
}
