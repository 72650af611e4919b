package repos

import (
	"context"
	"log"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// driverFor maps a DSN to a registered database/sql driver.
func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx"
	}
	return "sqlite"
}

func OpenDB(dsn string) (*sqlx.DB, error) {
	driver := driverFor(dsn)
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one connection: ":memory:" databases are per connection, and
		// sqlite serialises writers anyway
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	// Seed demo catalog if empty
	if err := seedIfEmpty(db); err != nil {
		return nil, err
	}
	// Ensure users exist (idempotent; safe to run every start)
	if err := seedUsers(db); err != nil {
		return nil, err
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS products(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  price NUMERIC NOT NULL CHECK (price >= 0),
  image_url TEXT,
  stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
  active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT,
  updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_products_name ON products(LOWER(name));

-- Variants: a size/colour SKU with its own stock
CREATE TABLE IF NOT EXISTS product_variants(
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  size TEXT,
  color TEXT,
  price_adjustment NUMERIC NOT NULL DEFAULT 0,
  stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
  updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_variants_product ON product_variants(product_id);

CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('USER','ADMIN')),
  created_at TEXT,
  updated_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at TEXT,
  last_seen TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

-- Persisted carts: one row per (user, product, variant)
CREATE TABLE IF NOT EXISTS cart_rows(
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  variant_id TEXT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  created_at TEXT NOT NULL,
  updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_cart_rows_user ON cart_rows(user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cart_rows_line ON cart_rows(user_id, product_id, COALESCE(variant_id, ''));

-- Guest carts: device-local record, lines stored as JSON
CREATE TABLE IF NOT EXISTS guest_carts(
  device_id TEXT PRIMARY KEY,
  lines_json TEXT NOT NULL,
  updated_at TEXT
)
`

func ensureSchema(db *sqlx.DB) error {
	if db.DriverName() == "sqlite" {
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			return err
		}
	}
	for _, stmt := range splitStatements(schema) {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements breaks a script on ";" line endings and drops comments.
func splitStatements(script string) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			out = append(out, strings.TrimSuffix(strings.TrimSpace(cur.String()), ";"))
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func seedIfEmpty(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM products`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	log.Println("[seed] inserting demo products/variants")

	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	products := []struct {
		ID, Name, Desc, Price, Image string
		Stock                        int
	}{
		{"tee-classic", "Classic Tee", "Heavyweight cotton tee", "19.99", "products/tee-classic/main.jpg", 0},
		{"cap-canvas", "Canvas Cap", "Six panel cap", "14.50", "products/cap-canvas/main.jpg", 12},
		{"mug-enamel", "Enamel Mug", "Camp mug, 350ml", "9.00", "products/mug-enamel/main.jpg", 3},
	}
	for _, p := range products {
		if _, err := tx.Exec(tx.Rebind(`
			INSERT INTO products(id,name,description,price,image_url,stock,active,created_at)
			VALUES(?,?,?,?,?,?,1,?)`), p.ID, p.Name, p.Desc, p.Price, p.Image, p.Stock, now); err != nil {
			return err
		}
	}

	variants := []struct {
		ID, ProductID, Size, Color, Adj string
		Stock                           int
	}{
		{"tee-classic-s-black", "tee-classic", "S", "black", "0", 4},
		{"tee-classic-m-black", "tee-classic", "M", "black", "0", 8},
		{"tee-classic-xl-black", "tee-classic", "XL", "black", "2.00", 2},
	}
	for _, v := range variants {
		if _, err := tx.Exec(tx.Rebind(`
			INSERT INTO product_variants(id,product_id,size,color,price_adjustment,stock,updated_at)
			VALUES(?,?,?,?,?,?,?)`), v.ID, v.ProductID, v.Size, v.Color, v.Adj, v.Stock, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// seedUsers ensures two USERs and one ADMIN exist (idempotent).
func seedUsers(db *sqlx.DB) error {
	type u struct {
		ID, Email, Name, Role, Hash string
	}
	mk := func(id, email, name, role, raw string) u {
		h, _ := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		return u{ID: id, Email: email, Name: name, Role: role, Hash: string(h)}
	}

	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM users`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	users := []u{
		mk("u-alice", "alice@storefront.test", "Alice", "USER", "Passw0rd!"),
		mk("u-bob", "bob@storefront.test", "Bob", "USER", "Passw0rd!"),
		mk("u-admin", "admin@storefront.test", "Admin", "ADMIN", "Passw0rd!"),
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, x := range users {
		if _, err := tx.Exec(tx.Rebind(`
			INSERT INTO users(id,email,name,password_hash,role,created_at)
			VALUES(?,?,?,?,?,?)
			ON CONFLICT(email) DO NOTHING
		`), x.ID, x.Email, x.Name, x.Hash, x.Role, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// nilIfEmpty stores "" as SQL NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// stampLayout is fixed width so stamps sort lexically in time order.
const stampLayout = "2006-01-02T15:04:05.000000000Z"

func stamp() string { return time.Now().UTC().Format(stampLayout) }
