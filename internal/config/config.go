package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevJWTSecret signs tokens when JWT_SECRET is unset. Never use it in
// production.
const DevJWTSecret = "dev-secret-change-me"

type Config struct {
	Port         string
	DBDSN        string
	LogFile      string
	TemplatesDir string
	JWTSecret    string
	TokenTTL     time.Duration
	MergePolicy  string // unchecked | clamp
	CookieSecure bool
}

func Load() Config {
	// .env is optional; real env vars win over it
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "storefront.db"
	} // sqlite file in project root; postgres:// DSNs switch to pgx
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "./storefront.log"
	}
	tmpl := os.Getenv("TEMPLATES_DIR")
	if tmpl == "" {
		tmpl = "./web/templates"
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = DevJWTSecret
		log.Printf("[config] warning: JWT_SECRET not set, using the development secret; bearer tokens are forgeable")
	}
	ttl := 24 * time.Hour
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			ttl = d
		} else {
			log.Printf("[config] ignoring bad TOKEN_TTL=%q", v)
		}
	}
	policy := strings.ToLower(strings.TrimSpace(os.Getenv("CART_MERGE_POLICY")))
	if policy != "clamp" {
		policy = "unchecked"
	}
	secure, _ := strconv.ParseBool(os.Getenv("COOKIE_SECURE"))

	cfg := Config{
		Port:         port,
		DBDSN:        dsn,
		LogFile:      logFile,
		TemplatesDir: tmpl,
		JWTSecret:    secret,
		TokenTTL:     ttl,
		MergePolicy:  policy,
		CookieSecure: secure,
	}
	log.Printf("[config] PORT=%s DB_DSN=%s LOG_FILE=%s TEMPLATES_DIR=%s TOKEN_TTL=%s CART_MERGE_POLICY=%s COOKIE_SECURE=%t",
		cfg.Port, redactDSN(cfg.DBDSN), cfg.LogFile, cfg.TemplatesDir, cfg.TokenTTL, cfg.MergePolicy, cfg.CookieSecure)
	return cfg
}

// redactDSN hides the password part of a postgres URL.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}
