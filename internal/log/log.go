package log

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
)

type entry struct {
	TS     string         `json:"ts"`
	Level  string         `json:"level"`
	ReqID  string         `json:"req_id,omitempty"`
	IP     string         `json:"ip,omitempty"`
	Method string         `json:"method,omitempty"`
	Path   string         `json:"path,omitempty"`
	UserID string         `json:"user_id,omitempty"`
	Action string         `json:"action,omitempty"`
	Err    string         `json:"err,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// meta is the request data carried in a context for log enrichment.
type meta struct {
	ReqID  string
	IP     string
	Method string
	Path   string
	UserID string
}

type ctxKey struct{}

// WithRequest attaches request metadata to ctx.
func WithRequest(ctx context.Context, reqID, ip, method, path string) context.Context {
	m := metaFrom(ctx)
	m.ReqID, m.IP, m.Method, m.Path = reqID, ip, method, path
	return context.WithValue(ctx, ctxKey{}, m)
}

// WithUser records the signed-in user on ctx.
func WithUser(ctx context.Context, userID string) context.Context {
	m := metaFrom(ctx)
	m.UserID = userID
	return context.WithValue(ctx, ctxKey{}, m)
}

func metaFrom(ctx context.Context) meta {
	if ctx == nil {
		return meta{}
	}
	if m, ok := ctx.Value(ctxKey{}).(meta); ok {
		return m
	}
	return meta{}
}

// Middleware copies fiber request data into the user context. Register it
// after requestid so the id is available.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid, _ := c.Locals("requestid").(string)
		c.SetUserContext(WithRequest(c.UserContext(), rid, c.IP(), c.Method(), c.Path()))
		return c.Next()
	}
}

func write(level string, ctx context.Context, action string, err error, fields map[string]any) {
	m := metaFrom(ctx)
	e := entry{
		TS:     time.Now().UTC().Format(time.RFC3339),
		Level:  level,
		ReqID:  m.ReqID,
		IP:     m.IP,
		Method: m.Method,
		Path:   m.Path,
		UserID: m.UserID,
		Action: action,
		Fields: fields,
	}
	if err != nil {
		e.Err = err.Error()
	}
	b, _ := json.Marshal(e)
	log.Println(string(b))
}

func Info(ctx context.Context, action string, fields map[string]any) {
	write("info", ctx, action, nil, fields)
}
func Audit(ctx context.Context, action string, fields map[string]any) {
	write("audit", ctx, action, nil, fields)
}
func Security(ctx context.Context, action string, fields map[string]any) {
	write("warn", ctx, action, nil, fields)
}
func Error(ctx context.Context, action string, err error, fields map[string]any) {
	write("error", ctx, action, err, fields)
}
