package services

import (
	"context"
	"sync"

	"storefront/internal/domain"
)

// StockReader reads current stock. Unknown products or variants are
// reported as sql.ErrNoRows.
type StockReader interface {
	Stock(ctx context.Context, productID string) (int, error)
	VariantStock(ctx context.Context, productID, variantID string) (int, error)
}

// SnapshotReader loads display snapshots in batches. Missing ids are
// simply absent from the returned maps.
type SnapshotReader interface {
	Products(ctx context.Context, ids []string) (map[string]domain.ProductSnapshot, error)
	Variants(ctx context.Context, ids []string) (map[string]domain.VariantSnapshot, error)
}

// CartStore is the persisted tier. Row lookups return sql.ErrNoRows when
// the row does not exist for that user.
type CartStore interface {
	Entries(ctx context.Context, userID string) ([]domain.LineEntry, error)
	Row(ctx context.Context, userID, rowID string) (domain.CartRow, error)
	FindLine(ctx context.Context, userID, productID, variantID string) (domain.CartRow, error)
	Insert(ctx context.Context, userID, productID, variantID string, qty int) (domain.CartRow, error)
	UpdateQuantity(ctx context.Context, userID, rowID string, qty int) error
	Delete(ctx context.Context, userID, rowID string) error
	DeleteAll(ctx context.Context, userID string) error
	Subscribe(userID string, fn func()) (unsubscribe func())
}

// GuestStore is the device-local tier. Read of a missing record is an
// empty slice, not an error. Take reads and deletes the record in one
// step, so of two concurrent callers only one gets the lines.
type GuestStore interface {
	Read(ctx context.Context) ([]domain.GuestLine, error)
	Write(ctx context.Context, lines []domain.GuestLine) error
	Clear(ctx context.Context) error
	Take(ctx context.Context) ([]domain.GuestLine, error)
}

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a short user-facing message about the outcome of an operation.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

// Notices collects notices, e.g. for the duration of one request.
type Notices struct {
	mu   sync.Mutex
	list []Notice
}

func (n *Notices) Notify(x Notice) {
	n.mu.Lock()
	n.list = append(n.list, x)
	n.mu.Unlock()
}

func (n *Notices) List() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.list...)
}
