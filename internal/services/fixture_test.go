package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
	"storefront/internal/repos"
	"storefront/internal/services"
)

var errDisk = errors.New("disk I/O error")

type fixture struct {
	db     *sqlx.DB
	inv    *repos.InventoryRepo
	prods  *repos.ProductRepo
	carts  *repos.CartRepo
	guests *repos.GuestCartRepo
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// p-ten: $10.00 product with a +$2.00 variant
	if _, err := db.Exec(`INSERT INTO products(id,name,price,stock,active) VALUES('p-ten','Ten',10.00,5,1)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO product_variants(id,product_id,size,color,price_adjustment,stock) VALUES('p-ten-l','p-ten','L','red',2.00,4)`); err != nil {
		t.Fatal(err)
	}

	return fixture{
		db:     db,
		inv:    repos.NewInventoryRepo(db),
		prods:  repos.NewProductRepo(db),
		carts:  repos.NewCartRepo(db, repos.NewCartFeed()),
		guests: repos.NewGuestCartRepo(db),
	}
}

func (f fixture) setStock(t *testing.T, productID string, qty int) {
	t.Helper()
	if err := f.inv.SetStock(context.Background(), productID, qty); err != nil {
		t.Fatal(err)
	}
}

// engine builds a cart for device with the given stores; nil means the
// fixture's real repo.
func (f fixture) engine(t *testing.T, device string, carts services.CartStore, guest services.GuestStore, opts ...services.Option) *services.CartService {
	t.Helper()
	if carts == nil {
		carts = f.carts
	}
	if guest == nil {
		guest = f.guests.Device(device)
	}
	s := services.NewCartService(f.inv, f.prods, carts, guest, opts...)
	t.Cleanup(s.Close)
	return s
}

func (f fixture) guestEngine(t *testing.T, device string, opts ...services.Option) *services.CartService {
	t.Helper()
	s := f.engine(t, device, nil, nil, opts...)
	if err := s.SetIdentity(context.Background(), domain.Guest()); err != nil {
		t.Fatal(err)
	}
	return s
}

// countingStore counts persisted writes.
type countingStore struct {
	services.CartStore
	mu     sync.Mutex
	writes int
}

func (c *countingStore) bump() {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
}

func (c *countingStore) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *countingStore) Insert(ctx context.Context, userID, productID, variantID string, qty int) (domain.CartRow, error) {
	c.bump()
	return c.CartStore.Insert(ctx, userID, productID, variantID, qty)
}

func (c *countingStore) UpdateQuantity(ctx context.Context, userID, rowID string, qty int) error {
	c.bump()
	return c.CartStore.UpdateQuantity(ctx, userID, rowID, qty)
}

func (c *countingStore) Delete(ctx context.Context, userID, rowID string) error {
	c.bump()
	return c.CartStore.Delete(ctx, userID, rowID)
}

func (c *countingStore) DeleteAll(ctx context.Context, userID string) error {
	c.bump()
	return c.CartStore.DeleteAll(ctx, userID)
}

// flakyStore fails selected persisted operations.
type flakyStore struct {
	services.CartStore
	failDeleteAll atomic.Bool
	failEntries   atomic.Bool
	failInsertFor string // product id
}

func (f *flakyStore) DeleteAll(ctx context.Context, userID string) error {
	if f.failDeleteAll.Load() {
		return errDisk
	}
	return f.CartStore.DeleteAll(ctx, userID)
}

func (f *flakyStore) Insert(ctx context.Context, userID, productID, variantID string, qty int) (domain.CartRow, error) {
	if productID == f.failInsertFor {
		return domain.CartRow{}, errDisk
	}
	return f.CartStore.Insert(ctx, userID, productID, variantID, qty)
}

func (f *flakyStore) Entries(ctx context.Context, userID string) ([]domain.LineEntry, error) {
	if f.failEntries.Load() {
		return nil, errDisk
	}
	return f.CartStore.Entries(ctx, userID)
}

// flakyGuest fails writes on demand.
type flakyGuest struct {
	services.GuestStore
	failWrite atomic.Bool
}

func (g *flakyGuest) Write(ctx context.Context, lines []domain.GuestLine) error {
	if g.failWrite.Load() {
		return errDisk
	}
	return g.GuestStore.Write(ctx, lines)
}

func (g *flakyGuest) Clear(ctx context.Context) error {
	if g.failWrite.Load() {
		return errDisk
	}
	return g.GuestStore.Clear(ctx)
}

func quantities(v services.CartView) map[string]int {
	out := map[string]int{}
	for _, e := range v.Entries {
		out[e.ProductID+"/"+e.VariantID] = e.Quantity
	}
	return out
}
