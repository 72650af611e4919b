package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/validate"
)

// CartView is an immutable copy of the engine state.
type CartView struct {
	Entries       []domain.LineEntry
	Loading       bool
	Authenticated bool
	Count         int
	Total         decimal.Decimal
}

// Totals computes count and total for entries. Entries without a product
// snapshot count towards Count but add nothing to Total.
func Totals(entries []domain.LineEntry) (int, decimal.Decimal) {
	count := 0
	total := decimal.Zero
	for _, e := range entries {
		count += e.Quantity
		total = total.Add(e.Subtotal())
	}
	return count, total
}

type Option func(*CartService)

func WithNotifier(n Notifier) Option {
	return func(s *CartService) {
		if n != nil {
			s.notify = n
		}
	}
}

// WithObserver registers fn to receive every view the engine publishes.
// fn runs on the publishing goroutine and must not call back into the
// engine synchronously.
func WithObserver(fn func(CartView)) Option {
	return func(s *CartService) { s.observers = append(s.observers, fn) }
}

func WithMergePolicy(p MergePolicy) Option {
	return func(s *CartService) { s.policy = p }
}

// WithLiveUpdates controls whether a signed-in cart follows the user's
// change feed. On by default; short-lived request carts turn it off.
func WithLiveUpdates(on bool) Option {
	return func(s *CartService) { s.live = on }
}

// CartService keeps the current cart of one visitor. Exactly one tier is
// active: the guest record while no user is known, the persisted cart
// once one is. The mutex guards state only and is never held during I/O.
type CartService struct {
	stock  StockReader
	snaps  SnapshotReader
	carts  CartStore
	guest  GuestStore
	notify Notifier
	policy MergePolicy
	live   bool

	observers []func(CartView)

	mu       sync.Mutex
	identity domain.Identity
	entries  []domain.LineEntry
	loading  bool
	closed   bool
	gen      uint64 // bumped on identity change
	seq      uint64 // last load started
	applied  uint64 // last load applied
	unsub    func()
}

func NewCartService(stock StockReader, snaps SnapshotReader, carts CartStore, guest GuestStore, opts ...Option) *CartService {
	s := &CartService{
		stock:    stock,
		snaps:    snaps,
		carts:    carts,
		guest:    guest,
		notify:   nopNotifier{},
		live:     true,
		identity: domain.Resolving(),
		loading:  true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetIdentity switches the active tier. A change to a signed-in identity
// merges any guest cart first and subscribes to the user's change feed.
func (s *CartService) SetIdentity(ctx context.Context, id domain.Identity) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	changed := s.identity != id
	var drop func()
	if changed {
		s.identity = id
		s.gen++
		s.entries = nil
		drop, s.unsub = s.unsub, nil
	}
	s.loading = true
	gen := s.gen
	view := s.viewLocked()
	s.mu.Unlock()

	if drop != nil {
		drop()
	}
	if id.Resolving {
		s.publish(view)
		return nil
	}

	if changed && id.Authenticated() {
		ctx = applog.WithUser(ctx, id.UserID)
		_ = s.merge(ctx, id.UserID)
		if s.live {
			s.subscribe(id.UserID, gen)
		}
	}
	return s.Reload(ctx)
}

func (s *CartService) subscribe(userID string, gen uint64) {
	unsub := s.carts.Subscribe(userID, func() {
		_ = s.Reload(applog.WithUser(context.Background(), userID))
	})
	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		unsub()
		return
	}
	s.unsub = unsub
	s.mu.Unlock()
}

// Reload reads the active tier and publishes it. The result is dropped if
// the engine was closed or the identity changed in the meantime.
func (s *CartService) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.identity.Resolving {
		s.mu.Unlock()
		return nil
	}
	id, gen := s.identity, s.gen
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	var entries []domain.LineEntry
	var err error
	if id.Authenticated() {
		entries, err = s.carts.Entries(ctx, id.UserID)
	} else {
		entries, err = s.loadGuest(ctx)
	}
	if err != nil {
		applog.Error(ctx, "cart.load", err, map[string]any{"authenticated": id.Authenticated()})
		s.mu.Lock()
		if !s.closed && s.gen == gen {
			s.loading = false
		}
		view := s.viewLocked()
		s.mu.Unlock()
		s.publish(view)
		return unavailable("load cart", err)
	}

	s.mu.Lock()
	if s.closed || s.gen != gen || seq < s.applied {
		s.mu.Unlock()
		return nil
	}
	s.applied = seq
	s.entries = entries
	s.loading = false
	view := s.viewLocked()
	s.mu.Unlock()
	s.publish(view)
	return nil
}

// loadGuest reads the guest record and attaches snapshots fetched in one
// product batch and one variant batch.
func (s *CartService) loadGuest(ctx context.Context) ([]domain.LineEntry, error) {
	lines, err := s.guest.Read(ctx)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return []domain.LineEntry{}, nil
	}

	var productIDs, variantIDs []string
	seenP := map[string]bool{}
	seenV := map[string]bool{}
	for _, l := range lines {
		if !seenP[l.ProductID] {
			seenP[l.ProductID] = true
			productIDs = append(productIDs, l.ProductID)
		}
		if l.VariantID != "" && !seenV[l.VariantID] {
			seenV[l.VariantID] = true
			variantIDs = append(variantIDs, l.VariantID)
		}
	}

	var products map[string]domain.ProductSnapshot
	var variants map[string]domain.VariantSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = s.snaps.Products(gctx, productIDs)
		return err
	})
	if len(variantIDs) > 0 {
		g.Go(func() error {
			var err error
			variants, err = s.snaps.Variants(gctx, variantIDs)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.LineEntry, 0, len(lines))
	for _, l := range lines {
		e := domain.LineEntry{
			ID:        l.ID,
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
		}
		if p, ok := products[l.ProductID]; ok {
			e.Product = &p
		}
		if v, ok := variants[l.VariantID]; ok && l.VariantID != "" {
			e.Variant = &v
		}
		out = append(out, e)
	}
	return out, nil
}

// Add puts qty units of (productID, variantID) in the active cart, merging
// into an existing line for the same pair.
func (s *CartService) Add(ctx context.Context, productID, variantID string, qty int) error {
	pid, ok := validate.ID(productID)
	if !ok {
		return s.fail(ctx, "cart.add", invalid("invalid product id"))
	}
	vid, ok := validate.OptionalID(variantID)
	if !ok {
		return s.fail(ctx, "cart.add", invalid("invalid variant id"))
	}
	if !validate.Quantity(qty) {
		return s.fail(ctx, "cart.add", invalid("quantity must be between 1 and 99"))
	}
	id, err := s.active()
	if err != nil {
		return s.fail(ctx, "cart.add", err)
	}

	avail, err := s.available(ctx, pid, vid)
	if err != nil {
		return s.fail(ctx, "cart.add", err)
	}

	if id.Authenticated() {
		row, err := s.carts.FindLine(ctx, id.UserID, pid, vid)
		found := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return s.fail(ctx, "cart.add", unavailable("find line", err))
		}
		if err := checkAdd(qty, row.Quantity, avail); err != nil {
			return s.fail(ctx, "cart.add", err)
		}
		if found {
			err = s.carts.UpdateQuantity(ctx, id.UserID, row.ID, row.Quantity+qty)
		} else {
			_, err = s.carts.Insert(ctx, id.UserID, pid, vid, qty)
		}
		if err != nil {
			return s.fail(ctx, "cart.add", unavailable("write line", err))
		}
	} else {
		lines, err := s.guest.Read(ctx)
		if err != nil {
			return s.fail(ctx, "cart.add", unavailable("read guest cart", err))
		}
		i := guestPair(lines, pid, vid)
		inCart := 0
		if i >= 0 {
			inCart = lines[i].Quantity
		}
		if err := checkAdd(qty, inCart, avail); err != nil {
			return s.fail(ctx, "cart.add", err)
		}
		if i >= 0 {
			lines[i].Quantity += qty
		} else {
			lines = append(lines, domain.GuestLine{ID: newGuestLineID(), ProductID: pid, VariantID: vid, Quantity: qty})
		}
		if err := s.guest.Write(ctx, lines); err != nil {
			return s.fail(ctx, "cart.add", unavailable("write guest cart", err))
		}
	}

	s.succeed("Added to cart")
	_ = s.Reload(ctx)
	return nil
}

// checkAdd compares against the room left so the sum is never formed.
func checkAdd(qty, inCart, avail int) error {
	if qty > avail-inCart {
		return &StockError{Requested: qty, InCart: inCart, Available: avail}
	}
	if qty > domain.MaxLineQuantity-inCart {
		return invalid("a cart line holds at most 99 units")
	}
	return nil
}

// UpdateQuantity sets the quantity of one line after re-checking stock.
func (s *CartService) UpdateQuantity(ctx context.Context, entryID string, qty int) error {
	if !validate.Quantity(qty) {
		return s.fail(ctx, "cart.update", invalid("quantity must be between 1 and 99"))
	}
	eid, ok := validate.ID(entryID)
	if !ok {
		return s.fail(ctx, "cart.update", invalid("invalid cart item id"))
	}
	id, err := s.active()
	if err != nil {
		return s.fail(ctx, "cart.update", err)
	}

	if id.Authenticated() {
		row, err := s.carts.Row(ctx, id.UserID, eid)
		if err != nil {
			return s.fail(ctx, "cart.update", rowErr(err))
		}
		if err := s.checkSet(ctx, row.ProductID, row.VariantID, qty); err != nil {
			return s.fail(ctx, "cart.update", err)
		}
		if err := s.carts.UpdateQuantity(ctx, id.UserID, row.ID, qty); err != nil {
			return s.fail(ctx, "cart.update", rowErr(err))
		}
	} else {
		lines, err := s.guest.Read(ctx)
		if err != nil {
			return s.fail(ctx, "cart.update", unavailable("read guest cart", err))
		}
		i := guestLine(lines, eid)
		if i < 0 {
			return s.fail(ctx, "cart.update", notFound("that item is no longer in your cart"))
		}
		if err := s.checkSet(ctx, lines[i].ProductID, lines[i].VariantID, qty); err != nil {
			return s.fail(ctx, "cart.update", err)
		}
		lines[i].Quantity = qty
		if err := s.guest.Write(ctx, lines); err != nil {
			return s.fail(ctx, "cart.update", unavailable("write guest cart", err))
		}
	}

	s.succeed("Cart updated")
	_ = s.Reload(ctx)
	return nil
}

func (s *CartService) checkSet(ctx context.Context, productID, variantID string, qty int) error {
	avail, err := s.available(ctx, productID, variantID)
	if err != nil {
		return err
	}
	if qty > avail {
		return &StockError{Requested: qty, Available: avail}
	}
	return nil
}

// Remove deletes one line.
func (s *CartService) Remove(ctx context.Context, entryID string) error {
	eid, ok := validate.ID(entryID)
	if !ok {
		return s.fail(ctx, "cart.remove", invalid("invalid cart item id"))
	}
	id, err := s.active()
	if err != nil {
		return s.fail(ctx, "cart.remove", err)
	}

	if id.Authenticated() {
		if err := s.carts.Delete(ctx, id.UserID, eid); err != nil {
			return s.fail(ctx, "cart.remove", rowErr(err))
		}
	} else {
		lines, err := s.guest.Read(ctx)
		if err != nil {
			return s.fail(ctx, "cart.remove", unavailable("read guest cart", err))
		}
		i := guestLine(lines, eid)
		if i < 0 {
			return s.fail(ctx, "cart.remove", notFound("that item is no longer in your cart"))
		}
		lines = append(lines[:i:i], lines[i+1:]...)
		if err := s.guest.Write(ctx, lines); err != nil {
			return s.fail(ctx, "cart.remove", unavailable("write guest cart", err))
		}
	}

	s.succeed("Removed from cart")
	_ = s.Reload(ctx)
	return nil
}

// Clear empties the active cart. On failure the published view is left as
// it was.
func (s *CartService) Clear(ctx context.Context) error {
	id, err := s.active()
	if err != nil {
		return s.fail(ctx, "cart.clear", err)
	}
	if id.Authenticated() {
		err = s.carts.DeleteAll(ctx, id.UserID)
	} else {
		err = s.guest.Clear(ctx)
	}
	if err != nil {
		return s.fail(ctx, "cart.clear", unavailable("clear cart", err))
	}

	s.succeed("Cart cleared")
	_ = s.Reload(ctx)
	return nil
}

// View returns a copy of the current state.
func (s *CartService) View() CartView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *CartService) Count() int { return s.View().Count }

func (s *CartService) Total() decimal.Decimal { return s.View().Total }

func (s *CartService) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Close drops the change subscription. Loads finishing afterwards are
// discarded.
func (s *CartService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *CartService) viewLocked() CartView {
	entries := append([]domain.LineEntry(nil), s.entries...)
	count, total := Totals(entries)
	return CartView{
		Entries:       entries,
		Loading:       s.loading,
		Authenticated: s.identity.Authenticated(),
		Count:         count,
		Total:         total,
	}
}

func (s *CartService) publish(v CartView) {
	for _, fn := range s.observers {
		fn(v)
	}
}

// active returns the identity operations run against.
func (s *CartService) active() (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Identity{}, unavailable("cart", errors.New("closed"))
	}
	if s.identity.Resolving {
		return domain.Identity{}, unavailable("cart", errors.New("sign-in still resolving"))
	}
	return s.identity, nil
}

// available reads variant stock when a variant is given, product stock
// otherwise.
func (s *CartService) available(ctx context.Context, productID, variantID string) (int, error) {
	var n int
	var err error
	if variantID == "" {
		n, err = s.stock.Stock(ctx, productID)
	} else {
		n, err = s.stock.VariantStock(ctx, productID, variantID)
	}
	switch {
	case errors.Is(err, sql.ErrNoRows) && variantID == "":
		return 0, notFound("product not found")
	case errors.Is(err, sql.ErrNoRows):
		return 0, notFound("variant not found for this product")
	case err != nil:
		return 0, unavailable("read stock", err)
	}
	return n, nil
}

func (s *CartService) succeed(msg string) {
	s.notify.Notify(Notice{Kind: NoticeSuccess, Message: msg})
}

// fail logs storage failures, notifies the user and returns err.
// Validation and business rejections are not system errors.
func (s *CartService) fail(ctx context.Context, action string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		applog.Error(ctx, action, err, nil)
	}
	s.notify.Notify(Notice{Kind: NoticeError, Message: UserMessage(err)})
	return err
}

func rowErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("that item is no longer in your cart")
	}
	return unavailable("cart row", err)
}

func guestPair(lines []domain.GuestLine, productID, variantID string) int {
	for i, l := range lines {
		if l.ProductID == productID && l.VariantID == variantID {
			return i
		}
	}
	return -1
}

func guestLine(lines []domain.GuestLine, id string) int {
	for i, l := range lines {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func newGuestLineID() string { return "g_" + uuid.NewString() }
