package repos

import "sync"

// CartFeed is an in-process change notifier for persisted carts, keyed by
// user id. Each subscription gets its own goroutine; bursts of publishes
// are coalesced so a slow subscriber sees at least one call after the
// last change.
type CartFeed struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]chan struct{}
}

func NewCartFeed() *CartFeed {
	return &CartFeed{subs: make(map[string]map[uint64]chan struct{})}
}

// Subscribe calls fn after changes to userID's cart until the returned
// function is called. The unsubscribe function is idempotent.
func (f *CartFeed) Subscribe(userID string, fn func()) func() {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	f.next++
	id := f.next
	if f.subs[userID] == nil {
		f.subs[userID] = make(map[uint64]chan struct{})
	}
	f.subs[userID][id] = ch
	f.mu.Unlock()

	go func() {
		for range ch {
			fn()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[userID], id)
			if len(f.subs[userID]) == 0 {
				delete(f.subs, userID)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Publish signals every subscriber of userID without blocking.
func (f *CartFeed) Publish(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[userID] {
		select {
		case ch <- struct{}{}:
		default: // a signal is already pending
		}
	}
}

// Subscribers reports how many live subscriptions userID has.
func (f *CartFeed) Subscribers(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[userID])
}
