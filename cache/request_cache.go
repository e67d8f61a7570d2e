package cache

import "sync"

// Snapshot is a point-in-time, lock-free copy of a Slot's terminal
// fields. RequestCache never exposes a live *Slot to callers outside
// the package; every read goes through Snapshot so the cache's mutex
// stays the single source of truth for Slot mutation.
type Snapshot struct {
	State State
	Value any
	Err   error
	Owner Owner
}

// RequestCache maps a Request fingerprint to its Slot. There is one
// instance per ServerData; entries live for the process lifetime and
// are never evicted.
//
// The shape mirrors a generic LRU map: a map guarded by a single
// mutex, keyed by string. Unlike an LRU map there is no eviction list,
// since entries never expire here.
type RequestCache struct {
	mu      sync.Mutex
	slots   map[string]*Slot
	pending int

	// onPendingChange is invoked with the new pending count every time
	// it changes, outside the lock. ServerData uses this to drive the
	// whenDataStartLoading notification.
	onPendingChange func(count int)
}

// Option configures a RequestCache at construction time.
type Option func(*RequestCache)

// WithPendingCountObserver registers a callback invoked whenever the
// number of pending slots changes.
func WithPendingCountObserver(fn func(count int)) Option {
	return func(c *RequestCache) { c.onPendingChange = fn }
}

// NewCache creates an empty RequestCache.
func NewCache(opts ...Option) *RequestCache {
	c := &RequestCache{slots: make(map[string]*Slot)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns a snapshot of the slot for fp, if one exists.
func (c *RequestCache) Lookup(fp string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[fp]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{State: slot.state, Value: slot.value, Err: slot.err, Owner: slot.owner}, true
}

// InsertPending creates a fresh Pending slot for fp, tagged with the
// access path that created it. It returns ErrAlreadyPending if a slot
// already exists — callers must Lookup first and only InsertPending
// on a genuine miss.
func (c *RequestCache) InsertPending(fp string, owner Owner) error {
	c.mu.Lock()
	if _, ok := c.slots[fp]; ok {
		c.mu.Unlock()
		return ErrAlreadyPending
	}
	c.slots[fp] = newPendingSlot(owner)
	c.pending++
	count := c.pending
	c.mu.Unlock()

	c.notify(count)
	return nil
}

// AddWaiter attaches a waiter to the slot for fp and returns a channel
// that closes when the slot settles. ok is false if fp has no slot or
// the slot is already terminal — in either case the caller should
// re-Lookup rather than wait.
func (c *RequestCache) AddWaiter(fp string) (ch chan struct{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, exists := c.slots[fp]
	if !exists || slot.state != Pending {
		return nil, false
	}
	return slot.addWaiter(), true
}

// Resolve transitions fp's slot to Resolved with value. A no-op if the
// slot is missing or already terminal.
func (c *RequestCache) Resolve(fp string, value any) {
	c.settle(fp, Resolved, value, nil)
}

// Reject transitions fp's slot to Rejected with err. A no-op if the
// slot is missing or already terminal.
func (c *RequestCache) Reject(fp string, err error) {
	c.settle(fp, Rejected, nil, err)
}

func (c *RequestCache) settle(fp string, state State, value any, err error) {
	c.mu.Lock()
	slot, ok := c.slots[fp]
	if !ok || slot.state != Pending {
		c.mu.Unlock()
		return
	}
	slot.settle(state, value, err)
	c.pending--
	count := c.pending
	c.mu.Unlock()

	c.notify(count)
}

// PendingCount returns the number of slots currently Pending.
func (c *RequestCache) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *RequestCache) notify(count int) {
	if c.onPendingChange != nil {
		c.onPendingChange(count)
	}
}
