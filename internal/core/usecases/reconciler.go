package usecases

import (
	"sync"
)

// Keyed is implemented by entities held in a reconciled collection.
type Keyed interface {
	Key() string
}

// Collection merges a one-shot snapshot with streamed deltas into a keyed,
// order-stable set. LoadSnapshot replaces wholesale and is, besides Remove,
// the only path that drops entries. Apply merges in place when the key is
// known and prepends when it is not: callers rely on new arrivals surfacing
// first. A late update for a key dropped by a newer snapshot re-inserts it —
// the stream is the source of truth for existence between snapshots.
type Collection[T Keyed] struct {
	mu    sync.RWMutex
	order []string
	items map[string]T
	merge func(existing, update T) T
}

// NewCollection builds an empty collection. merge combines a streamed update
// into the existing record; it must preserve fields the update does not
// carry. A nil merge replaces records wholesale.
func NewCollection[T Keyed](merge func(existing, update T) T) *Collection[T] {
	if merge == nil {
		merge = func(_, update T) T { return update }
	}
	return &Collection[T]{
		items: make(map[string]T),
		merge: merge,
	}
}

// LoadSnapshot replaces the entire collection, keeping the snapshot's order.
func (c *Collection[T]) LoadSnapshot(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = c.order[:0]
	c.items = make(map[string]T, len(items))
	for _, it := range items {
		k := it.Key()
		if _, dup := c.items[k]; dup {
			c.items[k] = it
			continue
		}
		c.order = append(c.order, k)
		c.items[k] = it
	}
}

// Apply merges update into the record with the same key, or prepends it as a
// new record. It returns the post-merge record.
func (c *Collection[T]) Apply(update T) T {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := update.Key()
	if existing, ok := c.items[k]; ok {
		merged := c.merge(existing, update)
		c.items[k] = merged
		return merged
	}

	c.order = append([]string{k}, c.order...)
	c.items[k] = update
	return update
}

// Remove deletes the entry if present; no-op otherwise.
func (c *Collection[T]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the record for key.
func (c *Collection[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[key]
	return it, ok
}

// Items returns the ordered records as a snapshot-in-time copy.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.items[k])
	}
	return out
}

// Filter returns the ordered records matching pred. Derived views are pure
// projections; they hold no state of their own.
func (c *Collection[T]) Filter(pred func(T) bool) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []T
	for _, k := range c.order {
		if it := c.items[k]; pred(it) {
			out = append(out, it)
		}
	}
	return out
}

// Keys returns the current key order.
func (c *Collection[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of records.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
