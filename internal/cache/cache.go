package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tdpos/backend/internal/cart"
)

// HeldCart is a parked cart a cashier can resume later.
type HeldCart struct {
	Key      string          `json:"key"`
	BranchID string          `json:"branch_id"`
	Items    []cart.CartItem `json:"items"`
	HeldAt   time.Time       `json:"held_at"`
}

type CartCache interface {
	Get(ctx context.Context, key string) (*HeldCart, bool, error)
	Set(ctx context.Context, key string, value *HeldCart, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the entry and removes it in one step, so a held cart can
	// be resumed only once.
	Take(ctx context.Context, key string) (*HeldCart, bool, error)
	// List returns live entries whose key starts with prefix, oldest first.
	List(ctx context.Context, prefix string) ([]HeldCart, error)
}

// MemoryCartCache keeps held carts in process. Used when Redis is not configured.
type MemoryCartCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     HeldCart
	expiresAt time.Time
}

func NewMemoryCartCache() *MemoryCartCache {
	return &MemoryCartCache{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCartCache) Get(_ context.Context, key string) (*HeldCart, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

func (c *MemoryCartCache) Take(_ context.Context, key string) (*HeldCart, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	held, ok, err := c.lookup(key)
	delete(c.entries, key)
	return held, ok, err
}

func (c *MemoryCartCache) List(_ context.Context, prefix string) ([]HeldCart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]HeldCart, 0, 4)
	for key := range c.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if held, ok, _ := c.lookup(key); ok {
			out = append(out, *held)
		}
	}
	sortHeld(out)
	return out, nil
}

// lookup expects c.mu to be held.
func (c *MemoryCartCache) lookup(key string) (*HeldCart, bool, error) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	held := entry.value
	held.Items = append([]cart.CartItem(nil), entry.value.Items...)
	return &held, true, nil
}

func sortHeld(carts []HeldCart) {
	sort.Slice(carts, func(i, j int) bool {
		if carts[i].HeldAt.Equal(carts[j].HeldAt) {
			return carts[i].Key < carts[j].Key
		}
		return carts[i].HeldAt.Before(carts[j].HeldAt)
	})
}

// Set stores value until ttl elapses; ttl <= 0 keeps it until deleted.
func (c *MemoryCartCache) Set(_ context.Context, key string, value *HeldCart, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{value: *value}
	entry.value.Items = append([]cart.CartItem(nil), value.Items...)
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *MemoryCartCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
