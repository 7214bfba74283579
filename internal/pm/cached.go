package pm

import (
	"context"
	"sync"
	"time"
)

// Cached wraps a Directory with a read-through TTL cache. Errors are not
// cached so a project fixed in the PM Backend becomes visible immediately.
type Cached struct {
	next Directory
	ttl  time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	managers map[string]cacheEntry[Employee]
	lookups  map[string]cacheEntry[[]LookupValue]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func NewCached(next Directory, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{
		next:     next,
		ttl:      ttl,
		now:      time.Now,
		managers: make(map[string]cacheEntry[Employee]),
		lookups:  make(map[string]cacheEntry[[]LookupValue]),
	}
}

func (c *Cached) ProjectManager(ctx context.Context, projectCode string) (Employee, error) {
	c.mu.RLock()
	entry, ok := c.managers[projectCode]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	employee, err := c.next.ProjectManager(ctx, projectCode)
	if err != nil {
		return Employee{}, err
	}
	c.mu.Lock()
	c.managers[projectCode] = cacheEntry[Employee]{value: employee, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return employee, nil
}

func (c *Cached) ListLookups(ctx context.Context, group string) ([]LookupValue, error) {
	c.mu.RLock()
	entry, ok := c.lookups[group]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return append([]LookupValue(nil), entry.value...), nil
	}

	values, err := c.next.ListLookups(ctx, group)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lookups[group] = cacheEntry[[]LookupValue]{value: values, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return append([]LookupValue(nil), values...), nil
}

// Lookup is served from the cached group listing.
func (c *Cached) Lookup(ctx context.Context, group, code string) (LookupValue, error) {
	values, err := c.ListLookups(ctx, group)
	if err != nil {
		return LookupValue{}, err
	}
	return findLookup(values, group, code)
}

// Invalidate drops every cached entry.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.managers = make(map[string]cacheEntry[Employee])
	c.lookups = make(map[string]cacheEntry[[]LookupValue])
}
