package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	val     []byte
	expires time.Time
}

// Memory is an in-process Cache. Expired entries are dropped lazily on read.
type Memory struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{m: map[string]memEntry{}, now: time.Now}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.m, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

func (c *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	e := memEntry{val: append([]byte(nil), val...)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.m[key] = e
	return nil
}
