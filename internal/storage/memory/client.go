package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count int64
	exp   time.Time
}

// Client — in-memory реализация storage.EphemeralStore для -dev и тестов.
type Client struct {
	mu    sync.Mutex
	items map[string]entry
}

func New() *Client {
	return &Client{items: make(map[string]entry)}
}

func (c *Client) Close() error { return nil }

func (c *Client) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	e, ok := c.items[key]
	if !ok || now.After(e.exp) {
		e = entry{count: 0, exp: now.Add(ttl)}
	}
	e.count++
	c.items[key] = e
	return e.count, nil
}

func (c *Client) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if e, ok := c.items[key]; ok && now.Before(e.exp) {
		return false, nil
	}
	c.items[key] = entry{count: 1, exp: now.Add(ttl)}
	return true, nil
}
