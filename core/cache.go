package core

import (
	"sync"

	"pkt.systems/snipline/schema"
)

// Cache is the page-local copy of the shortcut list. It is refreshed
// wholesale from the supervisor and learns remote hits in between.
type Cache struct {
	mu        sync.RWMutex
	byTrigger map[string]schema.Shortcut
	order     []string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{byTrigger: make(map[string]schema.Shortcut)}
}

// Lookup returns the cached shortcut for trigger.
func (c *Cache) Lookup(trigger string) (schema.Shortcut, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sc, ok := c.byTrigger[trigger]
	if !ok {
		return schema.Shortcut{}, false
	}
	return sc.Clone(), true
}

// Remember stores sc, replacing any entry with the same trigger.
func (c *Cache) Remember(sc schema.Shortcut) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byTrigger[sc.Trigger]; !ok {
		c.order = append(c.order, sc.Trigger)
	}
	c.byTrigger[sc.Trigger] = sc.Clone()
}

// Replace swaps the whole list.
func (c *Cache) Replace(list []schema.Shortcut) {
	next := make(map[string]schema.Shortcut, len(list))
	order := make([]string, 0, len(list))
	for _, sc := range list {
		if _, ok := next[sc.Trigger]; !ok {
			order = append(order, sc.Trigger)
		}
		next[sc.Trigger] = sc.Clone()
	}
	c.mu.Lock()
	c.byTrigger = next
	c.order = order
	c.mu.Unlock()
}

// List returns the cached shortcuts in insertion order.
func (c *Cache) List() []schema.Shortcut {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]schema.Shortcut, 0, len(c.order))
	for _, trigger := range c.order {
		out = append(out, c.byTrigger[trigger].Clone())
	}
	return out
}

// Len reports the number of cached shortcuts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byTrigger)
}
