// Package model defines the value types shared by the batch engine, the
// pipeline executor, and the collaborators callers plug into them.
//
// Nothing here owns goroutines or I/O. ExecutionContext is the only mutable
// type and is safe for concurrent use.
package model

import (
	"slices"
	"sync"
)

// ExecutionContext is a caller-supplied configuration bag handed to every
// collaborator during a run. The engine never writes to it.
type ExecutionContext struct {
	mu    sync.RWMutex
	attrs map[string]any
}

// NewExecutionContext returns an ExecutionContext seeded with attrs.
// The map is copied.
func NewExecutionContext(attrs map[string]any) *ExecutionContext {
	ec := &ExecutionContext{attrs: make(map[string]any, len(attrs))}
	for k, v := range attrs {
		ec.attrs[k] = v
	}
	return ec
}

// Set stores value under key, replacing any previous value.
func (c *ExecutionContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attrs == nil {
		c.attrs = make(map[string]any)
	}
	c.attrs[key] = value
}

// Get returns the value stored under key. A nil context behaves as empty.
func (c *ExecutionContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attrs[key]
	return v, ok
}

// Has reports whether key is present.
func (c *ExecutionContext) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Keys returns the stored keys in sorted order.
func (c *ExecutionContext) Keys() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Attr returns the value under key asserted to T. The second result is false
// when the key is missing or holds a value of a different type.
func Attr[T any](c *ExecutionContext, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
