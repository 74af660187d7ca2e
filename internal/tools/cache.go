package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// TurnCache is a request-scoped tool-result cache keyed per (user,
// conversation). It lives for one turn only and is never shared across
// requests from different users.
type TurnCache struct {
	mu sync.RWMutex
	m  map[string]json.RawMessage
}

// NewTurnCache creates an empty cache for one turn.
func NewTurnCache() *TurnCache {
	return &TurnCache{m: make(map[string]json.RawMessage)}
}

// Get returns the cached output for a (tool, input) pair.
func (c *TurnCache) Get(tool string, input json.RawMessage) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.m[cacheKey(tool, input)]
	return out, ok
}

// Put stores a successful output. Errors are never cached.
func (c *TurnCache) Put(tool string, input, output json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[cacheKey(tool, input)] = output
}

func cacheKey(tool string, input json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}
