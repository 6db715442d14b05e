package spid

import (
	"sync"
	"time"

	"github.com/protezionecivile/spid-cie-gateway/identity"
)

const requestIDLifetime = 10 * time.Minute

// RequestIDCache remembers outstanding authn request IDs so the ACS handler
// can hand them to the library for InResponseTo validation. Entries are
// single-use, expire after requestIDLifetime, and record which profile
// started the attempt, so brokers sharing one ACS endpoint can attribute
// the response to the profile that initiated it.
type RequestIDCache struct {
	mu      sync.Mutex
	entries map[string]requestEntry
}

type requestEntry struct {
	provider identity.Provider
	expires  time.Time
}

func NewRequestIDCache() *RequestIDCache {
	return &RequestIDCache{entries: make(map[string]requestEntry)}
}

func (c *RequestIDCache) Store(id string, provider identity.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = requestEntry{provider: provider, expires: time.Now().Add(requestIDLifetime)}
}

// Outstanding returns all non-expired request IDs and drops expired ones.
func (c *RequestIDCache) Outstanding() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	ids := make([]string, 0, len(c.entries))
	for id, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Consume removes an ID after the library has matched it, preventing replay
// of the same response, and reports which profile started the attempt.
func (c *RequestIDCache) Consume(id string) (identity.Provider, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	delete(c.entries, id)
	return entry.provider, ok
}
