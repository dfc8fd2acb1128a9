package session

import "sync"

// Claims records which session owns the processing job of each media
// item, so two views of one item cannot both submit.
type Claims struct {
	mu     sync.Mutex
	owners map[string]string // item key -> session id
}

func NewClaims() *Claims {
	return &Claims{owners: make(map[string]string)}
}

// Acquire claims key for owner. It succeeds if the key is free or
// already held by owner.
func (c *Claims) Acquire(key, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.owners[key]; ok && cur != owner {
		return false
	}
	c.owners[key] = owner
	return true
}

// Release drops the claim on key if owner holds it.
func (c *Claims) Release(key, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[key] == owner {
		delete(c.owners, key)
	}
}

// Owner returns the session holding key.
func (c *Claims) Owner(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[key]
	return owner, ok
}

// Len returns the number of held claims.
func (c *Claims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.owners)
}
