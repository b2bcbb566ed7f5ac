package permission

import "sync"

// Collection is an append-only permission set safe for concurrent use.
type Collection struct {
	mu    sync.RWMutex
	perms []Permission
	all   bool
}

// NewCollection creates a collection holding perms.
func NewCollection(perms ...Permission) *Collection {
	c := &Collection{}
	c.Add(perms...)
	return c
}

// Add appends permissions. Exact duplicates are ignored.
func (c *Collection) Add(perms ...Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range perms {
		if p.Kind == KindAll {
			c.all = true
		}
		dup := false
		for _, existing := range c.perms {
			if existing == p {
				dup = true
				break
			}
		}
		if !dup {
			c.perms = append(c.perms, p)
		}
	}
}

// AddAll appends every permission of other.
func (c *Collection) AddAll(other *Collection) {
	if other == nil {
		return
	}
	c.Add(other.List()...)
}

// Implies reports whether any held permission grants q.
func (c *Collection) Implies(q Permission) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.all {
		return true
	}
	for _, p := range c.perms {
		if p.Implies(q) {
			return true
		}
	}
	return false
}

// ImpliesAll reports whether every permission of other is granted.
func (c *Collection) ImpliesAll(other *Collection) bool {
	for _, p := range other.List() {
		if !c.Implies(p) {
			return false
		}
	}
	return true
}

// List returns a copy of the held permissions in insertion order.
func (c *Collection) List() []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Permission, len(c.perms))
	copy(out, c.perms)
	return out
}

// Len returns the number of held permissions.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.perms)
}
