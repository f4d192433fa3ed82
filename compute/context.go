package compute

import "sync"

type contextFlags uint8

const (
	fInvalidated contextFlags = 1 << iota
	fPropagating
)

// Context is one memoized computation in the invalidation graph. The
// invalidated flag only ever moves from false to true; a stale result is
// recomputed under a fresh Context, never by reviving an old one.
type Context struct {
	mu          sync.Mutex
	description string
	flags       contextFlags

	// Edges hold dependents strongly; only listeners hold contexts weakly.
	dependents    []*Context
	continuations []func()
}

func New(description string) *Context {
	return &Context{description: description}
}

func (c *Context) String() string {
	if c == nil {
		return "<nil context>"
	}
	return c.description
}

func (c *Context) IsInvalidated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags&fInvalidated != 0
}

// Invalidate marks the context invalidated, invalidates every context it was
// told it Invalidates, and then runs each OnInvalidate continuation once.
// Calling it again is a no-op.
func (c *Context) Invalidate() {
	c.mu.Lock()
	if c.flags&fInvalidated != 0 {
		c.mu.Unlock()
		return
	}
	c.flags |= fInvalidated | fPropagating
	dependents := c.dependents
	continuations := c.continuations
	c.dependents = nil
	c.continuations = nil
	c.mu.Unlock()

	for _, dep := range dependents {
		dep.Invalidate()
	}

	// Continuations registered while dependents were being walked land in
	// c.continuations with fPropagating still set; pick them up here.
	for {
		for _, fn := range continuations {
			fn()
		}
		c.mu.Lock()
		continuations = c.continuations
		c.continuations = nil
		if len(continuations) == 0 {
			c.flags &^= fPropagating
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

// Invalidates records that invalidating c must also invalidate other. If c is
// already invalidated, other is invalidated immediately.
func (c *Context) Invalidates(other *Context) {
	if other == nil || other == c {
		return
	}
	c.mu.Lock()
	if c.flags&fInvalidated != 0 {
		c.mu.Unlock()
		other.Invalidate()
		return
	}
	c.dependents = append(c.dependents, other)
	c.mu.Unlock()
}

// OnInvalidate registers fn to run on the first invalidation. Registering on an
// invalidated context runs fn right away on the calling goroutine.
func (c *Context) OnInvalidate(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	switch {
	case c.flags&fPropagating != 0:
		c.continuations = append(c.continuations, fn)
		c.mu.Unlock()
	case c.flags&fInvalidated != 0:
		c.mu.Unlock()
		fn()
	default:
		c.continuations = append(c.continuations, fn)
		c.mu.Unlock()
	}
}
