// Package access attaches a last-access timestamp to a value and refreshes it
// when a scoped access to that value completes.
//
// A Node is owned by a container (a cache, a connection table). Each use of
// the value goes through an Access guard obtained from the node; releasing
// the guard stamps the node with the time the use ended. Eviction logic then
// reads Node.LastAccess to decide which entries have been idle too long.
//
// Go cannot enforce "one guard per node" at compile time, so the container
// must serialise access to a node (a per-entry mutex is the usual choice).
package access

import (
	"errors"
	"time"
)

var (
	// ErrReleased is the panic value for any use of a guard after Release.
	ErrReleased = errors.New("access: guard already released")

	// ErrAccessHeld is the panic value when a node is accessed while
	// another guard on it is still live.
	ErrAccessHeld = errors.New("access: node already has a live guard")
)

// Now provides the current time. Passed explicitly to every access so tests
// can substitute a controllable clock.
type Now interface {
	Now() time.Time
}

// Node wraps a value with the time it was last accessed.
type Node[T any] struct {
	value      T
	lastAccess time.Time
	held       bool
}

// NewNode creates a node stamped with the given initial access time,
// usually the insertion time.
func NewNode[T any](value T, lastAccess time.Time) *Node[T] {
	return &Node[T]{value: value, lastAccess: lastAccess}
}

// LastAccess returns the time recorded by the most recently released guard,
// or the initial time if no access has completed yet.
func (n *Node[T]) LastAccess() time.Time {
	return n.lastAccess
}

// Value returns the payload without recording an access.
func (n *Node[T]) Value() T {
	return n.value
}

// Set replaces the payload without recording an access.
func (n *Node[T]) Set(v T) {
	n.value = v
}

// Access opens an access window on the node. The returned guard must be
// released, normally with defer:
//
//	g := node.Access(clk)
//	defer g.Release()
//
// Access does not read the clock; the timestamp is taken at release.
func (n *Node[T]) Access(now Now) *Access[T] {
	if n.held {
		panic(ErrAccessHeld)
	}
	n.held = true
	return &Access[T]{node: n, now: now}
}

// With runs fn inside an access window. The access is recorded however fn
// exits, including by returning an error or panicking; fn's error is
// returned unchanged. fn must not call Release itself.
func (n *Node[T]) With(now Now, fn func(*Access[T]) error) error {
	g := n.Access(now)
	defer g.Release()
	return fn(g)
}

// Access is a guard giving exclusive use of a node's value. Releasing it
// writes the current time into the node exactly once.
type Access[T any] struct {
	node *Node[T]
	now  Now
}

func (a *Access[T]) mustBeActive() {
	if a.node == nil {
		panic(ErrReleased)
	}
}

// Get returns the wrapped value.
func (a *Access[T]) Get() T {
	a.mustBeActive()
	return a.node.value
}

// Set replaces the wrapped value.
func (a *Access[T]) Set(v T) {
	a.mustBeActive()
	a.node.value = v
}

// Ptr returns a pointer to the wrapped value for in-place mutation. It must
// not be retained past Release.
func (a *Access[T]) Ptr() *T {
	a.mustBeActive()
	return &a.node.value
}

// LastAccess returns the node's timestamp as it was before this access
// began, so callers can see how long the value sat idle.
func (a *Access[T]) LastAccess() time.Time {
	a.mustBeActive()
	return a.node.lastAccess
}

// Release stamps the node with the current time and ends the access.
// Calling it twice panics. If the clock panics the node keeps its previous
// timestamp but is still released.
func (a *Access[T]) Release() {
	a.mustBeActive()
	n := a.node
	a.node = nil
	defer func() { n.held = false }()

	n.lastAccess = a.now.Now()
}
