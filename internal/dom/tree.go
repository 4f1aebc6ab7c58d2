// Package dom defines the narrow tree-observation surface the watcher needs
// from a live page. Detection, waiting, and filling logic depend only on this
// interface, so they run against the in-memory Memory tree in tests and
// against a Rod-driven Chrome page in production.
package dom

import "context"

// Node is an opaque handle to a live element. Callers only pass handles back
// to the Tree that produced them; the concrete type is an implementation
// detail (*rod.Element for the Rod binding, *MemoryNode for the fake).
type Node interface{}

// Subscription is a cancellable mutation feed. Stop is idempotent and ends
// delivery, but a callback already in flight when Stop returns may still
// land; consumers guard their terminal state against late delivery.
type Subscription interface {
	Stop()
}

// Tree is the capability interface over a live mutable document. It is
// read-only except for SetValue, FocusAndSelect, and AttachCopyControl.
type Tree interface {
	// Document returns the root container structural subscriptions observe.
	Document() Node

	// ObserveInsertions reports nodes inserted under root that match
	// selector, either the inserted node itself or a matching descendant.
	// Delivery stops when the subscription is stopped or ctx is done.
	ObserveInsertions(ctx context.Context, root Node, selector string, fn func(Node)) (Subscription, error)

	// ObserveMutations fires fn after any mutation batch inside region
	// (child insertions, text changes, attribute changes).
	ObserveMutations(ctx context.Context, region Node, fn func()) (Subscription, error)

	// Find returns the first descendant of scope matching selector, without
	// waiting. A miss is an expected absence, not an error.
	Find(scope Node, selector string) (Node, bool)

	// Closest walks n and its ancestors for the nearest selector match.
	Closest(n Node, selector string) (Node, bool)

	// Text returns the visible text content of n.
	Text(n Node) string

	// Attribute returns the named attribute of n ("" when absent).
	Attribute(n Node, name string) string

	// Value returns the current value of a form field.
	Value(n Node) string

	// SetValue is the canonical write: the value lands through whatever path
	// the host framework treats as a trusted programmatic mutation, then
	// "input" and "change" notifications are dispatched as if a user typed.
	SetValue(n Node, value string) error

	// FocusAndSelect focuses n and selects its full contents.
	FocusAndSelect(n Node) error

	// AttachCopyControl appends a control next to n that copies n's value at
	// click time (not the originally written value) to the clipboard.
	AttachCopyControl(n Node, label string) error
}
