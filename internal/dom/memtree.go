package dom

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CopyFlashDuration is how long a Memory copy control shows its success state.
const CopyFlashDuration = 100 * time.Millisecond

// Memory is an in-memory Tree used by tests and dry runs. Mutations made
// through its builder methods (Append, SetText, SetAttribute) are delivered
// synchronously to subscriptions, which makes the three waiter races easy to
// stage deterministically.
type Memory struct {
	mu        sync.Mutex
	root      *MemoryNode
	subs      []*memSubscription
	focused   *MemoryNode
	clipboard string
	nextSub   int
}

// MemoryNode is a Memory tree element.
type MemoryNode struct {
	tag      string
	attrs    map[string]string
	text     string
	value    string
	parent   *MemoryNode
	children []*MemoryNode
	events   []string
	selected bool
	controls []*CopyControl
}

// CopyControl is the fake counterpart of the injected copy button.
type CopyControl struct {
	tree     *Memory
	field    *MemoryNode
	Label    string
	flashing bool
}

type memSubscription struct {
	id        int
	tree      *Memory
	ctx       context.Context
	insertion bool
	root      *MemoryNode
	selector  simpleSelector
	onInsert  func(Node)
	onMutate  func()
	stopped   bool
}

func (s *memSubscription) Stop() {
	s.tree.mu.Lock()
	s.stopped = true
	s.tree.mu.Unlock()
}

// NewMemory returns an empty document with an html root.
func NewMemory() *Memory {
	m := &Memory{}
	m.root = &MemoryNode{tag: "html", attrs: map[string]string{}}
	return m
}

// NewElement creates a detached element. Attach it with Append.
func (m *Memory) NewElement(tag string, attrs map[string]string) *MemoryNode {
	if attrs == nil {
		attrs = map[string]string{}
	}
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &MemoryNode{tag: tag, attrs: copied}
}

// Append attaches child under parent and delivers insertion and mutation
// notifications, mimicking a MutationObserver childList batch.
func (m *Memory) Append(parent Node, child *MemoryNode) {
	p := m.node(parent)
	if p == nil || child == nil {
		return
	}

	m.mu.Lock()
	child.parent = p
	p.children = append(p.children, child)
	callbacks := m.collectForInsertion(p, child)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// SetText replaces a node's own text and delivers mutation notifications.
func (m *Memory) SetText(n Node, text string) {
	node := m.node(n)
	if node == nil {
		return
	}

	m.mu.Lock()
	node.text = text
	callbacks := m.collectMutations(node)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// SetAttribute updates an attribute and delivers mutation notifications.
func (m *Memory) SetAttribute(n Node, name, value string) {
	node := m.node(n)
	if node == nil {
		return
	}

	m.mu.Lock()
	node.attrs[name] = value
	callbacks := m.collectMutations(node)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// collectForInsertion gathers pending callbacks while the lock is held; they
// are invoked after release so subscribers can query the tree re-entrantly.
func (m *Memory) collectForInsertion(parent, inserted *MemoryNode) []func() {
	var out []func()
	for _, sub := range m.subs {
		if sub.stopped || sub.ctx.Err() != nil {
			continue
		}
		if sub.insertion {
			if !isAncestorOrSelf(sub.root, parent) {
				continue
			}
			if hit := firstMatch(inserted, sub.selector); hit != nil {
				fn, node := sub.onInsert, hit
				out = append(out, func() { fn(node) })
			}
			continue
		}
		if isAncestorOrSelf(sub.root, parent) {
			fn := sub.onMutate
			out = append(out, fn)
		}
	}
	return out
}

func (m *Memory) collectMutations(changed *MemoryNode) []func() {
	var out []func()
	for _, sub := range m.subs {
		if sub.stopped || sub.ctx.Err() != nil || sub.insertion {
			continue
		}
		if isAncestorOrSelf(sub.root, changed) {
			out = append(out, sub.onMutate)
		}
	}
	return out
}

// --- Tree interface ---

func (m *Memory) Document() Node { return m.root }

func (m *Memory) ObserveInsertions(ctx context.Context, root Node, selector string, fn func(Node)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	sub := &memSubscription{
		id:        m.nextSub,
		tree:      m,
		ctx:       ctx,
		insertion: true,
		root:      m.node(root),
		selector:  parseSelector(selector),
		onInsert:  fn,
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *Memory) ObserveMutations(ctx context.Context, region Node, fn func()) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	sub := &memSubscription{
		id:       m.nextSub,
		tree:     m,
		ctx:      ctx,
		root:     m.node(region),
		onMutate: fn,
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *Memory) Find(scope Node, selector string) (Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root := m.node(scope)
	if root == nil {
		return nil, false
	}
	sel := parseSelector(selector)
	for _, child := range root.children {
		if hit := firstMatch(child, sel); hit != nil {
			return hit, true
		}
	}
	return nil, false
}

func (m *Memory) Closest(n Node, selector string) (Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel := parseSelector(selector)
	for node := m.node(n); node != nil; node = node.parent {
		if sel.matches(node) {
			return node, true
		}
	}
	return nil, false
}

func (m *Memory) Text(n Node) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.node(n)
	if node == nil {
		return ""
	}
	var b strings.Builder
	appendText(&b, node)
	return b.String()
}

func (m *Memory) Attribute(n Node, name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.node(n)
	if node == nil {
		return ""
	}
	return node.attrs[name]
}

func (m *Memory) Value(n Node) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.node(n)
	if node == nil {
		return ""
	}
	return node.value
}

func (m *Memory) SetValue(n Node, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.node(n)
	if node == nil {
		return nil
	}
	node.value = value
	node.events = append(node.events, "input", "change")
	return nil
}

func (m *Memory) FocusAndSelect(n Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.node(n)
	if node == nil {
		return nil
	}
	m.focused = node
	node.selected = true
	return nil
}

func (m *Memory) AttachCopyControl(n Node, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.node(n)
	if node == nil {
		return nil
	}
	for _, c := range node.controls {
		if c.Label == label {
			return nil // already attached
		}
	}
	node.controls = append(node.controls, &CopyControl{tree: m, field: node, Label: label})
	return nil
}

// --- Test inspection ---

// DispatchedEvents lists the synthetic notifications fired on n, in order.
func (m *Memory) DispatchedEvents(n Node) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.node(n)
	if node == nil {
		return nil
	}
	return append([]string(nil), node.events...)
}

// Focused returns the currently focused node, if any.
func (m *Memory) Focused() Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.focused == nil {
		return nil
	}
	return m.focused
}

// Selected reports whether n's contents are selected.
func (m *Memory) Selected(n Node) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.node(n)
	return node != nil && node.selected
}

// Clipboard returns the last value copied through a copy control.
func (m *Memory) Clipboard() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clipboard
}

// CopyControls lists the controls attached next to n.
func (m *Memory) CopyControls(n Node) []*CopyControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.node(n)
	if node == nil {
		return nil
	}
	return append([]*CopyControl(nil), node.controls...)
}

// Click copies the field's value at click time and flips the success state,
// which self-reverts after CopyFlashDuration.
func (c *CopyControl) Click() {
	c.tree.mu.Lock()
	c.tree.clipboard = c.field.value
	c.flashing = true
	c.tree.mu.Unlock()

	time.AfterFunc(CopyFlashDuration, func() {
		c.tree.mu.Lock()
		c.flashing = false
		c.tree.mu.Unlock()
	})
}

// Flashing reports whether the control is showing its transient success state.
func (c *CopyControl) Flashing() bool {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.flashing
}

// --- helpers ---

func (m *Memory) node(n Node) *MemoryNode {
	node, ok := n.(*MemoryNode)
	if !ok {
		return nil
	}
	return node
}

func isAncestorOrSelf(ancestor, n *MemoryNode) bool {
	for ; n != nil; n = n.parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// firstMatch returns n if it matches, otherwise its first matching
// descendant in document order.
func firstMatch(n *MemoryNode, sel simpleSelector) *MemoryNode {
	if sel.matches(n) {
		return n
	}
	for _, child := range n.children {
		if hit := firstMatch(child, sel); hit != nil {
			return hit
		}
	}
	return nil
}

func appendText(b *strings.Builder, n *MemoryNode) {
	if n.text != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(n.text)
	}
	for _, child := range n.children {
		appendText(b, child)
	}
}
