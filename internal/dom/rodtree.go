package dom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
)

// RodTree binds the Tree capability interface to a live Chrome page via Rod.
// Mutation subscriptions install in-page MutationObservers that buffer into a
// window-scoped registry; a goroutine drains the buffers on a ticker.
type RodTree struct {
	page *rod.Page
	root *rod.Element
	poll time.Duration
}

// NewRodTree resolves the document root and returns a Tree bound to page.
func NewRodTree(page *rod.Page, pollInterval time.Duration) (*RodTree, error) {
	if pollInterval <= 0 {
		pollInterval = 150 * time.Millisecond
	}
	root, err := page.Timeout(10 * time.Second).Element("html")
	if err != nil {
		return nil, fmt.Errorf("resolve document root: %w", err)
	}
	return &RodTree{page: page, root: root, poll: pollInterval}, nil
}

func (t *RodTree) Document() Node { return t.root }

func (t *RodTree) ObserveInsertions(ctx context.Context, root Node, selector string, fn func(Node)) (Subscription, error) {
	el, err := t.element(root)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	if _, err := el.Eval(installInsertionObserverJS, token, selector); err != nil {
		return nil, fmt.Errorf("install insertion observer: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(t.poll)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				res, err := el.Eval(drainInsertionsJS, token)
				if err != nil || res == nil {
					continue
				}
				for _, v := range res.Value.Arr() {
					hit, err := t.page.Sleeper(rod.NotFoundSleeper).
						Element(fmt.Sprintf(`[data-autobranch-hit="%d"]`, v.Int()))
					if err != nil {
						// Node removed again before we could resolve it.
						continue
					}
					fn(hit)
				}
			}
		}
	}()

	return &rodSubscription{el: el, token: token, cancel: cancel}, nil
}

func (t *RodTree) ObserveMutations(ctx context.Context, region Node, fn func()) (Subscription, error) {
	el, err := t.element(region)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	if _, err := el.Eval(installMutationObserverJS, token); err != nil {
		return nil, fmt.Errorf("install mutation observer: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(t.poll)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				res, err := el.Eval(drainTicksJS, token)
				if err != nil || res == nil {
					continue
				}
				if res.Value.Int() > 0 {
					fn()
				}
			}
		}
	}()

	return &rodSubscription{el: el, token: token, cancel: cancel}, nil
}

func (t *RodTree) Find(scope Node, selector string) (Node, bool) {
	el, err := t.element(scope)
	if err != nil {
		return nil, false
	}
	found, err := el.Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		return nil, false
	}
	return found, true
}

func (t *RodTree) Closest(n Node, selector string) (Node, bool) {
	el, err := t.element(n)
	if err != nil {
		return nil, false
	}
	ancestor, err := el.ElementByJS(rod.Eval(`(sel) => this.closest(sel)`, selector))
	if err != nil {
		return nil, false
	}
	return ancestor, true
}

func (t *RodTree) Text(n Node) string {
	el, err := t.element(n)
	if err != nil {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return text
}

func (t *RodTree) Attribute(n Node, name string) string {
	el, err := t.element(n)
	if err != nil {
		return ""
	}
	attr, err := el.Attribute(name)
	if err != nil || attr == nil {
		return ""
	}
	return *attr
}

func (t *RodTree) Value(n Node) string {
	el, err := t.element(n)
	if err != nil {
		return ""
	}
	prop, err := el.Property("value")
	if err != nil {
		return ""
	}
	return prop.Str()
}

func (t *RodTree) SetValue(n Node, value string) error {
	el, err := t.element(n)
	if err != nil {
		return err
	}
	if _, err := el.Eval(setNativeValueJS, value); err != nil {
		return fmt.Errorf("canonical value write: %w", err)
	}
	return nil
}

func (t *RodTree) FocusAndSelect(n Node) error {
	el, err := t.element(n)
	if err != nil {
		return err
	}
	if _, err := el.Eval(focusAndSelectJS); err != nil {
		return fmt.Errorf("focus and select: %w", err)
	}
	return nil
}

func (t *RodTree) AttachCopyControl(n Node, label string) error {
	el, err := t.element(n)
	if err != nil {
		return err
	}
	if _, err := el.Eval(attachCopyControlJS, label); err != nil {
		return fmt.Errorf("attach copy control: %w", err)
	}
	return nil
}

func (t *RodTree) element(n Node) (*rod.Element, error) {
	el, ok := n.(*rod.Element)
	if !ok || el == nil {
		return nil, fmt.Errorf("node is not a rod element: %T", n)
	}
	return el, nil
}

type rodSubscription struct {
	el     *rod.Element
	token  string
	cancel context.CancelFunc
	once   sync.Once
}

func (s *rodSubscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		// Best-effort: the page may already be gone.
		_, _ = s.el.Eval(disconnectObserverJS, s.token)
	})
}
