package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"autobranch/internal/config"
	"autobranch/internal/dom"
	"autobranch/internal/watch"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/google/uuid"
)

// Page describes the public metadata for a tracked browser page.
type Page struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	AttachedAt time.Time `json:"attached_at"`
}

// PageStatus pairs page metadata with its watcher's counters and history.
type PageStatus struct {
	Page   Page            `json:"page"`
	Stats  watch.Stats     `json:"stats"`
	Recent []watch.Summary `json:"recent,omitempty"`
}

// Watch is the per-page watcher handle the manager tracks.
type Watch interface {
	Stop()
	Tree() dom.Tree
	Snapshot() (watch.Stats, []watch.Summary)
}

// AttachFunc starts watching one discovered page.
type AttachFunc func(ctx context.Context, page *rod.Page, meta Page) (Watch, error)

type pageRecord struct {
	meta  Page
	page  *rod.Page
	watch Watch
}

// Manager owns the Chrome connection and attaches a watcher to every page
// whose URL matches the configured substring.
type Manager struct {
	cfg    config.BrowserConfig
	attach AttachFunc

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	pages      map[string]*pageRecord // keyed by target id
}

func NewManager(cfg config.BrowserConfig, attach AttachFunc) *Manager {
	return &Manager{
		cfg:    cfg,
		attach: attach,
		pages:  make(map[string]*pageRecord),
	}
}

// Start connects to an existing Chrome or launches a new one using Rod's
// launcher, then begins the page discovery loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.browser != nil {
		// Verify the existing connection is still alive before reusing it.
		if _, err := m.browser.Version(); err == nil {
			m.mu.Unlock()
			return nil
		}
		log.Printf("Stale browser connection detected, reconnecting...")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.pages = make(map[string]*pageRecord)
	}
	m.mu.Unlock()

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
		if len(m.cfg.Launch) > 1 {
			for _, rawFlag := range m.cfg.Launch[1:] {
				flagStr := strings.TrimLeft(rawFlag, "-")
				name, val, hasVal := strings.Cut(flagStr, "=")
				if hasVal {
					launch = launch.Set(flags.Flag(name), val)
				} else {
					launch = launch.Set(flags.Flag(name))
				}
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
			if alt, altErr := fallback.Launch(); altErr == nil {
				controlURL = alt
			} else {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
		} else {
			controlURL = url
		}
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.mu.Lock()
	m.browser = browser
	m.controlURL = controlURL
	m.mu.Unlock()
	log.Printf("Browser connected at %s", controlURL)

	m.scan(ctx)
	go m.discoverLoop(ctx)
	return nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

func (m *Manager) discoverLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.GetDiscoverInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

// scan attaches watchers to untracked matching pages and drops closed ones.
func (m *Manager) scan(ctx context.Context) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return
	}

	pages, err := browser.Pages()
	if err != nil {
		log.Printf("page scan failed: %v", err)
		return
	}

	seen := make(map[string]bool, len(pages))
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		tid := string(p.TargetID)
		seen[tid] = true

		m.mu.RLock()
		rec, tracked := m.pages[tid]
		m.mu.RUnlock()
		if tracked {
			m.mu.Lock()
			rec.meta.URL = info.URL
			rec.meta.Title = info.Title
			m.mu.Unlock()
			continue
		}

		if m.cfg.PageURLSubstring != "" && !strings.Contains(info.URL, m.cfg.PageURLSubstring) {
			continue
		}

		meta := Page{
			ID:         uuid.NewString(),
			TargetID:   tid,
			URL:        info.URL,
			Title:      info.Title,
			AttachedAt: time.Now(),
		}
		w, err := m.attach(ctx, p, meta)
		if err != nil {
			log.Printf("attach to %s failed: %v", info.URL, err)
			continue
		}

		m.mu.Lock()
		m.pages[tid] = &pageRecord{meta: meta, page: p, watch: w}
		m.mu.Unlock()
		log.Printf("[page:%s] watching %s", meta.ID, info.URL)
	}

	var dropped []*pageRecord
	m.mu.Lock()
	for tid, rec := range m.pages {
		if !seen[tid] {
			dropped = append(dropped, rec)
			delete(m.pages, tid)
		}
	}
	m.mu.Unlock()
	for _, rec := range dropped {
		rec.watch.Stop()
		log.Printf("[page:%s] page closed, watcher stopped", rec.meta.ID)
	}
}

// Status returns every tracked page with its watcher snapshot. Metadata is
// copied under the lock; the discovery loop refreshes it concurrently.
func (m *Manager) Status() []PageStatus {
	m.mu.RLock()
	metas := make([]Page, 0, len(m.pages))
	watches := make([]Watch, 0, len(m.pages))
	for _, rec := range m.pages {
		metas = append(metas, rec.meta)
		watches = append(watches, rec.watch)
	}
	m.mu.RUnlock()

	results := make([]PageStatus, 0, len(metas))
	for i, meta := range metas {
		stats, recent := watches[i].Snapshot()
		results = append(results, PageStatus{Page: meta, Stats: stats, Recent: recent})
	}
	return results
}

// Get resolves a tracked page by its public id.
func (m *Manager) Get(pageID string) (Page, Watch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.pages {
		if rec.meta.ID == pageID {
			return rec.meta, rec.watch, true
		}
	}
	return Page{}, nil, false
}

// Shutdown stops all watchers and closes the underlying browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	records := make([]*pageRecord, 0, len(m.pages))
	for tid, rec := range m.pages {
		records = append(records, rec)
		delete(m.pages, tid)
	}
	browser := m.browser
	m.browser = nil
	m.controlURL = ""
	m.mu.Unlock()

	for _, rec := range records {
		rec.watch.Stop()
	}

	var err error
	if browser != nil {
		err = browser.Close()
	}
	log.Printf("Browser shutdown complete")
	return err
}
