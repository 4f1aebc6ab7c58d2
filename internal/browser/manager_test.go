package browser

import (
	"fmt"
	"sync"
	"testing"

	"autobranch/internal/config"
	"autobranch/internal/dom"
	"autobranch/internal/watch"
)

type stubWatch struct{}

func (stubWatch) Stop()          {}
func (stubWatch) Tree() dom.Tree { return nil }
func (stubWatch) Snapshot() (watch.Stats, []watch.Summary) {
	return watch.Stats{Filled: 1}, []watch.Summary{{ID: "ep-1", Outcome: watch.OutcomeFilled}}
}

func trackPage(m *Manager, tid, id string) {
	m.mu.Lock()
	m.pages[tid] = &pageRecord{
		meta:  Page{ID: id, TargetID: tid, URL: "https://host.example/start"},
		watch: stubWatch{},
	}
	m.mu.Unlock()
}

func TestStatusSnapshotsMetadata(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, nil)
	trackPage(m, "t1", "p1")

	statuses := m.Status()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if statuses[0].Page.ID != "p1" || statuses[0].Page.URL != "https://host.example/start" {
		t.Errorf("page = %+v", statuses[0].Page)
	}
	if statuses[0].Stats.Filled != 1 || len(statuses[0].Recent) != 1 {
		t.Errorf("watch snapshot = %+v", statuses[0])
	}
}

// Status readers run concurrently with the discovery loop's metadata refresh;
// the race detector flags any unlocked overlap between the two.
func TestStatusConcurrentWithMetadataRefresh(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, nil)
	trackPage(m, "t1", "p1")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Mirrors scan's tracked-page update.
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			m.mu.Lock()
			rec := m.pages["t1"]
			rec.meta.URL = fmt.Sprintf("https://host.example/page/%d", i)
			rec.meta.Title = fmt.Sprintf("title %d", i)
			m.mu.Unlock()
		}
	}()

	for i := 0; i < 500; i++ {
		for _, st := range m.Status() {
			_ = st.Page.URL
			_ = st.Page.Title
		}
	}
	close(stop)
	wg.Wait()
}

func TestGetCopiesMetadata(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, nil)
	trackPage(m, "t1", "p1")

	meta, w, ok := m.Get("p1")
	if !ok || w == nil {
		t.Fatal("tracked page must resolve")
	}

	// Mutating the returned copy must not leak back into the record.
	meta.URL = "mutated"
	again, _, _ := m.Get("p1")
	if again.URL == "mutated" {
		t.Error("Get must return a copy of the metadata")
	}

	if _, _, ok := m.Get("nope"); ok {
		t.Error("unknown page id must not resolve")
	}
}
