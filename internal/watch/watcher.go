package watch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"autobranch/internal/dom"
	"autobranch/internal/fill"
	"autobranch/internal/trace"
	"autobranch/internal/workitem"
)

// dialogRoleSelector locates the dialog container that owns a matched marker.
const dialogRoleSelector = `[role=dialog]`

// recentEpisodeLimit bounds the per-watcher episode history ring.
const recentEpisodeLimit = 32

// Config is the immutable per-watcher configuration. Zero durations fall back
// to the same defaults the config package resolves.
type Config struct {
	// MarkerID is the element id whose insertion signals a dialog opening.
	MarkerID string
	// MarkerText, when set, must appear in the marker's text for a match.
	MarkerText string
	// RegionSelector locates the async-loading region inside the dialog.
	RegionSelector string
	// LinkHrefSubstring identifies the work-item link inside the region.
	LinkHrefSubstring string
	// InputSelector locates the branch-name field inside the dialog.
	InputSelector string
	// SettleDelay is the pause between detection and the first DOM query.
	SettleDelay time.Duration
	// RegionTimeout bounds how long an episode waits for the link to appear.
	RegionTimeout time.Duration

	Prefix      string
	Punctuation string
	CopyControl bool
}

// Watcher runs the detect / wait / extract / fill pipeline against one DOM
// tree. One watcher per page.
type Watcher struct {
	cfg    Config
	tree   dom.Tree
	writer *fill.Writer
	sink   trace.Sink

	mu      sync.Mutex
	started bool
	sub     dom.Subscription
	stats   Stats
	recent  []Summary
}

// New builds a watcher over the given tree. A nil sink disables tracing.
func New(cfg Config, tree dom.Tree, sink trace.Sink) *Watcher {
	if sink == nil {
		sink = trace.Nop()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 250 * time.Millisecond
	}
	if cfg.RegionTimeout <= 0 {
		cfg.RegionTimeout = 10 * time.Second
	}
	return &Watcher{
		cfg:    cfg,
		tree:   tree,
		writer: fill.New(tree, cfg.CopyControl),
		sink:   sink,
	}
}

// Tree exposes the underlying DOM tree for manual operations.
func (w *Watcher) Tree() dom.Tree { return w.tree }

// Start subscribes to marker insertions at the document root. Each insertion
// of the configured marker id opens a new episode.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	sub, err := w.tree.ObserveInsertions(ctx, w.tree.Document(), "#"+w.cfg.MarkerID, func(n dom.Node) {
		w.onMarker(ctx, n)
	})
	if err != nil {
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
		return fmt.Errorf("observe marker insertions: %w", err)
	}

	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()

	w.sink.Record("detector.started", map[string]interface{}{"marker_id": w.cfg.MarkerID})
	return nil
}

// Stop ends detection. Episodes already in flight settle on their own.
func (w *Watcher) Stop() {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.started = false
	w.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
}

// Snapshot returns the outcome counters and the most recent episode
// summaries, newest last.
func (w *Watcher) Snapshot() (Stats, []Summary) {
	w.mu.Lock()
	defer w.mu.Unlock()
	recent := make([]Summary, len(w.recent))
	copy(recent, w.recent)
	return w.stats, recent
}

func (w *Watcher) onMarker(ctx context.Context, marker dom.Node) {
	if w.cfg.MarkerText != "" && !strings.Contains(w.tree.Text(marker), w.cfg.MarkerText) {
		w.sink.Record("detector.text_mismatch", map[string]interface{}{"want": w.cfg.MarkerText})
		return
	}

	// The marker may be an inner title element; the dialog container is the
	// scope for all subsequent queries.
	dialog, ok := w.tree.Closest(marker, dialogRoleSelector)
	if !ok {
		dialog = marker
	}

	ep := newEpisode()
	w.mu.Lock()
	w.stats.Started++
	w.mu.Unlock()

	w.sink.Record("detector.match", map[string]interface{}{"episode": ep.id})
	log.Printf("[episode:%s] dialog detected", ep.id)

	// Give the dialog shell a beat to finish rendering before querying it.
	time.AfterFunc(w.cfg.SettleDelay, func() {
		w.runEpisode(ctx, ep, dialog)
	})
}

func (w *Watcher) runEpisode(ctx context.Context, ep *episode, dialog dom.Node) {
	if ctx.Err() != nil {
		return
	}

	input, ok := w.tree.Find(dialog, w.cfg.InputSelector)
	if !ok {
		w.sink.Record("episode.input_missing", map[string]interface{}{"episode": ep.id, "selector": w.cfg.InputSelector})
		log.Printf("[episode:%s] no input matching %q, abandoning", ep.id, w.cfg.InputSelector)
		w.finish(ep, Summary{Outcome: OutcomeAbandoned, Reason: "input not found"})
		return
	}

	// The region content may already be present when the dialog opens.
	if rec, ok := w.extract(ep, dialog); ok {
		w.resolve(ep, input, rec)
		return
	}

	// The region element can itself appear later than the dialog shell, so
	// observe the region when it exists and the whole dialog otherwise.
	scope := dialog
	if region, ok := w.tree.Find(dialog, w.cfg.RegionSelector); ok {
		scope = region
	}

	sub, err := w.tree.ObserveMutations(ctx, scope, func() {
		if ep.isSettled() {
			return
		}
		if rec, ok := w.extract(ep, dialog); ok {
			w.resolve(ep, input, rec)
		}
	})
	if err != nil {
		w.sink.Record("episode.observe_failed", map[string]interface{}{"episode": ep.id, "error": err.Error()})
		w.finish(ep, Summary{Outcome: OutcomeAbandoned, Reason: err.Error()})
		return
	}

	timer := time.AfterFunc(w.cfg.RegionTimeout, func() {
		if !ep.settle() {
			return
		}
		w.sink.Record("waiter.timeout", map[string]interface{}{"episode": ep.id, "timeout": w.cfg.RegionTimeout.String()})
		log.Printf("[episode:%s] no work-item link within %s, giving up", ep.id, w.cfg.RegionTimeout)
		w.record(ep, Summary{Outcome: OutcomeTimeout})
	})
	ep.arm(timer, sub)

	// Content that arrived between the immediate check and the subscription
	// install would otherwise go unnoticed.
	if rec, ok := w.extract(ep, dialog); ok {
		w.resolve(ep, input, rec)
	}
}

// extract finds the work-item link inside the region and parses its text.
func (w *Watcher) extract(ep *episode, dialog dom.Node) (workitem.Record, bool) {
	region, ok := w.tree.Find(dialog, w.cfg.RegionSelector)
	if !ok {
		w.sink.Record("waiter.region_missing", map[string]interface{}{"episode": ep.id})
		return workitem.Record{}, false
	}

	link, ok := w.tree.Find(region, fmt.Sprintf(`a[href*=%q]`, w.cfg.LinkHrefSubstring))
	if !ok {
		w.sink.Record("waiter.link_missing", map[string]interface{}{"episode": ep.id})
		return workitem.Record{}, false
	}

	text := w.tree.Text(link)
	rec, ok := workitem.Parse(text)
	if !ok {
		w.sink.Record("extract.no_match", map[string]interface{}{"episode": ep.id, "text": text})
		log.Printf("[episode:%s] link text %q does not match the work-item pattern", ep.id, text)
		return workitem.Record{}, false
	}

	w.sink.Record("extract.match", map[string]interface{}{"episode": ep.id, "id": rec.ID, "title": rec.Title})
	return rec, true
}

// resolve writes the branch name for an extracted record. Only the first
// settle path for the episode gets here with effect.
func (w *Watcher) resolve(ep *episode, input dom.Node, rec workitem.Record) {
	if !ep.settle() {
		return
	}

	branch := workitem.BranchName(w.cfg.Prefix, rec, w.cfg.Punctuation)
	wrote, err := w.writer.Fill(input, branch)
	switch {
	case err != nil:
		w.sink.Record("fill.error", map[string]interface{}{"episode": ep.id, "error": err.Error()})
		log.Printf("[episode:%s] write failed: %v", ep.id, err)
		w.record(ep, Summary{Outcome: OutcomeAbandoned, WorkItem: rec.ID, Branch: branch, Reason: err.Error()})
	case !wrote:
		w.sink.Record("fill.skipped", map[string]interface{}{"episode": ep.id, "branch": branch})
		log.Printf("[episode:%s] field already populated, leaving it alone", ep.id)
		w.record(ep, Summary{Outcome: OutcomeSkipped, WorkItem: rec.ID, Branch: branch})
	default:
		w.sink.Record("fill.done", map[string]interface{}{"episode": ep.id, "branch": branch})
		log.Printf("[episode:%s] filled %q", ep.id, branch)
		w.record(ep, Summary{Outcome: OutcomeFilled, WorkItem: rec.ID, Branch: branch})
	}
}

// finish settles and records an episode that never armed a waiter.
func (w *Watcher) finish(ep *episode, s Summary) {
	if !ep.settle() {
		return
	}
	w.record(ep, s)
}

func (w *Watcher) record(ep *episode, s Summary) {
	s.ID = ep.id
	s.StartedAt = ep.startedAt
	s.SettledAt = time.Now()

	w.mu.Lock()
	switch s.Outcome {
	case OutcomeFilled:
		w.stats.Filled++
	case OutcomeSkipped:
		w.stats.Skipped++
	case OutcomeTimeout:
		w.stats.TimedOut++
	case OutcomeAbandoned:
		w.stats.Abandoned++
	}
	w.recent = append(w.recent, s)
	if len(w.recent) > recentEpisodeLimit {
		w.recent = w.recent[len(w.recent)-recentEpisodeLimit:]
	}
	w.mu.Unlock()
}
