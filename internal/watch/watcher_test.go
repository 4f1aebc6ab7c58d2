package watch

import (
	"context"
	"testing"
	"time"

	"autobranch/internal/config"
	"autobranch/internal/dom"
)

func testConfig() Config {
	return Config{
		MarkerID:          "create-branch-dialog",
		MarkerText:        "Create a branch",
		RegionSelector:    ".linked-work-items",
		LinkHrefSubstring: "_workitems/edit",
		InputSelector:     "input.branch-name-input",
		SettleDelay:       time.Millisecond,
		RegionTimeout:     5 * time.Second,
		Prefix:            "feature/",
		Punctuation:       config.DefaultPunctuation,
	}
}

// buildDialog assembles a detached dialog subtree: a [role=dialog] container
// holding the marker title, the branch-name input, and (optionally) the
// work-items region.
func buildDialog(mem *dom.Memory, withRegion bool) (dialog, region, input *dom.MemoryNode) {
	dialog = mem.NewElement("div", map[string]string{"role": "dialog"})

	title := mem.NewElement("div", map[string]string{"id": "create-branch-dialog"})
	mem.SetText(title, "Create a branch")
	mem.Append(dialog, title)

	input = mem.NewElement("input", map[string]string{"class": "branch-name-input"})
	mem.Append(dialog, input)

	if withRegion {
		region = mem.NewElement("div", map[string]string{"class": "linked-work-items"})
		mem.Append(dialog, region)
	}
	return dialog, region, input
}

func addWorkItemLink(mem *dom.Memory, region *dom.MemoryNode, text string) *dom.MemoryNode {
	link := mem.NewElement("a", map[string]string{"href": "https://host.example/org/project/_workitems/edit/100"})
	mem.SetText(link, text)
	mem.Append(region, link)
	return link
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (w *Watcher) waitStats(t *testing.T, what string, cond func(Stats) bool) {
	t.Helper()
	waitFor(t, what, func() bool {
		stats, _ := w.Snapshot()
		return cond(stats)
	})
}

func TestFillsWhenContentArrivesLate(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	dialog, region, input := buildDialog(mem, true)
	mem.Append(mem.Document(), dialog)

	w.waitStats(t, "episode start", func(s Stats) bool { return s.Started == 1 })

	// The region is present but empty; the link loads afterwards.
	addWorkItemLink(mem, region, "Task 100: Add login page")

	w.waitStats(t, "fill", func(s Stats) bool { return s.Filled == 1 })

	if got := mem.Value(input); got != "feature/100-Add-Login-Page" {
		t.Errorf("field value = %q", got)
	}
	if mem.Focused() != dom.Node(input) {
		t.Error("filled field should hold focus")
	}
	if !mem.Selected(input) {
		t.Error("filled field content should be selected")
	}

	_, recent := w.Snapshot()
	if len(recent) != 1 || recent[0].Outcome != OutcomeFilled {
		t.Fatalf("recent = %+v, want one filled episode", recent)
	}
	if recent[0].WorkItem != "100" || recent[0].Branch != "feature/100-Add-Login-Page" {
		t.Errorf("summary = %+v", recent[0])
	}
}

func TestFillsWhenContentAlreadyPresent(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// The link is in the dialog before it ever hits the document, so the
	// immediate extraction path must fire without any further mutation.
	dialog, region, input := buildDialog(mem, true)
	addWorkItemLink(mem, region, "Bug 4821: Crash on save")
	mem.Append(mem.Document(), dialog)

	w.waitStats(t, "fill", func(s Stats) bool { return s.Filled == 1 })

	if got := mem.Value(input); got != "feature/4821-Crash-On-Save" {
		t.Errorf("field value = %q", got)
	}
}

func TestRegionItselfArrivesLate(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	dialog, _, input := buildDialog(mem, false)
	mem.Append(mem.Document(), dialog)

	w.waitStats(t, "episode start", func(s Stats) bool { return s.Started == 1 })
	time.Sleep(10 * time.Millisecond)

	// The whole region shows up after the dialog shell, already populated.
	region := mem.NewElement("div", map[string]string{"class": "linked-work-items"})
	link := mem.NewElement("a", map[string]string{"href": "/p/_workitems/edit/7"})
	mem.SetText(link, "Task 7: Tune cache eviction")
	mem.Append(region, link)
	mem.Append(dialog, region)

	w.waitStats(t, "fill", func(s Stats) bool { return s.Filled == 1 })

	if got := mem.Value(input); got != "feature/7-Tune-Cache-Eviction" {
		t.Errorf("field value = %q", got)
	}
}

func TestTimesOutWhenLinkNeverArrives(t *testing.T) {
	cfg := testConfig()
	cfg.RegionTimeout = 25 * time.Millisecond

	mem := dom.NewMemory()
	w := New(cfg, mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	dialog, _, input := buildDialog(mem, true)
	mem.Append(mem.Document(), dialog)

	w.waitStats(t, "timeout", func(s Stats) bool { return s.TimedOut == 1 })

	if got := mem.Value(input); got != "" {
		t.Errorf("field value = %q, nothing should be written on timeout", got)
	}

	_, recent := w.Snapshot()
	if len(recent) != 1 || recent[0].Outcome != OutcomeTimeout {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestLateContentAfterTimeoutIsIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.RegionTimeout = 20 * time.Millisecond

	mem := dom.NewMemory()
	w := New(cfg, mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	dialog, region, input := buildDialog(mem, true)
	mem.Append(mem.Document(), dialog)

	w.waitStats(t, "timeout", func(s Stats) bool { return s.TimedOut == 1 })

	// The episode is settled; content arriving now must have no effect.
	addWorkItemLink(mem, region, "Task 100: Add login page")
	time.Sleep(20 * time.Millisecond)

	if got := mem.Value(input); got != "" {
		t.Errorf("field value = %q, settled episode must not fill", got)
	}
	stats, _ := w.Snapshot()
	if stats.Filled != 0 {
		t.Errorf("stats = %+v, no fill expected after timeout", stats)
	}
}

func TestSecondLinkDoesNotRefill(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	dialog, region, input := buildDialog(mem, true)
	mem.Append(mem.Document(), dialog)
	w.waitStats(t, "episode start", func(s Stats) bool { return s.Started == 1 })

	addWorkItemLink(mem, region, "Task 100: Add login page")
	w.waitStats(t, "fill", func(s Stats) bool { return s.Filled == 1 })

	// A second linked item rendering later must not disturb the field.
	addWorkItemLink(mem, region, "Task 200: Something else")
	time.Sleep(20 * time.Millisecond)

	if got := mem.Value(input); got != "feature/100-Add-Login-Page" {
		t.Errorf("field value = %q, first fill must stand", got)
	}
	stats, _ := w.Snapshot()
	if stats.Filled != 1 {
		t.Errorf("stats = %+v, exactly one fill expected", stats)
	}
}

func TestSkipsPrefilledField(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	dialog, region, input := buildDialog(mem, true)
	if err := mem.SetValue(input, "my-own-branch"); err != nil {
		t.Fatal(err)
	}
	addWorkItemLink(mem, region, "Task 100: Add login page")
	mem.Append(mem.Document(), dialog)

	w.waitStats(t, "skip", func(s Stats) bool { return s.Skipped == 1 })

	if got := mem.Value(input); got != "my-own-branch" {
		t.Errorf("field value = %q, user content must survive", got)
	}
}

func TestAbandonsDialogWithoutInput(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	dialog := mem.NewElement("div", map[string]string{"role": "dialog"})
	title := mem.NewElement("div", map[string]string{"id": "create-branch-dialog"})
	mem.SetText(title, "Create a branch")
	mem.Append(dialog, title)
	mem.Append(mem.Document(), dialog)

	w.waitStats(t, "abandon", func(s Stats) bool { return s.Abandoned == 1 })

	_, recent := w.Snapshot()
	if len(recent) != 1 || recent[0].Outcome != OutcomeAbandoned {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestMarkerTextPredicate(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Same marker id, wrong text: a different dialog reusing the id.
	dialog, region, _ := buildDialog(mem, true)
	title, _ := mem.Find(dialog, "#create-branch-dialog")
	mem.SetText(title, "Delete this branch?")
	addWorkItemLink(mem, region, "Task 1: Should never be read")
	mem.Append(mem.Document(), dialog)

	time.Sleep(30 * time.Millisecond)

	stats, _ := w.Snapshot()
	if stats.Started != 0 {
		t.Errorf("stats = %+v, mismatched marker text must not open an episode", stats)
	}
}

func TestMalformedLinkKeepsWaiting(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	dialog, region, input := buildDialog(mem, true)
	mem.Append(mem.Document(), dialog)
	w.waitStats(t, "episode start", func(s Stats) bool { return s.Started == 1 })

	// A placeholder renders first; its text does not parse. The episode must
	// stay open and catch the real content on the next mutation.
	placeholder := addWorkItemLink(mem, region, "Loading...")
	time.Sleep(10 * time.Millisecond)
	if got := mem.Value(input); got != "" {
		t.Fatalf("field value = %q, placeholder must not fill", got)
	}

	mem.SetText(placeholder, "Task 321: Real title")

	w.waitStats(t, "fill", func(s Stats) bool { return s.Filled == 1 })
	if got := mem.Value(input); got != "feature/321-Real-Title" {
		t.Errorf("field value = %q", got)
	}
}

func TestMarkerWithoutDialogAncestorFallsBack(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// No [role=dialog] anywhere; the marker container itself is the scope.
	box := mem.NewElement("div", map[string]string{"id": "create-branch-dialog"})
	mem.SetText(box, "Create a branch")
	input := mem.NewElement("input", map[string]string{"class": "branch-name-input"})
	mem.Append(box, input)
	region := mem.NewElement("div", map[string]string{"class": "linked-work-items"})
	mem.Append(box, region)
	mem.Append(mem.Document(), box)

	w.waitStats(t, "episode start", func(s Stats) bool { return s.Started == 1 })
	addWorkItemLink(mem, region, "Task 100: Add login page")

	w.waitStats(t, "fill", func(s Stats) bool { return s.Filled == 1 })
	if got := mem.Value(input); got != "feature/100-Add-Login-Page" {
		t.Errorf("field value = %q", got)
	}
}

func TestEachDialogOpenIsItsOwnEpisode(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// First open.
	dialog, region, input := buildDialog(mem, true)
	addWorkItemLink(mem, region, "Task 1: First")
	mem.Append(mem.Document(), dialog)
	w.waitStats(t, "first fill", func(s Stats) bool { return s.Filled == 1 })
	if got := mem.Value(input); got != "feature/1-First" {
		t.Fatalf("first fill = %q", got)
	}

	// The dialog closes and reopens as a fresh subtree.
	dialog2, region2, input2 := buildDialog(mem, true)
	addWorkItemLink(mem, region2, "Task 2: Second")
	mem.Append(mem.Document(), dialog2)
	w.waitStats(t, "second fill", func(s Stats) bool { return s.Filled == 2 })

	if got := mem.Value(input2); got != "feature/2-Second" {
		t.Errorf("second fill = %q", got)
	}
	stats, recent := w.Snapshot()
	if stats.Started != 2 || len(recent) != 2 {
		t.Errorf("stats = %+v, recent = %d entries", stats, len(recent))
	}
}

func TestStartTwiceFails(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestStopEndsDetection(t *testing.T) {
	mem := dom.NewMemory()
	w := New(testConfig(), mem, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()

	dialog, region, _ := buildDialog(mem, true)
	addWorkItemLink(mem, region, "Task 100: Add login page")
	mem.Append(mem.Document(), dialog)

	time.Sleep(30 * time.Millisecond)
	stats, _ := w.Snapshot()
	if stats.Started != 0 {
		t.Errorf("stats = %+v, stopped watcher must not open episodes", stats)
	}
}
