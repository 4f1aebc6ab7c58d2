package watch

import (
	"sync"
	"time"

	"autobranch/internal/dom"

	"github.com/google/uuid"
)

// Outcome is the terminal state of a dialog episode.
type Outcome string

const (
	// OutcomeFilled: the branch name was written into the field.
	OutcomeFilled Outcome = "filled"
	// OutcomeSkipped: the field already had content, so the write was withheld.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeTimeout: the region never produced a matching link in time.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeAbandoned: the dialog lacked the expected input, or the write failed.
	OutcomeAbandoned Outcome = "abandoned"
)

// Summary describes one settled episode for the status surface.
type Summary struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	SettledAt time.Time `json:"settled_at"`
	Outcome   Outcome   `json:"outcome"`
	WorkItem  string    `json:"work_item,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Stats counts episode outcomes for one watcher.
type Stats struct {
	Started   int `json:"started"`
	Filled    int `json:"filled"`
	Skipped   int `json:"skipped"`
	TimedOut  int `json:"timed_out"`
	Abandoned int `json:"abandoned"`
}

// episode tracks one dialog lifecycle. Its settle flag enforces at-most-once
// resolution: of the extraction callback and the timeout callback, only the
// first to settle has any effect, and settling retires the pending timer and
// the active subscription together so no further callbacks land.
type episode struct {
	id        string
	startedAt time.Time

	mu      sync.Mutex
	settled bool
	timer   *time.Timer
	sub     dom.Subscription
}

func newEpisode() *episode {
	return &episode{id: uuid.NewString(), startedAt: time.Now()}
}

// arm attaches the pending timer and subscription. If the episode settled in
// the window between creation and arming, both are retired immediately.
func (e *episode) arm(timer *time.Timer, sub dom.Subscription) {
	e.mu.Lock()
	if e.settled {
		e.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if sub != nil {
			sub.Stop()
		}
		return
	}
	e.timer = timer
	e.sub = sub
	e.mu.Unlock()
}

// settle flips the flag at most once. The caller that wins performs the
// terminal action; losers see false and must do nothing.
func (e *episode) settle() bool {
	e.mu.Lock()
	if e.settled {
		e.mu.Unlock()
		return false
	}
	e.settled = true
	timer, sub := e.timer, e.sub
	e.timer, e.sub = nil, nil
	e.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if sub != nil {
		sub.Stop()
	}
	return true
}

func (e *episode) isSettled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settled
}
