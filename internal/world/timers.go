package world

import (
	"sync"
	"time"
)

// Timer purposes. Scheduling a new task for an occupied (id, purpose) key
// replaces the prior one; the replaced task never runs.
const (
	PurposeMoveEnd         = "moveEnd"
	PurposeRespawn         = "respawn"
	PurposeResourceRespawn = "resourceRespawn"
	PurposeGrace           = "grace"
	PurposeTurnTimeout     = "turnTimeout"
	PurposeMobTurn         = "mobTurn"
	PurposeLogRelease      = "logRelease"
)

type timerKey struct {
	id      uint64
	purpose string
}

type scheduledTask struct {
	timer     *time.Timer
	cancelled bool
}

// timerSet owns the scheduled callbacks for one map. Fired tasks re-enter the
// map's sequential loop via post; a cancelled task is re-checked there so it
// can never mutate state after cancellation, even if the underlying timer
// already fired.
type timerSet struct {
	mu    sync.Mutex
	post  func(func())
	tasks map[timerKey]*scheduledTask
}

func newTimerSet(post func(func())) *timerSet {
	return &timerSet{post: post, tasks: make(map[timerKey]*scheduledTask)}
}

func (ts *timerSet) schedule(id uint64, purpose string, d time.Duration, fn func()) {
	key := timerKey{id: id, purpose: purpose}

	ts.mu.Lock()
	if old, ok := ts.tasks[key]; ok {
		old.cancelled = true
		old.timer.Stop()
	}
	task := &scheduledTask{}
	task.timer = time.AfterFunc(d, func() {
		ts.post(func() {
			ts.mu.Lock()
			current, ok := ts.tasks[key]
			if !ok || current != task || task.cancelled {
				ts.mu.Unlock()
				return
			}
			delete(ts.tasks, key)
			ts.mu.Unlock()
			fn()
		})
	})
	ts.tasks[key] = task
	ts.mu.Unlock()
}

func (ts *timerSet) cancel(id uint64, purpose string) bool {
	key := timerKey{id: id, purpose: purpose}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	task, ok := ts.tasks[key]
	if !ok {
		return false
	}
	task.cancelled = true
	task.timer.Stop()
	delete(ts.tasks, key)
	return true
}

func (ts *timerSet) cancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for key, task := range ts.tasks {
		task.cancelled = true
		task.timer.Stop()
		delete(ts.tasks, key)
	}
}
