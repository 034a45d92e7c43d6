package runtime

import (
	"sync"
	"time"

	"github.com/scripthost/jscore/errors"
	"github.com/scripthost/jscore/resource"
)

// TaskContext is the per-task view of the instance handed to async op
// handlers. It tracks the references the task takes so they are released
// even when the handler forgets, and it parks the task on loop-owned timers
// so the loop can account for every sleeper.
type TaskContext struct {
	state    *OpState
	loop     *eventLoop
	op       string
	mu       sync.Mutex
	retained map[resource.Handle]int
}

func newTaskContext(state *OpState, loop *eventLoop, op string) *TaskContext {
	return &TaskContext{
		state: state,
		loop:  loop,
		op:    op,
	}
}

// State returns the shared op state.
func (t *TaskContext) State() *OpState { return t.state }

// Op returns the name of the op this task is running.
func (t *TaskContext) Op() string { return t.op }

// Cancelled returns a channel closed when the instance is cancelling.
// Handlers doing their own blocking I/O should select on it.
func (t *TaskContext) Cancelled() <-chan struct{} { return t.loop.cancelled }

// Retain takes a counted reference on a resource so it outlives a
// concurrent close for the duration of this task.
func (t *TaskContext) Retain(h resource.Handle) error {
	if !t.state.resources.Ref(h) {
		return errors.BadResource(uint32(h))
	}
	t.mu.Lock()
	if t.retained == nil {
		t.retained = make(map[resource.Handle]int)
	}
	t.retained[h]++
	t.mu.Unlock()
	return nil
}

// Release drops one reference taken by Retain.
func (t *TaskContext) Release(h resource.Handle) {
	t.mu.Lock()
	if t.retained[h] == 0 {
		t.mu.Unlock()
		return
	}
	t.retained[h]--
	t.mu.Unlock()
	t.state.resources.Unref(h)
}

// releaseAll drops every reference still held when the handler returns.
func (t *TaskContext) releaseAll() {
	t.mu.Lock()
	retained := t.retained
	t.retained = nil
	t.mu.Unlock()

	for h, n := range retained {
		for ; n > 0; n-- {
			t.state.resources.Unref(h)
		}
	}
}

// Sleep parks the task on a loop timer. It returns early with a cancelled
// error if the instance starts shutting down.
func (t *TaskContext) Sleep(d time.Duration) error {
	fired := t.loop.addTimer(time.Now().Add(d))
	select {
	case <-fired:
		return nil
	case <-t.loop.cancelled:
		return errors.Cancelled()
	}
}

// AwaitClose parks the task until the handle is closed. A handle that is
// already dead returns immediately. The wait counts toward deadlock
// detection: if every live task ends up here, nothing can close anything
// and the loop declares a deadlock.
func (t *TaskContext) AwaitClose(h resource.Handle) error {
	table := t.state.resources
	w := &closeWaiter{handle: h, loop: t.loop, ch: make(chan struct{})}

	// Subscribe before the liveness check so a concurrent close cannot
	// slip between them unseen.
	table.Subscribe(w)
	defer table.Unsubscribe(w)
	defer w.fire()

	if _, ok := table.Get(h); !ok {
		return nil
	}
	if !w.park() {
		return nil
	}

	select {
	case <-w.ch:
		return nil
	case <-t.loop.cancelled:
		return errors.Cancelled()
	}
}

// closeWaiter signals its channel when one specific handle closes. Firing
// unparks the waiter on the closer's goroutine, so the parked count drops
// the moment the close happens rather than when the waiter gets scheduled;
// otherwise the loop could observe every task parked with nothing queued
// and call an imminent wakeup a deadlock. Parking and firing share a mutex
// so the count only ever covers waiters that are actually going to block.
type closeWaiter struct {
	mu     sync.Mutex
	fired  bool
	parked bool
	ch     chan struct{}
	handle resource.Handle
	loop   *eventLoop
}

// park counts the waiter toward deadlock detection. It reports false when
// the close already happened, in which case the wait is over.
func (w *closeWaiter) park() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fired {
		return false
	}
	w.parked = true
	w.loop.parked.Add(1)
	return true
}

func (w *closeWaiter) fire() {
	w.mu.Lock()
	if w.fired {
		w.mu.Unlock()
		return
	}
	w.fired = true
	wasParked := w.parked
	w.parked = false
	w.mu.Unlock()

	if wasParked {
		w.loop.parked.Add(-1)
		w.loop.poke()
	}
	close(w.ch)
}

func (w *closeWaiter) OnResourceEvent(e resource.Event) {
	if e.Handle == w.handle && e.Type == resource.EventClosed {
		w.fire()
	}
}
