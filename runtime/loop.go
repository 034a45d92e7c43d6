package runtime

import (
	"container/heap"
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scripthost/jscore/engine"
	"github.com/scripthost/jscore/errors"
	"github.com/scripthost/jscore/ops"
	"github.com/scripthost/jscore/wire"
)

// stallProbe bounds how long the loop blocks when it cannot prove progress
// or deadlock yet. Task goroutines park asynchronously, so the loop re-checks
// the deadlock condition on this cadence.
const stallProbe = 10 * time.Millisecond

// completion is one finished async op on its way back to the engine.
type completion struct {
	err   error
	raw   []byte
	value wire.Value
	token uint64
	op    ops.OpId
	isRaw bool
}

// eventLoop drives an engine instance to quiescence. It owns the timer heap
// and is the only goroutine that touches the engine; task goroutines
// communicate exclusively through the completions channel and the counters.
type eventLoop struct {
	eng         engine.Engine
	reg         *ops.Registry
	completions chan completion
	wake        chan struct{}
	cancelled   chan struct{}
	log         *zap.Logger

	timerMu sync.Mutex
	timers  timerHeap

	// outstanding counts spawned async tasks whose completions have not been
	// delivered. parked counts the subset blocked waiting for a resource
	// close that only another task or the script could perform.
	outstanding atomic.Int64
	parked      atomic.Int64

	cancelOnce sync.Once
}

func newEventLoop(eng engine.Engine, reg *ops.Registry, log *zap.Logger) *eventLoop {
	return &eventLoop{
		eng:         eng,
		reg:         reg,
		completions: make(chan completion, 128),
		wake:        make(chan struct{}, 1),
		cancelled:   make(chan struct{}),
		log:         log,
	}
}

// Run drives the loop until quiescence: no outstanding tasks, no pending
// timers, no unsettled promises. Deadlock is fatal. Context cancellation
// stops at the next safe boundary; in-flight tasks observe the cancellation
// and their promises reject with the cancelled kind before Run returns.
func (l *eventLoop) Run(ctx context.Context) error {
	for {
		if err := l.eng.RunMicrotasks(); err != nil {
			return err
		}
		if err := l.drain(); err != nil {
			return err
		}
		l.fireDueTimers()

		if l.quiescent() {
			return ctx.Err()
		}

		if ctx.Err() != nil {
			l.Cancel()
		}

		// Once cancellation is in flight, parked tasks are already waking
		// up to exit; what looks like a deadlock is teardown in progress.
		if !l.isCancelled() && l.deadlocked() {
			n := int(l.outstanding.Load())
			l.log.Error("event loop deadlock", zap.Int("outstanding", n))
			return errors.DeadlockDetected(n)
		}

		if err := l.block(ctx); err != nil {
			return err
		}
	}
}

// RunTurn performs one turn without blocking: pump microtasks, deliver the
// completions that already arrived, fire due timers, deliver again. It
// reports whether work is still outstanding.
func (l *eventLoop) RunTurn() (bool, error) {
	if err := l.eng.RunMicrotasks(); err != nil {
		return false, err
	}
	if err := l.drain(); err != nil {
		return false, err
	}
	l.fireDueTimers()
	if err := l.drain(); err != nil {
		return false, err
	}
	return !l.quiescent(), nil
}

// drain delivers every queued completion without blocking.
func (l *eventLoop) drain() error {
	for {
		select {
		case c := <-l.completions:
			if err := l.deliver(c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// block waits for the next source of progress: a completion, a due timer,
// a park notification, or cancellation.
func (l *eventLoop) block(ctx context.Context) error {
	wait := stallProbe
	if deadline, ok := l.nearestDeadline(); ok {
		if d := time.Until(deadline); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	// After cancellation the context stays done; waiting on it again would
	// spin. The stall probe keeps the loop checking for drained tasks.
	done := ctx.Done()
	if l.isCancelled() {
		done = nil
	}

	select {
	case c := <-l.completions:
		return l.deliver(c)
	case <-l.wake:
		return nil
	case <-timer.C:
		return nil
	case <-done:
		l.Cancel()
		return nil
	}
}

// deliver settles the promise for one completed task.
func (l *eventLoop) deliver(c completion) error {
	defer l.outstanding.Add(-1)

	opName := ""
	if desc, ok := l.reg.Lookup(c.op); ok {
		opName = desc.Name
	}

	if c.err != nil {
		kind, msg := errors.Classify(c.err)
		// Tasks exit with the cancelled signal internally, but the script
		// observes teardown: its token rejects as a shutdown.
		if kind == string(errors.KindCancelled) {
			kind, msg = errors.Classify(errors.ShuttingDown())
		}
		l.log.Debug("async op rejected",
			zap.String("op", opName),
			zap.Uint64("token", c.token),
			zap.String("kind", kind))
		return l.settleErr(l.eng.RejectPromise(c.token, kind, msg))
	}

	v := c.value
	if c.isRaw {
		v = wire.Bytes(c.raw)
	}
	l.reg.RecordResult(c.op, v.Size())
	return l.settleErr(l.eng.ResolvePromise(c.token, v))
}

// settleErr filters settlement failures. A missing token after shutdown is
// expected; anything else is a loop bug and propagates.
func (l *eventLoop) settleErr(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, errors.ShuttingDown()) {
		return nil
	}
	return errors.New(errors.PhaseLoop, errors.KindHandlerFailure).
		Cause(err).Detail("settling promise").Build()
}

// quiescent reports whether nothing can make further progress. Timers are
// not consulted: only tasks wait on them, so a non-empty heap with zero
// outstanding tasks is just abandoned wakeups from cancelled sleepers.
func (l *eventLoop) quiescent() bool {
	return l.outstanding.Load() == 0 && len(l.completions) == 0
}

// deadlocked reports whether every live task is parked on a resource close
// that nothing can perform. Tasks sleeping on timers are not parked, so a
// pending timer always means progress is possible.
func (l *eventLoop) deadlocked() bool {
	out := l.outstanding.Load()
	if out == 0 || l.parked.Load() != out {
		return false
	}
	if len(l.completions) > 0 {
		return false
	}
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	return l.timers.Len() == 0
}

// Cancel signals every parked and sleeping task to exit early. Idempotent.
func (l *eventLoop) Cancel() {
	l.cancelOnce.Do(func() { close(l.cancelled) })
}

func (l *eventLoop) isCancelled() bool {
	select {
	case <-l.cancelled:
		return true
	default:
		return false
	}
}

// complete hands a finished task back to the loop. Called from task
// goroutines. A full queue blocks only while a consumer can still exist;
// after cancellation the loop may be gone, so the completion is dropped and
// the ledger balanced. Teardown settles the token through RejectAll.
func (l *eventLoop) complete(c completion) {
	select {
	case l.completions <- c:
		return
	default:
	}

	select {
	case l.completions <- c:
	case <-l.cancelled:
		l.outstanding.Add(-1)
	}
}

// poke nudges the loop out of its blocking wait.
func (l *eventLoop) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// addTimer schedules a wakeup channel that closes at the deadline.
func (l *eventLoop) addTimer(deadline time.Time) <-chan struct{} {
	ch := make(chan struct{})
	l.timerMu.Lock()
	heap.Push(&l.timers, &loopTimer{deadline: deadline, ch: ch})
	l.timerMu.Unlock()
	l.poke()
	return ch
}

// fireDueTimers releases every timer whose deadline has passed.
func (l *eventLoop) fireDueTimers() {
	now := time.Now()
	l.timerMu.Lock()
	var due []*loopTimer
	for l.timers.Len() > 0 && !l.timers[0].deadline.After(now) {
		due = append(due, heap.Pop(&l.timers).(*loopTimer))
	}
	l.timerMu.Unlock()

	for _, t := range due {
		close(t.ch)
	}
}

func (l *eventLoop) nearestDeadline() (time.Time, bool) {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.timers.Len() == 0 {
		return time.Time{}, false
	}
	return l.timers[0].deadline, true
}

type loopTimer struct {
	deadline time.Time
	ch       chan struct{}
}

type timerHeap []*loopTimer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)        { *h = append(*h, x.(*loopTimer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
