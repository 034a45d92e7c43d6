package resource

import (
	"sync"

	"go.uber.org/zap"

	"github.com/scripthost/jscore/errors"
)

// Table is the reference-counted registry of opaque host resources.
//
// A handle stays valid until Close succeeds. Async tasks holding a resource
// take a counted reference (Ref/Unref); Close on a referenced entry
// invalidates the handle immediately but defers finalization until the last
// reference is released. Slots are recycled only after finalization, so a
// handle is never silently reused while any reference exists.
type Table struct {
	entries   []entry
	free      []Handle
	observers []Observer
	mu        sync.Mutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	res Resource
	// refs counts secondary references held by in-flight async tasks. It is
	// the one piece of state mutated from multiple contexts, always under mu.
	refs       uint32
	live       bool
	finalizing bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries: make([]entry, 0, 16),
		free:    make([]Handle, 0, 8),
	}
}

// Insert adds a resource and returns its handle, or 0 if the table has been
// shut down.
func (t *Table) Insert(res Resource) Handle {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}

	e := entry{res: res, live: true}
	var h Handle
	if n := len(t.free); n > 0 {
		h = t.free[n-1]
		t.free = t.free[:n-1]
		t.entries[h-1] = e
	} else {
		t.entries = append(t.entries, e)
		h = Handle(len(t.entries))
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventInserted, Handle: h, Kind: res.Kind()})
	return h
}

// Get retrieves a live resource by handle.
func (t *Table) Get(h Handle) (Resource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(h)
	if e == nil {
		return nil, false
	}
	return e.res, true
}

// GetReader returns the resource narrowed to its readable capability.
func (t *Table) GetReader(h Handle) (Reader, bool) {
	res, ok := t.Get(h)
	if !ok {
		return nil, false
	}
	r, ok := res.(Reader)
	return r, ok
}

// GetWriter returns the resource narrowed to its writable capability.
func (t *Table) GetWriter(h Handle) (Writer, bool) {
	res, ok := t.Get(h)
	if !ok {
		return nil, false
	}
	w, ok := res.(Writer)
	return w, ok
}

// GetShutdowner returns the resource narrowed to its shutdown capability.
func (t *Table) GetShutdowner(h Handle) (Shutdowner, bool) {
	res, ok := t.Get(h)
	if !ok {
		return nil, false
	}
	s, ok := res.(Shutdowner)
	return s, ok
}

// Kind returns the resource kind for a live handle.
func (t *Table) Kind(h Handle) (string, bool) {
	res, ok := t.Get(h)
	if !ok {
		return "", false
	}
	return res.Kind(), true
}

// Ref takes a secondary reference on behalf of an async task. It fails on
// dead handles: a task must capture its resources while they are live.
func (t *Table) Ref(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(h)
	if e == nil {
		return false
	}
	e.refs++
	return true
}

// Unref releases a secondary reference. If the entry was closed while the
// reference was outstanding, the last release finalizes the resource
// (last-holder-frees).
func (t *Table) Unref(h Handle) {
	t.mu.Lock()
	if h == 0 || int(h) > len(t.entries) {
		t.mu.Unlock()
		return
	}
	e := &t.entries[h-1]
	if e.refs == 0 {
		t.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 || !e.finalizing {
		t.mu.Unlock()
		return
	}
	res := t.release(h)
	t.mu.Unlock()

	t.finalize(h, res)
}

// Close invalidates a handle. With no outstanding references the resource
// is finalized immediately and any finalizer error is returned; otherwise
// finalization is deferred to the last Unref and Close reports success.
// Closing an unknown or already-closed handle returns BadResource.
func (t *Table) Close(h Handle) error {
	t.mu.Lock()
	e := t.lookup(h)
	if e == nil {
		t.mu.Unlock()
		return errors.BadResource(uint32(h))
	}
	e.live = false
	kind := e.res.Kind()

	if e.refs > 0 {
		e.finalizing = true
		t.mu.Unlock()
		t.notify(Event{Type: EventClosed, Handle: h, Kind: kind})
		return nil
	}

	res := t.release(h)
	t.mu.Unlock()

	t.notify(Event{Type: EventClosed, Handle: h, Kind: kind})
	return t.finalize(h, res)
}

// Each iterates live resources as (handle, kind) pairs.
func (t *Table) Each(fn func(Handle, string) bool) {
	t.mu.Lock()
	type item struct {
		kind string
		h    Handle
	}
	items := make([]item, 0, len(t.entries))
	for i := range t.entries {
		if t.entries[i].live {
			items = append(items, item{h: Handle(i + 1), kind: t.entries[i].res.Kind()})
		}
	}
	t.mu.Unlock()

	for _, it := range items {
		if !fn(it.h, it.kind) {
			return
		}
	}
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.entries {
		if t.entries[i].live {
			n++
		}
	}
	return n
}

// CloseAll force-closes every resource in unspecified order, including
// entries with outstanding references, and stops accepting inserts.
// Finalization errors are logged, never propagated: teardown must not fail.
func (t *Table) CloseAll() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true

	type victim struct {
		res  Resource
		kind string
		h    Handle
	}
	var victims []victim
	for i := range t.entries {
		e := &t.entries[i]
		if e.res == nil {
			continue
		}
		victims = append(victims, victim{res: e.res, kind: e.res.Kind(), h: Handle(i + 1)})
		*e = entry{}
	}
	t.entries = nil
	t.free = nil
	t.mu.Unlock()

	for _, v := range victims {
		t.notify(Event{Type: EventClosed, Handle: v.h, Kind: v.kind})
		if c, ok := v.res.(Closer); ok {
			if err := c.Close(); err != nil {
				Logger().Warn("resource finalizer failed during teardown",
					zap.Uint32("handle", uint32(v.h)),
					zap.String("kind", v.kind),
					zap.Error(err))
			}
		}
		t.notify(Event{Type: EventFinalized, Handle: v.h, Kind: v.kind})
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// lookup returns the entry for a live handle. Caller holds mu.
func (t *Table) lookup(h Handle) *entry {
	if h == 0 || int(h) > len(t.entries) {
		return nil
	}
	e := &t.entries[h-1]
	if !e.live {
		return nil
	}
	return e
}

// release clears a slot and recycles the handle. Caller holds mu.
func (t *Table) release(h Handle) Resource {
	e := &t.entries[h-1]
	res := e.res
	*e = entry{}
	if !t.closed {
		t.free = append(t.free, h)
	}
	return res
}

// finalize runs the optional finalizer and emits the finalized event.
func (t *Table) finalize(h Handle, res Resource) error {
	var err error
	if c, ok := res.(Closer); ok {
		err = c.Close()
	}
	t.notify(Event{Type: EventFinalized, Handle: h, Kind: res.Kind()})
	return err
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
