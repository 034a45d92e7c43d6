package resource

import (
	stderrors "errors"
	"testing"

	"github.com/scripthost/jscore/errors"
)

type fakeStream struct {
	kind      string
	closes    int
	closeErr  error
	shutdowns int
	data      []byte
}

func (f *fakeStream) Kind() string { return f.kind }

func (f *fakeStream) Read(p []byte) (int, error) {
	n := copy(p, f.data)
	return n, nil
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.data = append(f.data, p...)
	return len(p), nil
}

func (f *fakeStream) Close() error {
	f.closes++
	return f.closeErr
}

func (f *fakeStream) Shutdown() error {
	f.shutdowns++
	return nil
}

// bareResource has no capabilities beyond Kind.
type bareResource struct{}

func (bareResource) Kind() string { return "bare" }

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) OnResourceEvent(e Event) {
	r.events = append(r.events, e)
}

func TestTable_InsertGetClose(t *testing.T) {
	table := NewTable()
	s := &fakeStream{kind: "stream"}

	h := table.Insert(s)
	if h == 0 {
		t.Fatal("expected non-zero handle")
	}

	res, ok := table.Get(h)
	if !ok || res != Resource(s) {
		t.Fatal("Get failed")
	}
	if kind, _ := table.Kind(h); kind != "stream" {
		t.Fatalf("Kind = %q", kind)
	}

	if err := table.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.closes != 1 {
		t.Fatalf("finalizer ran %d times", s.closes)
	}

	if _, ok := table.Get(h); ok {
		t.Fatal("Get after Close must fail")
	}
}

func TestTable_CloseIdempotence(t *testing.T) {
	table := NewTable()
	s := &fakeStream{kind: "stream"}
	h := table.Insert(s)

	if err := table.Close(h); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	// Second close always errors, never double-finalizes.
	err := table.Close(h)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseResource, Kind: errors.KindBadResource}) {
		t.Fatalf("second Close = %v, want BadResource", err)
	}
	if s.closes != 1 {
		t.Fatalf("finalizer ran %d times", s.closes)
	}
}

func TestTable_CloseUnknownHandle(t *testing.T) {
	table := NewTable()
	for _, h := range []Handle{0, 1, 99} {
		err := table.Close(h)
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseResource, Kind: errors.KindBadResource}) {
			t.Fatalf("Close(%d) = %v, want BadResource", h, err)
		}
	}
}

func TestTable_CapabilityNarrowing(t *testing.T) {
	table := NewTable()
	stream := table.Insert(&fakeStream{kind: "stream"})
	bare := table.Insert(bareResource{})

	if _, ok := table.GetReader(stream); !ok {
		t.Fatal("stream should be readable")
	}
	if _, ok := table.GetWriter(stream); !ok {
		t.Fatal("stream should be writable")
	}
	if _, ok := table.GetShutdowner(stream); !ok {
		t.Fatal("stream should support shutdown")
	}

	if _, ok := table.GetReader(bare); ok {
		t.Fatal("bare resource must not narrow to Reader")
	}
	if _, ok := table.GetWriter(bare); ok {
		t.Fatal("bare resource must not narrow to Writer")
	}
}

func TestTable_DeferredFinalizeUnderRefs(t *testing.T) {
	table := NewTable()
	s := &fakeStream{kind: "stream"}
	h := table.Insert(s)

	if !table.Ref(h) {
		t.Fatal("Ref failed")
	}
	if !table.Ref(h) {
		t.Fatal("second Ref failed")
	}

	// Close invalidates the handle immediately...
	if err := table.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := table.Get(h); ok {
		t.Fatal("handle must be dead after Close")
	}
	// ...but the resource stays alive while references are outstanding.
	if s.closes != 0 {
		t.Fatal("finalized too early")
	}

	table.Unref(h)
	if s.closes != 0 {
		t.Fatal("finalized with a reference still outstanding")
	}

	table.Unref(h)
	if s.closes != 1 {
		t.Fatalf("finalizer ran %d times, want 1", s.closes)
	}
}

func TestTable_RefOnDeadHandle(t *testing.T) {
	table := NewTable()
	h := table.Insert(&fakeStream{kind: "stream"})
	table.Close(h)

	if table.Ref(h) {
		t.Fatal("Ref must fail on a closed handle")
	}
}

func TestTable_NoReuseWhileReferenced(t *testing.T) {
	table := NewTable()
	s := &fakeStream{kind: "stream"}
	h := table.Insert(s)
	table.Ref(h)
	table.Close(h)

	// Slot must not be recycled while the reference is outstanding.
	h2 := table.Insert(&fakeStream{kind: "other"})
	if h2 == h {
		t.Fatal("handle reused while referenced")
	}

	table.Unref(h)

	// After finalization the slot may be recycled.
	h3 := table.Insert(&fakeStream{kind: "third"})
	if h3 != h {
		t.Fatalf("expected recycled handle %d, got %d", h, h3)
	}
}

func TestTable_EachAndLen(t *testing.T) {
	table := NewTable()
	table.Insert(&fakeStream{kind: "a"})
	hb := table.Insert(&fakeStream{kind: "b"})
	table.Insert(&fakeStream{kind: "c"})
	table.Close(hb)

	if table.Len() != 2 {
		t.Fatalf("Len = %d", table.Len())
	}

	kinds := map[string]bool{}
	table.Each(func(h Handle, kind string) bool {
		kinds[kind] = true
		return true
	})
	if !kinds["a"] || !kinds["c"] || kinds["b"] {
		t.Fatalf("Each visited %v", kinds)
	}

	// Early stop.
	visited := 0
	table.Each(func(Handle, string) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Fatalf("Each visited %d after stop", visited)
	}
}

func TestTable_CloseAll(t *testing.T) {
	table := NewTable()
	a := &fakeStream{kind: "a"}
	b := &fakeStream{kind: "b", closeErr: stderrors.New("flush failed")}
	ha := table.Insert(a)
	table.Insert(b)
	table.Ref(ha) // even referenced entries are force-closed

	table.CloseAll()

	if a.closes != 1 || b.closes != 1 {
		t.Fatalf("finalizers ran a=%d b=%d", a.closes, b.closes)
	}

	// Table no longer accepts inserts.
	if h := table.Insert(&fakeStream{kind: "late"}); h != 0 {
		t.Fatal("Insert after CloseAll should fail")
	}

	// Idempotent.
	table.CloseAll()
	if a.closes != 1 {
		t.Fatal("CloseAll double-finalized")
	}
}

func TestTable_Observers(t *testing.T) {
	table := NewTable()
	rec := &eventRecorder{}
	table.Subscribe(rec)

	h := table.Insert(&fakeStream{kind: "stream"})
	table.Ref(h)
	table.Close(h)
	table.Unref(h)

	want := []EventType{EventInserted, EventClosed, EventFinalized}
	if len(rec.events) != len(want) {
		t.Fatalf("got %d events, want %d", len(rec.events), len(want))
	}
	for i, e := range rec.events {
		if e.Type != want[i] {
			t.Fatalf("event %d = %v, want %v", i, e.Type, want[i])
		}
		if e.Handle != h {
			t.Fatalf("event %d handle = %d", i, e.Handle)
		}
	}

	table.Unsubscribe(rec)
	table.Insert(&fakeStream{kind: "quiet"})
	if len(rec.events) != len(want) {
		t.Fatal("observer received events after Unsubscribe")
	}
}
