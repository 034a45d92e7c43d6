package ops

import (
	"sync"
	"sync/atomic"

	"github.com/scripthost/jscore/errors"
)

// OpId identifies a registered op for the lifetime of an engine instance.
// Ids are assigned in registration order starting at 0.
type OpId uint32

// WireForm selects how an op's arguments and results cross the boundary.
type WireForm uint8

const (
	// WireStructured carries a self-describing tagged value tree, suitable
	// for arbitrary op signatures.
	WireStructured WireForm = iota
	// WireRaw carries a flat length-prefixed byte buffer for
	// zero-copy-friendly hot paths such as read/write.
	WireRaw
)

func (w WireForm) String() string {
	if w == WireRaw {
		return "raw"
	}
	return "structured"
}

// Descriptor describes one registered op. Handler is opaque to the
// registry; the dispatch bridge asserts it to the signature implied by
// IsAsync and Wire. Descriptors are immutable once the registry is sealed.
type Descriptor struct {
	Handler any
	Name    string
	IsAsync bool
	Wire    WireForm
}

// Metrics is a point-in-time snapshot of one op's dispatch accounting.
type Metrics struct {
	Calls    uint64
	BytesIn  uint64
	BytesOut uint64
}

type counters struct {
	calls    atomic.Uint64
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// Registry maps op names to stable numeric ids and their descriptors.
// Registration happens during instance setup; Seal freezes the registry
// before first execution, after which Lookup is lock-free.
type Registry struct {
	byName  map[string]OpId
	ops     []Descriptor
	metrics []counters
	mu      sync.Mutex
	sealed  atomic.Bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]OpId),
	}
}

// Register adds an op and returns its id. Registering after Seal or reusing
// a name is an error.
func (r *Registry) Register(desc Descriptor) (OpId, error) {
	if desc.Name == "" {
		return 0, errors.New(errors.PhaseRegister, errors.KindDuplicateOp).
			Detail("op name cannot be empty").Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return 0, errors.Sealed(desc.Name)
	}
	if _, exists := r.byName[desc.Name]; exists {
		return 0, errors.DuplicateOp(desc.Name)
	}

	id := OpId(len(r.ops))
	r.ops = append(r.ops, desc)
	r.byName[desc.Name] = id
	return id, nil
}

// Seal freezes the registry. Sealing twice is a no-op, not an error.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return
	}
	r.metrics = make([]counters, len(r.ops))
	r.sealed.Store(true)
}

// Sealed reports whether registration is frozen.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Lookup returns the descriptor for an id. After Seal the descriptor slice
// is immutable, so the read needs no lock and the pointer stays valid.
// Before Seal a copy is returned: a concurrent Register can relocate the
// backing array under a borrowed pointer.
func (r *Registry) Lookup(id OpId) (*Descriptor, bool) {
	if r.sealed.Load() {
		if int(id) >= len(r.ops) {
			return nil, false
		}
		return &r.ops[id], true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= len(r.ops) {
		return nil, false
	}
	desc := r.ops[id]
	return &desc, true
}

// Id returns the id registered for a name.
func (r *Registry) Id(name string) (OpId, bool) {
	if !r.sealed.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	id, ok := r.byName[name]
	return id, ok
}

// Names returns name→id for every registered op, for handing the op table
// to scripted code or tooling.
func (r *Registry) Names() map[string]OpId {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OpId, len(r.byName))
	for k, v := range r.byName {
		out[k] = v
	}
	return out
}

// Len returns the number of registered ops.
func (r *Registry) Len() int {
	if !r.sealed.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return len(r.ops)
}

// RecordCall attributes one dispatch and its byte volume to an op. Safe
// from any goroutine; only valid after Seal.
func (r *Registry) RecordCall(id OpId, bytesIn int) {
	if int(id) >= len(r.metrics) {
		return
	}
	c := &r.metrics[id]
	c.calls.Add(1)
	c.bytesIn.Add(uint64(bytesIn))
}

// RecordResult attributes result byte volume to an op.
func (r *Registry) RecordResult(id OpId, bytesOut int) {
	if int(id) >= len(r.metrics) {
		return
	}
	r.metrics[id].bytesOut.Add(uint64(bytesOut))
}

// MetricsFor returns the accounting snapshot for one op.
func (r *Registry) MetricsFor(id OpId) Metrics {
	if int(id) >= len(r.metrics) {
		return Metrics{}
	}
	c := &r.metrics[id]
	return Metrics{
		Calls:    c.calls.Load(),
		BytesIn:  c.bytesIn.Load(),
		BytesOut: c.bytesOut.Load(),
	}
}
