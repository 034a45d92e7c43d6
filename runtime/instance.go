package runtime

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/scripthost/jscore/engine"
	"github.com/scripthost/jscore/errors"
	"github.com/scripthost/jscore/ops"
	"github.com/scripthost/jscore/resource"
	"github.com/scripthost/jscore/wire"
)

// opsGlobal is the script global holding the op name table. Scripts resolve
// op ids through it instead of hardcoding numbers.
const opsGlobal = "__ops"

// Options configures an Instance.
type Options struct {
	// Logger receives instance diagnostics. Defaults to the package logger.
	Logger *zap.Logger
}

// Instance is one embedded scripting engine with its op registry, resource
// table, and event loop. The usual lifecycle is New, Register*, Seal,
// Bootstrap, then Execute and Run until done, then Close.
//
// Execute, Call, Run, and Close belong to the goroutine that owns the
// instance. Op handlers may run concurrently; everything they touch through
// OpState and TaskContext is safe for that.
type Instance struct {
	reg       *ops.Registry
	state     *OpState
	eng       *engine.Goja
	loop      *eventLoop
	log       *zap.Logger
	bootstrap []engine.Script
	nextToken atomic.Uint64
	closing   atomic.Bool
	used      atomic.Bool
	closeOnce sync.Once
}

// New creates an instance with a fresh engine and empty registry.
func New(opts Options) (*Instance, error) {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}

	i := &Instance{
		reg:   ops.NewRegistry(),
		log:   log,
		state: NewOpState(log),
	}

	eng, err := engine.NewGoja(i)
	if err != nil {
		return nil, err
	}
	i.eng = eng
	i.loop = newEventLoop(eng, i.reg, log)
	return i, nil
}

// RegisterOp registers a structured sync op.
func (i *Instance) RegisterOp(name string, fn SyncFn) (ops.OpId, error) {
	return i.reg.Register(ops.Descriptor{Name: name, Handler: fn, Wire: ops.WireStructured})
}

// RegisterRawOp registers a raw-binary sync op.
func (i *Instance) RegisterRawOp(name string, fn SyncRawFn) (ops.OpId, error) {
	return i.reg.Register(ops.Descriptor{Name: name, Handler: fn, Wire: ops.WireRaw})
}

// RegisterAsyncOp registers a structured async op.
func (i *Instance) RegisterAsyncOp(name string, fn AsyncFn) (ops.OpId, error) {
	return i.reg.Register(ops.Descriptor{Name: name, Handler: fn, IsAsync: true, Wire: ops.WireStructured})
}

// RegisterAsyncRawOp registers a raw-binary async op.
func (i *Instance) RegisterAsyncRawOp(name string, fn AsyncRawFn) (ops.OpId, error) {
	return i.reg.Register(ops.Descriptor{Name: name, Handler: fn, IsAsync: true, Wire: ops.WireRaw})
}

// Seal freezes the registry and publishes the op name table to scripts as
// the __ops global. Execute and Bootstrap seal implicitly on first use.
func (i *Instance) Seal() error {
	i.reg.Seal()

	names := i.reg.Names()
	type binding struct {
		name string
		id   ops.OpId
	}
	bindings := make([]binding, 0, len(names))
	for name, id := range names {
		bindings = append(bindings, binding{name: name, id: id})
	}
	sort.Slice(bindings, func(a, b int) bool { return bindings[a].id < bindings[b].id })

	entries := make([]wire.Entry, len(bindings))
	for n, b := range bindings {
		entries[n] = wire.Pair(b.name, wire.Number(float64(b.id)))
	}
	return i.eng.SetGlobal(opsGlobal, wire.MapOf(entries...))
}

func (i *Instance) ensureSealed() error {
	if i.reg.Sealed() {
		return nil
	}
	return i.Seal()
}

// Bootstrap evaluates a setup script and records it in the snapshot
// manifest. Only state reproducible by replaying bootstrap scripts survives
// a snapshot round trip.
func (i *Instance) Bootstrap(name, src string) error {
	if i.closing.Load() {
		return errors.ShuttingDown()
	}
	if err := i.ensureSealed(); err != nil {
		return err
	}
	i.used.Store(true)

	if _, err := i.eng.Eval(name, src); err != nil {
		return err
	}
	i.bootstrap = append(i.bootstrap, engine.Script{Name: name, Source: src})
	return nil
}

// Execute evaluates a script and returns its completion value. Async ops it
// starts stay pending until Run drives them.
func (i *Instance) Execute(name, src string) (wire.Value, error) {
	if i.closing.Load() {
		return wire.Null(), errors.ShuttingDown()
	}
	if err := i.ensureSealed(); err != nil {
		return wire.Null(), err
	}
	i.used.Store(true)
	return i.eng.Eval(name, src)
}

// Call invokes a scripted global function.
func (i *Instance) Call(fn string, args ...wire.Value) (wire.Value, error) {
	if i.closing.Load() {
		return wire.Null(), errors.ShuttingDown()
	}
	if err := i.ensureSealed(); err != nil {
		return wire.Null(), err
	}
	i.used.Store(true)
	return i.eng.Call(fn, args...)
}

// Run drives the event loop until quiescence: every pending op settled,
// every timer fired, every microtask drained. A deadlock among async tasks
// is fatal and the instance must be closed.
func (i *Instance) Run(ctx context.Context) error {
	return i.loop.Run(ctx)
}

// RunTurn performs one non-blocking event-loop turn and reports whether
// async work is still outstanding. Embedders with their own outer loop call
// this instead of Run.
func (i *Instance) RunTurn() (bool, error) {
	return i.loop.RunTurn()
}

// Snapshot captures the bootstrap manifest for later Restore on a fresh
// instance.
func (i *Instance) Snapshot() ([]byte, error) {
	return engine.EncodeSnapshot(i.eng.Version(), i.bootstrap)
}

// Restore replays a snapshot into this instance. The instance must be
// fresh: registered and sealed the same way as the capturing instance, with
// nothing executed yet.
func (i *Instance) Restore(data []byte) error {
	if i.used.Load() {
		return errors.IncompatibleSnapshot("instance has already executed scripts")
	}

	scripts, err := engine.DecodeSnapshot(data, i.eng.Version())
	if err != nil {
		return err
	}
	if err := i.ensureSealed(); err != nil {
		return err
	}
	i.used.Store(true)

	for _, s := range scripts {
		if _, err := i.eng.Eval(s.Name, s.Source); err != nil {
			return errors.New(errors.PhaseSnapshot, errors.KindIncompatibleSnapshot).
				Cause(err).Detail("replaying %s", s.Name).Build()
		}
	}
	i.bootstrap = append(i.bootstrap, scripts...)
	return nil
}

// InsertResource registers a host resource and returns its handle.
func (i *Instance) InsertResource(res resource.Resource) resource.Handle {
	return i.state.resources.Insert(res)
}

// CloseResource closes a handle through the table's normal close path.
func (i *Instance) CloseResource(h resource.Handle) error {
	return i.state.resources.Close(h)
}

// Resources returns the instance's resource table.
func (i *Instance) Resources() *resource.Table {
	return i.state.resources
}

// State returns the shared op state.
func (i *Instance) State() *OpState {
	return i.state
}

// OpNames returns the registered name to id mapping.
func (i *Instance) OpNames() map[string]ops.OpId {
	return i.reg.Names()
}

// OpMetrics returns the dispatch accounting for a named op.
func (i *Instance) OpMetrics(name string) (ops.Metrics, bool) {
	id, ok := i.reg.Id(name)
	if !ok {
		return ops.Metrics{}, false
	}
	return i.reg.MetricsFor(id), true
}

// Close tears the instance down: new dispatches fail, in-flight tasks are
// cancelled, outstanding promises reject with the shutting-down kind, and
// every resource is force-closed. Idempotent.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		i.closing.Store(true)
		i.loop.Cancel()

		// Drop completions that raced teardown; their promises reject with
		// the shutdown kind along with everything else.
	drain:
		for {
			select {
			case <-i.loop.completions:
				i.loop.outstanding.Add(-1)
			default:
				break drain
			}
		}

		kind, msg := errors.Classify(errors.ShuttingDown())
		i.eng.RejectAll(kind, msg)

		i.state.resources.CloseAll()
		if err := i.eng.Close(); err != nil {
			i.log.Warn("engine close failed", zap.Error(err))
		}
		i.log.Debug("instance closed")
	})
	return nil
}
