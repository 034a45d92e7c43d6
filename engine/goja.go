package engine

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/scripthost/jscore"
	"github.com/scripthost/jscore/errors"
	"github.com/scripthost/jscore/ops"
	"github.com/scripthost/jscore/wire"
)

// Goja adapts a goja JavaScript runtime to the Engine interface. It installs
// the dispatch globals __opcall and __opcall_raw and tracks the promise per
// pending-op token so the loop can settle them later.
//
// A Goja engine is confined to the goroutine that drives it. The event loop
// owns it; nothing here is safe for concurrent use.
type Goja struct {
	vm       *goja.Runtime
	bridge   Bridge
	promises map[uint64]gojaPromise
	log      *zap.Logger
	closed   bool
}

type gojaPromise struct {
	resolve func(any) error
	reject  func(any) error
}

var _ Engine = (*Goja)(nil)

// NewGoja creates a fresh engine wired to the given dispatch bridge.
func NewGoja(bridge Bridge) (*Goja, error) {
	if bridge == nil {
		return nil, errors.New(errors.PhaseEngine, errors.KindHandlerFailure).
			Detail("dispatch bridge is required").Build()
	}

	g := &Goja{
		vm:       goja.New(),
		bridge:   bridge,
		promises: make(map[uint64]gojaPromise),
		log:      Logger(),
	}

	if err := g.vm.Set("__opcall", g.opcall); err != nil {
		return nil, errors.New(errors.PhaseEngine, errors.KindHandlerFailure).
			Cause(err).Detail("installing __opcall").Build()
	}
	if err := g.vm.Set("__opcall_raw", g.opcallRaw); err != nil {
		return nil, errors.New(errors.PhaseEngine, errors.KindHandlerFailure).
			Cause(err).Detail("installing __opcall_raw").Build()
	}
	return g, nil
}

// opcall is the structured dispatch hook. Scripts call
// __opcall(id, args) and get either an immediate result or a promise.
func (g *Goja) opcall(call goja.FunctionCall) goja.Value {
	id := ops.OpId(call.Argument(0).ToInteger())

	args, err := toWire(call.Argument(1), 0)
	if err != nil {
		panic(g.throwable(string(errors.KindMalformedArgs), err.Error()))
	}

	result, token, err := g.bridge.Dispatch(id, args)
	if err != nil {
		kind, msg := errors.Classify(err)
		panic(g.throwable(kind, msg))
	}
	if token != 0 {
		return g.mintPromise(token)
	}
	return toGoja(g.vm, result)
}

// opcallRaw is the raw-binary dispatch hook. Scripts call
// __opcall_raw(id, arrayBuffer); payloads travel as length-prefixed frames.
func (g *Goja) opcallRaw(call goja.FunctionCall) goja.Value {
	id := ops.OpId(call.Argument(0).ToInteger())

	ab, ok := call.Argument(1).Export().(goja.ArrayBuffer)
	if !ok {
		panic(g.throwable(string(errors.KindMalformedArgs), "raw op argument must be an ArrayBuffer"))
	}

	reply, token, err := g.bridge.DispatchRaw(id, wire.EncodeRaw(ab.Bytes()))
	if err != nil {
		kind, msg := errors.Classify(err)
		panic(g.throwable(kind, msg))
	}
	if token != 0 {
		return g.mintPromise(token)
	}

	payload, err := wire.DecodeRaw(reply)
	if err != nil {
		panic(g.throwable(string(errors.KindMalformedArgs), err.Error()))
	}
	return g.vm.ToValue(g.vm.NewArrayBuffer(append([]byte(nil), payload...)))
}

// throwable builds the JS error object thrown for failed dispatches:
// {kind, message} with a stable kind string.
func (g *Goja) throwable(kind, message string) goja.Value {
	obj := g.vm.NewObject()
	obj.Set("kind", kind)
	obj.Set("message", message)
	return obj
}

func (g *Goja) mintPromise(token uint64) goja.Value {
	p, resolve, reject := g.vm.NewPromise()
	g.promises[token] = gojaPromise{resolve: resolve, reject: reject}
	return g.vm.ToValue(p)
}

// Eval compiles and runs src. When the completion value cannot cross the
// boundary (a function, say) its string rendering is returned instead.
func (g *Goja) Eval(name, src string) (wire.Value, error) {
	if g.closed {
		return wire.Null(), errors.ShuttingDown()
	}

	v, err := g.vm.RunScript(name, src)
	if err != nil {
		return wire.Null(), errors.New(errors.PhaseEngine, errors.KindHandlerFailure).
			Cause(err).Detail("script %s", name).Build()
	}

	result, cerr := toWire(v, 0)
	if cerr != nil {
		return wire.String(v.String()), nil
	}
	return result, nil
}

// Call invokes the named global function.
func (g *Goja) Call(fn string, args ...wire.Value) (wire.Value, error) {
	if g.closed {
		return wire.Null(), errors.ShuttingDown()
	}

	callable, ok := goja.AssertFunction(g.vm.Get(fn))
	if !ok {
		return wire.Null(), errors.New(errors.PhaseEngine, errors.KindHandlerFailure).
			Detail("%s is not a function", fn).Build()
	}

	gargs := make([]goja.Value, len(args))
	for i, a := range args {
		gargs[i] = toGoja(g.vm, a)
	}

	v, err := callable(goja.Undefined(), gargs...)
	if err != nil {
		return wire.Null(), errors.New(errors.PhaseEngine, errors.KindHandlerFailure).
			Cause(err).Detail("calling %s", fn).Build()
	}

	result, cerr := toWire(v, 0)
	if cerr != nil {
		return wire.String(v.String()), nil
	}
	return result, nil
}

// RunMicrotasks is a no-op for goja: the job queue drains synchronously
// whenever a promise settles or a script runs to completion. It exists so
// the loop can pump engines that batch their microtasks.
func (g *Goja) RunMicrotasks() error {
	if g.closed {
		return errors.ShuttingDown()
	}
	return nil
}

// ResolvePromise settles the promise minted for token. Settling drains the
// engine's job queue, so downstream .then chains run before this returns.
func (g *Goja) ResolvePromise(token uint64, result wire.Value) error {
	p, err := g.takePromise(token)
	if err != nil {
		return err
	}
	if err := p.resolve(toGoja(g.vm, result)); err != nil {
		return errors.New(errors.PhaseEngine, errors.KindHandlerFailure).
			Cause(err).Detail("resolving token %d", token).Build()
	}
	return nil
}

// RejectPromise settles the promise minted for token with the distinguished
// {kind, message} error object.
func (g *Goja) RejectPromise(token uint64, kind, message string) error {
	p, err := g.takePromise(token)
	if err != nil {
		return err
	}
	if err := p.reject(g.throwable(kind, message)); err != nil {
		return errors.New(errors.PhaseEngine, errors.KindHandlerFailure).
			Cause(err).Detail("rejecting token %d", token).Build()
	}
	return nil
}

func (g *Goja) takePromise(token uint64) (gojaPromise, error) {
	if g.closed {
		return gojaPromise{}, errors.ShuttingDown()
	}
	p, ok := g.promises[token]
	if !ok {
		return gojaPromise{}, errors.New(errors.PhaseEngine, errors.KindHandlerFailure).
			Detail("no pending promise for token %d", token).Build()
	}
	delete(g.promises, token)
	return p, nil
}

// PendingPromises returns the number of unsettled op promises.
func (g *Goja) PendingPromises() int {
	return len(g.promises)
}

// RejectAll settles every unsettled promise with the same error, used at
// instance teardown so scripts observe the shutdown instead of hanging.
func (g *Goja) RejectAll(kind, message string) {
	if g.closed {
		return
	}
	for token, p := range g.promises {
		delete(g.promises, token)
		p.reject(g.throwable(kind, message))
	}
}

// SetGlobal publishes a value under a global name, used to hand scripts the
// op name table at bootstrap.
func (g *Goja) SetGlobal(name string, v wire.Value) error {
	if g.closed {
		return errors.ShuttingDown()
	}
	return g.vm.Set(name, toGoja(g.vm, v))
}

// Version identifies the engine build for snapshot compatibility checks.
func (g *Goja) Version() string {
	return jscore.Version
}

// Close abandons unsettled promises and drops the VM. The caller rejects
// outstanding tokens before closing so scripts observe the shutdown.
func (g *Goja) Close() error {
	if g.closed {
		return nil
	}
	if n := len(g.promises); n > 0 {
		g.log.Warn("engine closed with unsettled promises", zap.Int("count", n))
	}
	g.closed = true
	g.promises = nil
	return nil
}
