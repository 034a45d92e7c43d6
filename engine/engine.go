package engine

import (
	"github.com/scripthost/jscore/ops"
	"github.com/scripthost/jscore/wire"
)

// Script is one unit of source evaluated against the engine. Bootstrap
// scripts are recorded so snapshots can reproduce the heap they built.
type Script struct {
	Name   string `cbor:"name"`
	Source string `cbor:"source"`
}

// Bridge is the dispatch boundary the runtime hands to the engine. The
// engine's host hooks route every scripted op call through it.
//
// A non-zero token means the op is pending: the engine creates a promise
// for the token and the runtime settles it later through ResolvePromise or
// RejectPromise. A zero token means the first return carries the immediate
// result. Errors are recoverable dispatch failures and surface to scripted
// code as thrown values.
type Bridge interface {
	// Dispatch routes a structured op call.
	Dispatch(id ops.OpId, args wire.Value) (wire.Value, uint64, error)

	// DispatchRaw routes a raw-binary op call. frame is a length-prefixed
	// raw frame (wire.EncodeRaw); immediate results come back framed.
	DispatchRaw(id ops.OpId, frame []byte) ([]byte, uint64, error)
}

// Engine is the opaque scripting-engine capability the core drives. The
// embedded compiler, bytecode VM, and heap live behind it; the core only
// runs scripts, calls functions, pumps microtasks, and settles promises by
// token.
type Engine interface {
	// Eval compiles and runs a script, returning its completion value.
	Eval(name, src string) (wire.Value, error)

	// Call invokes a named scripted function with structured arguments.
	Call(fn string, args ...wire.Value) (wire.Value, error)

	// RunMicrotasks drives the engine's microtask queue to quiescence.
	RunMicrotasks() error

	// ResolvePromise settles the promise minted for token with a result.
	ResolvePromise(token uint64, result wire.Value) error

	// RejectPromise settles the promise minted for token with the
	// distinguished error shape (stable kind string plus message).
	RejectPromise(token uint64, kind, message string) error

	// PendingPromises returns the number of unsettled op promises.
	PendingPromises() int

	// Version identifies the engine build for snapshot compatibility.
	Version() string

	// Close releases the engine. Unsettled promises are abandoned; callers
	// reject outstanding tokens before closing.
	Close() error
}
