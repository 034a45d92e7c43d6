package engine

import (
	stderrors "errors"
	"testing"

	"github.com/scripthost/jscore/errors"
	"github.com/scripthost/jscore/ops"
	"github.com/scripthost/jscore/wire"
)

// stubBridge scripts the dispatch boundary for engine tests.
type stubBridge struct {
	lastId    ops.OpId
	lastArgs  wire.Value
	lastFrame []byte

	result wire.Value
	raw    []byte
	token  uint64
	err    error
}

func (b *stubBridge) Dispatch(id ops.OpId, args wire.Value) (wire.Value, uint64, error) {
	b.lastId = id
	b.lastArgs = args
	return b.result, b.token, b.err
}

func (b *stubBridge) DispatchRaw(id ops.OpId, frame []byte) ([]byte, uint64, error) {
	b.lastId = id
	payload, err := wire.DecodeRaw(frame)
	if err != nil {
		return nil, 0, err
	}
	b.lastFrame = payload
	return wire.EncodeRaw(b.raw), b.token, b.err
}

func newTestEngine(t *testing.T, bridge Bridge) *Goja {
	t.Helper()
	g, err := NewGoja(bridge)
	if err != nil {
		t.Fatalf("NewGoja: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGoja_SyncOpcall(t *testing.T) {
	bridge := &stubBridge{result: wire.Number(5)}
	g := newTestEngine(t, bridge)

	got, err := g.Eval("test", `__opcall(3, [2, 3])`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !wire.Equal(got, wire.Number(5)) {
		t.Fatalf("result = %s", got)
	}

	if bridge.lastId != 3 {
		t.Fatalf("dispatched op %d", bridge.lastId)
	}
	if !wire.Equal(bridge.lastArgs, wire.ListOf(wire.Number(2), wire.Number(3))) {
		t.Fatalf("args = %s", bridge.lastArgs)
	}
}

func TestGoja_OpcallErrorThrows(t *testing.T) {
	bridge := &stubBridge{err: errors.UnknownOp(9)}
	g := newTestEngine(t, bridge)

	got, err := g.Eval("test", `(function() {
		try {
			__opcall(9, null);
			return "no throw";
		} catch (e) {
			return e.kind;
		}
	})()`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !wire.Equal(got, wire.String("unknown_op")) {
		t.Fatalf("caught kind = %s", got)
	}
}

func TestGoja_AsyncOpcallResolve(t *testing.T) {
	bridge := &stubBridge{token: 7}
	g := newTestEngine(t, bridge)

	_, err := g.Eval("setup", `var out = "pending"; __opcall(1, null).then(v => { out = v; });`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if g.PendingPromises() != 1 {
		t.Fatalf("pending = %d", g.PendingPromises())
	}

	if err := g.ResolvePromise(7, wire.String("done")); err != nil {
		t.Fatalf("ResolvePromise: %v", err)
	}
	if g.PendingPromises() != 0 {
		t.Fatalf("pending after resolve = %d", g.PendingPromises())
	}

	got, err := g.Eval("check", `out`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !wire.Equal(got, wire.String("done")) {
		t.Fatalf("out = %s", got)
	}
}

func TestGoja_AsyncOpcallReject(t *testing.T) {
	bridge := &stubBridge{token: 11}
	g := newTestEngine(t, bridge)

	_, err := g.Eval("setup", `var caught = null; __opcall(1, null).catch(e => { caught = e.kind + ": " + e.message; });`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}

	if err := g.RejectPromise(11, "bad_resource", "handle 3"); err != nil {
		t.Fatalf("RejectPromise: %v", err)
	}

	got, err := g.Eval("check", `caught`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !wire.Equal(got, wire.String("bad_resource: handle 3")) {
		t.Fatalf("caught = %s", got)
	}
}

func TestGoja_SettleUnknownToken(t *testing.T) {
	g := newTestEngine(t, &stubBridge{})

	if err := g.ResolvePromise(99, wire.Null()); err == nil {
		t.Fatal("expected error for unknown token")
	}
	if err := g.RejectPromise(99, "cancelled", ""); err == nil {
		t.Fatal("expected error for unknown token")
	}
}

func TestGoja_RawOpcall(t *testing.T) {
	bridge := &stubBridge{raw: []byte{30, 20, 10}}
	g := newTestEngine(t, bridge)

	got, err := g.Eval("test", `(function() {
		const buf = new ArrayBuffer(3);
		const view = new Uint8Array(buf);
		view[0] = 1; view[1] = 2; view[2] = 3;
		const out = new Uint8Array(__opcall_raw(2, buf));
		return out[0] * 100 + out[1] * 10 + out[2];
	})()`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !wire.Equal(got, wire.Number(3210)) {
		t.Fatalf("result = %s", got)
	}

	if string(bridge.lastFrame) != string([]byte{1, 2, 3}) {
		t.Fatalf("bridge saw payload %v", bridge.lastFrame)
	}
}

func TestGoja_RawOpcallRejectsNonBuffer(t *testing.T) {
	g := newTestEngine(t, &stubBridge{})

	got, err := g.Eval("test", `(function() {
		try {
			__opcall_raw(2, "not a buffer");
			return "no throw";
		} catch (e) {
			return e.kind;
		}
	})()`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !wire.Equal(got, wire.String("malformed_args")) {
		t.Fatalf("caught kind = %s", got)
	}
}

func TestGoja_Call(t *testing.T) {
	g := newTestEngine(t, &stubBridge{})

	if _, err := g.Eval("setup", `function add(a, b) { return a + b; }`); err != nil {
		t.Fatalf("Eval: %v", err)
	}

	got, err := g.Call("add", wire.Number(2), wire.Number(3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !wire.Equal(got, wire.Number(5)) {
		t.Fatalf("add(2, 3) = %s", got)
	}

	if _, err := g.Call("missing"); err == nil {
		t.Fatal("expected error calling undefined function")
	}
}

func TestGoja_EvalScriptError(t *testing.T) {
	g := newTestEngine(t, &stubBridge{})

	_, err := g.Eval("boom", `throw new Error("boom")`)
	if err == nil {
		t.Fatal("expected script error")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Phase != errors.PhaseEngine {
		t.Fatalf("got %v", err)
	}
}

func TestGoja_SetGlobal(t *testing.T) {
	g := newTestEngine(t, &stubBridge{})

	table := wire.MapOf(wire.Pair("echo", wire.Number(0)), wire.Pair("add", wire.Number(1)))
	if err := g.SetGlobal("__ops", table); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}

	got, err := g.Eval("check", `__ops.add`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !wire.Equal(got, wire.Number(1)) {
		t.Fatalf("__ops.add = %s", got)
	}
}

func TestGoja_Close(t *testing.T) {
	g := newTestEngine(t, &stubBridge{token: 5})

	if _, err := g.Eval("setup", `__opcall(0, null)`); err != nil {
		t.Fatalf("Eval: %v", err)
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent.
	if err := g.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := g.Eval("late", `1`); !stderrors.Is(err, errors.ShuttingDown()) {
		t.Fatalf("Eval after Close = %v", err)
	}
	if err := g.ResolvePromise(5, wire.Null()); !stderrors.Is(err, errors.ShuttingDown()) {
		t.Fatalf("ResolvePromise after Close = %v", err)
	}
}
