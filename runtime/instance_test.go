package runtime

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/scripthost/jscore/errors"
	"github.com/scripthost/jscore/wire"
)

func newInstance(t *testing.T) *Instance {
	t.Helper()
	inst, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { inst.Close() })
	return inst
}

func registerAdd(t *testing.T, inst *Instance) {
	t.Helper()
	_, err := inst.RegisterOp("add", func(_ *OpState, args wire.Value) (wire.Value, error) {
		a, aok := args.Index(0).Float()
		b, bok := args.Index(1).Float()
		if !aok || !bok {
			return wire.Null(), fmt.Errorf("add wants two numbers, got %s", args)
		}
		return wire.Number(a + b), nil
	})
	if err != nil {
		t.Fatalf("RegisterOp: %v", err)
	}
}

func TestInstance_SyncOp(t *testing.T) {
	inst := newInstance(t)
	registerAdd(t, inst)

	got, err := inst.Execute("test", `__opcall(__ops.add, [2, 3])`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !wire.Equal(got, wire.Number(5)) {
		t.Fatalf("add(2, 3) = %s", got)
	}

	m, ok := inst.OpMetrics("add")
	if !ok || m.Calls != 1 {
		t.Fatalf("metrics = %+v, %v", m, ok)
	}
}

func TestInstance_SyncRawOp(t *testing.T) {
	inst := newInstance(t)
	if _, err := inst.RegisterRawOp("reverse", func(_ *OpState, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		for n, b := range payload {
			out[len(payload)-1-n] = b
		}
		return out, nil
	}); err != nil {
		t.Fatalf("RegisterRawOp: %v", err)
	}

	got, err := inst.Execute("test", `(function() {
		const buf = new ArrayBuffer(3);
		const view = new Uint8Array(buf);
		view[0] = 1; view[1] = 2; view[2] = 3;
		const out = new Uint8Array(__opcall_raw(__ops.reverse, buf));
		return out[0] * 100 + out[1] * 10 + out[2];
	})()`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !wire.Equal(got, wire.Number(321)) {
		t.Fatalf("result = %s", got)
	}
}

func TestInstance_UnknownOpThrows(t *testing.T) {
	inst := newInstance(t)
	registerAdd(t, inst)

	got, err := inst.Execute("test", `(function() {
		try {
			__opcall(999, null);
			return "no throw";
		} catch (e) {
			return e.kind;
		}
	})()`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !wire.Equal(got, wire.String("unknown_op")) {
		t.Fatalf("caught kind = %s", got)
	}
}

func TestInstance_HandlerFailureThrows(t *testing.T) {
	inst := newInstance(t)
	if _, err := inst.RegisterOp("fail", func(_ *OpState, _ wire.Value) (wire.Value, error) {
		return wire.Null(), fmt.Errorf("disk on fire")
	}); err != nil {
		t.Fatalf("RegisterOp: %v", err)
	}

	got, err := inst.Execute("test", `(function() {
		try {
			__opcall(__ops.fail, null);
			return "no throw";
		} catch (e) {
			return e.kind + ": " + e.message;
		}
	})()`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !wire.Equal(got, wire.String("handler_failure: disk on fire")) {
		t.Fatalf("caught = %s", got)
	}
}

func TestInstance_WireFormMismatch(t *testing.T) {
	inst := newInstance(t)
	registerAdd(t, inst)

	got, err := inst.Execute("test", `(function() {
		try {
			__opcall_raw(__ops.add, new ArrayBuffer(0));
			return "no throw";
		} catch (e) {
			return e.kind;
		}
	})()`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !wire.Equal(got, wire.String("malformed_args")) {
		t.Fatalf("caught kind = %s", got)
	}
}

func TestInstance_ExecuteSealsRegistry(t *testing.T) {
	inst := newInstance(t)
	registerAdd(t, inst)

	if _, err := inst.Execute("test", `1`); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := inst.RegisterOp("late", func(_ *OpState, _ wire.Value) (wire.Value, error) {
		return wire.Null(), nil
	}); err == nil {
		t.Fatal("expected registration after first Execute to fail")
	}
}

func TestInstance_CallScriptFunction(t *testing.T) {
	inst := newInstance(t)
	registerAdd(t, inst)

	if _, err := inst.Execute("setup", `function twice(n) { return __opcall(__ops.add, [n, n]); }`); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := inst.Call("twice", wire.Number(21))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !wire.Equal(got, wire.Number(42)) {
		t.Fatalf("twice(21) = %s", got)
	}
}

func TestInstance_SnapshotRoundTrip(t *testing.T) {
	build := func() *Instance {
		inst := newInstance(t)
		registerAdd(t, inst)
		return inst
	}

	a := build()
	if err := a.Bootstrap("boot", `var base = 40;`); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	b := build()
	if err := b.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := b.Execute("check", `__opcall(__ops.add, [base, 2])`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !wire.Equal(got, wire.Number(42)) {
		t.Fatalf("base + 2 = %s", got)
	}
}

func TestInstance_RestoreAfterUseFails(t *testing.T) {
	a := newInstance(t)
	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	b := newInstance(t)
	if _, err := b.Execute("warmup", `1`); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	err = b.Restore(snap)
	if !stderrors.Is(err, errors.IncompatibleSnapshot("")) {
		t.Fatalf("Restore = %v, want IncompatibleSnapshot", err)
	}
}

func TestInstance_RestoreGarbage(t *testing.T) {
	inst := newInstance(t)
	err := inst.Restore([]byte("definitely not a snapshot"))
	if !stderrors.Is(err, errors.IncompatibleSnapshot("")) {
		t.Fatalf("Restore = %v, want IncompatibleSnapshot", err)
	}
}

func TestInstance_CloseRejectsDispatch(t *testing.T) {
	inst := newInstance(t)
	registerAdd(t, inst)

	if err := inst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent.
	if err := inst.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := inst.Execute("late", `1`); !stderrors.Is(err, errors.ShuttingDown()) {
		t.Fatalf("Execute after Close = %v", err)
	}
}
