package runtime

import (
	"go.uber.org/zap"

	"github.com/scripthost/jscore/errors"
	"github.com/scripthost/jscore/ops"
	"github.com/scripthost/jscore/wire"
)

// Handler signatures. Sync handlers run inline on the loop goroutine and
// must not block; async handlers run on their own goroutine and may block
// through the TaskContext.
type (
	// SyncFn handles a structured sync op.
	SyncFn func(state *OpState, args wire.Value) (wire.Value, error)

	// SyncRawFn handles a raw-binary sync op. The payload aliases the
	// frame; copy it to keep it past the call.
	SyncRawFn func(state *OpState, payload []byte) ([]byte, error)

	// AsyncFn handles a structured async op.
	AsyncFn func(task *TaskContext, args wire.Value) (wire.Value, error)

	// AsyncRawFn handles a raw-binary async op.
	AsyncRawFn func(task *TaskContext, payload []byte) ([]byte, error)
)

// Dispatch routes a structured op call from the engine. It returns either
// an immediate result (token 0) or a pending-op token the loop settles
// later. Recoverable failures come back as errors and reach the script as
// thrown values; they never tear down the instance.
func (i *Instance) Dispatch(id ops.OpId, args wire.Value) (wire.Value, uint64, error) {
	desc, err := i.dispatchable(id)
	if err != nil {
		return wire.Null(), 0, err
	}
	i.reg.RecordCall(id, args.Size())

	switch fn := desc.Handler.(type) {
	case SyncFn:
		result, err := fn(i.state, args)
		if err != nil {
			return wire.Null(), 0, i.handlerErr(desc.Name, err)
		}
		i.reg.RecordResult(id, result.Size())
		return result, 0, nil

	case AsyncFn:
		token := i.spawn(id, desc.Name, func(task *TaskContext) completion {
			v, err := fn(task, args)
			return completion{token: 0, op: id, value: v, err: err}
		})
		return wire.Null(), token, nil

	default:
		return wire.Null(), 0, errors.New(errors.PhaseDispatch, errors.KindMalformedArgs).
			Op(desc.Name).Detail("op takes raw-binary arguments").Build()
	}
}

// DispatchRaw routes a raw-binary op call. Payloads travel as
// length-prefixed frames in both directions.
func (i *Instance) DispatchRaw(id ops.OpId, frame []byte) ([]byte, uint64, error) {
	desc, err := i.dispatchable(id)
	if err != nil {
		return nil, 0, err
	}

	payload, err := wire.DecodeRaw(frame)
	if err != nil {
		return nil, 0, errors.MalformedArgs(desc.Name, err)
	}
	i.reg.RecordCall(id, len(payload))

	switch fn := desc.Handler.(type) {
	case SyncRawFn:
		reply, err := fn(i.state, payload)
		if err != nil {
			return nil, 0, i.handlerErr(desc.Name, err)
		}
		i.reg.RecordResult(id, len(reply))
		return wire.EncodeRaw(reply), 0, nil

	case AsyncRawFn:
		// The frame's backing array belongs to the engine; the task needs
		// its own copy.
		owned := append([]byte(nil), payload...)
		token := i.spawn(id, desc.Name, func(task *TaskContext) completion {
			reply, err := fn(task, owned)
			return completion{token: 0, op: id, raw: reply, isRaw: true, err: err}
		})
		return nil, token, nil

	default:
		return nil, 0, errors.New(errors.PhaseDispatch, errors.KindMalformedArgs).
			Op(desc.Name).Detail("op takes structured arguments").Build()
	}
}

// dispatchable validates that an op call can proceed at all.
func (i *Instance) dispatchable(id ops.OpId) (*ops.Descriptor, error) {
	if i.closing.Load() {
		return nil, errors.ShuttingDown()
	}
	desc, ok := i.reg.Lookup(id)
	if !ok {
		return nil, errors.UnknownOp(uint32(id))
	}
	return desc, nil
}

// handlerErr normalizes a handler failure for the boundary. Structured
// errors pass through with their kind intact.
func (i *Instance) handlerErr(op string, err error) error {
	i.log.Debug("op handler failed", zap.String("op", op), zap.Error(err))
	if _, ok := err.(*errors.Error); ok {
		return err
	}
	return errors.HandlerFailure(op, err)
}

// spawn starts an async task and returns its pending-op token. run returns
// the completion with its token left zero; spawn fills it in.
func (i *Instance) spawn(id ops.OpId, name string, run func(*TaskContext) completion) uint64 {
	token := i.nextToken.Add(1)
	task := newTaskContext(i.state, i.loop, name)
	i.loop.outstanding.Add(1)

	go func() {
		c := run(task)
		task.releaseAll()
		c.token = token
		if c.err != nil {
			c.err = i.normalizeAsyncErr(name, c.err)
		}
		i.loop.complete(c)
	}()

	return token
}

func (i *Instance) normalizeAsyncErr(op string, err error) error {
	if _, ok := err.(*errors.Error); ok {
		return err
	}
	return errors.HandlerFailure(op, err)
}
