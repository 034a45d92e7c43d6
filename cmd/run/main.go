package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/scripthost/jscore/engine"
	"github.com/scripthost/jscore/errors"
	"github.com/scripthost/jscore/resource"
	"github.com/scripthost/jscore/runtime"
	"github.com/scripthost/jscore/wire"
)

func main() {
	var (
		expr        = flag.String("e", "", "Expression to evaluate after scripts")
		interactive = flag.Bool("i", false, "Interactive REPL")
		timeout     = flag.Duration("timeout", 0, "Event loop deadline (0 = none)")
		saveSnap    = flag.String("save-snapshot", "", "Write a snapshot of the scripts after they run")
		loadSnap    = flag.String("load-snapshot", "", "Restore a snapshot before evaluating")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *expr == "" && !*interactive && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: run [flags] [script.js ...]")
		fmt.Fprintln(os.Stderr, "       run -e 'expression'")
		fmt.Fprintln(os.Stderr, "       run -i  (interactive mode)")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *verbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			runtime.SetLogger(log)
			engine.SetLogger(log)
			resource.SetLogger(log)
			defer log.Sync()
		}
	}

	if err := run(flag.Args(), *expr, *loadSnap, *saveSnap, *timeout, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scripts []string, expr, loadSnap, saveSnap string, timeout time.Duration, interactive bool) error {
	inst, err := newInstance()
	if err != nil {
		return err
	}
	defer inst.Close()

	if loadSnap != "" {
		data, err := os.ReadFile(loadSnap)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if err := inst.Restore(data); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Script files run as bootstrap so they are captured by -save-snapshot.
	for _, path := range scripts {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		if err := inst.Bootstrap(path, string(src)); err != nil {
			return fmt.Errorf("run %s: %w", path, err)
		}
		if err := inst.Run(ctx); err != nil {
			return fmt.Errorf("drive %s: %w", path, err)
		}
	}

	if saveSnap != "" {
		snap, err := inst.Snapshot()
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		if err := os.WriteFile(saveSnap, snap, 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		fmt.Printf("Snapshot written to %s (%d bytes)\n", saveSnap, len(snap))
	}

	if interactive {
		return runInteractive(inst, timeout)
	}

	if expr != "" {
		result, err := inst.Execute("<eval>", expr)
		if err != nil {
			return err
		}
		if err := inst.Run(ctx); err != nil {
			return err
		}
		fmt.Println(result.String())
	}

	return nil
}

// newInstance builds an instance with the demo op set: arithmetic, echo,
// timers, a raw byte op, and a growable in-memory buffer resource.
func newInstance() (*runtime.Instance, error) {
	inst, err := runtime.New(runtime.Options{Logger: runtime.Logger()})
	if err != nil {
		return nil, err
	}

	register := func(err error) {
		if err != nil {
			panic(err) // registration happens before anything runs
		}
	}

	_, err = inst.RegisterOp("add", func(_ *runtime.OpState, args wire.Value) (wire.Value, error) {
		sum := 0.0
		for n := 0; n < args.Len(); n++ {
			v, ok := args.Index(n).Float()
			if !ok {
				return wire.Null(), fmt.Errorf("argument %d is not a number", n)
			}
			sum += v
		}
		return wire.Number(sum), nil
	})
	register(err)

	_, err = inst.RegisterOp("echo", func(_ *runtime.OpState, args wire.Value) (wire.Value, error) {
		return args, nil
	})
	register(err)

	_, err = inst.RegisterOp("time_now", func(_ *runtime.OpState, _ wire.Value) (wire.Value, error) {
		return wire.Number(float64(time.Now().UnixMilli())), nil
	})
	register(err)

	_, err = inst.RegisterAsyncOp("delay", func(task *runtime.TaskContext, args wire.Value) (wire.Value, error) {
		ms, ok := args.Index(0).Float()
		if !ok {
			return wire.Null(), fmt.Errorf("delay wants [ms, value?]")
		}
		if err := task.Sleep(time.Duration(ms) * time.Millisecond); err != nil {
			return wire.Null(), err
		}
		return args.Index(1), nil
	})
	register(err)

	_, err = inst.RegisterRawOp("reverse", func(_ *runtime.OpState, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		for n, b := range payload {
			out[len(payload)-1-n] = b
		}
		return out, nil
	})
	register(err)

	registerBufferOps(inst, register)

	if err := inst.Seal(); err != nil {
		inst.Close()
		return nil, err
	}
	return inst, nil
}

// memBuffer is the demo resource: a growable byte buffer scripts can open,
// append to, read back, and close.
type memBuffer struct {
	data []byte
}

func (b *memBuffer) Kind() string { return "buffer" }

func (b *memBuffer) Read(p []byte) (int, error) {
	return copy(p, b.data), nil
}

func (b *memBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *memBuffer) Close() error {
	b.data = nil
	return nil
}

func registerBufferOps(inst *runtime.Instance, register func(error)) {
	_, err := inst.RegisterOp("buffer_open", func(state *runtime.OpState, _ wire.Value) (wire.Value, error) {
		h := state.Resources().Insert(&memBuffer{})
		return wire.Number(float64(h)), nil
	})
	register(err)

	_, err = inst.RegisterOp("buffer_write", func(state *runtime.OpState, args wire.Value) (wire.Value, error) {
		h, _ := args.Index(0).Int()
		text, _ := args.Index(1).Text()
		w, ok := state.Resources().GetWriter(resource.Handle(h))
		if !ok {
			return wire.Null(), errors.BadResource(uint32(h))
		}
		n, err := w.Write([]byte(text))
		if err != nil {
			return wire.Null(), err
		}
		return wire.Number(float64(n)), nil
	})
	register(err)

	_, err = inst.RegisterOp("buffer_read", func(state *runtime.OpState, args wire.Value) (wire.Value, error) {
		h, _ := args.Index(0).Int()
		res, ok := state.Resources().Get(resource.Handle(h))
		if !ok {
			return wire.Null(), errors.BadResource(uint32(h))
		}
		buf, ok := res.(*memBuffer)
		if !ok {
			return wire.Null(), fmt.Errorf("handle %d is a %s, not a buffer", h, res.Kind())
		}
		return wire.String(string(buf.data)), nil
	})
	register(err)

	_, err = inst.RegisterOp("buffer_close", func(state *runtime.OpState, args wire.Value) (wire.Value, error) {
		h, _ := args.Index(0).Int()
		if err := state.Resources().Close(resource.Handle(h)); err != nil {
			return wire.Null(), err
		}
		return wire.Null(), nil
	})
	register(err)
}
