// Package jscore provides an embeddable JavaScript execution core for Go.
//
// jscore hosts a JavaScript engine inside the host process and exposes a
// narrow, versioned call boundary ("ops") through which host-native
// functionality is invoked from scripted code, synchronously or
// asynchronously. It is the foundation a full scripting runtime (module
// loading, standard library, permission checks) is built on; those layers
// live above this module.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	jscore/              Root package with the core version
//	├── runtime/         Engine instance, op dispatch, event loop driver
//	├── engine/          Embedded JS engine adapter (goja) and snapshots
//	├── ops/             Op registry: name→id mapping, descriptors, metrics
//	├── resource/        Reference-counted resource handle table
//	├── wire/            Structured tagged-value tree and CBOR wire codec
//	└── errors/          Structured error taxonomy for op dispatch
//
// # Quick Start
//
// Register ops, seal, run a script, and drive the loop to completion:
//
//	inst, err := runtime.New(runtime.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close()
//
//	inst.RegisterOp("add", func(s *runtime.OpState, args wire.Value) (wire.Value, error) {
//	    a, _ := args.Index(0).Float()
//	    b, _ := args.Index(1).Float()
//	    return wire.Number(a + b), nil
//	})
//	inst.Seal()
//
//	if _, err := inst.Execute("main.js", src); err != nil {
//	    log.Fatal(err)
//	}
//	if err := inst.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Scripted code reaches ops through the dispatch hooks the engine installs.
// Seal publishes the name→id table as the __ops global:
//
//	const sum = __opcall(__ops.add, [2, 3]);          // sync: immediate value
//	const data = await __opcall(__ops.read, [path]);  // async: promise settled by the loop
//
// # Concurrency Model
//
// Scripted code executes single-threaded, cooperatively scheduled by the
// event loop driver. Async host work runs on worker goroutines and is only
// ever observed by the scripted side through the pending-operation queue at
// turn boundaries. See the runtime package for details.
package jscore
