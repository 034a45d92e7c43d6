// Package engine defines the opaque scripting-engine capability the core
// drives and its goja-backed implementation.
//
// The core never touches the engine's compiler, bytecode, or heap. It runs
// scripts, calls functions, pumps microtasks, and settles promises by token
// through the Engine interface; the engine routes every scripted op call
// back through the Bridge the runtime supplied. Snapshots capture the
// bootstrap scripts that built the heap so a compatible engine can replay
// them.
package engine
