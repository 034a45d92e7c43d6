// Package runtime wires the pieces into a usable embedded engine: the
// dispatch bridge between scripts and Go op handlers, the per-task context
// for async work, and the event loop that drives everything to quiescence.
//
// An Instance owns one engine, one op registry, one resource table, and one
// loop. Handlers come in four shapes along two axes: sync or async, and
// structured or raw-binary. Sync handlers return straight into the calling
// script; async handlers run on their own goroutine and settle a promise
// when the loop delivers their completion.
package runtime
