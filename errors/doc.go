// Package errors defines the structured error taxonomy for the op dispatch
// core.
//
// Every error carries a Phase (where it happened) and a Kind (a stable
// string that crosses the script/host boundary as the error-kind field of a
// rejected call). Recoverable kinds (unknown_op, malformed_args,
// bad_resource, handler_failure) surface to scripted code and never abort
// the host process. Fatal kinds (deadlock_detected, incompatible_snapshot)
// invalidate the engine instance; see Error.Fatal.
package errors
