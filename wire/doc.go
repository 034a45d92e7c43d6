// Package wire implements the two encodings that op arguments and results
// use to cross the script/host boundary.
//
// # Structured
//
// The structured form is a closed, self-describing tagged value tree:
// null, boolean, number, string, byte-sequence, ordered list, and ordered
// key→value map with unique keys. On the Go side it is the Value sum type;
// on the wire it is CBOR, encoded by hand so map insertion order survives
// the round trip. Handlers decode Values into their own argument shapes;
// the core never knows handler-specific signatures.
//
// # RawBinary
//
// The raw form is a flat length-prefixed byte buffer with no internal
// structure, for zero-copy-friendly hot paths such as read/write ops. See
// EncodeRaw and DecodeRaw.
//
// # Errors
//
// Error results are a distinguished tagged value carrying an error-kind
// string and message (ErrorValue/AsError); raw exceptions never cross the
// boundary uninterpreted.
package wire
