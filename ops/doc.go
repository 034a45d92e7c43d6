// Package ops implements the op registry: the immutable-after-setup mapping
// from op names to stable numeric ids and handler descriptors.
//
// Embedders register ops during instance setup, then Seal the registry
// before the first script executes. Lookups are O(1) and valid for the
// instance's lifetime. Every dispatch is attributable to exactly one op id;
// the registry keeps atomic call and byte-volume counters per op.
package ops
