package engine

import (
	stderrors "errors"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/scripthost/jscore/errors"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	scripts := []Script{
		{Name: "boot", Source: `var base = 40;`},
		{Name: "helpers", Source: `function inc(n) { return n + 1; }`},
	}

	blob, err := EncodeSnapshot("0.3.0", scripts)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}

	got, err := DecodeSnapshot(blob, "0.3.0")
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if len(got) != len(scripts) {
		t.Fatalf("got %d scripts, want %d", len(got), len(scripts))
	}
	for i := range scripts {
		if got[i] != scripts[i] {
			t.Fatalf("script %d = %+v, want %+v", i, got[i], scripts[i])
		}
	}
}

func TestSnapshot_MinorVersionDrift(t *testing.T) {
	blob, err := EncodeSnapshot("0.3.0", nil)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}

	// Same major is compatible regardless of minor and patch.
	if _, err := DecodeSnapshot(blob, "0.9.7"); err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
}

func TestSnapshot_MajorVersionMismatch(t *testing.T) {
	blob, err := EncodeSnapshot("1.0.0", nil)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}

	_, err = DecodeSnapshot(blob, "2.0.0")
	if !stderrors.Is(err, errors.IncompatibleSnapshot("")) {
		t.Fatalf("got %v, want IncompatibleSnapshot", err)
	}
}

func TestSnapshot_RejectsGarbage(t *testing.T) {
	for _, blob := range [][]byte{
		nil,
		{},
		[]byte("plain text"),
		{0xD9, 'J'},
		append(append([]byte{}, snapshotMagic...), 0xFF, 0xFF),
	} {
		if _, err := DecodeSnapshot(blob, "0.3.0"); !stderrors.Is(err, errors.IncompatibleSnapshot("")) {
			t.Fatalf("DecodeSnapshot(%v) = %v, want IncompatibleSnapshot", blob, err)
		}
	}
}

func TestSnapshot_UnknownFormat(t *testing.T) {
	body, err := cbor.Marshal(snapshotManifest{Format: 99, Engine: "0.3.0"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	blob := append(append([]byte{}, snapshotMagic...), body...)

	_, err = DecodeSnapshot(blob, "0.3.0")
	if !stderrors.Is(err, errors.IncompatibleSnapshot("")) {
		t.Fatalf("got %v, want IncompatibleSnapshot", err)
	}
}

func TestSnapshot_BadVersionStrings(t *testing.T) {
	blob, err := EncodeSnapshot("not-semver", nil)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if _, err := DecodeSnapshot(blob, "0.3.0"); !stderrors.Is(err, errors.IncompatibleSnapshot("")) {
		t.Fatalf("got %v, want IncompatibleSnapshot", err)
	}

	blob, err = EncodeSnapshot("0.3.0", nil)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if _, err := DecodeSnapshot(blob, "not-semver"); !stderrors.Is(err, errors.IncompatibleSnapshot("")) {
		t.Fatalf("got %v, want IncompatibleSnapshot", err)
	}
}
