package engine

import (
	"bytes"
	"strconv"

	"github.com/coreos/go-semver/semver"
	"github.com/fxamacker/cbor/v2"

	"github.com/scripthost/jscore/errors"
)

// A snapshot is a versioned manifest of the bootstrap scripts that built an
// instance's heap. Restore replays the scripts against a fresh engine, so
// the captured state must be reproducible from its bootstrap alone.

const snapshotFormat = 1

// snapshotMagic distinguishes snapshot blobs from arbitrary CBOR. The first
// byte is outside the printable range so text files never match.
var snapshotMagic = []byte{0xD9, 'J', 'S', 'C'}

type snapshotManifest struct {
	Format  int      `cbor:"format"`
	Engine  string   `cbor:"engine"`
	Scripts []Script `cbor:"scripts"`
}

// EncodeSnapshot serializes the bootstrap manifest for the given engine
// version.
func EncodeSnapshot(engineVersion string, scripts []Script) ([]byte, error) {
	manifest := snapshotManifest{
		Format:  snapshotFormat,
		Engine:  engineVersion,
		Scripts: scripts,
	}

	body, err := cbor.Marshal(manifest)
	if err != nil {
		return nil, errors.New(errors.PhaseSnapshot, errors.KindIncompatibleSnapshot).
			Cause(err).Detail("encoding manifest").Build()
	}

	out := make([]byte, 0, len(snapshotMagic)+len(body))
	out = append(out, snapshotMagic...)
	return append(out, body...), nil
}

// DecodeSnapshot validates a snapshot blob against the running engine
// version and returns its bootstrap scripts. Version compatibility is
// semver major equality; anything else is a fatal IncompatibleSnapshot.
func DecodeSnapshot(data []byte, engineVersion string) ([]Script, error) {
	if !bytes.HasPrefix(data, snapshotMagic) {
		return nil, errors.IncompatibleSnapshot("not a snapshot blob")
	}

	var manifest snapshotManifest
	if err := cbor.Unmarshal(data[len(snapshotMagic):], &manifest); err != nil {
		return nil, errors.New(errors.PhaseSnapshot, errors.KindIncompatibleSnapshot).
			Cause(err).Detail("decoding manifest").Build()
	}
	if manifest.Format != snapshotFormat {
		return nil, errors.IncompatibleSnapshot(
			"unsupported snapshot format " + strconv.Itoa(manifest.Format))
	}

	captured, err := semver.NewVersion(manifest.Engine)
	if err != nil {
		return nil, errors.IncompatibleSnapshot("unparseable engine version " + manifest.Engine)
	}
	running, err := semver.NewVersion(engineVersion)
	if err != nil {
		return nil, errors.IncompatibleSnapshot("unparseable running version " + engineVersion)
	}
	if captured.Major != running.Major {
		return nil, errors.IncompatibleSnapshot(
			"snapshot from engine " + manifest.Engine + ", running " + engineVersion)
	}

	return manifest.Scripts, nil
}
