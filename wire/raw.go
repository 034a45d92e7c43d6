package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Raw frames carry the RawBinary wire form: a little-endian u32 length
// prefix followed by exactly that many payload bytes. The payload has no
// internal structure; offsets and lengths are defined by the op's contract.

const rawHeaderSize = 4

// ErrBadFrame is returned for raw frames with a wrong or truncated prefix.
var ErrBadFrame = errors.New("wire: malformed raw frame")

// EncodeRaw wraps a payload in a length-prefixed raw frame.
func EncodeRaw(payload []byte) []byte {
	frame := make([]byte, rawHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[rawHeaderSize:], payload)
	return frame
}

// DecodeRaw unwraps a length-prefixed raw frame. The returned slice aliases
// the frame; the caller owns both.
func DecodeRaw(frame []byte) ([]byte, error) {
	if len(frame) < rawHeaderSize {
		return nil, fmt.Errorf("%w: %d byte(s), need at least %d", ErrBadFrame, len(frame), rawHeaderSize)
	}
	n := binary.LittleEndian.Uint32(frame)
	if uint64(n) != uint64(len(frame)-rawHeaderSize) {
		return nil, fmt.Errorf("%w: prefix says %d, payload is %d", ErrBadFrame, n, len(frame)-rawHeaderSize)
	}
	return frame[rawHeaderSize:], nil
}
