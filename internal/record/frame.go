// Package record implements the length-prefixed on-disk framing used by
// segment files: a 4-byte little-endian length followed by exactly that
// many bytes of opaque payload. There is no type byte and no checksum in
// this format version; a torn tail at EOF is a legal end-of-data marker,
// not an error.
package record

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// HeaderSize is the width of the length prefix in bytes.
const HeaderSize = 4

// ErrPayloadTooLarge is returned by EncodeFrame when the payload would not
// fit in the 32-bit length prefix.
var ErrPayloadTooLarge = errors.New("record: payload exceeds maximum frame size")

// EncodeFrame prepends the 4-byte little-endian length to payload. The
// returned slice is a fresh copy; callers may reuse payload afterwards.
func EncodeFrame(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[:HeaderSize], uint32(len(payload))) //nolint:gosec
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// EncodedSize returns the on-disk size of a frame carrying a payload of
// payloadLen bytes, without allocating.
func EncodedSize(payloadLen int) int64 {
	return int64(HeaderSize + payloadLen)
}

// DecodeNext reads one frame from r.
//
// ok is false, with err nil, when the stream ended cleanly or ended in a
// torn tail (an incomplete frame at EOF) — the two must be
// indistinguishable to the caller, since a crash before flush completion
// produces exactly this shape. A non-nil err means a genuine I/O failure
// unrelated to reaching the end of the data.
func DecodeNext(r io.Reader) (payload []byte, ok bool, err error) {
	hdr := make([]byte, HeaderSize)
	if _, err = io.ReadFull(r, hdr); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, nil
		}
		return nil, false, err
	}

	length := binary.LittleEndian.Uint32(hdr)
	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, nil
		}
		return nil, false, err
	}

	return payload, true, nil
}
