package wire

import "google.golang.org/protobuf/encoding/protowire"

// maxVarintLen bounds a base-128 LE varint at 10 bytes, enough to hold any
// uint64 (ceil(64/7) == 10).
const maxVarintLen = 10

// appendVarint encodes v as a base-128 little-endian varint and appends it to
// buf. Encoding never fails, so this reuses protowire's implementation
// directly rather than hand-rolling it.
func appendVarint(buf []byte, v uint64) []byte {
	return protowire.AppendVarint(buf, v)
}

// decodeVarint reads a base-128 LE varint from the front of buf.
//
// It reports needMore when buf doesn't yet contain a terminating byte (the
// caller should accumulate more bytes and retry), and overflow when more
// than maxVarintLen bytes have been consumed without terminating. On
// success n is the number of bytes consumed.
//
// This is hand-rolled rather than routed through protowire.ConsumeVarint:
// the reader needs to tell "not enough bytes yet" apart from "malformed",
// which protowire's negative-n contract doesn't expose directly.
func decodeVarint(buf []byte) (v uint64, n int, needMore bool, overflow bool) {
	var shift uint
	for i := 0; i < len(buf) && i < maxVarintLen; i++ {
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, false, false
		}
		shift += 7
	}
	if len(buf) >= maxVarintLen {
		return 0, 0, false, true
	}
	return 0, 0, true, false
}
