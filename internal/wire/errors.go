package wire

import "errors"

var (
	// ErrShortRead is returned when the underlying transport returns EOF
	// before a complete header+payload was accumulated, including at a
	// frame boundary with nothing buffered.
	ErrShortRead = errors.New("wire: short read")

	// ErrVarintOverflow is returned when a length-delimited varint does not
	// terminate within maxVarintLen bytes.
	ErrVarintOverflow = errors.New("wire: varint overflow")

	// ErrPayloadTooLarge is returned when a frame's declared payload length
	// exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum frame size")

	// ErrUnsupportedTransport is returned when a frame's leading byte is not
	// the plaintext transport marker. The native API's encrypted transport
	// uses a different leading byte and is out of scope here.
	ErrUnsupportedTransport = errors.New("wire: unsupported transport indicator byte")
)
