package wireproto

import "errors"

var (
	// ErrMalformedMessage is returned when a payload's protobuf encoding is
	// structurally invalid (bad tag, truncated varint, truncated length
	// delimited field).
	ErrMalformedMessage = errors.New("wireproto: malformed message")

	// ErrUnknownMessageType is returned by Decode when no message is
	// registered for the frame's msg_type.
	ErrUnknownMessageType = errors.New("wireproto: unknown message type")
)
