package adapter

import (
	"errors"
	"fmt"
)

// FailureKind classifies an adapter-level operation failure.
type FailureKind string

const (
	FailureNotConnected  FailureKind = "not_connected"
	FailureTimeout       FailureKind = "timeout"
	FailureUnsupported   FailureKind = "unsupported"
	FailureUnavailable   FailureKind = "adapter_unavailable"
	FailurePoolExhausted FailureKind = "pool_exhausted"
)

// Error wraps an adapter operation failure with its classification, so
// higher layers (C6, C8) can branch on Kind via errors.Is without string
// matching.
type Error struct {
	Kind FailureKind
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare *Error values by Kind alone, so callers
// can write errors.Is(err, adapter.ErrNotConnected) without caring about Msg.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel failures, compared against with errors.Is.
var (
	ErrNotConnected  = &Error{Kind: FailureNotConnected}
	ErrTimeout       = &Error{Kind: FailureTimeout}
	ErrUnsupported   = &Error{Kind: FailureUnsupported}
	ErrUnavailable   = &Error{Kind: FailureUnavailable}
	ErrPoolExhausted = &Error{Kind: FailurePoolExhausted}
)

// Wire-level numeric error codes carried in GattErrorResp/BleDeviceConnResp.
// 0 always means success; callers that have no error use it directly
// without going through Code.
const (
	CodeOK           uint32 = 0
	CodeTimeout      uint32 = 1
	CodeNotConnected uint32 = 2
	CodeUnsupported  uint32 = 3
	CodeUnavailable  uint32 = 4
	CodePoolExhausted uint32 = 5
	CodeOther        uint32 = 255
)

// Code classifies err into one of the wire-level numeric codes above, for
// messages that report failures as a bare uint32 rather than an error
// value (BleDeviceConnResp.Error, GattErrorResp.Error).
func Code(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	var aerr *Error
	if !errors.As(err, &aerr) {
		return CodeOther
	}
	switch aerr.Kind {
	case FailureTimeout:
		return CodeTimeout
	case FailureNotConnected:
		return CodeNotConnected
	case FailureUnsupported:
		return CodeUnsupported
	case FailureUnavailable:
		return CodeUnavailable
	case FailurePoolExhausted:
		return CodePoolExhausted
	default:
		return CodeOther
	}
}

// Wrap attaches kind to err, preserving err for errors.As/Unwrap.
func Wrap(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", &Error{Kind: kind}, err)
}

// Is reports whether err classifies as kind.
func Is(err error, kind FailureKind) bool {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind == kind
	}
	return false
}
