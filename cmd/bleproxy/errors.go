package main

import (
	"context"
	"errors"

	"github.com/srg/bleproxy/internal/adapter"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from adapter.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")

	// errBadConfig is the sentinel exitCodeFor checks for: any error wrapping
	// it reports exit code 2 instead of 1, matching a usage/config mistake.
	errBadConfig = &configError{msg: "invalid configuration"}
)

// configError marks an error as a usage/configuration mistake rather than a
// runtime failure, for exitCodeFor's benefit.
type configError struct {
	msg string
}

func (e *configError) Error() string { return e.msg }

func (e *configError) Is(target error) bool {
	_, ok := target.(*configError)
	return ok
}

// FormatUserError renders err the way a human expects to read it at a
// terminal: adapter.Error's own message for classified BLE failures,
// err.Error() otherwise.
func FormatUserError(err error) string {
	var aerr *adapter.Error
	if errors.As(err, &aerr) {
		return aerr.Msg
	}
	return err.Error()
}

// exitCodeFor maps an error to a process exit code (§6.3): 130 for an
// error wrapping context.Canceled (the usual SIGINT convention), 2 for a
// usage/configuration error, 1 for anything else. main() uses it for every
// error except context.Canceled, on which it exits silently with status 0;
// a signal-driven shutdown of `serve` returns nil and also exits 0.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, errBadConfig):
		return 2
	default:
		return 1
	}
}
