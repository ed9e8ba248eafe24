package bleadapter

import (
	"strings"

	"github.com/srg/bleproxy/internal/adapter"
)

// normalizeError maps known go-ble error strings to classified adapter.Error
// values, the same way the teacher's goble.NormalizeError guards against the
// upstream library's messages drifting between releases.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "i/o timeout"):
		return adapter.Wrap(adapter.FailureTimeout, err)
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "disconnected"):
		return adapter.Wrap(adapter.FailureNotConnected, err)
	case strings.Contains(msg, "turned on"), strings.Contains(msg, "bluetooth is turned off"), strings.Contains(msg, "invalid state"):
		return adapter.Wrap(adapter.FailureUnavailable, err)
	default:
		return err
	}
}
