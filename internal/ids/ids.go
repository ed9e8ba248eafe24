// Package ids generates the correlation identifiers threaded through the
// proxy: one per control session and one per in-flight GATT operation.
package ids

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// SessionID identifies one control-client socket for the lifetime of that
// socket. It is never reused, even across reconnects from the same peer.
type SessionID string

// NewSessionID returns a fresh, globally unique session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// OpID identifies one pending GATT operation. Assignment is monotonic per
// process so responses and log lines sort in submission order.
type OpID uint64

// OpIDGenerator hands out monotonically increasing OpIDs, starting at 1 so
// the zero value of OpID can mean "no operation".
type OpIDGenerator struct {
	next atomic.Uint64
}

// Next returns the next OpID. Safe for concurrent use.
func (g *OpIDGenerator) Next() OpID {
	return OpID(g.next.Add(1))
}
