package conn

import (
	"time"

	"github.com/srg/bleproxy/internal/wireproto"
)

// OpKind selects which adapter.Adapter method an Op dispatches to.
type OpKind int

const (
	OpDiscoverServices OpKind = iota
	OpReadCharacteristic
	OpWriteCharacteristic
	OpReadDescriptor
	OpWriteDescriptor
	OpSubscribeNotify
	OpUnsubscribeNotify
	OpPair
	OpDisconnect
)

// Op is one GATT request queued on a connection's FIFO. Result is
// buffered (capacity 1) so the FIFO goroutine never blocks delivering it,
// even if the caller already gave up waiting (timeout at the broker
// layer).
//
// Deadline and Notify are set by callers (the GATT broker, C8) that want
// delivery driven from inside the FIFO itself rather than by reading
// Result directly: runOps calls Notify with either the real OpResult or a
// synthetic timeout, in strict submission order, before dequeuing the
// next op. Callers that only read Result (conn's own tests) leave both
// zero and get the old direct-channel behavior.
type Op struct {
	Kind         OpKind
	Handle       uint32
	Data         []byte
	WithResponse bool
	Result       chan OpResult
	Deadline     time.Duration
	Notify       func(OpResult)
}

// NewOp allocates an Op with its Result channel ready to receive.
func NewOp(kind OpKind) *Op {
	return &Op{Kind: kind, Result: make(chan OpResult, 1)}
}

// OpResult is what Conn.execute posts back on Op.Result.
type OpResult struct {
	Services []wireproto.Service
	Data     []byte
	Err      error
}
