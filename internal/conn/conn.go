// Package conn implements the per-peripheral BLE connection state machine
// (§4.6): Idle → Connecting → Connected → Disconnecting → Idle, with a
// Failed branch, and a FIFO that serializes GATT operations to at most one
// in-flight request per peripheral. The style — a mutex-guarded state enum
// plus a dedicated goroutine draining a work channel — follows the
// teacher's BLEConnection, generalized from one statically-known device to
// many pool-managed ones.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/adapter"
	"github.com/srg/bleproxy/internal/groutine"
)

// State is one node of the §4.6 connection state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChange is emitted on every state-machine transition that's visible
// on the wire (Connecting→Connected, Connecting→Failed, any→Disconnecting
// on loss). It carries exactly what BleDeviceConnResp needs.
type StateChange struct {
	Address   uint64
	Connected bool
	MTU       uint32
	Error     uint32
}

// NotifyEvent is one characteristic notification/indication from the
// peripheral, relayed up to whichever broker owns fan-out to subscribers.
type NotifyEvent struct {
	Address uint64
	Handle  uint32
	Data    []byte
}

// Conn owns one adapter.ConnectionHandle for one peripheral address and
// the single FIFO of GATT ops running against it.
type Conn struct {
	Address     uint64
	AddressType uint32

	adapter adapter.Adapter
	logger  *logrus.Logger

	connectTimeout    time.Duration
	disconnectTimeout time.Duration

	onStateChange func(StateChange)
	onNotify      func(NotifyEvent)

	mu     sync.Mutex
	state  State
	handle adapter.ConnectionHandle
	mtu    uint32

	ops  chan *Op
	stop chan struct{}
	once sync.Once
}

// New constructs a Conn in StateIdle. Call Connect to start it.
func New(address uint64, addressType uint32, ad adapter.Adapter, connectTimeout, disconnectTimeout time.Duration, onStateChange func(StateChange), onNotify func(NotifyEvent), logger *logrus.Logger) *Conn {
	return &Conn{
		Address:           address,
		AddressType:       addressType,
		adapter:           ad,
		logger:            logger,
		connectTimeout:    connectTimeout,
		disconnectTimeout: disconnectTimeout,
		onStateChange:     onStateChange,
		onNotify:          onNotify,
		ops:               make(chan *Op, 64),
		stop:              make(chan struct{}),
	}
}

// State returns the current state. Safe for concurrent use.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle returns the adapter connection handle backing this Conn. Only
// meaningful once State is Connected.
func (c *Conn) Handle() adapter.ConnectionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// MTU returns the negotiated MTU. Only meaningful once State is Connected.
func (c *Conn) MTU() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) emitState(connected bool, mtu uint32, errCode uint32) {
	if c.onStateChange != nil {
		c.onStateChange(StateChange{Address: c.Address, Connected: connected, MTU: mtu, Error: errCode})
	}
}

// Connect drives Idle→Connecting→{Connected|Failed}. It blocks until the
// transition settles; the op-processing goroutine is started on success.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return adapter.ErrUnsupported
	}
	c.state = StateConnecting
	c.mu.Unlock()

	res, err := c.adapter.Connect(ctx, c.Address, c.AddressType, c.connectTimeout)
	if err != nil {
		c.setState(StateFailed)
		c.emitState(false, 0, adapter.Code(err))
		c.setState(StateIdle)
		return err
	}

	c.mu.Lock()
	c.handle = res.Handle
	c.mtu = res.MTU
	c.state = StateConnected
	c.mu.Unlock()
	c.emitState(true, res.MTU, adapter.CodeOK)

	groutine.Go(context.Background(), "conn-ops", c.runOps)
	groutine.Go(context.Background(), "conn-lost-monitor", func(monitorCtx context.Context) {
		select {
		case <-res.Lost:
			c.handleLoss(monitorCtx)
		case <-c.stop:
		case <-monitorCtx.Done():
		}
	})
	return nil
}

// handleLoss reacts to an adapter-initiated disconnect (the peripheral went
// away without an explicit Disconnect call).
func (c *Conn) handleLoss(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnecting
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.WithField("address", c.Address).Warn("adapter reported peripheral lost")
	}
	c.emitState(false, 0, adapter.CodeNotConnected)
	_ = c.submitDisconnect(ctx)
}

// Disconnect drives any state → Disconnecting → Idle. It is routed through
// the same ops FIFO as every GATT request instead of calling the adapter
// directly, so it never races an in-flight read/write against the same
// handle (§4.6): by the time it runs, the FIFO has already drained every op
// submitted ahead of it, and Submit refuses anything submitted after.
// Pending ops still queued behind it are resolved with ErrNotConnected as
// the loop drains past them.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	c.mu.Unlock()

	return c.submitDisconnect(ctx)
}

// submitDisconnect enqueues an OpDisconnect and waits for it to run. If
// runOps has already exited (finishDisconnect beat it to c.stop), it
// finishes the transition itself instead of blocking forever on a FIFO
// nobody is draining anymore.
func (c *Conn) submitDisconnect(ctx context.Context) error {
	op := NewOp(OpDisconnect)
	select {
	case c.ops <- op:
	case <-c.stop:
		c.finishDisconnect()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.disconnectTimeout)
	defer cancel()

	select {
	case res := <-op.Result:
		if res.Err != nil && !adapter.Is(res.Err, adapter.FailureNotConnected) {
			return res.Err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) finishDisconnect() {
	c.once.Do(func() { close(c.stop) })
	c.setState(StateIdle)
}

// Submit enqueues op on the connection's FIFO. Returns ErrNotConnected
// immediately, without queuing, if the connection isn't currently
// Connected.
func (c *Conn) Submit(op *Op) error {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return adapter.ErrNotConnected
	}
	select {
	case c.ops <- op:
		return nil
	case <-c.stop:
		return adapter.ErrNotConnected
	}
}

// runOps drains the FIFO one operation at a time; each op's adapter call
// runs to completion (success or adapter error) regardless of how long a
// deadline-enforcing caller (the GATT broker, C8) has already given up
// waiting — the spec requires the underlying BLE op never be cancelled on
// timeout.
func (c *Conn) runOps(ctx context.Context) {
	for {
		select {
		case op := <-c.ops:
			c.deliver(ctx, op)
			if op.Kind == OpDisconnect {
				c.drainRemaining()
				return
			}
		case <-c.stop:
			c.drainRemaining()
			return
		}
	}
}

// deliver runs op and hands its result to whichever caller is waiting,
// without ever letting a later-queued op's delivery overtake it. A caller
// that only reads op.Result (Deadline/Notify left zero) gets exactly the
// old synchronous behavior. A caller that set Notify (the GATT broker, C8)
// gets its result funneled through this single goroutine instead of an
// independently-scheduled watcher, which is what keeps pipelined
// deliveries in strict submission order (§4.8/O2): execute still runs in
// its own goroutine so a timeout never cancels the underlying adapter
// call, but runOps does not advance to the next op until Notify returns.
func (c *Conn) deliver(ctx context.Context, op *Op) {
	if op.Notify == nil {
		c.execute(ctx, op)
		return
	}

	go c.execute(ctx, op)

	if op.Deadline <= 0 {
		op.Notify(<-op.Result)
		return
	}

	timer := time.NewTimer(op.Deadline)
	defer timer.Stop()
	select {
	case res := <-op.Result:
		op.Notify(res)
	case <-timer.C:
		op.Notify(OpResult{Err: adapter.ErrTimeout})
	}
}

func (c *Conn) drainRemaining() {
	for {
		select {
		case op := <-c.ops:
			res := OpResult{Err: adapter.ErrNotConnected}
			if op.Notify != nil {
				op.Notify(res)
			} else {
				op.Result <- res
			}
		default:
			return
		}
	}
}

func (c *Conn) execute(ctx context.Context, op *Op) {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()

	var res OpResult
	switch op.Kind {
	case OpDiscoverServices:
		res.Services, res.Err = c.adapter.DiscoverServices(ctx, handle)
	case OpReadCharacteristic:
		res.Data, res.Err = c.adapter.ReadCharacteristic(ctx, handle, op.Handle)
	case OpWriteCharacteristic:
		res.Err = c.adapter.WriteCharacteristic(ctx, handle, op.Handle, op.Data, op.WithResponse)
	case OpReadDescriptor:
		res.Data, res.Err = c.adapter.ReadDescriptor(ctx, handle, op.Handle)
	case OpWriteDescriptor:
		res.Err = c.adapter.WriteDescriptor(ctx, handle, op.Handle, op.Data)
	case OpSubscribeNotify:
		res.Err = c.adapter.SubscribeNotify(ctx, handle, op.Handle, func(data []byte) {
			if c.onNotify != nil {
				c.onNotify(NotifyEvent{Address: c.Address, Handle: op.Handle, Data: data})
			}
		})
	case OpUnsubscribeNotify:
		res.Err = c.adapter.UnsubscribeNotify(ctx, handle, op.Handle)
	case OpPair:
		res.Err = c.adapter.Pair(ctx, handle)
	case OpDisconnect:
		dctx, cancel := context.WithTimeout(ctx, c.disconnectTimeout)
		res.Err = c.adapter.Disconnect(dctx, handle)
		cancel()
	default:
		res.Err = adapter.ErrUnsupported
	}
	op.Result <- res
	if op.Kind == OpDisconnect {
		c.finishDisconnect()
	}
}
