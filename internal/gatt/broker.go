// Package gatt implements the GATT operation broker (§4.8): it assigns
// each GATT request a monotonic op_id and a deadline, routes it through
// the connection pool to the owning per-peripheral FIFO (C6), and resolves
// it exactly once — with a real result, or with Timeout if the deadline
// passes first. A timeout never cancels the underlying adapter call; its
// eventual result is simply discarded, which falls out naturally from
// conn.Op's buffered result channel.
package gatt

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/adapter"
	"github.com/srg/bleproxy/internal/conn"
	"github.com/srg/bleproxy/internal/ids"
	"github.com/srg/bleproxy/internal/pool"
	"github.com/srg/bleproxy/internal/subscriptions"
	"github.com/srg/bleproxy/internal/wireproto"
)

// Responder delivers a response message to the session that originated
// the request it answers, or (for notifications) to a fan-out subscriber.
type Responder func(session ids.SessionID, msg wireproto.Message)

// Broker correlates control-session GATT requests to BLE connection
// responses.
type Broker struct {
	pool   *pool.Pool
	subs   *subscriptions.Registry
	opIDs  ids.OpIDGenerator
	logger *logrus.Logger
	notify Responder
}

// New returns a Broker dispatching through p, fanning notifications out
// via subs, and delivering all responses (request/response and
// notification fan-out alike) through respond.
func New(p *pool.Pool, subs *subscriptions.Registry, respond Responder, logger *logrus.Logger) *Broker {
	return &Broker{pool: p, subs: subs, notify: respond, logger: logger}
}

// OnNotify is wired as the pool's connection-level notification sink: it
// fans GattNotifyDataResp out to every session subscribed to the
// originating address (I3).
func (b *Broker) OnNotify(ev conn.NotifyEvent) {
	msg := &wireproto.GattNotifyDataResp{Address: ev.Address, Handle: ev.Handle, Data: ev.Data}
	for _, session := range b.subs.AddressSubscribers(ev.Address) {
		b.notify(session, msg)
	}
}

// submit looks up address's connection, enqueues op on its FIFO, and
// arranges for exactly one response: the op's real result if it arrives
// before deadline, else a synthetic Timeout. The response is delivered to
// origin via the broker's Responder.
//
// op.Notify is set rather than watched here with a dedicated goroutine: a
// connection's runOps (C6) drives every op's delivery from the single
// goroutine that also drains its FIFO, so responses for ops pipelined
// against the same peripheral are always handed to Notify in submission
// order (§4.8/O2). Spawning an independent watcher per op here would let
// the Go scheduler reorder their deliveries even though runOps executes
// the ops themselves strictly in order.
func (b *Broker) submit(origin ids.SessionID, address uint64, op *conn.Op, deadline time.Duration, onResult func(conn.OpResult) []wireproto.Message) {
	c, ok := b.pool.Get(address)
	if !ok {
		b.notify(origin, errResp(address, op, adapter.ErrNotConnected))
		return
	}

	op.Deadline = deadline
	op.Notify = func(res conn.OpResult) {
		for _, msg := range onResult(res) {
			b.notify(origin, msg)
		}
	}

	if err := c.Submit(op); err != nil {
		b.notify(origin, errResp(address, op, err))
		return
	}

	b.opIDs.Next() // assigned for correlation/logging; wire messages carry (address, handle) instead of op_id
}

func errResp(address uint64, op *conn.Op, err error) wireproto.Message {
	return &wireproto.GattErrorResp{Address: address, Handle: op.Handle, Error: adapter.Code(err)}
}

func single(msg wireproto.Message) []wireproto.Message { return []wireproto.Message{msg} }

// DiscoverServices enqueues a service-discovery op and answers with one
// GattGetServicesResp per discovered top-level service followed by
// GattGetServicesDone, the way ESPHome streams a service tree as a
// sequence of frames rather than one giant message; or GattErrorResp.
func (b *Broker) DiscoverServices(_ context.Context, origin ids.SessionID, address uint64, deadline time.Duration) {
	op := conn.NewOp(conn.OpDiscoverServices)
	b.submit(origin, address, op, deadline, func(res conn.OpResult) []wireproto.Message {
		if res.Err != nil {
			return single(errResp(address, op, res.Err))
		}
		msgs := make([]wireproto.Message, 0, len(res.Services)+1)
		for _, svc := range res.Services {
			msgs = append(msgs, &wireproto.GattGetServicesResp{Address: address, Service: svc})
		}
		msgs = append(msgs, &wireproto.GattGetServicesDone{Address: address})
		return msgs
	})
}

func (b *Broker) ReadCharacteristic(_ context.Context, origin ids.SessionID, address uint64, handle uint32, deadline time.Duration) {
	op := conn.NewOp(conn.OpReadCharacteristic)
	op.Handle = handle
	b.submit(origin, address, op, deadline, func(res conn.OpResult) []wireproto.Message {
		if res.Err != nil {
			return single(errResp(address, op, res.Err))
		}
		return single(&wireproto.GattReadResp{Address: address, Handle: handle, Data: res.Data})
	})
}

func (b *Broker) WriteCharacteristic(_ context.Context, origin ids.SessionID, address uint64, handle uint32, data []byte, withResponse bool, deadline time.Duration) {
	op := conn.NewOp(conn.OpWriteCharacteristic)
	op.Handle = handle
	op.Data = data
	op.WithResponse = withResponse
	b.submit(origin, address, op, deadline, func(res conn.OpResult) []wireproto.Message {
		if res.Err != nil {
			return single(errResp(address, op, res.Err))
		}
		return single(&wireproto.GattWriteResp{Address: address, Handle: handle})
	})
}

func (b *Broker) ReadDescriptor(_ context.Context, origin ids.SessionID, address uint64, handle uint32, deadline time.Duration) {
	op := conn.NewOp(conn.OpReadDescriptor)
	op.Handle = handle
	b.submit(origin, address, op, deadline, func(res conn.OpResult) []wireproto.Message {
		if res.Err != nil {
			return single(errResp(address, op, res.Err))
		}
		return single(&wireproto.GattReadDescResp{Address: address, Handle: handle, Data: res.Data})
	})
}

func (b *Broker) WriteDescriptor(_ context.Context, origin ids.SessionID, address uint64, handle uint32, data []byte, deadline time.Duration) {
	op := conn.NewOp(conn.OpWriteDescriptor)
	op.Handle = handle
	op.Data = data
	b.submit(origin, address, op, deadline, func(res conn.OpResult) []wireproto.Message {
		if res.Err != nil {
			return single(errResp(address, op, res.Err))
		}
		return single(&wireproto.GattWriteDescResp{Address: address, Handle: handle})
	})
}

func (b *Broker) SubscribeNotify(_ context.Context, origin ids.SessionID, address uint64, handle uint32, deadline time.Duration) {
	op := conn.NewOp(conn.OpSubscribeNotify)
	op.Handle = handle
	b.submit(origin, address, op, deadline, func(res conn.OpResult) []wireproto.Message {
		if res.Err != nil {
			return single(errResp(address, op, res.Err))
		}
		b.subs.SubscribeAddress(origin, address)
		return single(&wireproto.GattNotifyResp{Address: address, Handle: handle, Enable: true})
	})
}

func (b *Broker) UnsubscribeNotify(_ context.Context, origin ids.SessionID, address uint64, handle uint32, deadline time.Duration) {
	op := conn.NewOp(conn.OpUnsubscribeNotify)
	op.Handle = handle
	b.submit(origin, address, op, deadline, func(res conn.OpResult) []wireproto.Message {
		if res.Err != nil {
			return single(errResp(address, op, res.Err))
		}
		return single(&wireproto.GattNotifyResp{Address: address, Handle: handle, Enable: false})
	})
}
