// Package pool implements the bounded connection pool (§4.7): a map from
// 48-bit address to connection slot, capped at MAX_CONNECTIONS, with
// eviction only on explicit disconnect, connect failure, or
// adapter-initiated loss — never implicitly. The concurrent map follows
// the teacher scanner's cornelk/hashmap usage, generalized from a
// scan-results cache to a mutation-serialized slot table.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/adapter"
	"github.com/srg/bleproxy/internal/conn"
)

// Pool is a bounded map from peripheral address to its live Conn.
type Pool struct {
	mu    sync.Mutex // serializes acquire/release decisions, per §5
	slots *hashmap.Map[uint64, *conn.Conn]
	max   int

	adapter           adapter.Adapter
	connectTimeout    time.Duration
	disconnectTimeout time.Duration
	onStateChange     func(conn.StateChange)
	onNotify          func(conn.NotifyEvent)
	logger            *logrus.Logger
}

// New returns an empty pool capped at max concurrent connections.
func New(max int, ad adapter.Adapter, connectTimeout, disconnectTimeout time.Duration, onStateChange func(conn.StateChange), onNotify func(conn.NotifyEvent), logger *logrus.Logger) *Pool {
	return &Pool{
		slots:             hashmap.New[uint64, *conn.Conn](),
		max:               max,
		adapter:           ad,
		connectTimeout:    connectTimeout,
		disconnectTimeout: disconnectTimeout,
		onStateChange:     onStateChange,
		onNotify:          onNotify,
		logger:            logger,
	}
}

// Len reports the current occupancy.
func (p *Pool) Len() int { return p.slots.Len() }

// Get returns the slot for address without allocating one.
func (p *Pool) Get(address uint64) (*conn.Conn, bool) {
	return p.slots.Get(address)
}

// Acquire returns the existing slot for address if one exists, else
// allocates a new Conn and drives it through Connect — iff occupancy is
// below max, else adapter.ErrPoolExhausted. A failed Connect frees the
// slot immediately so it doesn't count against occupancy.
func (p *Pool) Acquire(ctx context.Context, address uint64, addressType uint32) (*conn.Conn, error) {
	p.mu.Lock()
	if c, ok := p.slots.Get(address); ok {
		p.mu.Unlock()
		return c, nil
	}
	if p.slots.Len() >= p.max {
		p.mu.Unlock()
		return nil, adapter.ErrPoolExhausted
	}

	c := conn.New(address, addressType, p.adapter, p.connectTimeout, p.disconnectTimeout,
		func(sc conn.StateChange) {
			if !sc.Connected {
				p.remove(address)
			}
			if p.onStateChange != nil {
				p.onStateChange(sc)
			}
		},
		p.onNotify, p.logger)
	p.slots.Set(address, c)
	p.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		p.remove(address)
		return nil, err
	}
	return c, nil
}

// Release explicitly disconnects and frees address's slot. No-op if
// address has no slot.
func (p *Pool) Release(ctx context.Context, address uint64) error {
	c, ok := p.slots.Get(address)
	if !ok {
		return nil
	}
	err := c.Disconnect(ctx)
	p.remove(address)
	return err
}

func (p *Pool) remove(address uint64) {
	p.slots.Del(address)
}
