// Package mockadapter is an in-memory adapter.Adapter double for tests: no
// real radio, scripted advertisements and GATT trees, fluent builder
// construction in the same style as the teacher's peripheral device
// builders.
package mockadapter

import (
	"context"
	"sync"
	"time"

	"github.com/srg/bleproxy/internal/adapter"
	"github.com/srg/bleproxy/internal/wireproto"
)

// peripheral is one scripted peripheral the mock adapter knows how to
// "connect" to.
type peripheral struct {
	services     []wireproto.Service
	connectErr   error
	connectDelay time.Duration
	readDelay    time.Duration
	mtu          uint32
	values       map[uint32][]byte // handle -> current value, for reads
}

// Adapter is a scriptable adapter.Adapter. Create one with New (the zero
// value's maps are nil); use Peripheral's *PeripheralBuilder to populate
// peripherals before handing it to the proxy under test.
type Adapter struct {
	mu sync.Mutex

	peripherals map[uint64]*peripheral

	scanning    bool
	scanActive  bool
	adCallback  func(wireproto.Ad)

	nextHandle  adapter.ConnectionHandle
	connections map[adapter.ConnectionHandle]uint64 // handle -> address
	lost        map[adapter.ConnectionHandle]chan struct{}

	notifyCallbacks map[adapter.ConnectionHandle]map[uint32]func([]byte)

	localAddress uint64
}

// SetLocalAddress scripts the value LocalAddress reports. Leaving it unset
// (zero) makes LocalAddress return ErrUnsupported, the same as a real
// adapter with no local-address query.
func (a *Adapter) SetLocalAddress(addr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.localAddress = addr
}

func (a *Adapter) LocalAddress(_ context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.localAddress == 0 {
		return 0, adapter.ErrUnsupported
	}
	return a.localAddress, nil
}

// New returns an empty mock adapter.
func New() *Adapter {
	return &Adapter{
		peripherals:     make(map[uint64]*peripheral),
		connections:     make(map[adapter.ConnectionHandle]uint64),
		lost:            make(map[adapter.ConnectionHandle]chan struct{}),
		notifyCallbacks: make(map[adapter.ConnectionHandle]map[uint32]func([]byte)),
	}
}

// EmitAdvertisement delivers one advertisement to the registered sink, as
// if the radio had just received it over the air. No-op if scanning isn't
// active or no sink is registered.
func (a *Adapter) EmitAdvertisement(ad wireproto.Ad) {
	a.mu.Lock()
	cb := a.adCallback
	scanning := a.scanning
	a.mu.Unlock()
	if scanning && cb != nil {
		cb(ad)
	}
}

// EmitNotify delivers one notification value for (address, handle) to
// whichever connection is subscribed, as if the peripheral had pushed it.
func (a *Adapter) EmitNotify(address uint64, handle uint32, data []byte) {
	a.mu.Lock()
	var cb func([]byte)
	for h, addr := range a.connections {
		if addr == address {
			if cbs, ok := a.notifyCallbacks[h]; ok {
				cb = cbs[handle]
			}
			break
		}
	}
	a.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// DropConnection simulates an adapter-initiated disconnect (radio lost the
// link), closing the Lost channel handed back from Connect.
func (a *Adapter) DropConnection(handle adapter.ConnectionHandle) {
	a.mu.Lock()
	ch, ok := a.lost[handle]
	a.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (a *Adapter) StartScan(_ context.Context, active bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = true
	a.scanActive = active
	return nil
}

func (a *Adapter) StopScan(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = false
	return nil
}

// IsScanning reports whether StartScan has run more recently than StopScan.
// Test-only introspection; no adapter.Adapter method exposes this.
func (a *Adapter) IsScanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

func (a *Adapter) OnAdvertisement(cb func(wireproto.Ad)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adCallback = cb
}

func (a *Adapter) Connect(ctx context.Context, address uint64, _ uint32, timeout time.Duration) (adapter.ConnectResult, error) {
	a.mu.Lock()
	p, ok := a.peripherals[address]
	a.mu.Unlock()
	if !ok {
		return adapter.ConnectResult{}, adapter.Wrap(adapter.FailureUnavailable, errUnknownPeripheral(address))
	}

	if p.connectDelay > timeout {
		select {
		case <-time.After(timeout):
			return adapter.ConnectResult{}, adapter.ErrTimeout
		case <-ctx.Done():
			return adapter.ConnectResult{}, ctx.Err()
		}
	}
	if p.connectDelay > 0 {
		select {
		case <-time.After(p.connectDelay):
		case <-ctx.Done():
			return adapter.ConnectResult{}, ctx.Err()
		}
	}
	if p.connectErr != nil {
		return adapter.ConnectResult{}, p.connectErr
	}

	a.mu.Lock()
	a.nextHandle++
	handle := a.nextHandle
	a.connections[handle] = address
	lost := make(chan struct{})
	a.lost[handle] = lost
	a.notifyCallbacks[handle] = make(map[uint32]func([]byte))
	a.mu.Unlock()

	mtu := p.mtu
	if mtu == 0 {
		mtu = 247
	}
	return adapter.ConnectResult{Handle: handle, MTU: mtu, Lost: lost}, nil
}

func (a *Adapter) Disconnect(_ context.Context, handle adapter.ConnectionHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.connections[handle]; !ok {
		return adapter.ErrNotConnected
	}
	delete(a.connections, handle)
	delete(a.notifyCallbacks, handle)
	delete(a.lost, handle)
	return nil
}

func (a *Adapter) peripheralFor(handle adapter.ConnectionHandle) (*peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, ok := a.connections[handle]
	if !ok {
		return nil, adapter.ErrNotConnected
	}
	return a.peripherals[addr], nil
}

func (a *Adapter) DiscoverServices(_ context.Context, handle adapter.ConnectionHandle) ([]wireproto.Service, error) {
	p, err := a.peripheralFor(handle)
	if err != nil {
		return nil, err
	}
	return p.services, nil
}

func (a *Adapter) ReadCharacteristic(ctx context.Context, handle adapter.ConnectionHandle, chrHandle uint32) ([]byte, error) {
	p, err := a.peripheralFor(handle)
	if err != nil {
		return nil, err
	}
	if p.readDelay > 0 {
		select {
		case <-time.After(p.readDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return p.values[chrHandle], nil
}

func (a *Adapter) WriteCharacteristic(_ context.Context, handle adapter.ConnectionHandle, chrHandle uint32, data []byte, _ bool) error {
	p, err := a.peripheralFor(handle)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p.values[chrHandle] = append([]byte(nil), data...)
	return nil
}

func (a *Adapter) ReadDescriptor(ctx context.Context, handle adapter.ConnectionHandle, descHandle uint32) ([]byte, error) {
	return a.ReadCharacteristic(ctx, handle, descHandle)
}

func (a *Adapter) WriteDescriptor(ctx context.Context, handle adapter.ConnectionHandle, descHandle uint32, data []byte) error {
	return a.WriteCharacteristic(ctx, handle, descHandle, data, true)
}

func (a *Adapter) SubscribeNotify(_ context.Context, handle adapter.ConnectionHandle, chrHandle uint32, cb func([]byte)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.connections[handle]; !ok {
		return adapter.ErrNotConnected
	}
	a.notifyCallbacks[handle][chrHandle] = cb
	return nil
}

func (a *Adapter) UnsubscribeNotify(_ context.Context, handle adapter.ConnectionHandle, chrHandle uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cbs, ok := a.notifyCallbacks[handle]; ok {
		delete(cbs, chrHandle)
	}
	return nil
}

func (a *Adapter) Pair(_ context.Context, handle adapter.ConnectionHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.connections[handle]; !ok {
		return adapter.ErrNotConnected
	}
	return nil
}

func (a *Adapter) Unpair(_ context.Context, _ uint64) error {
	return nil
}

func (a *Adapter) ClearGattCache(_ context.Context, _ uint64) error {
	return nil
}
