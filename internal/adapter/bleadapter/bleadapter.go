// Package bleadapter implements adapter.Adapter over github.com/go-ble/ble,
// the way internal/device/go-ble wires the same library into the teacher's
// CLI: a device.DeviceFactory seam for tests, Darwin Disconnected() channel
// monitoring, and NormalizeError-style error classification.
package bleadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/adapter"
	"github.com/srg/bleproxy/internal/groutine"
	"github.com/srg/bleproxy/internal/wireproto"
)

// DeviceFactory creates the local ble.Device; overridable in tests the same
// way the teacher's goble.DeviceFactory is.
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

// defaultMTU is the ATT default payload size reported when the connection
// doesn't negotiate a larger one.
const defaultMTU = 23

type liveConn struct {
	client  ble.Client
	lost    chan struct{}
	chars   map[uint32]*ble.Characteristic
	descs   map[uint32]*ble.Descriptor
	notify  map[uint32]func([]byte)
}

// Adapter implements adapter.Adapter over a single local host BLE radio.
type Adapter struct {
	logger *logrus.Logger

	mu sync.Mutex

	dev        ble.Device
	adCallback func(wireproto.Ad)
	scanCancel context.CancelFunc

	nextHandle  adapter.ConnectionHandle
	connections map[adapter.ConnectionHandle]*liveConn
}

// New returns an Adapter backed by DeviceFactory. logger may be nil.
func New(logger *logrus.Logger) (*Adapter, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, adapter.Wrap(adapter.FailureUnavailable, err)
	}
	ble.SetDefaultDevice(dev)
	return &Adapter{
		logger:      logger,
		dev:         dev,
		connections: make(map[adapter.ConnectionHandle]*liveConn),
	}, nil
}

func (a *Adapter) logf(format string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Debugf(format, args...)
	}
}

func (a *Adapter) Connect(ctx context.Context, address uint64, _ uint32, timeout time.Duration) (adapter.ConnectResult, error) {
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrStr := formatAddress(address)
	client, err := ble.Dial(connCtx, ble.NewAddr(addrStr))
	if err != nil {
		return adapter.ConnectResult{}, normalizeError(fmt.Errorf("dial %s: %w", addrStr, err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return adapter.ConnectResult{}, normalizeError(fmt.Errorf("discover profile for %s: %w", addrStr, err))
	}

	conn := &liveConn{
		client: client,
		lost:   make(chan struct{}),
		chars:  make(map[uint32]*ble.Characteristic),
		descs:  make(map[uint32]*ble.Descriptor),
		notify: make(map[uint32]func([]byte)),
	}
	indexProfile(profile, conn)

	a.mu.Lock()
	a.nextHandle++
	handle := a.nextHandle
	a.connections[handle] = conn
	a.mu.Unlock()

	if darwinClient, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), fmt.Sprintf("ble-conn-%s", addrStr), func(monitorCtx context.Context) {
			select {
			case <-darwinClient.Disconnected():
				a.logf("peripheral %s disconnected", addrStr)
				close(conn.lost)
			case <-monitorCtx.Done():
			}
		})
	}

	// go-ble doesn't expose a negotiated-MTU accessor on ble.Client; report
	// the ATT default until a peripheral-specific exchange is observed.
	return adapter.ConnectResult{Handle: handle, MTU: defaultMTU, Lost: conn.lost}, nil
}

func (a *Adapter) Disconnect(_ context.Context, handle adapter.ConnectionHandle) error {
	a.mu.Lock()
	conn, ok := a.connections[handle]
	if ok {
		delete(a.connections, handle)
	}
	a.mu.Unlock()
	if !ok {
		return adapter.ErrNotConnected
	}
	return normalizeError(conn.client.CancelConnection())
}

func (a *Adapter) connFor(handle adapter.ConnectionHandle) (*liveConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn, ok := a.connections[handle]
	if !ok {
		return nil, adapter.ErrNotConnected
	}
	return conn, nil
}

func (a *Adapter) DiscoverServices(_ context.Context, handle adapter.ConnectionHandle) ([]wireproto.Service, error) {
	conn, err := a.connFor(handle)
	if err != nil {
		return nil, err
	}
	profile, err := conn.client.DiscoverProfile(false)
	if err != nil {
		return nil, normalizeError(err)
	}
	return profileToServices(profile)
}

func (a *Adapter) ReadCharacteristic(_ context.Context, handle adapter.ConnectionHandle, chrHandle uint32) ([]byte, error) {
	conn, err := a.connFor(handle)
	if err != nil {
		return nil, err
	}
	c, ok := conn.chars[chrHandle]
	if !ok {
		return nil, fmt.Errorf("bleadapter: unknown characteristic handle %#x: %w", chrHandle, adapter.ErrUnsupported)
	}
	v, err := conn.client.ReadCharacteristic(c)
	return v, normalizeError(err)
}

func (a *Adapter) WriteCharacteristic(_ context.Context, handle adapter.ConnectionHandle, chrHandle uint32, data []byte, withResponse bool) error {
	conn, err := a.connFor(handle)
	if err != nil {
		return err
	}
	c, ok := conn.chars[chrHandle]
	if !ok {
		return fmt.Errorf("bleadapter: unknown characteristic handle %#x: %w", chrHandle, adapter.ErrUnsupported)
	}
	return normalizeError(conn.client.WriteCharacteristic(c, data, !withResponse))
}

func (a *Adapter) ReadDescriptor(_ context.Context, handle adapter.ConnectionHandle, descHandle uint32) ([]byte, error) {
	conn, err := a.connFor(handle)
	if err != nil {
		return nil, err
	}
	d, ok := conn.descs[descHandle]
	if !ok {
		return nil, fmt.Errorf("bleadapter: unknown descriptor handle %#x: %w", descHandle, adapter.ErrUnsupported)
	}
	v, err := conn.client.ReadDescriptor(d)
	return v, normalizeError(err)
}

func (a *Adapter) WriteDescriptor(_ context.Context, handle adapter.ConnectionHandle, descHandle uint32, data []byte) error {
	conn, err := a.connFor(handle)
	if err != nil {
		return err
	}
	d, ok := conn.descs[descHandle]
	if !ok {
		return fmt.Errorf("bleadapter: unknown descriptor handle %#x: %w", descHandle, adapter.ErrUnsupported)
	}
	return normalizeError(conn.client.WriteDescriptor(d, data))
}

func (a *Adapter) SubscribeNotify(_ context.Context, handle adapter.ConnectionHandle, chrHandle uint32, cb func([]byte)) error {
	conn, err := a.connFor(handle)
	if err != nil {
		return err
	}
	c, ok := conn.chars[chrHandle]
	if !ok {
		return fmt.Errorf("bleadapter: unknown characteristic handle %#x: %w", chrHandle, adapter.ErrUnsupported)
	}
	a.mu.Lock()
	conn.notify[chrHandle] = cb
	a.mu.Unlock()
	return normalizeError(conn.client.Subscribe(c, false, func(data []byte) {
		a.mu.Lock()
		fn := conn.notify[chrHandle]
		a.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}))
}

func (a *Adapter) UnsubscribeNotify(_ context.Context, handle adapter.ConnectionHandle, chrHandle uint32) error {
	conn, err := a.connFor(handle)
	if err != nil {
		return err
	}
	c, ok := conn.chars[chrHandle]
	if !ok {
		return nil
	}
	a.mu.Lock()
	delete(conn.notify, chrHandle)
	a.mu.Unlock()
	return normalizeError(conn.client.Unsubscribe(c, false))
}

// Pair, Unpair and ClearGattCache have no equivalent in go-ble: bonding and
// cache management are host-stack (CoreBluetooth/BlueZ) operations the
// library doesn't expose, mirroring the Darwin descriptor-handle limitation
// the teacher's connection.go documents. The proxy's own internal/cache
// layer covers bonding/service-cache persistence instead.
func (a *Adapter) Pair(_ context.Context, handle adapter.ConnectionHandle) error {
	if _, err := a.connFor(handle); err != nil {
		return err
	}
	return adapter.ErrUnsupported
}

func (a *Adapter) Unpair(_ context.Context, _ uint64) error {
	return adapter.ErrUnsupported
}

func (a *Adapter) ClearGattCache(_ context.Context, _ uint64) error {
	return adapter.ErrUnsupported
}

// LocalAddress has no equivalent in go-ble either: neither the Linux HCI
// nor the CoreBluetooth backend exposes the host radio's own MAC through
// the library's device.Device interface. A concrete deployment that needs
// it must source it out-of-band (e.g. hciconfig/btmgmt) and set
// config.Config.BluetoothMacAddress instead of relying on auto-detection.
func (a *Adapter) LocalAddress(_ context.Context) (uint64, error) {
	return 0, adapter.ErrUnsupported
}
