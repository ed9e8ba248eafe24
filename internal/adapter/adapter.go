// Package adapter defines the capability contract C5/C6 demand of a host
// BLE stack (§4.5): start/stop scanning, connect/disconnect, GATT
// read/write, notifications, and pairing. internal/adapter/bleadapter
// implements it over github.com/go-ble/ble; internal/adapter/mockadapter
// implements it in memory for tests.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/srg/bleproxy/internal/wireproto"
)

// ConnectionHandle is an opaque adapter-assigned handle for one live BLE
// connection. Its zero value never refers to a real connection.
type ConnectionHandle uint64

// ConnectResult is what a successful Connect call returns: the handle to
// use for subsequent GATT calls, the negotiated MTU, and a channel closed
// when the adapter itself detects the peripheral went away (mirrors the
// CoreBluetooth Disconnected() channel pattern) so C6 can react without
// polling.
type ConnectResult struct {
	Handle ConnectionHandle
	MTU    uint32
	Lost   <-chan struct{}
}

// Adapter is the capability contract of §4.5. All methods are safe to call
// from the task that owns the corresponding scan or connection; nothing in
// this interface is itself concurrency-safe beyond what an individual
// implementation documents.
type Adapter interface {
	// StartScan begins continuous scanning with duplicate filtering
	// disabled. active selects active (scan-request) vs passive scanning.
	StartScan(ctx context.Context, active bool) error
	StopScan(ctx context.Context) error

	// OnAdvertisement registers the sink invoked for every advertisement
	// seen while scanning. Only one sink is supported; registering a new
	// one replaces the previous.
	OnAdvertisement(cb func(wireproto.Ad))

	Connect(ctx context.Context, address uint64, addressType uint32, timeout time.Duration) (ConnectResult, error)
	Disconnect(ctx context.Context, handle ConnectionHandle) error

	DiscoverServices(ctx context.Context, handle ConnectionHandle) ([]wireproto.Service, error)

	ReadCharacteristic(ctx context.Context, handle ConnectionHandle, chrHandle uint32) ([]byte, error)
	WriteCharacteristic(ctx context.Context, handle ConnectionHandle, chrHandle uint32, data []byte, withResponse bool) error

	ReadDescriptor(ctx context.Context, handle ConnectionHandle, descHandle uint32) ([]byte, error)
	WriteDescriptor(ctx context.Context, handle ConnectionHandle, descHandle uint32, data []byte) error

	SubscribeNotify(ctx context.Context, handle ConnectionHandle, chrHandle uint32, cb func(data []byte)) error
	UnsubscribeNotify(ctx context.Context, handle ConnectionHandle, chrHandle uint32) error

	Pair(ctx context.Context, handle ConnectionHandle) error
	Unpair(ctx context.Context, address uint64) error
	ClearGattCache(ctx context.Context, address uint64) error

	// LocalAddress returns the host radio's own MAC address, reported to
	// clients in DeviceInfoResp (§6.2). Returns ErrUnsupported if the
	// underlying host stack has no portable way to query it.
	LocalAddress(ctx context.Context) (uint64, error)
}

// FormatAddress renders a 48-bit MAC address as six uppercase hex octets
// separated by colons, e.g. "AA:BB:CC:DD:EE:FF" (§6.2).
func FormatAddress(addr uint64) string {
	b := [6]byte{
		byte(addr >> 40), byte(addr >> 32), byte(addr >> 24),
		byte(addr >> 16), byte(addr >> 8), byte(addr),
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}
