package mockadapter

import (
	"time"

	"github.com/google/uuid"
	"github.com/srg/bleproxy/internal/wireproto"
)

// PeripheralBuilder fluently scripts one peripheral's GATT tree and
// connect behavior before registering it on an Adapter.
type PeripheralBuilder struct {
	adapter *Adapter
	address uint64
	p       *peripheral
}

// Peripheral starts (or resumes) scripting the peripheral at address.
func (a *Adapter) Peripheral(address uint64) *PeripheralBuilder {
	a.mu.Lock()
	p, ok := a.peripherals[address]
	if !ok {
		p = &peripheral{values: make(map[uint32][]byte)}
		a.peripherals[address] = p
	}
	a.mu.Unlock()
	return &PeripheralBuilder{adapter: a, address: address, p: p}
}

// WithService appends a service (with its characteristics/descriptors
// already built) to the peripheral's GATT tree.
func (b *PeripheralBuilder) WithService(svc wireproto.Service) *PeripheralBuilder {
	b.p.services = append(b.p.services, svc)
	return b
}

// WithMTU sets the MTU Connect reports for this peripheral.
func (b *PeripheralBuilder) WithMTU(mtu uint32) *PeripheralBuilder {
	b.p.mtu = mtu
	return b
}

// WithConnectError makes Connect fail with err for this peripheral.
func (b *PeripheralBuilder) WithConnectError(err error) *PeripheralBuilder {
	b.p.connectErr = err
	return b
}

// WithConnectDelay makes Connect take delay before completing (or before
// timing out, if delay exceeds the caller's requested timeout).
func (b *PeripheralBuilder) WithConnectDelay(delay time.Duration) *PeripheralBuilder {
	b.p.connectDelay = delay
	return b
}

// WithValue seeds the current value returned by reads of handle.
func (b *PeripheralBuilder) WithValue(handle uint32, value []byte) *PeripheralBuilder {
	b.p.values[handle] = value
	return b
}

// WithReadDelay makes ReadCharacteristic/ReadDescriptor take delay before
// returning, for exercising a caller's own deadline handling.
func (b *PeripheralBuilder) WithReadDelay(delay time.Duration) *PeripheralBuilder {
	b.p.readDelay = delay
	return b
}

// NewService is a convenience constructor for a Service with a freshly
// parsed UUID, for use with WithService.
func NewService(id string, handle uint32, chars ...wireproto.Characteristic) wireproto.Service {
	return wireproto.Service{
		UUID:            uuid.MustParse(id),
		Handle:          handle,
		Characteristics: chars,
	}
}

// NewCharacteristic is a convenience constructor for a Characteristic, for
// use with NewService. Seed its initial read value separately with
// PeripheralBuilder.WithValue.
func NewCharacteristic(id string, handle uint32, properties uint32, descs ...wireproto.Descriptor) wireproto.Characteristic {
	return wireproto.Characteristic{
		UUID:        uuid.MustParse(id),
		Handle:      handle,
		Properties:  properties,
		Descriptors: descs,
	}
}

// NewDescriptor is a convenience constructor for a Descriptor.
func NewDescriptor(id string, handle uint32) wireproto.Descriptor {
	return wireproto.Descriptor{UUID: uuid.MustParse(id), Handle: handle}
}
