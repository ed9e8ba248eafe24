package wireproto

import (
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Descriptor is one GATT descriptor: its 128-bit UUID and 16-bit handle.
type Descriptor struct {
	UUID   uuid.UUID
	Handle uint32
}

// Characteristic is one GATT characteristic: UUID, handle, the properties
// bitfield (read/write/notify/indicate, as reported by the adapter), and
// its descriptors.
type Characteristic struct {
	UUID        uuid.UUID
	Handle      uint32
	Properties  uint32
	Descriptors []Descriptor
}

// Service is one GATT service: UUID, handle, and its characteristics.
type Service struct {
	UUID            uuid.UUID
	Handle          uint32
	Characteristics []Characteristic
}

func encodeDescriptor(buf []byte, num protowire.Number, d Descriptor) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, 1, protowire.BytesType)
	inner = protowire.AppendBytes(inner, d.UUID[:])
	inner = protowire.AppendTag(inner, 2, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(d.Handle))

	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, inner)
}

func decodeDescriptor(raw []byte) (Descriptor, error) {
	var d Descriptor
	err := decodeFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != len(d.UUID) {
				return 0, ErrMalformedMessage
			}
			copy(d.UUID[:], v)
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			d.Handle = uint32(v)
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	return d, err
}

func encodeCharacteristic(buf []byte, num protowire.Number, c Characteristic) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, 1, protowire.BytesType)
	inner = protowire.AppendBytes(inner, c.UUID[:])
	inner = protowire.AppendTag(inner, 2, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(c.Handle))
	inner = protowire.AppendTag(inner, 3, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(c.Properties))
	for _, d := range c.Descriptors {
		inner = encodeDescriptor(inner, 4, d)
	}

	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, inner)
}

func decodeCharacteristic(raw []byte) (Characteristic, error) {
	var c Characteristic
	err := decodeFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != len(c.UUID) {
				return 0, ErrMalformedMessage
			}
			copy(c.UUID[:], v)
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			c.Handle = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			c.Properties = uint32(v)
			return n, nil
		case 4:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			d, err := decodeDescriptor(raw)
			if err != nil {
				return 0, err
			}
			c.Descriptors = append(c.Descriptors, d)
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	return c, err
}

func encodeService(buf []byte, num protowire.Number, s Service) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, 1, protowire.BytesType)
	inner = protowire.AppendBytes(inner, s.UUID[:])
	inner = protowire.AppendTag(inner, 2, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(s.Handle))
	for _, c := range s.Characteristics {
		inner = encodeCharacteristic(inner, 3, c)
	}

	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, inner)
}

func decodeService(raw []byte) (Service, error) {
	var s Service
	err := decodeFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != len(s.UUID) {
				return 0, ErrMalformedMessage
			}
			copy(s.UUID[:], v)
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			s.Handle = uint32(v)
			return n, nil
		case 3:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			c, err := decodeCharacteristic(raw)
			if err != nil {
				return 0, err
			}
			s.Characteristics = append(s.Characteristics, c)
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	return s, err
}

// GattGetServicesReq requests service discovery for a peripheral (§4.8).
type GattGetServicesReq struct {
	Address uint64
}

func (*GattGetServicesReq) MsgType() MsgType { return MsgGattGetServicesReq }

func encodeGattGetServicesReq(m *GattGetServicesReq) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Address)
	return b
}

func decodeGattGetServicesReq(payload []byte) (*GattGetServicesReq, error) {
	msg := &GattGetServicesReq{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Address = v
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GattGetServicesResp carries one discovered service (possibly one of
// several; the stream ends with GattGetServicesDone).
type GattGetServicesResp struct {
	Address uint64
	Service Service
}

func (*GattGetServicesResp) MsgType() MsgType { return MsgGattGetServicesResp }

func encodeGattGetServicesResp(m *GattGetServicesResp) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Address)
	b = encodeService(b, 2, m.Service)
	return b
}

func decodeGattGetServicesResp(payload []byte) (*GattGetServicesResp, error) {
	msg := &GattGetServicesResp{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Address = v
			return n, nil
		case 2:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			svc, err := decodeService(raw)
			if err != nil {
				return 0, err
			}
			msg.Service = svc
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GattGetServicesDone ends a service-discovery stream.
type GattGetServicesDone struct {
	Address uint64
}

func (*GattGetServicesDone) MsgType() MsgType { return MsgGattGetServicesDone }

func encodeGattGetServicesDone(m *GattGetServicesDone) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Address)
	return b
}

func decodeGattGetServicesDone(payload []byte) (*GattGetServicesDone, error) {
	msg := &GattGetServicesDone{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Address = v
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// addrHandleReq/Resp-shaped messages (read/write of a characteristic or
// descriptor) all share the same three fields, so encode/decode are
// generated once and reused by value read/write and descriptor read/write.

type addrHandleData struct {
	Address uint64
	Handle  uint32
	Data    []byte
}

func encodeAddrHandleData(m addrHandleData) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Address)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Handle))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	return b
}

func decodeAddrHandleData(payload []byte) (addrHandleData, error) {
	var m addrHandleData
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			m.Address = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			m.Handle = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			m.Data = append([]byte(nil), v...)
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	return m, err
}

// GattReadReq requests a characteristic value read.
type GattReadReq struct {
	Address uint64
	Handle  uint32
}

func (*GattReadReq) MsgType() MsgType { return MsgGattReadReq }

func encodeGattReadReq(m *GattReadReq) []byte {
	return encodeAddrHandleData(addrHandleData{Address: m.Address, Handle: m.Handle})
}

func decodeGattReadReq(payload []byte) (*GattReadReq, error) {
	d, err := decodeAddrHandleData(payload)
	if err != nil {
		return nil, err
	}
	return &GattReadReq{Address: d.Address, Handle: d.Handle}, nil
}

// GattReadResp carries the value read back from a characteristic.
type GattReadResp struct {
	Address uint64
	Handle  uint32
	Data    []byte
}

func (*GattReadResp) MsgType() MsgType { return MsgGattReadResp }

func encodeGattReadResp(m *GattReadResp) []byte {
	return encodeAddrHandleData(addrHandleData{Address: m.Address, Handle: m.Handle, Data: m.Data})
}

func decodeGattReadResp(payload []byte) (*GattReadResp, error) {
	d, err := decodeAddrHandleData(payload)
	if err != nil {
		return nil, err
	}
	return &GattReadResp{Address: d.Address, Handle: d.Handle, Data: d.Data}, nil
}

// GattWriteReq requests a characteristic value write. WithResponse selects
// write-with-response vs write-without-response at the adapter.
type GattWriteReq struct {
	Address      uint64
	Handle       uint32
	Data         []byte
	WithResponse bool
}

func (*GattWriteReq) MsgType() MsgType { return MsgGattWriteReq }

func encodeGattWriteReq(m *GattWriteReq) []byte {
	b := encodeAddrHandleData(addrHandleData{Address: m.Address, Handle: m.Handle, Data: m.Data})
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.WithResponse))
	return b
}

func decodeGattWriteReq(payload []byte) (*GattWriteReq, error) {
	msg := &GattWriteReq{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Address = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Handle = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Data = append([]byte(nil), v...)
			return n, nil
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.WithResponse = v != 0
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GattWriteResp acknowledges a successful GattWriteReq; it is sent whether
// or not WithResponse was set.
type GattWriteResp struct {
	Address uint64
	Handle  uint32
}

func (*GattWriteResp) MsgType() MsgType { return MsgGattWriteResp }

func encodeGattWriteResp(m *GattWriteResp) []byte {
	return encodeAddrHandleData(addrHandleData{Address: m.Address, Handle: m.Handle})
}

func decodeGattWriteResp(payload []byte) (*GattWriteResp, error) {
	d, err := decodeAddrHandleData(payload)
	if err != nil {
		return nil, err
	}
	return &GattWriteResp{Address: d.Address, Handle: d.Handle}, nil
}

// GattReadDescReq requests a descriptor value read. Shape mirrors
// GattReadReq; Handle addresses the descriptor's own handle.
type GattReadDescReq struct {
	Address uint64
	Handle  uint32
}

func (*GattReadDescReq) MsgType() MsgType { return MsgGattReadDescReq }

func encodeGattReadDescReq(m *GattReadDescReq) []byte {
	return encodeAddrHandleData(addrHandleData{Address: m.Address, Handle: m.Handle})
}

func decodeGattReadDescReq(payload []byte) (*GattReadDescReq, error) {
	d, err := decodeAddrHandleData(payload)
	if err != nil {
		return nil, err
	}
	return &GattReadDescReq{Address: d.Address, Handle: d.Handle}, nil
}

// GattReadDescResp carries the value read back from a descriptor.
type GattReadDescResp struct {
	Address uint64
	Handle  uint32
	Data    []byte
}

func (*GattReadDescResp) MsgType() MsgType { return MsgGattReadDescResp }

func encodeGattReadDescResp(m *GattReadDescResp) []byte {
	return encodeAddrHandleData(addrHandleData{Address: m.Address, Handle: m.Handle, Data: m.Data})
}

func decodeGattReadDescResp(payload []byte) (*GattReadDescResp, error) {
	d, err := decodeAddrHandleData(payload)
	if err != nil {
		return nil, err
	}
	return &GattReadDescResp{Address: d.Address, Handle: d.Handle, Data: d.Data}, nil
}

// GattWriteDescReq requests a descriptor value write.
type GattWriteDescReq struct {
	Address uint64
	Handle  uint32
	Data    []byte
}

func (*GattWriteDescReq) MsgType() MsgType { return MsgGattWriteDescReq }

func encodeGattWriteDescReq(m *GattWriteDescReq) []byte {
	return encodeAddrHandleData(addrHandleData{Address: m.Address, Handle: m.Handle, Data: m.Data})
}

func decodeGattWriteDescReq(payload []byte) (*GattWriteDescReq, error) {
	d, err := decodeAddrHandleData(payload)
	if err != nil {
		return nil, err
	}
	return &GattWriteDescReq{Address: d.Address, Handle: d.Handle, Data: d.Data}, nil
}

// GattWriteDescResp acknowledges a GattWriteDescReq.
type GattWriteDescResp struct {
	Address uint64
	Handle  uint32
}

func (*GattWriteDescResp) MsgType() MsgType { return MsgGattWriteDescResp }

func encodeGattWriteDescResp(m *GattWriteDescResp) []byte {
	return encodeAddrHandleData(addrHandleData{Address: m.Address, Handle: m.Handle})
}

func decodeGattWriteDescResp(payload []byte) (*GattWriteDescResp, error) {
	d, err := decodeAddrHandleData(payload)
	if err != nil {
		return nil, err
	}
	return &GattWriteDescResp{Address: d.Address, Handle: d.Handle}, nil
}

// GattNotifyReq (un)subscribes to notifications/indications from a
// characteristic handle.
type GattNotifyReq struct {
	Address uint64
	Handle  uint32
	Enable  bool
}

func (*GattNotifyReq) MsgType() MsgType { return MsgGattNotifyReq }

func encodeGattNotifyReq(m *GattNotifyReq) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Address)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Handle))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.Enable))
	return b
}

func decodeGattNotifyReq(payload []byte) (*GattNotifyReq, error) {
	msg := &GattNotifyReq{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Address = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Handle = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Enable = v != 0
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GattNotifyResp acknowledges a GattNotifyReq.
type GattNotifyResp struct {
	Address uint64
	Handle  uint32
	Enable  bool
}

func (*GattNotifyResp) MsgType() MsgType { return MsgGattNotifyResp }

func encodeGattNotifyResp(m *GattNotifyResp) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Address)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Handle))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.Enable))
	return b
}

func decodeGattNotifyResp(payload []byte) (*GattNotifyResp, error) {
	msg := &GattNotifyResp{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Address = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Handle = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Enable = v != 0
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GattNotifyDataResp carries one out-of-band notification/indication value.
type GattNotifyDataResp struct {
	Address uint64
	Handle  uint32
	Data    []byte
}

func (*GattNotifyDataResp) MsgType() MsgType { return MsgGattNotifyDataResp }

func encodeGattNotifyDataResp(m *GattNotifyDataResp) []byte {
	return encodeAddrHandleData(addrHandleData{Address: m.Address, Handle: m.Handle, Data: m.Data})
}

func decodeGattNotifyDataResp(payload []byte) (*GattNotifyDataResp, error) {
	d, err := decodeAddrHandleData(payload)
	if err != nil {
		return nil, err
	}
	return &GattNotifyDataResp{Address: d.Address, Handle: d.Handle, Data: d.Data}, nil
}

// GattErrorResp reports a GATT operation failure for (address, handle).
type GattErrorResp struct {
	Address uint64
	Handle  uint32
	Error   uint32
}

func (*GattErrorResp) MsgType() MsgType { return MsgGattErrorResp }

func encodeGattErrorResp(m *GattErrorResp) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Address)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Handle))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Error))
	return b
}

func decodeGattErrorResp(payload []byte) (*GattErrorResp, error) {
	msg := &GattErrorResp{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Address = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Handle = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Error = uint32(v)
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}
