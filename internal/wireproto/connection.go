package wireproto

import "google.golang.org/protobuf/encoding/protowire"

// BleDeviceReqKind selects the operation BleDeviceReq performs (§6.2).
type BleDeviceReqKind uint32

const (
	BleDeviceReqConnect BleDeviceReqKind = iota
	BleDeviceReqDisconnect
	BleDeviceReqPair
	BleDeviceReqUnpair
	BleDeviceReqClearCache
)

// BleDeviceReq drives the connection state machine (C6, §4.6) for one
// peripheral.
type BleDeviceReq struct {
	Address     uint64
	AddressType uint32
	Kind        BleDeviceReqKind
}

func (*BleDeviceReq) MsgType() MsgType { return MsgBleDeviceReq }

func encodeBleDeviceReq(m *BleDeviceReq) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Address)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.AddressType))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))
	return b
}

func decodeBleDeviceReq(payload []byte) (*BleDeviceReq, error) {
	msg := &BleDeviceReq{}
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
			msg.AddressType = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Kind = BleDeviceReqKind(v)
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

// BleDeviceConnResp reports a connection-state transition (§4.6) for one
// peripheral: connected/disconnected, negotiated MTU, and an error code
// (0 meaning success).
type BleDeviceConnResp struct {
	Address   uint64
	Connected bool
	MTU       uint32
	Error     uint32
}

func (*BleDeviceConnResp) MsgType() MsgType { return MsgBleDeviceConnResp }

func encodeBleDeviceConnResp(m *BleDeviceConnResp) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Address)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.Connected))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.MTU))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Error))
	return b
}

func decodeBleDeviceConnResp(payload []byte) (*BleDeviceConnResp, error) {
	msg := &BleDeviceConnResp{}
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
			msg.Connected = v != 0
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.MTU = uint32(v)
			return n, nil
		case 4:
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
