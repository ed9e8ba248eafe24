package wireproto

import "google.golang.org/protobuf/encoding/protowire"

// Bluetooth-proxy feature flags, carried in DeviceInfoResp. Bit layout per
// §6.2: passive_scan=1, active_connections=2, remote_caching=4, pairing=8,
// cache_clearing=16, raw_ads=32, state_and_mode=64.
const (
	FeaturePassiveScan      uint32 = 1 << 0
	FeatureActiveConnections uint32 = 1 << 1
	FeatureRemoteCaching    uint32 = 1 << 2
	FeaturePairing          uint32 = 1 << 3
	FeatureCacheClearing    uint32 = 1 << 4
	FeatureRawAds           uint32 = 1 << 5
	FeatureStateAndMode     uint32 = 1 << 6
)

// DeviceInfoReq asks for the daemon's identity and capability flags.
type DeviceInfoReq struct{}

func (*DeviceInfoReq) MsgType() MsgType { return MsgDeviceInfoReq }

func encodeDeviceInfoReq(*DeviceInfoReq) []byte { return nil }

func decodeDeviceInfoReq(payload []byte) (*DeviceInfoReq, error) {
	msg := &DeviceInfoReq{}
	if err := decodeFields(payload, consumeUnknown); err != nil {
		return nil, err
	}
	return msg, nil
}

// DeviceInfoResp describes this proxy: its identity and which
// bluetooth-proxy features (§6.2) it supports.
type DeviceInfoResp struct {
	Name                       string
	FriendlyName               string
	BluetoothProxyFeatureFlags uint32
	BluetoothMacAddress        string
}

func (*DeviceInfoResp) MsgType() MsgType { return MsgDeviceInfoResp }

func encodeDeviceInfoResp(m *DeviceInfoResp) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.Name)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.FriendlyName)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.BluetoothProxyFeatureFlags))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, m.BluetoothMacAddress)
	return b
}

func decodeDeviceInfoResp(payload []byte) (*DeviceInfoResp, error) {
	msg := &DeviceInfoResp{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Name = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.FriendlyName = v
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.BluetoothProxyFeatureFlags = uint32(v)
			return n, nil
		case 4:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.BluetoothMacAddress = v
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

// ListEntitiesReq starts entity enumeration. This proxy exposes no native
// entities of its own (it forwards raw BLE data), so the only reply is
// ListEntitiesDone.
type ListEntitiesReq struct{}

func (*ListEntitiesReq) MsgType() MsgType { return MsgListEntitiesReq }

func encodeListEntitiesReq(*ListEntitiesReq) []byte { return nil }

func decodeListEntitiesReq(payload []byte) (*ListEntitiesReq, error) {
	msg := &ListEntitiesReq{}
	if err := decodeFields(payload, consumeUnknown); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListEntitiesDone terminates entity enumeration.
type ListEntitiesDone struct{}

func (*ListEntitiesDone) MsgType() MsgType { return MsgListEntitiesDone }

func encodeListEntitiesDone(*ListEntitiesDone) []byte { return nil }

func decodeListEntitiesDone(payload []byte) (*ListEntitiesDone, error) {
	msg := &ListEntitiesDone{}
	if err := decodeFields(payload, consumeUnknown); err != nil {
		return nil, err
	}
	return msg, nil
}
