package wireproto

import "google.golang.org/protobuf/encoding/protowire"

// Ad is one raw BLE advertisement (spec §3): a 48-bit address, its address
// type, an RSSI reading, and up to 62 bytes of manufacturer/service data.
type Ad struct {
	Address     uint64
	AddressType uint32
	RSSI        int32
	Data        []byte
}

func encodeAd(buf []byte, num protowire.Number, ad Ad) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, 1, protowire.VarintType)
	inner = protowire.AppendVarint(inner, ad.Address)
	inner = protowire.AppendTag(inner, 2, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(ad.AddressType))
	inner = protowire.AppendTag(inner, 3, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(uint32(ad.RSSI)))
	inner = protowire.AppendTag(inner, 4, protowire.BytesType)
	inner = protowire.AppendBytes(inner, ad.Data)

	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	buf = protowire.AppendBytes(buf, inner)
	return buf
}

func decodeAd(raw []byte) (Ad, error) {
	var ad Ad
	err := decodeFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			ad.Address = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			ad.AddressType = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			ad.RSSI = int32(int8(uint8(v)))
			return n, nil
		case 4:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			ad.Data = append([]byte(nil), v...)
			return n, nil
		default:
			return consumeUnknown(num, typ, b)
		}
	})
	return ad, err
}

// AdsFlagActiveScan is the one bit SubscribeBleAdsReq.Flags currently
// defines: set to request active (scan-request) scanning, clear for
// passive. §4.10 ORs this across all subscribers — one active preference
// wins for everyone.
const AdsFlagActiveScan uint32 = 1 << 0

// SubscribeBleAdsReq opts a session into the raw advertisement stream.
// Flags currently controls only whether scanning should run active
// (AdsFlagActiveScan, bit 0) vs passive; §4.10 ORs this across all
// subscribers.
type SubscribeBleAdsReq struct {
	Flags uint32
}

func (*SubscribeBleAdsReq) MsgType() MsgType { return MsgSubscribeBleAdsReq }

func encodeSubscribeBleAdsReq(m *SubscribeBleAdsReq) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Flags))
	return b
}

func decodeSubscribeBleAdsReq(payload []byte) (*SubscribeBleAdsReq, error) {
	msg := &SubscribeBleAdsReq{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Flags = uint32(v)
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

// UnsubscribeBleAdsReq ends a session's advertisement subscription.
type UnsubscribeBleAdsReq struct{}

func (*UnsubscribeBleAdsReq) MsgType() MsgType { return MsgUnsubscribeBleAdsReq }

func encodeUnsubscribeBleAdsReq(*UnsubscribeBleAdsReq) []byte { return nil }

func decodeUnsubscribeBleAdsReq(payload []byte) (*UnsubscribeBleAdsReq, error) {
	msg := &UnsubscribeBleAdsReq{}
	if err := decodeFields(payload, consumeUnknown); err != nil {
		return nil, err
	}
	return msg, nil
}

// BleRawAdsResp carries one advertisement batch (§3, §4.4): 1 to BATCH_MAX
// advertisements, in radio-delivery order.
type BleRawAdsResp struct {
	Advertisements []Ad
}

func (*BleRawAdsResp) MsgType() MsgType { return MsgBleRawAdsResp }

func encodeBleRawAdsResp(m *BleRawAdsResp) []byte {
	var b []byte
	for _, ad := range m.Advertisements {
		b = encodeAd(b, 1, ad)
	}
	return b
}

func decodeBleRawAdsResp(payload []byte) (*BleRawAdsResp, error) {
	msg := &BleRawAdsResp{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			ad, err := decodeAd(raw)
			if err != nil {
				return 0, err
			}
			msg.Advertisements = append(msg.Advertisements, ad)
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
