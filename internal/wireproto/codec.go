package wireproto

import "google.golang.org/protobuf/encoding/protowire"

// Codec encodes and decodes wireproto messages to and from the raw payload
// bytes carried inside an internal/wire.Frame.
type Codec interface {
	Encode(msg Message) ([]byte, error)
	Decode(msgType MsgType, payload []byte) (Message, error)
}

// protowireCodec is the only Codec implementation: a per-message-type
// dispatch table over hand-written encode/decode functions.
type protowireCodec struct{}

// NewCodec returns the standard wireproto Codec.
func NewCodec() Codec {
	return protowireCodec{}
}

func (protowireCodec) Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *HelloReq:
		return encodeHelloReq(m), nil
	case *HelloResp:
		return encodeHelloResp(m), nil
	case *ConnectReq:
		return encodeConnectReq(m), nil
	case *ConnectResp:
		return encodeConnectResp(m), nil
	case *DisconnectReq:
		return encodeDisconnectReq(m), nil
	case *DisconnectResp:
		return encodeDisconnectResp(m), nil
	case *PingReq:
		return encodePingReq(m), nil
	case *PingResp:
		return encodePingResp(m), nil
	case *DeviceInfoReq:
		return encodeDeviceInfoReq(m), nil
	case *DeviceInfoResp:
		return encodeDeviceInfoResp(m), nil
	case *ListEntitiesReq:
		return encodeListEntitiesReq(m), nil
	case *ListEntitiesDone:
		return encodeListEntitiesDone(m), nil
	case *SubscribeBleAdsReq:
		return encodeSubscribeBleAdsReq(m), nil
	case *UnsubscribeBleAdsReq:
		return encodeUnsubscribeBleAdsReq(m), nil
	case *BleRawAdsResp:
		return encodeBleRawAdsResp(m), nil
	case *SubscribeScannerStateReq:
		return encodeSubscribeScannerStateReq(m), nil
	case *ScannerStateResp:
		return encodeScannerStateResp(m), nil
	case *BleDeviceReq:
		return encodeBleDeviceReq(m), nil
	case *BleDeviceConnResp:
		return encodeBleDeviceConnResp(m), nil
	case *GattGetServicesReq:
		return encodeGattGetServicesReq(m), nil
	case *GattGetServicesResp:
		return encodeGattGetServicesResp(m), nil
	case *GattGetServicesDone:
		return encodeGattGetServicesDone(m), nil
	case *GattReadReq:
		return encodeGattReadReq(m), nil
	case *GattReadResp:
		return encodeGattReadResp(m), nil
	case *GattWriteReq:
		return encodeGattWriteReq(m), nil
	case *GattWriteResp:
		return encodeGattWriteResp(m), nil
	case *GattReadDescReq:
		return encodeGattReadDescReq(m), nil
	case *GattReadDescResp:
		return encodeGattReadDescResp(m), nil
	case *GattWriteDescReq:
		return encodeGattWriteDescReq(m), nil
	case *GattWriteDescResp:
		return encodeGattWriteDescResp(m), nil
	case *GattNotifyReq:
		return encodeGattNotifyReq(m), nil
	case *GattNotifyResp:
		return encodeGattNotifyResp(m), nil
	case *GattNotifyDataResp:
		return encodeGattNotifyDataResp(m), nil
	case *GattErrorResp:
		return encodeGattErrorResp(m), nil
	default:
		return nil, ErrUnknownMessageType
	}
}

func (protowireCodec) Decode(msgType MsgType, payload []byte) (Message, error) {
	switch msgType {
	case MsgHelloReq:
		return decodeHelloReq(payload)
	case MsgHelloResp:
		return decodeHelloResp(payload)
	case MsgConnectReq:
		return decodeConnectReq(payload)
	case MsgConnectResp:
		return decodeConnectResp(payload)
	case MsgDisconnectReq:
		return decodeDisconnectReq(payload)
	case MsgDisconnectResp:
		return decodeDisconnectResp(payload)
	case MsgPingReq:
		return decodePingReq(payload)
	case MsgPingResp:
		return decodePingResp(payload)
	case MsgDeviceInfoReq:
		return decodeDeviceInfoReq(payload)
	case MsgDeviceInfoResp:
		return decodeDeviceInfoResp(payload)
	case MsgListEntitiesReq:
		return decodeListEntitiesReq(payload)
	case MsgListEntitiesDone:
		return decodeListEntitiesDone(payload)
	case MsgSubscribeBleAdsReq:
		return decodeSubscribeBleAdsReq(payload)
	case MsgUnsubscribeBleAdsReq:
		return decodeUnsubscribeBleAdsReq(payload)
	case MsgBleRawAdsResp:
		return decodeBleRawAdsResp(payload)
	case MsgSubscribeScannerStateReq:
		return decodeSubscribeScannerStateReq(payload)
	case MsgScannerStateResp:
		return decodeScannerStateResp(payload)
	case MsgBleDeviceReq:
		return decodeBleDeviceReq(payload)
	case MsgBleDeviceConnResp:
		return decodeBleDeviceConnResp(payload)
	case MsgGattGetServicesReq:
		return decodeGattGetServicesReq(payload)
	case MsgGattGetServicesResp:
		return decodeGattGetServicesResp(payload)
	case MsgGattGetServicesDone:
		return decodeGattGetServicesDone(payload)
	case MsgGattReadReq:
		return decodeGattReadReq(payload)
	case MsgGattReadResp:
		return decodeGattReadResp(payload)
	case MsgGattWriteReq:
		return decodeGattWriteReq(payload)
	case MsgGattWriteResp:
		return decodeGattWriteResp(payload)
	case MsgGattReadDescReq:
		return decodeGattReadDescReq(payload)
	case MsgGattReadDescResp:
		return decodeGattReadDescResp(payload)
	case MsgGattWriteDescReq:
		return decodeGattWriteDescReq(payload)
	case MsgGattWriteDescResp:
		return decodeGattWriteDescResp(payload)
	case MsgGattNotifyReq:
		return decodeGattNotifyReq(payload)
	case MsgGattNotifyResp:
		return decodeGattNotifyResp(payload)
	case MsgGattNotifyDataResp:
		return decodeGattNotifyDataResp(payload)
	case MsgGattErrorResp:
		return decodeGattErrorResp(payload)
	default:
		return nil, ErrUnknownMessageType
	}
}

// decodeFields walks every (field number, wire type, value bytes) tuple in
// payload, handing each to handle. handle must consume and return the
// number of bytes the field's value occupies (protowire.ConsumeFieldValue
// for fields it doesn't recognize).
//
// The frame layer (internal/wire) already guarantees payload is complete,
// so unlike varint decoding there, any parse failure here is simply
// malformed — there's no "need more bytes" case to distinguish.
func decodeFields(payload []byte, handle func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	b := payload
	for len(b) > 0 {
		num, typ, tagN := protowire.ConsumeTag(b)
		if tagN < 0 {
			return ErrMalformedMessage
		}
		b = b[tagN:]

		n, err := handle(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 || n > len(b) {
			return ErrMalformedMessage
		}
		b = b[n:]
	}
	return nil
}

func consumeUnknown(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, ErrMalformedMessage
	}
	return n, nil
}
