package wireproto

// MsgType identifies a frame's payload schema. Values are this proxy's own
// numbering, not required to match any other implementation's wire
// constants — only client and server built from this module need to agree.
type MsgType uint32

const (
	MsgHelloReq MsgType = iota + 1
	MsgHelloResp
	MsgConnectReq
	MsgConnectResp
	MsgDisconnectReq
	MsgDisconnectResp
	MsgPingReq
	MsgPingResp

	MsgDeviceInfoReq
	MsgDeviceInfoResp
	MsgListEntitiesReq
	MsgListEntitiesDone

	MsgSubscribeBleAdsReq
	MsgUnsubscribeBleAdsReq
	MsgBleRawAdsResp

	MsgSubscribeScannerStateReq
	MsgScannerStateResp

	MsgBleDeviceReq
	MsgBleDeviceConnResp

	MsgGattGetServicesReq
	MsgGattGetServicesResp
	MsgGattGetServicesDone
	MsgGattReadReq
	MsgGattReadResp
	MsgGattWriteReq
	MsgGattWriteResp
	MsgGattReadDescReq
	MsgGattReadDescResp
	MsgGattWriteDescReq
	MsgGattWriteDescResp
	MsgGattNotifyReq
	MsgGattNotifyResp
	MsgGattNotifyDataResp
	MsgGattErrorResp
)

// Message is implemented by every concrete wireproto type so the codec can
// recover a frame's msg_type from a decoded value (e.g. when re-encoding a
// reply).
type Message interface {
	MsgType() MsgType
}
