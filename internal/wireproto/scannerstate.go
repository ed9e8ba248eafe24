package wireproto

import "google.golang.org/protobuf/encoding/protowire"

// ScannerMode mirrors the scanner's reported state (§4.5): idle, passive,
// or active.
type ScannerMode uint32

const (
	ScannerModeIdle ScannerMode = iota
	ScannerModePassive
	ScannerModeActive
)

// SubscribeScannerStateReq opts a session into scanner-state change
// notifications; the coordinator also sends the current state immediately
// on subscription (§4.9).
type SubscribeScannerStateReq struct{}

func (*SubscribeScannerStateReq) MsgType() MsgType { return MsgSubscribeScannerStateReq }

func encodeSubscribeScannerStateReq(*SubscribeScannerStateReq) []byte { return nil }

func decodeSubscribeScannerStateReq(payload []byte) (*SubscribeScannerStateReq, error) {
	msg := &SubscribeScannerStateReq{}
	if err := decodeFields(payload, consumeUnknown); err != nil {
		return nil, err
	}
	return msg, nil
}

// ScannerStateResp reports the scanner's current mode.
type ScannerStateResp struct {
	Mode ScannerMode
}

func (*ScannerStateResp) MsgType() MsgType { return MsgScannerStateResp }

func encodeScannerStateResp(m *ScannerStateResp) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Mode))
	return b
}

func decodeScannerStateResp(payload []byte) (*ScannerStateResp, error) {
	msg := &ScannerStateResp{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Mode = ScannerMode(v)
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
