package wireproto

import "google.golang.org/protobuf/encoding/protowire"

// APIVersionMajor and APIVersionMinor are the native API protocol version
// this proxy implements, reported in every HelloResp.
const (
	APIVersionMajor uint32 = 1
	APIVersionMinor uint32 = 10
)

// HelloReq is the first message a client sends on a new connection.
type HelloReq struct {
	ClientInfo     string
	APIVersionMajor uint32
	APIVersionMinor uint32
}

func (*HelloReq) MsgType() MsgType { return MsgHelloReq }

func encodeHelloReq(m *HelloReq) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.ClientInfo)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.APIVersionMajor))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.APIVersionMinor))
	return b
}

func decodeHelloReq(payload []byte) (*HelloReq, error) {
	msg := &HelloReq{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.ClientInfo = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.APIVersionMajor = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.APIVersionMinor = uint32(v)
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

// HelloResp answers HelloReq with the server's own identity and version.
type HelloResp struct {
	APIVersionMajor uint32
	APIVersionMinor uint32
	ServerInfo      string
	Name            string
}

func (*HelloResp) MsgType() MsgType { return MsgHelloResp }

func encodeHelloResp(m *HelloResp) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.APIVersionMajor))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.APIVersionMinor))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.ServerInfo)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, m.Name)
	return b
}

func decodeHelloResp(payload []byte) (*HelloResp, error) {
	msg := &HelloResp{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.APIVersionMajor = uint32(v)
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.APIVersionMinor = uint32(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.ServerInfo = v
			return n, nil
		case 4:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Name = v
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

// ConnectReq authenticates a session with the daemon's configured password.
type ConnectReq struct {
	Password string
}

func (*ConnectReq) MsgType() MsgType { return MsgConnectReq }

func encodeConnectReq(m *ConnectReq) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.Password)
	return b
}

func decodeConnectReq(payload []byte) (*ConnectReq, error) {
	msg := &ConnectReq{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.Password = v
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

// ConnectResp reports whether ConnectReq's password was accepted.
type ConnectResp struct {
	InvalidPassword bool
}

func (*ConnectResp) MsgType() MsgType { return MsgConnectResp }

func encodeConnectResp(m *ConnectResp) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.InvalidPassword))
	return b
}

func decodeConnectResp(payload []byte) (*ConnectResp, error) {
	msg := &ConnectResp{}
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ErrMalformedMessage
			}
			msg.InvalidPassword = v != 0
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

// DisconnectReq asks the peer to end the control session cleanly.
type DisconnectReq struct{}

func (*DisconnectReq) MsgType() MsgType { return MsgDisconnectReq }

func encodeDisconnectReq(*DisconnectReq) []byte { return nil }

func decodeDisconnectReq(payload []byte) (*DisconnectReq, error) {
	msg := &DisconnectReq{}
	if err := decodeFields(payload, consumeUnknown); err != nil {
		return nil, err
	}
	return msg, nil
}

// DisconnectResp acknowledges a DisconnectReq.
type DisconnectResp struct{}

func (*DisconnectResp) MsgType() MsgType { return MsgDisconnectResp }

func encodeDisconnectResp(*DisconnectResp) []byte { return nil }

func decodeDisconnectResp(payload []byte) (*DisconnectResp, error) {
	msg := &DisconnectResp{}
	if err := decodeFields(payload, consumeUnknown); err != nil {
		return nil, err
	}
	return msg, nil
}

// PingReq is a keepalive probe; the session closes with PingTimeout if no
// PingResp arrives in time.
type PingReq struct{}

func (*PingReq) MsgType() MsgType { return MsgPingReq }

func encodePingReq(*PingReq) []byte { return nil }

func decodePingReq(payload []byte) (*PingReq, error) {
	msg := &PingReq{}
	if err := decodeFields(payload, consumeUnknown); err != nil {
		return nil, err
	}
	return msg, nil
}

// PingResp answers PingReq.
type PingResp struct{}

func (*PingResp) MsgType() MsgType { return MsgPingResp }

func encodePingResp(*PingResp) []byte { return nil }

func decodePingResp(payload []byte) (*PingResp, error) {
	msg := &PingResp{}
	if err := decodeFields(payload, consumeUnknown); err != nil {
		return nil, err
	}
	return msg, nil
}

func boolToVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
