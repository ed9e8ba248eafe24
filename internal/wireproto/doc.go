// Package wireproto implements the native API's message catalogue (§6.2):
// the concrete Go types for every Hello/Connect/DeviceInfo/GATT/... message,
// plus protocol-buffer encode/decode for each one.
//
// Encoding is hand-written per message using protowire's low-level
// varint/tag primitives rather than generated .pb.go types, since no
// .proto/protoc toolchain is available here; the wire format (field
// numbers, types) matches what a generated encoder would produce.
package wireproto
