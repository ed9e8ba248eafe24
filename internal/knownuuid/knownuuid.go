// Package knownuuid maps the Bluetooth SIG's 16-bit assigned-number GATT
// UUIDs to short human-readable names (0x180f is "Battery") and expands
// 16-bit short forms to full 128-bit UUIDs. This is a hand-curated subset,
// not the full SIG registry.
package knownuuid

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// base is the Bluetooth Base UUID; 16-bit short-form UUIDs are this base
// with bytes 2-3 replaced by the short value.
const base = "00000000-0000-1000-8000-00805f9b34fb"

var services = map[uint16]string{
	0x1800: "Generic Access",
	0x1801: "Generic Attribute",
	0x180a: "Device Information",
	0x180d: "Heart Rate",
	0x180f: "Battery",
	0x181a: "Environmental Sensing",
	0x1812: "Human Interface Device",
	0xfe59: "Nordic DFU",
}

var characteristics = map[uint16]string{
	0x2a00: "Device Name",
	0x2a01: "Appearance",
	0x2a19: "Battery Level",
	0x2a37: "Heart Rate Measurement",
	0x2a29: "Manufacturer Name String",
	0x2a24: "Model Number String",
	0x2a26: "Firmware Revision String",
}

var descriptors = map[uint16]string{
	0x2900: "Characteristic Extended Properties",
	0x2901: "Characteristic User Description",
	0x2902: "Client Characteristic Configuration",
	0x2903: "Server Characteristic Configuration",
	0x2904: "Characteristic Presentation Format",
}

// ShortForm returns id's 16-bit short form and true if id is a short-form
// UUID derived from the Bluetooth Base UUID, else (0, false).
func ShortForm(id uuid.UUID) (uint16, bool) {
	s := id.String()
	if len(s) != len(base) {
		return 0, false
	}
	if s[0:4] != "0000" || !strings.EqualFold(s[8:], base[8:]) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[4:8], 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// ExpandShortForm builds the full 128-bit UUID for a 16-bit short-form value
// derived from the Bluetooth Base UUID, the inverse of ShortForm.
func ExpandShortForm(short uint16) uuid.UUID {
	return uuid.MustParse(base[0:4] + strconv.FormatUint(uint64(short)+0x10000, 16)[1:] + base[8:])
}

// ServiceName returns a friendly name for id, or "" if unknown.
func ServiceName(id uuid.UUID) string {
	if short, ok := ShortForm(id); ok {
		return services[short]
	}
	return ""
}

// CharacteristicName returns a friendly name for id, or "" if unknown.
func CharacteristicName(id uuid.UUID) string {
	if short, ok := ShortForm(id); ok {
		return characteristics[short]
	}
	return ""
}

// DescriptorName returns a friendly name for id, or "" if unknown.
func DescriptorName(id uuid.UUID) string {
	if short, ok := ShortForm(id); ok {
		return descriptors[short]
	}
	return ""
}
