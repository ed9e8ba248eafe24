package bleadapter

import (
	"github.com/go-ble/ble"
	"github.com/srg/bleproxy/internal/wireproto"
)

// handleFor packs a go-ble attribute handle (already a uint16 in the
// library) into the uint32 handle space the wire protocol and adapter
// contract use.
func handleFor(h uint16) uint32 { return uint32(h) }

// indexProfile populates conn's char/desc lookup tables from a freshly
// discovered profile, so later Read/Write/Subscribe calls can resolve a
// wire-level handle back to the *ble.Characteristic/*ble.Descriptor the
// client library needs.
func indexProfile(profile *ble.Profile, conn *liveConn) {
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			conn.chars[handleFor(c.Handle)] = c
			for _, d := range c.Descriptors {
				conn.descs[handleFor(d.Handle)] = d
			}
		}
	}
}

// profileToServices converts a go-ble profile into the wire-level service
// tree sent back in GattGetServicesResp.
func profileToServices(profile *ble.Profile) ([]wireproto.Service, error) {
	services := make([]wireproto.Service, 0, len(profile.Services))
	for _, svc := range profile.Services {
		id, err := parseUUID(svc.UUID.String())
		if err != nil {
			return nil, err
		}
		ws := wireproto.Service{UUID: id, Handle: handleFor(svc.Handle)}

		for _, c := range svc.Characteristics {
			cid, err := parseUUID(c.UUID.String())
			if err != nil {
				return nil, err
			}
			wc := wireproto.Characteristic{
				UUID:       cid,
				Handle:     handleFor(c.Handle),
				Properties: uint32(c.Property),
			}
			for _, d := range c.Descriptors {
				did, err := parseUUID(d.UUID.String())
				if err != nil {
					return nil, err
				}
				wc.Descriptors = append(wc.Descriptors, wireproto.Descriptor{
					UUID:   did,
					Handle: handleFor(d.Handle),
				})
			}
			ws.Characteristics = append(ws.Characteristics, wc)
		}
		services = append(services, ws)
	}
	return services, nil
}
