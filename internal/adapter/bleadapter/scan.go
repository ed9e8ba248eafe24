package bleadapter

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/bleproxy/internal/groutine"
	"github.com/srg/bleproxy/internal/wireproto"
)

func (a *Adapter) StartScan(ctx context.Context, active bool) error {
	a.mu.Lock()
	if a.scanCancel != nil {
		a.mu.Unlock()
		return nil
	}
	scanCtx, cancel := context.WithCancel(ctx)
	a.scanCancel = cancel
	a.mu.Unlock()

	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		err := a.dev.Scan(ctx, true, func(adv ble.Advertisement) {
			a.mu.Lock()
			cb := a.adCallback
			a.mu.Unlock()
			if cb == nil {
				return
			}
			cb(toAd(adv))
		})
		if err != nil {
			a.logf("scan stopped: %v", err)
		}
	})
	_ = active // go-ble's Scan does not distinguish active/passive at this layer
	return nil
}

func (a *Adapter) StopScan(_ context.Context) error {
	a.mu.Lock()
	cancel := a.scanCancel
	a.scanCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (a *Adapter) OnAdvertisement(cb func(wireproto.Ad)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adCallback = cb
}

// toAd converts a ble.Advertisement into the wire-level advertisement
// record. go-ble parses advertisement data rather than exposing the raw
// packet bytes, so Data carries manufacturer data as a best effort; full
// raw-AD passthrough (FeatureRawAds) is therefore best-effort on this
// backend.
func toAd(adv ble.Advertisement) wireproto.Ad {
	addr, addrType := parseAddr(adv.Addr().String())
	return wireproto.Ad{
		Address:     addr,
		AddressType: addrType,
		RSSI:        int32(adv.RSSI()),
		Data:        adv.ManufacturerData(),
	}
}

// parseAddr parses a go-ble "xx:xx:xx:xx:xx:xx" address string into its
// 48-bit integer form. Address type isn't carried by ble.Addr, so it's
// reported as public (0) unless the host stack tags it otherwise.
func parseAddr(s string) (uint64, uint32) {
	parts := strings.Split(s, ":")
	var addr uint64
	for _, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return 0, 0
		}
		addr = addr<<8 | b
	}
	return addr, 0
}
