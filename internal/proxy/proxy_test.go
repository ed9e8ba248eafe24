package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleproxy/internal/adapter"
	"github.com/srg/bleproxy/internal/adapter/mockadapter"
	"github.com/srg/bleproxy/internal/ids"
	"github.com/srg/bleproxy/internal/session"
	"github.com/srg/bleproxy/internal/testutils"
	"github.com/srg/bleproxy/internal/wireproto"
)

var errConnectRefused = &adapter.Error{Kind: adapter.FailureUnavailable, Msg: "refused for test"}

func newTestCoordinator(t *testing.T, ad *mockadapter.Adapter) *Coordinator {
	t.Helper()
	return New(Config{
		Adapter:           ad,
		ServerName:        "bleproxy",
		FriendlyName:      "Test Proxy",
		MaxConnections:    2,
		ConnectTimeout:    time.Second,
		DisconnectTimeout: time.Second,
		GattOpTimeout:     time.Second,
		FlushInterval:     5 * time.Millisecond,
		Logger:            testutils.NewTestHelper(t).Logger,
	})
}

func newAuthenticatedSession(t *testing.T, c *Coordinator) *session.Session {
	t.Helper()
	cfg := c.SessionFactory()(ids.NewSessionID())
	cfg.ID = ids.NewSessionID()
	sess := session.New(cfg)
	require.NoError(t, sess.Dispatch(&wireproto.HelloReq{}))
	_, ok := sess.Next(drainCtx(t))
	require.True(t, ok)
	require.NoError(t, sess.Dispatch(&wireproto.ConnectReq{}))
	_, ok = sess.Next(drainCtx(t))
	require.True(t, ok)
	require.Equal(t, session.StateAuthenticated, sess.State())
	return sess
}

func drainCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

// pollCtx bounds a single Session.Next call used inside a require.Eventually
// poll loop, so a still-empty outbox returns (nil, false) instead of
// blocking past the loop's own tick interval.
func pollCtx() context.Context {
	ctx, _ := context.WithTimeout(context.Background(), 20*time.Millisecond) //nolint:lostcancel // timeout self-expires before the test ends
	return ctx
}

func nextMsg(t *testing.T, sess *session.Session) wireproto.Message {
	t.Helper()
	msg, ok := sess.Next(drainCtx(t))
	require.True(t, ok, "expected an outbound message")
	return msg
}

func TestCoordinator_DeviceInfoReportsFeatureFlags(t *testing.T) {
	c := newTestCoordinator(t, mockadapter.New())
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.DeviceInfoReq{})

	resp := nextMsg(t, sess).(*wireproto.DeviceInfoResp)
	assert.Equal(t, "bleproxy", resp.Name)
	assert.Equal(t, "Test Proxy", resp.FriendlyName)
	assert.NotZero(t, resp.BluetoothProxyFeatureFlags&wireproto.FeatureRawAds)
	assert.NotZero(t, resp.BluetoothProxyFeatureFlags&wireproto.FeatureActiveConnections)
}

func TestCoordinator_DeviceInfoReportsConfiguredMacAddress(t *testing.T) {
	c := New(Config{
		Adapter:           mockadapter.New(),
		ServerName:        "bleproxy",
		LocalAddress:      0xAABBCCDDEEFF,
		MaxConnections:    2,
		ConnectTimeout:    time.Second,
		DisconnectTimeout: time.Second,
		GattOpTimeout:     time.Second,
		FlushInterval:     5 * time.Millisecond,
	})
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.DeviceInfoReq{})

	resp := nextMsg(t, sess).(*wireproto.DeviceInfoResp)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", resp.BluetoothMacAddress)
}

func TestCoordinator_DeviceInfoFallsBackToAdapterLocalAddress(t *testing.T) {
	ad := mockadapter.New()
	ad.SetLocalAddress(0x112233445566)
	c := newTestCoordinator(t, ad)
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.DeviceInfoReq{})

	resp := nextMsg(t, sess).(*wireproto.DeviceInfoResp)
	assert.Equal(t, "11:22:33:44:55:66", resp.BluetoothMacAddress)
}

func TestCoordinator_DeviceInfoMacAddressEmptyWhenUnavailable(t *testing.T) {
	c := newTestCoordinator(t, mockadapter.New())
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.DeviceInfoReq{})

	resp := nextMsg(t, sess).(*wireproto.DeviceInfoResp)
	assert.Empty(t, resp.BluetoothMacAddress)
}

func TestCoordinator_DisabledActiveConnectionsRejectsConnectAndHidesFeatureFlag(t *testing.T) {
	ad := mockadapter.New()
	ad.Peripheral(0x42)
	c := New(Config{
		Adapter:                  ad,
		ServerName:               "bleproxy",
		DisableActiveConnections: true,
		MaxConnections:           2,
		ConnectTimeout:           time.Second,
		DisconnectTimeout:        time.Second,
		GattOpTimeout:            time.Second,
		FlushInterval:            5 * time.Millisecond,
	})
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.DeviceInfoReq{})
	info := nextMsg(t, sess).(*wireproto.DeviceInfoResp)
	assert.Zero(t, info.BluetoothProxyFeatureFlags&wireproto.FeatureActiveConnections)

	c.handleMessage(sess, &wireproto.BleDeviceReq{Address: 0x42, Kind: wireproto.BleDeviceReqConnect})
	resp := nextMsg(t, sess).(*wireproto.BleDeviceConnResp)
	assert.False(t, resp.Connected)
	assert.Equal(t, adapter.CodeUnsupported, resp.Error)
}

func TestCoordinator_ListEntitiesRepliesDone(t *testing.T) {
	c := newTestCoordinator(t, mockadapter.New())
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.ListEntitiesReq{})

	_, ok := nextMsg(t, sess).(*wireproto.ListEntitiesDone)
	assert.True(t, ok)
}

func TestCoordinator_SubscribeBleAdsStartsScannerAndForwardsBatch(t *testing.T) {
	ad := mockadapter.New()
	c := newTestCoordinator(t, ad)
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.SubscribeBleAdsReq{})
	require.Eventually(t, func() bool { return ad.IsScanning() }, time.Second, time.Millisecond)

	ad.EmitAdvertisement(wireproto.Ad{Address: 0x1, RSSI: -40})

	require.Eventually(t, func() bool {
		msg, ok := sess.Next(pollCtx())
		if !ok {
			return false
		}
		resp, ok := msg.(*wireproto.BleRawAdsResp)
		return ok && len(resp.Advertisements) == 1 && resp.Advertisements[0].Address == 0x1
	}, time.Second, time.Millisecond)
}

func TestCoordinator_UnsubscribeBleAdsStopsScanner(t *testing.T) {
	ad := mockadapter.New()
	c := newTestCoordinator(t, ad)
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.SubscribeBleAdsReq{})
	require.Eventually(t, func() bool { return ad.IsScanning() }, time.Second, time.Millisecond)

	c.handleMessage(sess, &wireproto.UnsubscribeBleAdsReq{})
	require.Eventually(t, func() bool { return !ad.IsScanning() }, time.Second, time.Millisecond)
}

func TestCoordinator_SubscribeScannerStateSendsCurrentMode(t *testing.T) {
	c := newTestCoordinator(t, mockadapter.New())
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.SubscribeScannerStateReq{})

	resp := nextMsg(t, sess).(*wireproto.ScannerStateResp)
	assert.Equal(t, wireproto.ScannerModeIdle, resp.Mode)
}

func TestCoordinator_ConnectRequestReportsConnectedState(t *testing.T) {
	ad := mockadapter.New()
	ad.Peripheral(0x42).WithMTU(185)
	c := newTestCoordinator(t, ad)
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.BleDeviceReq{Address: 0x42, Kind: wireproto.BleDeviceReqConnect})

	require.Eventually(t, func() bool {
		msg, ok := sess.Next(pollCtx())
		if !ok {
			return false
		}
		resp, ok := msg.(*wireproto.BleDeviceConnResp)
		return ok && resp.Address == 0x42 && resp.Connected && resp.MTU == 185
	}, time.Second, time.Millisecond)
}

func TestCoordinator_ConnectRequestReportsFailure(t *testing.T) {
	ad := mockadapter.New()
	ad.Peripheral(0x99).WithConnectError(errConnectRefused)
	c := newTestCoordinator(t, ad)
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.BleDeviceReq{Address: 0x99, Kind: wireproto.BleDeviceReqConnect})

	require.Eventually(t, func() bool {
		msg, ok := sess.Next(pollCtx())
		if !ok {
			return false
		}
		resp, ok := msg.(*wireproto.BleDeviceConnResp)
		return ok && resp.Address == 0x99 && !resp.Connected && resp.Error != 0
	}, time.Second, time.Millisecond)
}

func TestCoordinator_DisconnectBroadcastsManually(t *testing.T) {
	ad := mockadapter.New()
	ad.Peripheral(0x7)
	c := newTestCoordinator(t, ad)
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.BleDeviceReq{Address: 0x7, Kind: wireproto.BleDeviceReqConnect})
	require.Eventually(t, func() bool {
		msg, ok := sess.Next(pollCtx())
		if !ok {
			return false
		}
		resp, ok := msg.(*wireproto.BleDeviceConnResp)
		return ok && resp.Connected
	}, time.Second, time.Millisecond)

	c.handleMessage(sess, &wireproto.BleDeviceReq{Address: 0x7, Kind: wireproto.BleDeviceReqDisconnect})
	require.Eventually(t, func() bool {
		msg, ok := sess.Next(pollCtx())
		if !ok {
			return false
		}
		resp, ok := msg.(*wireproto.BleDeviceConnResp)
		return ok && resp.Address == 0x7 && !resp.Connected
	}, time.Second, time.Millisecond)
}

func TestCoordinator_GattReadRoutesThroughBroker(t *testing.T) {
	ad := mockadapter.New()
	ad.Peripheral(0x55).WithValue(10, []byte{0xAB})
	c := newTestCoordinator(t, ad)
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.BleDeviceReq{Address: 0x55, Kind: wireproto.BleDeviceReqConnect})
	require.Eventually(t, func() bool {
		msg, ok := sess.Next(pollCtx())
		if !ok {
			return false
		}
		_, ok = msg.(*wireproto.BleDeviceConnResp)
		return ok
	}, time.Second, time.Millisecond)

	c.handleMessage(sess, &wireproto.GattReadReq{Address: 0x55, Handle: 10})
	require.Eventually(t, func() bool {
		msg, ok := sess.Next(pollCtx())
		if !ok {
			return false
		}
		resp, ok := msg.(*wireproto.GattReadResp)
		return ok && resp.Address == 0x55 && resp.Handle == 10 && len(resp.Data) == 1 && resp.Data[0] == 0xAB
	}, time.Second, time.Millisecond)
}

func TestCoordinator_DiscoveredServicesAreCachedAndServedWithoutAdapter(t *testing.T) {
	ad := mockadapter.New()
	ad.Peripheral(0x33).WithService(mockadapter.NewService(
		"0000180f-0000-1000-8000-00805f9b34fb", 1,
	))
	c := New(Config{
		Adapter:           ad,
		ServerName:        "bleproxy",
		MaxConnections:    2,
		ConnectTimeout:    time.Second,
		DisconnectTimeout: time.Second,
		GattOpTimeout:     time.Second,
		FlushInterval:     5 * time.Millisecond,
		CacheDir:          t.TempDir(),
	})
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.BleDeviceReq{Address: 0x33, Kind: wireproto.BleDeviceReqConnect})
	require.Eventually(t, func() bool {
		msg, ok := sess.Next(pollCtx())
		if !ok {
			return false
		}
		_, ok = msg.(*wireproto.BleDeviceConnResp)
		return ok
	}, time.Second, time.Millisecond)

	c.handleMessage(sess, &wireproto.GattGetServicesReq{Address: 0x33})
	require.Eventually(t, func() bool {
		msg, ok := sess.Next(pollCtx())
		if !ok {
			return false
		}
		_, ok = msg.(*wireproto.GattGetServicesDone)
		return ok
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok, err := c.cache.LoadServices(0x33)
		return err == nil && ok
	}, time.Second, time.Millisecond)

	// A fresh coordinator sharing the same cache directory serves the
	// discovery from disk without ever calling the adapter.
	blockedAdapter := mockadapter.New() // no peripheral scripted: any adapter call would error
	c2 := New(Config{
		Adapter:        blockedAdapter,
		ServerName:     "bleproxy",
		MaxConnections: 2,
		GattOpTimeout:  time.Second,
		CacheDir:       c.cfg.CacheDir,
	})
	sess2 := newAuthenticatedSession(t, c2)
	c2.handleMessage(sess2, &wireproto.GattGetServicesReq{Address: 0x33})

	resp := nextMsg(t, sess2).(*wireproto.GattGetServicesResp)
	assert.Equal(t, uint64(0x33), resp.Address)
	_, ok := nextMsg(t, sess2).(*wireproto.GattGetServicesDone)
	assert.True(t, ok)
}

func TestCoordinator_SessionCloseRemovesSubscriptions(t *testing.T) {
	c := newTestCoordinator(t, mockadapter.New())
	sess := newAuthenticatedSession(t, c)

	c.handleMessage(sess, &wireproto.SubscribeBleAdsReq{})
	require.Len(t, c.subs.AdsSubscribers(), 1)

	c.handleClose(sess, nil)
	assert.Empty(t, c.subs.AdsSubscribers())

	c.mu.Lock()
	_, stillTracked := c.sessions[sess.ID()]
	c.mu.Unlock()
	assert.False(t, stillTracked)
}

