package mockadapter

import (
	"context"
	"testing"
	"time"

	"github.com/srg/bleproxy/internal/adapter"
	"github.com/srg/bleproxy/internal/wireproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_ScanDeliversAdvertisements(t *testing.T) {
	a := New()
	var got []wireproto.Ad
	a.OnAdvertisement(func(ad wireproto.Ad) { got = append(got, ad) })

	require.NoError(t, a.StartScan(context.Background(), true))
	a.EmitAdvertisement(wireproto.Ad{Address: 0x1, RSSI: -50})
	a.EmitAdvertisement(wireproto.Ad{Address: 0x2, RSSI: -60})

	require.NoError(t, a.StopScan(context.Background()))
	a.EmitAdvertisement(wireproto.Ad{Address: 0x3, RSSI: -70}) // dropped, scan stopped

	require.Len(t, got, 2)
	assert.Equal(t, uint64(0x1), got[0].Address)
	assert.Equal(t, uint64(0x2), got[1].Address)
}

func TestAdapter_ConnectUnknownPeripheralFails(t *testing.T) {
	a := New()
	_, err := a.Connect(context.Background(), 0xDEADBEEF, 0, time.Second)
	assert.True(t, adapter.Is(err, adapter.FailureUnavailable))
}

func TestAdapter_ConnectAndDiscoverServices(t *testing.T) {
	a := New()
	batSvc := NewService("0000180f-0000-1000-8000-00805f9b34fb", 0x10,
		NewCharacteristic("00002a19-0000-1000-8000-00805f9b34fb", 0x12, 0x12,
			NewDescriptor("00002902-0000-1000-8000-00805f9b34fb", 0x13)))

	a.Peripheral(0xAABBCCDDEEFF).WithService(batSvc).WithMTU(185).WithValue(0x12, []byte{0x64})

	res, err := a.Connect(context.Background(), 0xAABBCCDDEEFF, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(185), res.MTU)

	services, err := a.DiscoverServices(context.Background(), res.Handle)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, uint32(0x10), services[0].Handle)
	require.Len(t, services[0].Characteristics, 1)
	assert.Equal(t, uint32(0x12), services[0].Characteristics[0].Handle)

	value, err := a.ReadCharacteristic(context.Background(), res.Handle, 0x12)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x64}, value)
}

func TestAdapter_ConnectError(t *testing.T) {
	a := New()
	a.Peripheral(0x1).WithConnectError(adapter.ErrUnavailable)

	_, err := a.Connect(context.Background(), 0x1, 0, time.Second)
	assert.ErrorIs(t, err, adapter.ErrUnavailable)
}

func TestAdapter_ConnectTimesOut(t *testing.T) {
	a := New()
	a.Peripheral(0x1).WithConnectDelay(50 * time.Millisecond)

	_, err := a.Connect(context.Background(), 0x1, 0, 5*time.Millisecond)
	assert.ErrorIs(t, err, adapter.ErrTimeout)
}

func TestAdapter_WriteThenReadCharacteristic(t *testing.T) {
	a := New()
	a.Peripheral(0x1).WithService(NewService("0000180f-0000-1000-8000-00805f9b34fb", 0x10,
		NewCharacteristic("00002a19-0000-1000-8000-00805f9b34fb", 0x12, 0x0a)))

	res, err := a.Connect(context.Background(), 0x1, 0, time.Second)
	require.NoError(t, err)

	require.NoError(t, a.WriteCharacteristic(context.Background(), res.Handle, 0x12, []byte{0x01}, true))
	value, err := a.ReadCharacteristic(context.Background(), res.Handle, 0x12)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, value)
}

func TestAdapter_SubscribeNotifyAndEmit(t *testing.T) {
	a := New()
	a.Peripheral(0x1)

	res, err := a.Connect(context.Background(), 0x1, 0, time.Second)
	require.NoError(t, err)

	var got []byte
	require.NoError(t, a.SubscribeNotify(context.Background(), res.Handle, 0x12, func(data []byte) {
		got = data
	}))

	a.EmitNotify(0x1, 0x12, []byte{0x48, 0x00})
	assert.Equal(t, []byte{0x48, 0x00}, got)

	require.NoError(t, a.UnsubscribeNotify(context.Background(), res.Handle, 0x12))
	got = nil
	a.EmitNotify(0x1, 0x12, []byte{0x49})
	assert.Nil(t, got)
}

func TestAdapter_DropConnectionClosesLostChannel(t *testing.T) {
	a := New()
	a.Peripheral(0x1)

	res, err := a.Connect(context.Background(), 0x1, 0, time.Second)
	require.NoError(t, err)

	select {
	case <-res.Lost:
		t.Fatal("Lost channel must not be closed before DropConnection")
	default:
	}

	a.DropConnection(res.Handle)

	select {
	case <-res.Lost:
	case <-time.After(time.Second):
		t.Fatal("Lost channel must close after DropConnection")
	}
}

func TestAdapter_DisconnectRemovesConnection(t *testing.T) {
	a := New()
	a.Peripheral(0x1)

	res, err := a.Connect(context.Background(), 0x1, 0, time.Second)
	require.NoError(t, err)
	require.NoError(t, a.Disconnect(context.Background(), res.Handle))

	_, err = a.DiscoverServices(context.Background(), res.Handle)
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
}
