package bleadapter

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/srg/bleproxy/internal/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", formatAddress(0xAABBCCDDEEFF))
	assert.Equal(t, "00:00:00:00:00:01", formatAddress(1))
}

func TestParseAddr(t *testing.T) {
	addr, addrType := parseAddr("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, uint64(0xAABBCCDDEEFF), addr)
	assert.Equal(t, uint32(0), addrType)
}

func TestParseUUID_ShortForm(t *testing.T) {
	id, err := parseUUID("180f")
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("0000180f-0000-1000-8000-00805f9b34fb"), id)
}

func TestParseUUID_LongForm(t *testing.T) {
	id, err := parseUUID("6e400001b5a3f393e0a9e50e24dcca9e")
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e"), id)
}

func TestParseUUID_Malformed(t *testing.T) {
	_, err := parseUUID("zz")
	assert.Error(t, err)
	_, err = parseUUID("123")
	assert.Error(t, err)
}

func TestFormatAddressParseAddr_RoundTrip(t *testing.T) {
	addr, _ := parseAddr(formatAddress(0x112233445566))
	assert.Equal(t, uint64(0x112233445566), addr)
}

func TestNormalizeError(t *testing.T) {
	assert.Nil(t, normalizeError(nil))
	assert.True(t, adapter.Is(normalizeError(errors.New("device disconnected")), adapter.FailureNotConnected))
	assert.True(t, adapter.Is(normalizeError(errors.New("context deadline exceeded")), adapter.FailureTimeout))
	assert.True(t, adapter.Is(normalizeError(errors.New("bluetooth is turned off")), adapter.FailureUnavailable))

	other := errors.New("some other failure")
	assert.Equal(t, other, normalizeError(other))
}
