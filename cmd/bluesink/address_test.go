package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	want := Address{0xAA, 0xBB, 0xCC, 0x01, 0x02, 0x0f}
	for _, in := range []string{"AA:BB:CC:01:02:0F", "aa-bb-cc-01-02-0f", "AA_BB_CC_01_02_0F", " aa:bb:cc:01:02:0f "} {
		got, err := ParseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	assert.Equal(t, "AA:BB:CC:01:02:0F", want.String())

	for _, bad := range []string{"", "AA:BB:CC:01:02", "AA:BB:CC:01:02:0F:10", "AA:BB:CC:01:02:G0", "AAA:B:CC:01:02:0F"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddressFromBluezPath(t *testing.T) {
	a, ok := addressFromPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", a.String())

	a, ok = addressFromPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/player0")
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", a.String())

	_, ok = addressFromPath("/org/bluez/hci0")
	assert.False(t, ok)
}
