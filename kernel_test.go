package vpwcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDescendingOrdersHighestAddressFirst(t *testing.T) {
	payload := make([]byte, 1030) // 2 full 512-byte chunks + a 6-byte remainder
	for i := range payload {
		payload[i] = byte(i)
	}
	loadAddress := uint32(0xFF8000)

	packets := splitDescending(payload, loadAddress, 512)
	require.Len(t, packets, 3)

	// Highest address first.
	assert.Greater(t, packets[0].address, packets[1].address)
	assert.Greater(t, packets[1].address, packets[2].address)

	// The terminal packet contains loadAddress and is tagged Execute; every
	// other packet is a plain Copy.
	assert.Equal(t, loadAddress, packets[2].address)
	assert.Equal(t, CopyTypeExecute, packets[2].copyType)
	assert.Equal(t, CopyTypeCopy, packets[0].copyType)
	assert.Equal(t, CopyTypeCopy, packets[1].copyType)

	// Every byte of the original payload is accounted for exactly once.
	total := 0
	for _, p := range packets {
		total += len(p.payload)
	}
	assert.Equal(t, len(payload), total)
}

func TestSplitDescendingExactMultiple(t *testing.T) {
	payload := make([]byte, 1024)
	packets := splitDescending(payload, 0x1000, 512)
	require.Len(t, packets, 2)
	assert.Equal(t, CopyTypeExecute, packets[len(packets)-1].copyType)
}

func TestSplitDescendingSinglePacket(t *testing.T) {
	payload := make([]byte, 100)
	packets := splitDescending(payload, 0x2000, 512)
	require.Len(t, packets, 1)
	assert.Equal(t, CopyTypeExecute, packets[0].copyType)
	assert.Equal(t, uint32(0x2000), packets[0].address)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "0%", percent(0, 0))
	assert.Equal(t, "50%", percent(50, 100))
	assert.Equal(t, "100%", percent(100, 100))
}
