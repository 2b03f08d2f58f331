package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashkit/vpwcore"
)

func TestParseSeedResponseNormal(t *testing.T) {
	data := []byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeSeed | vpwcore.ModeResponseFlag), 0x01, 0x00, 0x12, 0x34,
	}
	f := vpwcore.NewFrame(data, time.Time{})

	seed, already, err := ParseSeedResponse(f)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, uint16(0x1234), seed)
}

func TestParseSeedResponseAlreadyUnlocked(t *testing.T) {
	data := []byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeSeed | vpwcore.ModeResponseFlag), 0x01, 0x37,
	}
	f := vpwcore.NewFrame(data, time.Time{})

	_, already, err := ParseSeedResponse(f)
	require.NoError(t, err)
	assert.True(t, already)
}

func TestParseSeedResponseTruncated(t *testing.T) {
	data := []byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeSeed | vpwcore.ModeResponseFlag), 0x01, 0x00,
	}
	f := vpwcore.NewFrame(data, time.Time{})

	_, _, err := ParseSeedResponse(f)
	require.Error(t, err)
	assert.Equal(t, vpwcore.ReasonTruncated, vpwcore.ReasonOf(err))
}

func TestParseSeedResponseNegative(t *testing.T) {
	data := []byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeNegativeResponse), byte(vpwcore.ModeSeed), 0x22,
	}
	f := vpwcore.NewFrame(data, time.Time{})

	_, _, err := ParseSeedResponse(f)
	require.Error(t, err)
	assert.Equal(t, vpwcore.ReasonRefused, vpwcore.ReasonOf(err))
}

func TestParseSeedResponseUnexpected(t *testing.T) {
	data := []byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeReadBlock | vpwcore.ModeResponseFlag), 0x01,
	}
	f := vpwcore.NewFrame(data, time.Time{})

	_, _, err := ParseSeedResponse(f)
	require.Error(t, err)
	assert.Equal(t, vpwcore.ReasonUnexpectedResponse, vpwcore.ReasonOf(err))
}

func TestParseReadBlockResponse(t *testing.T) {
	data := []byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeReadBlock | vpwcore.ModeResponseFlag), BlockVIN1, 0x05, 'A', 'B', 'C',
	}
	f := vpwcore.NewFrame(data, time.Time{})

	tail, err := ParseReadBlockResponse(f, BlockVIN1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 'A', 'B', 'C'}, tail)
}

func TestParseReadBlockResponseWrongBlockID(t *testing.T) {
	data := []byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeReadBlock | vpwcore.ModeResponseFlag), BlockVIN2, 0x00,
	}
	f := vpwcore.NewFrame(data, time.Time{})

	_, err := ParseReadBlockResponse(f, BlockVIN1)
	require.Error(t, err)
	assert.Equal(t, vpwcore.ReasonUnexpectedResponse, vpwcore.ReasonOf(err))
}

func TestParsePCMUploadRequestResponseAcceptsAltPriority(t *testing.T) {
	data := []byte{
		byte(vpwcore.PriorityPhysical0High), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModePCMUploadRequest | vpwcore.ModeResponseFlag),
	}
	f := vpwcore.NewFrame(data, time.Time{})

	assert.NoError(t, ParsePCMUploadRequestResponse(f))
}

func TestParsePCMUploadRequestResponseRefused(t *testing.T) {
	data := []byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeNegativeResponse), byte(vpwcore.ModePCMUploadRequest), 0x11,
	}
	f := vpwcore.NewFrame(data, time.Time{})

	err := ParsePCMUploadRequestResponse(f)
	require.Error(t, err)
	assert.Equal(t, vpwcore.ReasonRefused, vpwcore.ReasonOf(err))
}

func TestBuildAndParseKernelMemoryReadRoundTrip(t *testing.T) {
	address := uint32(0x001000)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	req := BuildKernelMemoryReadRequest(len(payload), address)
	assert.Equal(t, vpwcore.ModeKernelMemoryRead, req.Mode())

	header := []byte{
		byte(vpwcore.PriorityBlock), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeKernelMemoryRead | vpwcore.ModeResponseFlag),
		byte(ReadSubModeNormal),
		byte(len(payload) >> 8), byte(len(payload)),
		byte(address >> 16), byte(address >> 8), byte(address),
	}
	body := append(header, payload...)
	resp := vpwcore.NewFrame(vpwcore.AddBlockChecksum(body), time.Time{})

	got, err := ParseKernelMemoryReadResponse(resp, len(payload), address)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestParseKernelMemoryReadResponseBadChecksum(t *testing.T) {
	address := uint32(0x001000)
	payload := []byte{0xDE, 0xAD}
	header := []byte{
		byte(vpwcore.PriorityBlock), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeKernelMemoryRead | vpwcore.ModeResponseFlag),
		byte(ReadSubModeNormal),
		byte(len(payload) >> 8), byte(len(payload)),
		byte(address >> 16), byte(address >> 8), byte(address),
	}
	body := append(header, payload...)
	corrupt := vpwcore.AddBlockChecksum(body)
	corrupt[len(corrupt)-1] ^= 0xFF
	resp := vpwcore.NewFrame(corrupt, time.Time{})

	_, err := ParseKernelMemoryReadResponse(resp, len(payload), address)
	require.Error(t, err)
}

func TestParseKernelMemoryReadResponseRLENotImplemented(t *testing.T) {
	address := uint32(0)
	header := []byte{
		byte(vpwcore.PriorityBlock), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeKernelMemoryRead | vpwcore.ModeResponseFlag),
		byte(ReadSubModeRLE),
		0x00, 0x00,
		0x00, 0x00, 0x00,
	}
	resp := vpwcore.NewFrame(vpwcore.AddBlockChecksum(header), time.Time{})

	_, err := ParseKernelMemoryReadResponse(resp, 0, address)
	require.Error(t, err)
	assert.ErrorContains(t, err, "RLE")
}

func TestParseHighSpeedPermissionResponse(t *testing.T) {
	granted := vpwcore.NewFrame([]byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeHighSpeedPrepare | vpwcore.ModeResponseFlag), 0x01,
	}, time.Time{})
	ok, who, err := ParseHighSpeedPermissionResponse(granted)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, vpwcore.ModulePcm, who)

	refused := vpwcore.NewFrame([]byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm),
		byte(vpwcore.ModeHighSpeedPrepare | vpwcore.ModeResponseFlag), 0x00,
	}, time.Time{})
	ok, _, err = ParseHighSpeedPermissionResponse(refused)
	require.NoError(t, err)
	assert.False(t, ok)
}
