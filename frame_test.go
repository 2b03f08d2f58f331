package vpwcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockChecksumRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x42}},
		{"typical header", []byte{0x6D, 0x10, 0xF0, 0x36, 0x00, 0x00, 0x10, 0xFF, 0x80, 0x00}},
		{"wraps past 0xFFFF", bytesOf(0xFF, 300)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withChecksum := AddBlockChecksum(tt.body)
			require.Len(t, withChecksum, len(tt.body)+2)
			assert.True(t, VerifyBlockChecksum(withChecksum))
		})
	}
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestVerifyBlockChecksumDetectsCorruption(t *testing.T) {
	buf := AddBlockChecksum([]byte{0x01, 0x02, 0x03, 0x04})
	buf[1] ^= 0xFF // flip a body bit
	assert.False(t, VerifyBlockChecksum(buf))
}

func TestVerifyBlockChecksumTooShort(t *testing.T) {
	assert.False(t, VerifyBlockChecksum([]byte{0x01}))
	assert.False(t, VerifyBlockChecksum(nil))
}

func TestFrameAccessors(t *testing.T) {
	data := []byte{byte(PriorityPhysical0), byte(ModuleTool), byte(ModulePcm), byte(ModeReadBlock | ModeResponseFlag), 0x01, 0xAA, 0xBB}
	f := NewFrame(data, time.Now())

	assert.True(t, f.Valid())
	assert.Equal(t, PriorityPhysical0, f.Priority())
	assert.Equal(t, ModuleTool, f.Destination())
	assert.Equal(t, ModulePcm, f.Source())
	assert.Equal(t, ModeReadBlock|ModeResponseFlag, f.Mode())
	assert.Equal(t, byte(0x01), f.Submode())
	assert.Equal(t, []byte{0x01, 0xAA, 0xBB}, f.Payload())
	assert.True(t, f.IsResponseTo(ModeReadBlock, ModuleTool, ModulePcm))
	assert.False(t, f.IsResponseTo(ModeWriteBlock, ModuleTool, ModulePcm))
}

func TestFrameNegativeResponse(t *testing.T) {
	data := []byte{byte(PriorityPhysical0), byte(ModuleTool), byte(ModulePcm), byte(ModeNegativeResponse), byte(ModeReadBlock), 0x31}
	f := NewFrame(data, time.Now())

	assert.True(t, f.IsNegativeResponseTo(ModeReadBlock))
	assert.False(t, f.IsNegativeResponseTo(ModeWriteBlock))
	assert.Equal(t, byte(0x31), f.RefusalCode())
}

func TestFrameInvalidTooShort(t *testing.T) {
	f := NewFrame([]byte{0x01, 0x02}, time.Now())
	assert.False(t, f.Valid())
	assert.Nil(t, f.Payload())
}

func TestFrameBytesIsACopy(t *testing.T) {
	f := NewFrame([]byte{0x01, 0x02, 0x03, 0x04}, time.Now())
	b := f.Bytes()
	b[0] = 0xFF
	assert.Equal(t, byte(0x01), f.Bytes()[0])
}
