package vpwcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashkit/vpwcore"
	"github.com/flashkit/vpwcore/adapter"
	"github.com/flashkit/vpwcore/pkg/pcminfo"
	"github.com/flashkit/vpwcore/pkg/protocol"
)

func respFrame(mode vpwcore.Mode, payload ...byte) vpwcore.Frame {
	data := append([]byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleTool), byte(vpwcore.ModulePcm), byte(mode)}, payload...)
	return vpwcore.NewFrame(data, time.Now())
}

func newMock() *adapter.MockDevice {
	return adapter.NewMockDevice(vpwcore.Capabilities{MaxSendSize: 4096, MaxReceiveSize: 4096, Supports4x: true})
}

func TestQueryVinHappyPath(t *testing.T) {
	dev := newMock()
	dev.Respond = func(sent vpwcore.Frame) []vpwcore.Frame {
		if sent.Mode() != vpwcore.ModeReadBlock {
			return nil
		}
		blockID := sent.Payload()[0]
		switch blockID {
		case protocol.BlockVIN1:
			// status byte + 4 payload bytes; QueryVin's first-block rule
			// drops the trailing byte ('X' here), contributing "ABC".
			return []vpwcore.Frame{respFrame(vpwcore.ModeReadBlock|vpwcore.ModeResponseFlag, protocol.BlockVIN1, 'S', 'A', 'B', 'C', 'X')}
		case protocol.BlockVIN2:
			return []vpwcore.Frame{respFrame(vpwcore.ModeReadBlock|vpwcore.ModeResponseFlag, protocol.BlockVIN2, 'S', 'D', 'E', 'F', 'G')}
		case protocol.BlockVIN3:
			return []vpwcore.Frame{respFrame(vpwcore.ModeReadBlock|vpwcore.ModeResponseFlag, protocol.BlockVIN3, 'S', 'H', 'I', 'J')}
		}
		return nil
	}

	vcl := vpwcore.NewVehicle(dev, nil, nil)
	vin, err := vcl.QueryVin(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJ", vin)
}

func TestUnlockEcuHappyPath(t *testing.T) {
	dev := newMock()
	const seed = uint16(0xBEEF)
	const expectedKey = uint16(0xBEEF ^ 0xFFFF)

	dev.Respond = func(sent vpwcore.Frame) []vpwcore.Frame {
		switch sent.Mode() {
		case vpwcore.ModeSeed:
			sub := sent.Payload()[0]
			if sub == 0x01 {
				return []vpwcore.Frame{respFrame(vpwcore.ModeSeed|vpwcore.ModeResponseFlag, 0x01, 0x00, byte(seed>>8), byte(seed))}
			}
			if sub == 0x02 {
				key := uint16(sent.Payload()[1])<<8 | uint16(sent.Payload()[2])
				if key != expectedKey {
					return []vpwcore.Frame{respFrame(vpwcore.ModeSeed|vpwcore.ModeResponseFlag, 0x02, byte(protocol.UnlockDenied))}
				}
				return []vpwcore.Frame{respFrame(vpwcore.ModeSeed|vpwcore.ModeResponseFlag, 0x02, byte(protocol.UnlockAllowed))}
			}
		}
		return nil
	}

	keyFunc := func(algorithmID int, s uint16) (uint16, error) {
		return s ^ 0xFFFF, nil
	}
	vcl := vpwcore.NewVehicle(dev, keyFunc, vpwcore.NewSystemClock())
	result, err := vcl.UnlockEcu(context.Background(), nil, 1, nil)
	require.NoError(t, err)
	assert.True(t, result.Unlocked)
	assert.False(t, result.AlreadyUnlocked)
	assert.Equal(t, protocol.UnlockAllowed, result.Status)
}

func TestUnlockEcuAlreadyUnlocked(t *testing.T) {
	dev := newMock()
	dev.Respond = func(sent vpwcore.Frame) []vpwcore.Frame {
		if sent.Mode() == vpwcore.ModeSeed {
			return []vpwcore.Frame{respFrame(vpwcore.ModeSeed|vpwcore.ModeResponseFlag, 0x01, 0x37)}
		}
		return nil
	}

	vcl := vpwcore.NewVehicle(dev, nil, vpwcore.NewSystemClock())
	result, err := vcl.UnlockEcu(context.Background(), nil, 1, nil)
	require.NoError(t, err)
	assert.True(t, result.AlreadyUnlocked)
	assert.True(t, result.Unlocked)
}

func TestVehicleSetVpw4xRefused(t *testing.T) {
	dev := newMock()
	dev.Respond = func(sent vpwcore.Frame) []vpwcore.Frame {
		if sent.Mode() == vpwcore.ModeHighSpeedPrepare {
			return []vpwcore.Frame{respFrame(vpwcore.ModeHighSpeedPrepare|vpwcore.ModeResponseFlag, 0x00)}
		}
		return nil
	}

	vcl := vpwcore.NewVehicle(dev, nil, vpwcore.NewSystemClock())
	err := vcl.VehicleSetVpw4x(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, vpwcore.SpeedStandard, dev.Speed())
}

// cancelAfterN reports cancelled only once it has been consulted more than
// threshold times, so a test can let kernel upload succeed and then cancel
// exactly at the start of the bulk-read loop.
type cancelAfterN struct{ n, threshold int }

func (c *cancelAfterN) Cancelled() bool {
	c.n++
	return c.n > c.threshold
}

func TestReadContentsCancellationStopsEarly(t *testing.T) {
	dev := newMock()
	dev.Respond = func(sent vpwcore.Frame) []vpwcore.Frame {
		switch sent.Mode() &^ vpwcore.ModeResponseFlag {
		case vpwcore.ModePCMUploadRequest:
			return []vpwcore.Frame{respFrame(vpwcore.ModePCMUploadRequest | vpwcore.ModeResponseFlag)}
		case vpwcore.ModePCMUpload:
			return []vpwcore.Frame{respFrame(vpwcore.ModePCMUpload | vpwcore.ModeResponseFlag)}
		}
		return nil
	}

	info := pcminfo.Info{
		HardwareType:       pcminfo.P01P59,
		KernelBaseAddress:  0xFF8000,
		ImageSize:          4096,
		KernelMaxBlockSize: 1024,
	}
	caps := vpwcore.Capabilities{MaxSendSize: 4096, MaxReceiveSize: 4096, Supports4x: false}
	dev2 := adapter.NewMockDevice(caps)
	dev2.Respond = dev.Respond

	vcl := vpwcore.NewVehicle(dev2, nil, vpwcore.NewSystemClock())
	kernel := vpwcore.NewKernel(dev2, vcl, nil)

	// The empty kernel image means PcmExecute issues exactly one upload
	// request and no data packets, consulting Cancelled() twice before
	// returning; cancelling after that lands exactly at the read loop's own
	// cancellation check, which returns (nil, nil) rather than an error.
	canceller := &cancelAfterN{threshold: 2}

	image, err := kernel.ReadContents(context.Background(), canceller, info, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, image)
}
