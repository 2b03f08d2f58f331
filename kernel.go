package vpwcore

import (
	"context"
	"hash/crc32"
	"strconv"
	"time"

	"github.com/avast/retry-go"

	"github.com/flashkit/vpwcore/pkg/flashchip"
	"github.com/flashkit/vpwcore/pkg/pcminfo"
	"github.com/flashkit/vpwcore/pkg/protocol"
)

// headerOverhead is the 10-byte header plus 2-byte checksum every PCM
// upload / kernel memory-read packet carries.
const headerOverhead = 12

// Kernel drives the upload-and-execute flow and the bulk memory read built
// on top of it: chunked transfer with a bounded-attempt retry per chunk,
// and a liveness ping once the kernel is running.
type Kernel struct {
	device Device
	vcl    *Vehicle
	sink   StatusSink
}

func NewKernel(device Device, vcl *Vehicle, sink StatusSink) *Kernel {
	if sink == nil {
		sink = NopSink{}
	}
	return &Kernel{device: device, vcl: vcl, sink: sink}
}

// PcmExecute uploads payload (a loader or kernel image) and causes the PCM
// to jump to its load address once fully received. runningUnderLoader means
// this call is uploading the kernel while a loader is already resident and
// running, which clamps the packet size to 512 bytes; it is false both for
// a loader upload itself and for a kernel upload on hardware that never
// needs a loader at all.
func (k *Kernel) PcmExecute(ctx context.Context, canceller Canceller, info pcminfo.Info, payload []byte, runningUnderLoader bool) error {
	loadAddress := info.KernelBaseAddress
	if info.LoaderRequired && !runningUnderLoader {
		loadAddress = info.LoaderBaseAddress
	}

	declareSize := len(payload)
	if declareSize > 4096 {
		declareSize = 4096
	}
	if err := k.requestUpload(ctx, canceller, declareSize, loadAddress, info.HardwareType == pcminfo.P10 || info.HardwareType == pcminfo.P12); err != nil {
		return err
	}

	packetSize := k.device.Capabilities().MaxSendSize - headerOverhead
	if runningUnderLoader {
		packetSize = 512
	}
	if packetSize <= 0 {
		return NewError(ReasonError, "device packet size too small for kernel upload")
	}

	packets := splitDescending(payload, loadAddress, packetSize)
	for i, pkt := range packets {
		if canceller != nil && canceller.Cancelled() {
			return NewError(ReasonCancelled, "cancelled during kernel upload")
		}
		if err := ctx.Err(); err != nil {
			return NewError(ReasonCancelled, "context cancelled during kernel upload")
		}
		time.Sleep(50 * time.Millisecond) // let the running kernel re-enter its receive loop
		if err := k.writePayload(ctx, canceller, pkt); err != nil {
			return WrapError(ReasonError, "upload kernel packet", err)
		}
		k.sink.StatusUpdatePercentDone(percent(i+1, len(packets)))
	}

	if info.KernelVersionSupport {
		version, err := k.queryKernelVersion(ctx, canceller)
		if err != nil {
			return WrapError(ReasonError, "kernel liveness check", err)
		}
		if version == 0 {
			return NewError(ReasonError, "kernel never started")
		}
	}

	return nil
}

// kernelPacket is one upload packet with its intended copy type.
type kernelPacket struct {
	address  uint32
	payload  []byte
	copyType CopyType
}

// splitDescending splits payload into packetSize chunks plus a remainder,
// ordered highest address first / lowest (containing loadAddress) last.
// The terminal packet is tagged Execute; all others Copy.
func splitDescending(payload []byte, loadAddress uint32, packetSize int) []kernelPacket {
	n := len(payload)
	chunkCount := n / packetSize
	remainder := n % packetSize

	var packets []kernelPacket
	offset := 0
	for i := 0; i < chunkCount; i++ {
		packets = append(packets, kernelPacket{
			address: loadAddress + uint32(offset),
			payload: payload[offset : offset+packetSize],
		})
		offset += packetSize
	}
	if remainder > 0 {
		packets = append(packets, kernelPacket{
			address: loadAddress + uint32(offset),
			payload: payload[offset:],
		})
	}

	// reverse: highest address first
	for i, j := 0, len(packets)-1; i < j; i, j = i+1, j-1 {
		packets[i], packets[j] = packets[j], packets[i]
	}
	for i := range packets {
		packets[i].copyType = CopyTypeCopy
	}
	if len(packets) > 0 {
		packets[len(packets)-1].copyType = CopyTypeExecute
	}
	return packets
}

func (k *Kernel) requestUpload(ctx context.Context, canceller Canceller, size int, address uint32, shortHeader bool) error {
	qe := NewQueryEngine[struct{}](k.device, nil)
	req := protocol.BuildPCMUploadRequest(size, address, shortHeader)
	_, err := qe.Run(ctx, canceller, req, func(f Frame) (struct{}, error) {
		return struct{}{}, protocol.ParsePCMUploadRequestResponse(f)
	})
	return err
}

// writePayload sends one upload packet with up to MaxSendAttempts*5 (10)
// attempts via avast/retry-go, ignoring Refused frames (common background noise)
// while waiting for the positive acknowledgment.
func (k *Kernel) writePayload(ctx context.Context, canceller Canceller, pkt kernelPacket) error {
	frame := protocol.BuildPCMUploadPacket(pkt.copyType, pkt.address, pkt.payload)
	return retry.Do(
		func() error {
			if canceller != nil && canceller.Cancelled() {
				return retry.Unrecoverable(NewError(ReasonCancelled, "cancelled before send"))
			}
			if err := k.device.SendMessage(frame); err != nil {
				return err
			}
			return k.waitForUploadAck(ctx)
		},
		retry.Attempts(MaxSendAttempts*5),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

func (k *Kernel) waitForUploadAck(ctx context.Context) error {
	for i := 0; i < MaxReceiveIterations; i++ {
		if err := ctx.Err(); err != nil {
			return NewError(ReasonCancelled, "context cancelled awaiting upload ack")
		}
		f, has := k.device.ReceiveMessage()
		if !has {
			continue
		}
		if err := protocol.ParsePCMUploadAck(f); err == nil {
			return nil
		} else if ReasonOf(err) == ReasonRefused {
			continue
		}
	}
	return NewError(ReasonTimeout, "no upload acknowledgment")
}

func (k *Kernel) queryKernelVersion(ctx context.Context, canceller Canceller) (uint32, error) {
	qe := NewQueryEngine[uint32](k.device, nil)
	req := protocol.BuildKernelVersionQuery()
	return qe.Run(ctx, canceller, req, func(f Frame) (uint32, error) {
		return protocol.ParseKernelQueryResponse(f)
	})
}

// ReadContents runs the bulk-read sequence: force tool-present, switch to
// 4x if enabled, upload loader/kernel, look up the flash chip, read the
// whole image block by block with per-block retries, and verify CRC32 per
// memory range when the chip supports it. Cleanup always runs, even on
// cancellation.
func (k *Kernel) ReadContents(ctx context.Context, canceller Canceller, info pcminfo.Info, loaderImage, kernelImage []byte) ([]byte, error) {
	defer k.vcl.Cleanup(k.device.Capabilities())

	if err := k.vcl.notifier.ForceNotify(); err != nil {
		return nil, err
	}

	caps := k.device.Capabilities()
	if caps.Supports4x {
		if err := k.vcl.VehicleSetVpw4x(ctx, canceller); err != nil {
			k.sink.AddUserMessage("4x speed request refused, continuing at 1x: " + err.Error())
		}
	} else {
		k.sink.AddUserMessage("device does not support 4x, continuing at 1x")
	}

	loaderWasRequired := info.LoaderRequired
	if loaderWasRequired {
		if err := k.PcmExecute(ctx, canceller, info, loaderImage, false); err != nil {
			return nil, WrapError(ReasonError, "upload loader", err)
		}
		info.LoaderRequired = false
	}
	if err := k.PcmExecute(ctx, canceller, info, kernelImage, loaderWasRequired); err != nil {
		return nil, WrapError(ReasonError, "upload kernel", err)
	}

	var chip flashchip.FlashChip
	if info.FlashIDSupport {
		id, err := k.queryFlashChipID(ctx, canceller)
		if err == nil {
			chip = flashchip.Lookup(id)
		} else {
			chip = flashchip.Lookup(0)
		}
	}

	if _, err := k.device.SetTimeout(TimeoutReadMemoryBlock); err != nil {
		return nil, err
	}
	blockSize := caps.MaxReceiveSize - headerOverhead
	if info.KernelMaxBlockSize < blockSize {
		blockSize = info.KernelMaxBlockSize
	}
	if blockSize <= 0 {
		return nil, NewError(ReasonError, "device block size too small for memory read")
	}

	image := make([]byte, info.ImageSize)
	totalRetries := 0
	start := time.Now()

	for addr := 0; addr < info.ImageSize; addr += blockSize {
		if canceller != nil && canceller.Cancelled() {
			return nil, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, nil
		}
		length := blockSize
		if addr+length > info.ImageSize {
			length = info.ImageSize - addr
		}

		block, retries, err := k.tryReadBlock(ctx, canceller, uint32(addr), length)
		totalRetries += retries
		if err != nil {
			return nil, WrapError(ReasonError, "read memory block", err)
		}
		copy(image[addr:addr+length], block)

		k.reportProgress(addr+length, info.ImageSize, totalRetries, start)
	}

	if info.FlashIDSupport && info.FlashCRCSupport && len(chip.MemoryRanges) > 0 {
		if err := k.verifyCRC(ctx, canceller, chip, image); err != nil {
			return nil, err
		}
	}

	return image, nil
}

func (k *Kernel) tryReadBlock(ctx context.Context, canceller Canceller, address uint32, length int) ([]byte, int, error) {
	var block []byte
	retries := 0
	err := retry.Do(
		func() error {
			if canceller != nil && canceller.Cancelled() {
				return retry.Unrecoverable(NewError(ReasonCancelled, "cancelled"))
			}
			qe := NewQueryEngine[[]byte](k.device, nil)
			req := protocol.BuildKernelMemoryReadRequest(length, address)
			b, err := qe.Run(ctx, canceller, req, func(f Frame) ([]byte, error) {
				return protocol.ParseKernelMemoryReadResponse(f, length, address)
			})
			if err != nil {
				retries++
				return err
			}
			block = b
			return nil
		},
		retry.Attempts(MaxBlockReadAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	return block, retries, err
}

func (k *Kernel) queryFlashChipID(ctx context.Context, canceller Canceller) (uint32, error) {
	qe := NewQueryEngine[uint32](k.device, nil)
	req := protocol.BuildFlashTypeQuery()
	return qe.Run(ctx, canceller, req, func(f Frame) (uint32, error) {
		return protocol.ParseKernelQueryResponse(f)
	})
}

func (k *Kernel) verifyCRC(ctx context.Context, canceller Canceller, chip flashchip.FlashChip, image []byte) error {
	for _, r := range chip.MemoryRanges {
		if canceller != nil && canceller.Cancelled() {
			return nil
		}
		end := int(r.Address) + r.Length
		if end > len(image) {
			continue
		}
		want := crc32.ChecksumIEEE(image[r.Address:end])
		got, err := k.queryKernelCRC(ctx, canceller, r.Address, r.Length)
		if err != nil {
			return WrapError(ReasonError, "query kernel CRC", err)
		}
		if got != want {
			return NewError(ReasonError, "CRC mismatch for "+r.BlockType.String()+" range")
		}
	}
	return nil
}

func (k *Kernel) queryKernelCRC(ctx context.Context, canceller Canceller, address uint32, length int) (uint32, error) {
	qe := NewQueryEngine[uint32](k.device, nil)
	req := protocol.BuildKernelMemoryReadRequest(length, address)
	return qe.Run(ctx, canceller, req, func(f Frame) (uint32, error) {
		return protocol.ParseKernelQueryResponse(f)
	})
}

func (k *Kernel) reportProgress(done, total, retries int, start time.Time) {
	elapsed := time.Since(start)
	fraction := float64(done) / float64(total)
	k.sink.StatusUpdateProgressBar(fraction, false)
	k.sink.StatusUpdatePercentDone(percent(done, total))
	k.sink.StatusUpdateRetryCount(strconv.Itoa(retries))
	if elapsed > 0 {
		kbps := float64(done) / 1024 / elapsed.Seconds()
		k.sink.StatusUpdateKbps(strconv.FormatFloat(kbps, 'f', 1, 64))
	}
}

func percent(done, total int) string {
	if total == 0 {
		return "0%"
	}
	return strconv.Itoa(done*100/total) + "%"
}
