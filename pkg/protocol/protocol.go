// Package protocol holds the pure stateless request builders and response
// parsers for the upload/read/unlock wire protocol. Every function here is
// a pure function over bytes: no I/O, no blocking, no retry. One
// constructor and one parser per request, in the style of a GMLAN
// request/response pair generalized from CAN framing to VPW.
package protocol

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/flashkit/vpwcore"
)

// Block ids for ReadBlock requests.
const (
	BlockVIN1          byte = 0x01
	BlockVIN2          byte = 0x02
	BlockVIN3          byte = 0x03
	BlockSerial1       byte = 0x04
	BlockSerial2       byte = 0x05
	BlockSerial3       byte = 0x06
	BlockBCC           byte = 0x0C
	BlockMEC           byte = 0x0D
	BlockHardwareID    byte = 0x0A
	BlockOsID          byte = 0x0B
	BlockCalibrationID byte = 0x0E
)

func negOrUnexpected(f vpwcore.Frame, requestMode vpwcore.Mode) error {
	if f.IsNegativeResponseTo(requestMode) {
		return vpwcore.NewError(vpwcore.ReasonRefused, fmt.Sprintf("refusal code 0x%02X", f.RefusalCode()))
	}
	return vpwcore.NewError(vpwcore.ReasonUnexpectedResponse, "frame did not match expected prefix")
}

// BuildReadBlock constructs a ReadBlock request for the given block id.
func BuildReadBlock(blockID byte) vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), byte(vpwcore.ModeReadBlock), blockID}
	return vpwcore.NewFrame(data, time.Time{})
}

// ParseReadBlockResponse validates the response prefix and returns the
// block's payload bytes (everything after the echoed block id).
func ParseReadBlockResponse(f vpwcore.Frame, blockID byte) ([]byte, error) {
	if !f.IsResponseTo(vpwcore.ModeReadBlock, vpwcore.ModuleTool, vpwcore.ModulePcm) {
		return nil, negOrUnexpected(f, vpwcore.ModeReadBlock)
	}
	payload := f.Payload()
	if len(payload) < 1 || payload[0] != blockID {
		return nil, vpwcore.NewError(vpwcore.ReasonUnexpectedResponse, "block id mismatch")
	}
	if len(payload) < 2 {
		return nil, vpwcore.NewError(vpwcore.ReasonTruncated, "read block response too short")
	}
	return payload[1:], nil
}

// BuildSeedRequest constructs the fixed five-byte seed request.
func BuildSeedRequest() vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), byte(vpwcore.ModeSeed), 0x01}
	return vpwcore.NewFrame(data, time.Time{})
}

// ParseSeedResponse reports the 16-bit seed, or alreadyUnlocked=true if the
// response carries the "already unlocked" sentinel (…01 37).
func ParseSeedResponse(f vpwcore.Frame) (seed uint16, alreadyUnlocked bool, err error) {
	if !f.IsResponseTo(vpwcore.ModeSeed, vpwcore.ModuleTool, vpwcore.ModulePcm) {
		return 0, false, negOrUnexpected(f, vpwcore.ModeSeed)
	}
	b := f.Bytes()
	if len(b) >= 6 && b[4] == 0x01 && b[5] == 0x37 {
		return 0, true, nil
	}
	if len(b) < 8 {
		return 0, false, vpwcore.NewError(vpwcore.ReasonTruncated, "seed response too short")
	}
	return binary.BigEndian.Uint16(b[6:8]), false, nil
}

// KeyFunc computes a security-access key from a seed, indexed by an
// external algorithm id. Injected by the caller — the core never hard-codes
// a key algorithm.
type KeyFunc func(algorithmID int, seed uint16) (uint16, error)

// BuildUnlockRequest constructs the unlock frame carrying the computed key.
func BuildUnlockRequest(key uint16) vpwcore.Frame {
	data := []byte{
		byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), byte(vpwcore.ModeSeed), 0x02,
		byte(key >> 8), byte(key),
	}
	return vpwcore.NewFrame(data, time.Time{})
}

// UnlockStatus is the one-byte status in an unlock response.
type UnlockStatus byte

const (
	UnlockAllowed UnlockStatus = 0x34
	UnlockDenied  UnlockStatus = 0x33
	UnlockInvalid UnlockStatus = 0x35
	UnlockTooMany UnlockStatus = 0x36
	UnlockDelay   UnlockStatus = 0x37
)

func (s UnlockStatus) String() string {
	switch s {
	case UnlockAllowed:
		return "Allowed"
	case UnlockDenied:
		return "Denied"
	case UnlockInvalid:
		return "Invalid"
	case UnlockTooMany:
		return "TooMany"
	case UnlockDelay:
		return "Delay"
	default:
		return fmt.Sprintf("UnlockStatus(0x%02X)", byte(s))
	}
}

func ParseUnlockResponse(f vpwcore.Frame) (UnlockStatus, error) {
	if !f.IsResponseTo(vpwcore.ModeSeed, vpwcore.ModuleTool, vpwcore.ModulePcm) {
		return 0, negOrUnexpected(f, vpwcore.ModeSeed)
	}
	payload := f.Payload()
	if len(payload) < 2 {
		return 0, vpwcore.NewError(vpwcore.ReasonTruncated, "unlock response too short")
	}
	return UnlockStatus(payload[1]), nil
}

// BuildPCMUploadRequest declares an intended byte count and destination
// address. shortHeader is used for P10/P12 variants, which get a header
// only, no size/address.
func BuildPCMUploadRequest(size int, address uint32, shortHeader bool) vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), byte(vpwcore.ModePCMUploadRequest)}
	if shortHeader {
		return vpwcore.NewFrame(data, time.Time{})
	}
	data = append(data, byte(size>>8), byte(size))
	data = append(data, byte(address>>16), byte(address>>8), byte(address))
	return vpwcore.NewFrame(data, time.Time{})
}

// ParsePCMUploadRequestResponse fails with Refused if the PCM declined the
// upload request, else succeeds.
func ParsePCMUploadRequestResponse(f vpwcore.Frame) error {
	if f.IsResponseTo(vpwcore.ModePCMUploadRequest, vpwcore.ModuleTool, vpwcore.ModulePcm) {
		return nil
	}
	// Some PCMs answer with priority 0x68 instead of 0x6C; accept it rather
	// than treat it as a negative response.
	if f.Priority() == vpwcore.PriorityPhysical0High && f.Destination() == vpwcore.ModuleTool && f.Source() == vpwcore.ModulePcm && f.Mode() == vpwcore.ModePCMUploadRequest|vpwcore.ModeResponseFlag {
		return nil
	}
	return negOrUnexpected(f, vpwcore.ModePCMUploadRequest)
}

// BuildPCMUploadPacket builds a block-priority upload packet:
// [0x6D, Pcm, Tool, 0x36, copyType, size_be_16, addr_be_24] + payload + checksum.
func BuildPCMUploadPacket(copyType vpwcore.CopyType, address uint32, payload []byte) vpwcore.Frame {
	header := []byte{
		byte(vpwcore.PriorityBlock), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), byte(vpwcore.ModePCMUpload),
		byte(copyType),
		byte(len(payload) >> 8), byte(len(payload)),
		byte(address >> 16), byte(address >> 8), byte(address),
	}
	body := append(header, payload...)
	return vpwcore.NewFrame(vpwcore.AddBlockChecksum(body), time.Time{})
}

// ParsePCMUploadAck accepts either a positive upload acknowledgment or
// classifies a negative response as Refused — Refused is common background
// noise during chunked upload and the caller (C7) may choose to ignore it.
func ParsePCMUploadAck(f vpwcore.Frame) error {
	if f.IsResponseTo(vpwcore.ModePCMUpload, vpwcore.ModuleTool, vpwcore.ModulePcm) {
		return nil
	}
	return negOrUnexpected(f, vpwcore.ModePCMUpload)
}

// kernelReadMode picks mode 0x35 for addresses that fit 24 bits, 0x37 for
// addresses that need the full 32 bits.
func kernelReadMode(address uint32) vpwcore.Mode {
	if address > 0xFFFFFF {
		return vpwcore.ModeKernelMemoryRead4
	}
	return vpwcore.ModeKernelMemoryRead
}

// BuildKernelMemoryReadRequest builds a read request addressed to the
// running kernel.
func BuildKernelMemoryReadRequest(length int, address uint32) vpwcore.Frame {
	mode := kernelReadMode(address)
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), byte(mode)}
	if mode == vpwcore.ModeKernelMemoryRead4 {
		data = append(data, byte(length>>8), byte(length))
		data = binary.BigEndian.AppendUint32(data, address)
	} else {
		data = append(data, byte(length>>8), byte(length))
		data = append(data, byte(address>>16), byte(address>>8), byte(address))
	}
	return vpwcore.NewFrame(data, time.Time{})
}

// ReadSubMode distinguishes the kernel memory-read response payload shape.
type ReadSubMode byte

const (
	ReadSubModeNormal ReadSubMode = 0x01
	ReadSubModeRLE    ReadSubMode = 0x02
)

// ParseKernelMemoryReadResponse validates the block-priority response
// header against expectedLength/expectedAddress, verifies the trailing
// block checksum, and returns the declared-length payload slice. RLE
// (sub=0x02) is defined on the wire but not decoded here.
func ParseKernelMemoryReadResponse(f vpwcore.Frame, expectedLength int, expectedAddress uint32) ([]byte, error) {
	if f.Priority() != vpwcore.PriorityBlock {
		return nil, negOrUnexpected(f, vpwcore.ModeKernelMemoryRead)
	}
	if !f.IsResponseTo(vpwcore.ModeKernelMemoryRead, vpwcore.ModuleTool, vpwcore.ModulePcm) &&
		!f.IsResponseTo(vpwcore.ModeKernelMemoryRead4, vpwcore.ModuleTool, vpwcore.ModulePcm) {
		return nil, negOrUnexpected(f, vpwcore.ModeKernelMemoryRead)
	}
	b := f.Bytes()
	if len(b) < 10 {
		return nil, vpwcore.NewError(vpwcore.ReasonTruncated, "memory read header too short")
	}
	subMode := ReadSubMode(b[4])
	declaredLen := int(b[5])<<8 | int(b[6])
	address := uint32(b[7])<<16 | uint32(b[8])<<8 | uint32(b[9])
	if address != expectedAddress {
		return nil, vpwcore.NewError(vpwcore.ReasonUnexpectedResponse, "address mismatch in memory read response")
	}
	if declaredLen != expectedLength {
		return nil, vpwcore.NewError(vpwcore.ReasonUnexpectedResponse, "length mismatch in memory read response")
	}
	switch subMode {
	case ReadSubModeRLE:
		return nil, vpwcore.NewError(vpwcore.ReasonError, vpwcore.ErrRLENotImplemented.Error())
	case ReadSubModeNormal:
		if len(b) < declaredLen+12 {
			return nil, vpwcore.NewError(vpwcore.ReasonTruncated, "memory read payload truncated")
		}
		if !vpwcore.VerifyBlockChecksum(b) {
			return nil, vpwcore.NewError(vpwcore.ReasonError, "memory read block checksum mismatch")
		}
		return b[10 : 10+declaredLen], nil
	default:
		return nil, vpwcore.NewError(vpwcore.ReasonUnexpectedResponse, "unknown memory read sub-mode")
	}
}

// BuildHighSpeedPermissionRequest is a broadcast query; every module on the
// bus replies Granted or Rejected.
func BuildHighSpeedPermissionRequest() vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleBroadcast), byte(vpwcore.ModuleTool), byte(vpwcore.ModeHighSpeedPrepare), 0x00}
	return vpwcore.NewFrame(data, time.Time{})
}

// ParseHighSpeedPermissionResponse reports whether the responding module
// granted or refused the 4x request.
func ParseHighSpeedPermissionResponse(f vpwcore.Frame) (granted bool, moduleID vpwcore.ModuleID, err error) {
	if f.Mode() != vpwcore.ModeHighSpeedPrepare|vpwcore.ModeResponseFlag {
		return false, 0, negOrUnexpected(f, vpwcore.ModeHighSpeedPrepare)
	}
	payload := f.Payload()
	if len(payload) < 1 {
		return false, f.Source(), vpwcore.NewError(vpwcore.ReasonTruncated, "high speed permission response too short")
	}
	return payload[0] == 0x01, f.Source(), nil
}

// BuildBeginHighSpeed is a broadcast command with no expected per-module
// reply.
func BuildBeginHighSpeed() vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModuleBroadcast), byte(vpwcore.ModuleTool), byte(vpwcore.ModeHighSpeed), 0x00}
	return vpwcore.NewFrame(data, time.Time{})
}

// BuildToolPresent is the fire-and-forget heartbeat frame.
func BuildToolPresent() vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), 0x3F, 0x00}
	return vpwcore.NewFrame(data, time.Time{})
}

// BuildExitKernel tells a running kernel to jump back to normal firmware.
func BuildExitKernel() vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), 0x20, 0x00}
	return vpwcore.NewFrame(data, time.Time{})
}

// BuildClearDTCs clears diagnostic trouble codes.
func BuildClearDTCs() vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), 0x04, 0x00}
	return vpwcore.NewFrame(data, time.Time{})
}

// BuildDisableNormalComms silences the PCM's normal bus chatter so the
// kernel has the bus to itself.
func BuildDisableNormalComms() vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityPhysical0), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), 0x28, 0x00}
	return vpwcore.NewFrame(data, time.Time{})
}

// BuildKernelVersionQuery, BuildFlashTypeQuery, and BuildOsIDFromKernelQuery
// are block-priority frames addressed to the running kernel.
func BuildKernelVersionQuery() vpwcore.Frame {
	return buildKernelQuery(0x01)
}

func BuildFlashTypeQuery() vpwcore.Frame {
	return buildKernelQuery(0x02)
}

func BuildOsIDFromKernelQuery() vpwcore.Frame {
	return buildKernelQuery(0x03)
}

func buildKernelQuery(submode byte) vpwcore.Frame {
	data := []byte{byte(vpwcore.PriorityBlock), byte(vpwcore.ModulePcm), byte(vpwcore.ModuleTool), byte(vpwcore.ModeReadBlock), submode}
	return vpwcore.NewFrame(vpwcore.AddBlockChecksum(data), time.Time{})
}

// ParseKernelQueryResponse validates both the block priority and the
// 4-byte payload of a kernel version/flash-type/OS-ID query response.
func ParseKernelQueryResponse(f vpwcore.Frame) (uint32, error) {
	if f.Priority() != vpwcore.PriorityBlock {
		return 0, negOrUnexpected(f, vpwcore.ModeReadBlock)
	}
	if !f.IsResponseTo(vpwcore.ModeReadBlock, vpwcore.ModuleTool, vpwcore.ModulePcm) {
		return 0, negOrUnexpected(f, vpwcore.ModeReadBlock)
	}
	b := f.Bytes()
	if len(b) < 11 {
		return 0, vpwcore.NewError(vpwcore.ReasonTruncated, "kernel query response too short")
	}
	if !vpwcore.VerifyBlockChecksum(b) {
		return 0, vpwcore.NewError(vpwcore.ReasonError, "kernel query checksum mismatch")
	}
	return binary.BigEndian.Uint32(b[5:9]), nil
}
