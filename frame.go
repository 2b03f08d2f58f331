package vpwcore

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Priority is the first byte of a VPW frame.
type Priority byte

const (
	PriorityPhysical0     Priority = 0x6C
	PriorityBlock         Priority = 0x6D
	PriorityPhysical0High Priority = 0x68 // seen from some PCM variants, see DESIGN.md
)

// ModuleID identifies a bus participant.
type ModuleID byte

const (
	ModulePcm       ModuleID = 0x10
	ModuleTool      ModuleID = 0xF0
	ModuleBroadcast ModuleID = 0xFE
)

func (m ModuleID) String() string {
	switch m {
	case ModulePcm:
		return "PCM"
	case ModuleTool:
		return "TOOL"
	case ModuleBroadcast:
		return "BROADCAST"
	default:
		return fmt.Sprintf("0x%02X", byte(m))
	}
}

// Mode is the UDS-style service byte. Response frames OR in ModeResponseFlag.
type Mode byte

const (
	ModeReadBlock         Mode = 0x3C
	ModeWriteBlock        Mode = 0x3B
	ModeSeed              Mode = 0x27
	ModePCMUpload         Mode = 0x36
	ModePCMUploadRequest  Mode = 0x34
	ModeHighSpeedPrepare  Mode = 0xA0
	ModeHighSpeed         Mode = 0xA1
	ModeNegativeResponse  Mode = 0x7F
	ModeKernelMemoryRead  Mode = 0x35
	ModeKernelMemoryRead4 Mode = 0x37
	ModeResponseFlag      Mode = 0x40
)

func (m Mode) String() string {
	switch m &^ ModeResponseFlag {
	case ModeReadBlock:
		return "ReadBlock"
	case ModeWriteBlock:
		return "WriteBlock"
	case ModeSeed:
		return "Seed"
	case ModePCMUpload:
		return "PCMUpload"
	case ModePCMUploadRequest:
		return "PCMUploadRequest"
	case ModeHighSpeedPrepare:
		return "HighSpeedPrepare"
	case ModeHighSpeed:
		return "HighSpeed"
	case ModeNegativeResponse:
		return "NegativeResponse"
	case ModeKernelMemoryRead:
		return "KernelMemoryRead"
	case ModeKernelMemoryRead4:
		return "KernelMemoryRead4"
	default:
		return fmt.Sprintf("Mode(0x%02X)", byte(m))
	}
}

// CopyType tags a PCM upload packet.
type CopyType byte

const (
	CopyTypeCopy      CopyType = 0x00
	CopyTypeExecute   CopyType = 0x80
	CopyTypeTestWrite CopyType = 0x44
)

// Frame is an immutable byte sequence captured off the bus, stamped with
// the time it arrived and any transport-reported error.
type Frame struct {
	data         []byte
	timestamp    time.Time
	transportErr error
}

// NewFrame wraps data captured at t. data is copied so the caller's buffer
// may be reused afterward.
func NewFrame(data []byte, t time.Time) Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Frame{data: buf, timestamp: t}
}

// NewFrameWithError wraps a frame a transport flagged as errored, e.g. a
// framing fault reported by the pass-through DLL.
func NewFrameWithError(data []byte, t time.Time, err error) Frame {
	f := NewFrame(data, t)
	f.transportErr = err
	return f
}

func (f Frame) Len() int            { return len(f.data) }
func (f Frame) Valid() bool         { return len(f.data) >= 4 }
func (f Frame) TransportErr() error { return f.transportErr }
func (f Frame) Timestamp() time.Time { return f.timestamp }

func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

func (f Frame) Priority() Priority    { return Priority(f.byteAt(0)) }
func (f Frame) Destination() ModuleID { return ModuleID(f.byteAt(1)) }
func (f Frame) Source() ModuleID      { return ModuleID(f.byteAt(2)) }
func (f Frame) Mode() Mode            { return Mode(f.byteAt(3)) }
func (f Frame) Submode() byte         { return f.byteAt(4) }

// Payload returns everything from the submode byte (byte 4) onward; the
// submode byte is its first element.
func (f Frame) Payload() []byte {
	if len(f.data) <= 4 {
		return nil
	}
	return f.data[4:]
}

func (f Frame) byteAt(i int) byte {
	if i >= len(f.data) {
		return 0
	}
	return f.data[i]
}

// IsResponseTo reports whether f is structurally a response to a request
// with the given mode, addressed back from theirAddr to myAddr.
func (f Frame) IsResponseTo(requestMode Mode, myAddr, theirAddr ModuleID) bool {
	return f.Valid() && f.Destination() == myAddr && f.Source() == theirAddr && f.Mode() == requestMode|ModeResponseFlag
}

// IsNegativeResponseTo reports whether f is a NegativeResponse frame
// echoing requestMode in its submode byte.
func (f Frame) IsNegativeResponseTo(requestMode Mode) bool {
	return f.Valid() && f.Mode() == ModeNegativeResponse && f.Submode() == byte(requestMode)
}

// RefusalCode is byte 5 of a NegativeResponse frame, 0 if absent.
func (f Frame) RefusalCode() byte {
	if len(f.data) < 6 {
		return 0
	}
	return f.data[5]
}

var (
	colorMode = color.New(color.FgHiYellow).SprintfFunc()
	colorErr  = color.New(color.FgRed).SprintfFunc()
)

func (f Frame) String() string {
	if !f.Valid() {
		return fmt.Sprintf("<invalid % X>", f.data)
	}
	return fmt.Sprintf("%s->%s %s [% X]", f.Source(), f.Destination(), f.Mode(), f.Payload())
}

// ColorString renders the frame as hex with the mode byte highlighted.
func (f Frame) ColorString() string {
	if !f.Valid() {
		return colorErr("<invalid % X>", f.data)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "% X ", f.data[:3])
	b.WriteString(colorMode("%02X", f.data[3]))
	if len(f.data) > 4 {
		fmt.Fprintf(&b, " % X", f.data[4:])
	}
	return b.String()
}

// CalcBlockChecksum returns the 16-bit big-endian additive checksum over
// buf (sum of all bytes mod 0x10000).
func CalcBlockChecksum(buf []byte) uint16 {
	var sum uint32
	for _, b := range buf {
		sum += uint32(b)
	}
	return uint16(sum & 0xFFFF)
}

// AddBlockChecksum appends the checksum of buf to a copy of buf.
func AddBlockChecksum(buf []byte) []byte {
	sum := CalcBlockChecksum(buf)
	out := make([]byte, len(buf)+2)
	copy(out, buf)
	out[len(buf)] = byte(sum >> 8)
	out[len(buf)+1] = byte(sum)
	return out
}

// VerifyBlockChecksum reports whether the trailing two bytes of buf equal
// the additive checksum of the preceding bytes.
func VerifyBlockChecksum(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	body := buf[:len(buf)-2]
	want := CalcBlockChecksum(body)
	got := uint16(buf[len(buf)-2])<<8 | uint16(buf[len(buf)-1])
	return want == got
}
