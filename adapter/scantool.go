package adapter

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.bug.st/serial"

	"github.com/flashkit/vpwcore"
)

// STN protocol numbers (ELM327-compatible AT command set): 2 selects SAE
// J1850 VPW at 10.4 kbit/s.
const (
	stnProtocolVPW  = "ATSP2"
	stnProtocol4x   = "STPBR416667" // custom bit-rate, 41.6 kbit/s
	stnProtocolBack = "STPBR104166" // back to 10.4 kbit/s
)

func init() {
	for _, name := range []string{"OBDLink SX", "OBDLink EX", "STN1170", "STN2120"} {
		n := name
		_ = vpwcore.RegisterDevice(vpwcore.Info{
			Name:               n,
			Description:        "ScanTool.net " + n + " (SAE J1850 VPW)",
			RequiresSerialPort: true,
			New: func(cfg *vpwcore.Config) (vpwcore.Device, error) {
				return NewScanTool(n, cfg)
			},
		})
	}
}

// ScanTool talks to an STN/ELM327-class adapter over a serial port using AT
// commands, with headers-on so each received line is the full VPW frame
// (priority/dest/src/mode/payload) as ASCII hex.
type ScanTool struct {
	vpwcore.BaseDevice

	port serial.Port
	caps vpwcore.Capabilities
}

func NewScanTool(name string, cfg *vpwcore.Config) (*ScanTool, error) {
	return &ScanTool{
		BaseDevice: *vpwcore.NewBaseDevice(name, cfg, 1024),
		caps: vpwcore.Capabilities{
			MaxSendSize:    4128,
			MaxReceiveSize: 4128,
			Supports4x:     true,
		},
	}, nil
}

func (s *ScanTool) Initialize(ctx context.Context) error {
	mode := &serial.Mode{BaudRate: s.Cfg.PortBaud, Parity: serial.NoParity, DataBits: 8, StopBits: serial.OneStopBit}
	p, err := serial.Open(s.Cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("open %q: %w", s.Cfg.Port, err)
	}
	s.port = p
	if err := p.SetReadTimeout(10 * time.Millisecond); err != nil {
		p.Close()
		return err
	}
	p.ResetInputBuffer()
	p.ResetOutputBuffer()

	initCmds := []string{
		"ATE0",         // echo off
		"ATS0",         // spaces off
		"ATH1",         // headers on, so the frame's priority/dest/src bytes come through
		"ATCAF0",       // automatic formatting off
		"ATAT0",        // adaptive timing off
		stnProtocolVPW, // SAE J1850 VPW
		"ATST32",       // 200ms timeout
		"ATR0",         // replies off
	}
	for _, cmd := range initCmds {
		if _, err := s.port.Write([]byte(cmd + "\r")); err != nil {
			return fmt.Errorf("init command %q: %w", cmd, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	p.ResetInputBuffer()
	return nil
}

func (s *ScanTool) SendMessage(f vpwcore.Frame) error {
	line := "STPX" + hex.EncodeToString(f.Bytes()) + "\r"
	_, err := s.port.Write([]byte(line))
	return err
}

// ReceiveMessage polls the serial port for one complete line terminated by
// carriage return and decodes it as a hex-encoded frame. It returns
// (Frame{}, false) on a read timeout, never an error.
func (s *ScanTool) ReceiveMessage() (vpwcore.Frame, bool) {
	buf := bytes.NewBuffer(nil)
	deadline := time.Now().Add(s.CurrentReadWait())
	readBuf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := s.port.Read(readBuf)
		if err != nil || n == 0 {
			continue
		}
		for _, b := range readBuf[:n] {
			if b == '\r' {
				if buf.Len() == 0 {
					continue
				}
				line := buf.String()
				buf.Reset()
				if line == "OK" || line == "NO DATA" || line == "?" {
					continue
				}
				data, err := hex.DecodeString(line)
				if err != nil {
					s.Warn("undecodable line: " + line)
					continue
				}
				return vpwcore.NewFrame(data, time.Now()), true
			}
			buf.WriteByte(b)
		}
	}
	return vpwcore.Frame{}, false
}

func (s *ScanTool) SetTimeout(scenario vpwcore.TimeoutScenario) (vpwcore.TimeoutScenario, error) {
	wait := scantoolWaitFor(scenario)
	return s.ApplyTimeout(scenario, wait), nil
}

func scantoolWaitFor(scenario vpwcore.TimeoutScenario) time.Duration {
	switch scenario {
	case vpwcore.TimeoutReadMemoryBlock, vpwcore.TimeoutSendKernel:
		return 500 * time.Millisecond
	case vpwcore.TimeoutReadCrc:
		return 1 * time.Second
	default:
		return 150 * time.Millisecond
	}
}

func (s *ScanTool) SetVpwSpeed(speed vpwcore.VpwSpeed) error {
	cmd := stnProtocolBack
	if speed == vpwcore.SpeedFourX {
		cmd = stnProtocol4x
	}
	_, err := s.port.Write([]byte(cmd + "\r"))
	return err
}

func (s *ScanTool) ClearMessageQueue() { s.BaseDevice.ClearMessageQueue() }

func (s *ScanTool) ClearMessageBuffer() error {
	s.port.ResetInputBuffer()
	return s.port.ResetOutputBuffer()
}

func (s *ScanTool) ReadVoltage() (float64, error) {
	if _, err := s.port.Write([]byte("ATRV\r")); err != nil {
		return 0, err
	}
	time.Sleep(50 * time.Millisecond)
	buf := make([]byte, 32)
	n, err := s.port.Read(buf)
	if err != nil {
		return 0, err
	}
	line := string(bytes.TrimRight(buf[:n], "V\r\n"))
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, errors.New("unparseable voltage reply: " + line)
	}
	return v, nil
}

func (s *ScanTool) Capabilities() vpwcore.Capabilities { return s.caps }

func (s *ScanTool) Dispose() error {
	if s.port == nil {
		return vpwcore.ErrAlreadyDisposed
	}
	s.port.Write([]byte("ATZ\r"))
	time.Sleep(50 * time.Millisecond)
	err := s.port.Close()
	s.port = nil
	return err
}
