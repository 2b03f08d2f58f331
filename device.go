package vpwcore

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// VpwSpeed selects the VPW signaling rate.
type VpwSpeed int

const (
	SpeedStandard VpwSpeed = iota // 10.4 kbit/s
	SpeedFourX                    // 41.6 kbit/s
)

func (s VpwSpeed) String() string {
	if s == SpeedFourX {
		return "4x"
	}
	return "1x"
}

// TimeoutScenario names a read-timeout profile; the core only names
// scenarios, concrete devices supply the millisecond values.
type TimeoutScenario int

const (
	TimeoutMinimum TimeoutScenario = iota
	TimeoutReadProperty
	TimeoutReadMemoryBlock
	TimeoutSendKernel
	TimeoutReadCrc
)

func (t TimeoutScenario) String() string {
	switch t {
	case TimeoutMinimum:
		return "Minimum"
	case TimeoutReadProperty:
		return "ReadProperty"
	case TimeoutReadMemoryBlock:
		return "ReadMemoryBlock"
	case TimeoutSendKernel:
		return "SendKernel"
	case TimeoutReadCrc:
		return "ReadCrc"
	default:
		return "Unknown"
	}
}

// Capabilities describes what a concrete Device supports.
type Capabilities struct {
	MaxSendSize              int
	MaxReceiveSize           int
	MaxFlashWriteSendSize    int
	Supports4x               bool
	SupportsSingleDpidLog    bool
	SupportsStreamLogging    bool
	Enable4xReadWrite        bool
	CurrentTimeoutScenario   TimeoutScenario
}

// Device is the abstract byte-transport to a VPW interface. Every concrete
// transport (pass-through DLL, ELM-class scan tool, mock) implements this
// set; the core depends on nothing else. Capability differences between
// transports are expressed as a flag set, not an inheritance hierarchy.
type Device interface {
	Initialize(ctx context.Context) error
	SendMessage(f Frame) error
	// ReceiveMessage returns (Frame{}, false) if no frame arrived within
	// the current read timeout. It never returns an error for a timeout.
	ReceiveMessage() (Frame, bool)
	SetTimeout(scenario TimeoutScenario) (previous TimeoutScenario, err error)
	SetVpwSpeed(speed VpwSpeed) error
	ClearMessageQueue()
	ClearMessageBuffer() error
	ReadVoltage() (float64, error)
	Capabilities() Capabilities
	Dispose() error
	fmt.Stringer
}

// Config configures a Device at construction time.
type Config struct {
	Port         string
	PortBaud     int
	ModuleFilter ModuleID
	Debug        bool
	OnMessage    func(string)
}

// Info describes a registered Device constructor.
type Info struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*Config) (Device, error)
}

func (i Info) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v", i.Name, i.Description, i.RequiresSerialPort)
}

var deviceRegistry = make(map[string]Info)

// RegisterDevice adds a Device constructor to the registry, consumed by
// cmd/vpwtool's --device flag.
func RegisterDevice(info Info) error {
	if _, found := deviceRegistry[info.Name]; found {
		return fmt.Errorf("device %q already registered", info.Name)
	}
	deviceRegistry[info.Name] = info
	return nil
}

func NewDevice(name string, cfg *Config) (Device, error) {
	info, found := deviceRegistry[name]
	if !found {
		return nil, fmt.Errorf("unknown device %q", name)
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(string) {}
	}
	return info.New(cfg)
}

func ListDeviceNames() []string {
	var out []string
	for name := range deviceRegistry {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}
