package adapter

import (
	"context"
	"time"

	"github.com/flashkit/vpwcore"
)

// MockDevice is a scripted Device substrate for tests. It never touches a
// real bus: SendMessage records what was sent and looks up a canned
// response via Respond, which is queued for the next ReceiveMessage call.
type MockDevice struct {
	vpwcore.BaseDevice

	Sent      []vpwcore.Frame
	Respond   func(sent vpwcore.Frame) []vpwcore.Frame
	Voltage   float64
	caps      vpwcore.Capabilities
	speed     vpwcore.VpwSpeed
	disposed  bool
}

func NewMockDevice(caps vpwcore.Capabilities) *MockDevice {
	return &MockDevice{
		BaseDevice: *vpwcore.NewBaseDevice("mock", &vpwcore.Config{}, 1024),
		Voltage:    14.2,
		caps:       caps,
	}
}

func (m *MockDevice) Initialize(ctx context.Context) error { return nil }

func (m *MockDevice) SendMessage(f vpwcore.Frame) error {
	m.Sent = append(m.Sent, f)
	if m.Respond == nil {
		return nil
	}
	for _, resp := range m.Respond(f) {
		m.Enqueue(resp)
	}
	return nil
}

func (m *MockDevice) ReceiveMessage() (vpwcore.Frame, bool) {
	f, ok := m.Dequeue()
	if !ok {
		time.Sleep(time.Millisecond)
	}
	return f, ok
}

func (m *MockDevice) SetTimeout(scenario vpwcore.TimeoutScenario) (vpwcore.TimeoutScenario, error) {
	return m.ApplyTimeout(scenario, m.CurrentReadWait()), nil
}

func (m *MockDevice) SetVpwSpeed(speed vpwcore.VpwSpeed) error {
	m.speed = speed
	return nil
}

func (m *MockDevice) Speed() vpwcore.VpwSpeed { return m.speed }

func (m *MockDevice) ClearMessageBuffer() error {
	m.Sent = nil
	return nil
}

func (m *MockDevice) ReadVoltage() (float64, error) { return m.Voltage, nil }

func (m *MockDevice) Capabilities() vpwcore.Capabilities { return m.caps }

func (m *MockDevice) Dispose() error {
	m.disposed = true
	return nil
}

func (m *MockDevice) Disposed() bool { return m.disposed }

// Push injects a frame directly into the receive queue, bypassing Respond —
// useful for simulating unsolicited frames (e.g. a module broadcasting 4x
// permission) ahead of a matching request.
func (m *MockDevice) Push(f vpwcore.Frame) {
	m.Enqueue(f)
}

func init() {
	_ = vpwcore.RegisterDevice(vpwcore.Info{
		Name:               "mock",
		Description:        "scripted in-memory device for tests",
		RequiresSerialPort: false,
		New: func(cfg *vpwcore.Config) (vpwcore.Device, error) {
			return NewMockDevice(vpwcore.Capabilities{MaxSendSize: 4096, MaxReceiveSize: 4096}), nil
		},
	})
}
