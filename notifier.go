package vpwcore

import "time"

const toolPresentGate = 800 * time.Millisecond

// Clock is injected so tests can control wall time instead of sleeping
// real milliseconds.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewSystemClock returns a Clock backed by the real wall clock, for callers
// outside this package that don't need to fake time.
func NewSystemClock() Clock { return systemClock{} }

// ToolPresentNotifier emits a tool-present heartbeat frame, gated so the
// bus isn't flooded during tight retry loops.
type ToolPresentNotifier struct {
	device  Device
	clock   Clock
	frame   Frame
	last    time.Time
	hasSent bool
}

func NewToolPresentNotifier(device Device, frame Frame, clock Clock) *ToolPresentNotifier {
	if clock == nil {
		clock = systemClock{}
	}
	return &ToolPresentNotifier{device: device, clock: clock, frame: frame}
}

// Notify sends the heartbeat only if toolPresentGate has elapsed since the
// last send.
func (n *ToolPresentNotifier) Notify() error {
	now := n.clock.Now()
	if n.hasSent && now.Sub(n.last) < toolPresentGate {
		return nil
	}
	return n.send(now)
}

// ForceNotify always sends, used immediately before operations where bus
// silence is essential.
func (n *ToolPresentNotifier) ForceNotify() error {
	return n.send(n.clock.Now())
}

func (n *ToolPresentNotifier) send(now time.Time) error {
	if err := n.device.SendMessage(n.frame); err != nil {
		return err
	}
	n.last = now
	n.hasSent = true
	return nil
}
