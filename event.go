package vpwcore

import "fmt"

// EventType classifies a status/log event pushed from the core or a
// concrete device implementation.
type EventType int

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

type Event struct {
	Type    EventType
	Details string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Type, e.Details)
}

// StatusSink is the set of methods the core calls to report progress and
// log messages, consumed by a host UI or the cmd/vpwtool CLI. Every method
// must be safe to call from the single goroutine driving a Vehicle — the
// core never calls it concurrently with itself.
type StatusSink interface {
	StatusUpdateActivity(string)
	StatusUpdatePercentDone(string)
	StatusUpdateTimeRemaining(string)
	StatusUpdateKbps(string)
	StatusUpdateRetryCount(string)
	StatusUpdateProgressBar(fraction float64, indeterminate bool)
	StatusUpdateReset()
	AddUserMessage(string)
	AddDebugMessage(string)
}

// NopSink discards everything; useful as a default or in tests that don't
// care about progress reporting.
type NopSink struct{}

func (NopSink) StatusUpdateActivity(string)                {}
func (NopSink) StatusUpdatePercentDone(string)              {}
func (NopSink) StatusUpdateTimeRemaining(string)            {}
func (NopSink) StatusUpdateKbps(string)                     {}
func (NopSink) StatusUpdateRetryCount(string)               {}
func (NopSink) StatusUpdateProgressBar(float64, bool)       {}
func (NopSink) StatusUpdateReset()                          {}
func (NopSink) AddUserMessage(string)                       {}
func (NopSink) AddDebugMessage(string)                      {}

// ChanSink adapts a bounded-channel event pattern into a StatusSink:
// leveled log calls push onto a bounded channel and fall back to a direct
// printed line when the channel is full, so a slow consumer never blocks
// the core.
type ChanSink struct {
	Events chan Event
}

func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{Events: make(chan Event, buffer)}
}

func (s *ChanSink) push(t EventType, msg string) {
	select {
	case s.Events <- Event{Type: t, Details: msg}:
	default:
		fmt.Println(Event{Type: t, Details: msg}.String())
	}
}

func (s *ChanSink) StatusUpdateActivity(msg string)     { s.push(EventTypeInfo, msg) }
func (s *ChanSink) StatusUpdatePercentDone(msg string)   { s.push(EventTypeInfo, msg) }
func (s *ChanSink) StatusUpdateTimeRemaining(msg string) { s.push(EventTypeInfo, msg) }
func (s *ChanSink) StatusUpdateKbps(msg string)          { s.push(EventTypeInfo, msg) }
func (s *ChanSink) StatusUpdateRetryCount(msg string)    { s.push(EventTypeDebug, msg) }
func (s *ChanSink) StatusUpdateProgressBar(fraction float64, indeterminate bool) {
	if indeterminate {
		s.push(EventTypeDebug, "progress: indeterminate")
		return
	}
	s.push(EventTypeDebug, fmt.Sprintf("progress: %.1f%%", fraction*100))
}
func (s *ChanSink) StatusUpdateReset()            { s.push(EventTypeDebug, "reset") }
func (s *ChanSink) AddUserMessage(msg string)     { s.push(EventTypeInfo, msg) }
func (s *ChanSink) AddDebugMessage(msg string)    { s.push(EventTypeDebug, msg) }
