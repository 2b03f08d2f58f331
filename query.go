package vpwcore

import "context"

// MaxSendAttempts bounds how many times the query engine resends a
// request before giving up with Timeout.
const MaxSendAttempts = 2

// MaxReceiveIterations bounds how many frames the query engine will pull
// per send attempt while waiting for a match.
const MaxReceiveIterations = 50

// MaxTimeouts is how many empty reads within one send attempt trigger a
// move to the next send attempt. Frames read in between do not reset the
// count.
const MaxTimeouts = 5

// MaxBlockReadAttempts bounds how many times tryReadBlock retries one bulk
// memory-read block. It is the same bound as MaxSendAttempts, named
// separately so kernel.go's retry.Do call doesn't read like it's scaling
// the query engine's own constant.
const MaxBlockReadAttempts = MaxSendAttempts

// Canceller is a bool-like cancellation signal readable by the core,
// settable by the host.
type Canceller interface {
	Cancelled() bool
}

// CancelFlag is the simplest Canceller, a plain settable flag.
type CancelFlag struct{ cancelled bool }

func (c *CancelFlag) Cancel()             { c.cancelled = true }
func (c *CancelFlag) Cancelled() bool     { return c.cancelled }

// ResponseFilter inspects a candidate frame and either returns a decoded
// value, or an *ObdError classifying why it didn't match. Refused is
// special: the query engine may swallow it and keep reading.
type ResponseFilter[T any] func(f Frame) (T, error)

// QueryEngine is the single chokepoint for "this operation should have
// received a response". Callers that don't need a response (e.g.
// exit-kernel) send directly via the Device.
type QueryEngine[T any] struct {
	device   Device
	notifier *ToolPresentNotifier // optional
}

func NewQueryEngine[T any](device Device, notifier *ToolPresentNotifier) *QueryEngine[T] {
	return &QueryEngine[T]{device: device, notifier: notifier}
}

// Run clears the receive queue, sends request up to MaxSendAttempts times,
// and for each attempt pulls up to MaxReceiveIterations frames looking for
// one that filter accepts. Frames the filter rejects as Refused,
// UnexpectedResponse or Truncated are skipped and reading continues; each
// of them still uses one of the attempt's MaxReceiveIterations. Any other
// filter error is returned at once. An attempt ends early once MaxTimeouts
// empty reads accrue.
func (q *QueryEngine[T]) Run(ctx context.Context, canceller Canceller, request Frame, filter ResponseFilter[T]) (T, error) {
	var zero T
	q.device.ClearMessageQueue()

	for attempt := 0; attempt < MaxSendAttempts; attempt++ {
		if canceller != nil && canceller.Cancelled() {
			return zero, NewError(ReasonCancelled, "cancelled before send")
		}
		if err := ctx.Err(); err != nil {
			return zero, NewError(ReasonCancelled, "context cancelled before send")
		}
		if err := q.device.SendMessage(request); err != nil {
			return zero, WrapError(ReasonError, "send request", err)
		}

		timeouts := 0
		for i := 0; i < MaxReceiveIterations; i++ {
			if canceller != nil && canceller.Cancelled() {
				return zero, NewError(ReasonCancelled, "cancelled during receive")
			}
			if err := ctx.Err(); err != nil {
				return zero, NewError(ReasonCancelled, "context cancelled during receive")
			}

			f, ok := q.device.ReceiveMessage()
			if !ok {
				timeouts++
				if q.notifier != nil {
					_ = q.notifier.ForceNotify()
				}
				if timeouts >= MaxTimeouts {
					break
				}
				continue
			}

			val, err := filter(f)
			if err == nil {
				return val, nil
			}
			if ReasonOf(err) == ReasonRefused {
				continue
			}
			// UnexpectedResponse/Truncated: not our frame, keep waiting.
			if ReasonOf(err) == ReasonUnexpectedResponse || ReasonOf(err) == ReasonTruncated {
				continue
			}
			return zero, err
		}
	}

	return zero, NewError(ReasonTimeout, "no matching response")
}
