package vpwcore

import (
	"context"
	"time"

	"github.com/flashkit/vpwcore/pkg/protocol"
)

// Vehicle composes Frame/Protocol/Device/QueryEngine into the high-level
// operations a caller actually wants. There is no abstraction boundary
// between the operations below; they share one device and one notifier.
type Vehicle struct {
	device   Device
	notifier *ToolPresentNotifier
	keyFunc  protocol.KeyFunc
	clock    Clock
}

func NewVehicle(device Device, keyFunc protocol.KeyFunc, clock Clock) *Vehicle {
	if clock == nil {
		clock = systemClock{}
	}
	v := &Vehicle{device: device, keyFunc: keyFunc, clock: clock}
	v.notifier = NewToolPresentNotifier(device, protocol.BuildToolPresent(), clock)
	return v
}

func (v *Vehicle) queryEngine() *QueryEngine[[]byte] {
	return NewQueryEngine[[]byte](v.device, v.notifier)
}

func (v *Vehicle) readBlock(ctx context.Context, canceller Canceller, blockID byte) ([]byte, error) {
	qe := v.queryEngine()
	req := protocol.BuildReadBlock(blockID)
	return qe.Run(ctx, canceller, req, func(f Frame) ([]byte, error) {
		return protocol.ParseReadBlockResponse(f, blockID)
	})
}

// vinChunk extracts the usable ASCII bytes from a ReadBlock tail: the
// leading byte is a length/status marker and is always dropped; the first
// block additionally drops its trailing byte (observed wire behavior, not
// guessed).
func vinChunk(tail []byte, first bool) string {
	if len(tail) < 2 {
		return ""
	}
	body := tail[1:]
	if first && len(body) > 0 {
		body = body[:len(body)-1]
	}
	return string(body)
}

// QueryVin reads VIN1/VIN2/VIN3 as three sequential block reads, each with
// its own timeout; concatenation happens only after all three succeed, to
// give partial-failure visibility.
func (v *Vehicle) QueryVin(ctx context.Context, canceller Canceller) (string, error) {
	if _, err := v.device.SetTimeout(TimeoutReadProperty); err != nil {
		return "", err
	}
	v.device.ClearMessageQueue()

	tail1, err := v.readBlock(ctx, canceller, protocol.BlockVIN1)
	if err != nil {
		return "", err
	}
	tail2, err := v.readBlock(ctx, canceller, protocol.BlockVIN2)
	if err != nil {
		return "", err
	}
	tail3, err := v.readBlock(ctx, canceller, protocol.BlockVIN3)
	if err != nil {
		return "", err
	}
	return vinChunk(tail1, true) + vinChunk(tail2, false) + vinChunk(tail3, false), nil
}

// QuerySerial reads Serial1/Serial2/Serial3 the same way QueryVin does.
func (v *Vehicle) QuerySerial(ctx context.Context, canceller Canceller) (string, error) {
	if _, err := v.device.SetTimeout(TimeoutReadProperty); err != nil {
		return "", err
	}
	v.device.ClearMessageQueue()

	tail1, err := v.readBlock(ctx, canceller, protocol.BlockSerial1)
	if err != nil {
		return "", err
	}
	tail2, err := v.readBlock(ctx, canceller, protocol.BlockSerial2)
	if err != nil {
		return "", err
	}
	tail3, err := v.readBlock(ctx, canceller, protocol.BlockSerial3)
	if err != nil {
		return "", err
	}
	chunk := func(tail []byte) string {
		if len(tail) < 2 {
			return ""
		}
		return string(tail[1:])
	}
	return chunk(tail1) + chunk(tail2) + chunk(tail3), nil
}

// QueryBCC and QueryMEC read the identity blocks named in the GLOSSARY.
func (v *Vehicle) QueryBCC(ctx context.Context, canceller Canceller) ([]byte, error) {
	tail, err := v.readBlock(ctx, canceller, protocol.BlockBCC)
	if err != nil {
		return nil, err
	}
	if len(tail) < 2 {
		return nil, NewError(ReasonTruncated, "BCC block too short")
	}
	return tail[1:], nil
}

func (v *Vehicle) QueryMEC(ctx context.Context, canceller Canceller) (byte, error) {
	tail, err := v.readBlock(ctx, canceller, protocol.BlockMEC)
	if err != nil {
		return 0, err
	}
	if len(tail) < 2 {
		return 0, NewError(ReasonTruncated, "MEC block too short")
	}
	return tail[1], nil
}

// UnlockResult reports the outcome of UnlockEcu.
type UnlockResult struct {
	Unlocked       bool
	AlreadyUnlocked bool
	Status         protocol.UnlockStatus
}

// UnlockEcu sends a seed request via the query engine, ignoring unrelated
// frames while waiting to parse a seed. If the seed equals the sentinel,
// reports already-unlocked. Else computes the key and sends unlock, parsing
// the status byte. Unlock status codes are surfaced as a user-visible
// message, not an error — a denial is a normal outcome, not a failure.
func (v *Vehicle) UnlockEcu(ctx context.Context, canceller Canceller, algorithmID int, sink StatusSink) (UnlockResult, error) {
	if sink == nil {
		sink = NopSink{}
	}
	if _, err := v.device.SetTimeout(TimeoutReadProperty); err != nil {
		return UnlockResult{}, err
	}

	seedEngine := NewQueryEngine[seedResult](v.device, v.notifier)
	req := protocol.BuildSeedRequest()
	sr, err := seedEngine.Run(ctx, canceller, req, func(f Frame) (seedResult, error) {
		seed, already, perr := protocol.ParseSeedResponse(f)
		if perr != nil {
			return seedResult{}, perr
		}
		return seedResult{seed: seed, alreadyUnlocked: already}, nil
	})
	if err != nil {
		return UnlockResult{}, err
	}
	if sr.alreadyUnlocked {
		sink.AddUserMessage("security access already granted")
		return UnlockResult{Unlocked: true, AlreadyUnlocked: true}, nil
	}

	if v.keyFunc == nil {
		return UnlockResult{}, NewError(ReasonError, ErrUnknownKeyAlgo.Error())
	}
	key, err := v.keyFunc(algorithmID, sr.seed)
	if err != nil {
		return UnlockResult{}, WrapError(ReasonError, ErrUnknownKeyAlgo.Error(), err)
	}

	unlockReq := protocol.BuildUnlockRequest(key)
	statusEngine := NewQueryEngine[protocol.UnlockStatus](v.device, v.notifier)
	status, err := statusEngine.Run(ctx, canceller, unlockReq, func(f Frame) (protocol.UnlockStatus, error) {
		return protocol.ParseUnlockResponse(f)
	})
	if err != nil {
		return UnlockResult{}, err
	}

	result := UnlockResult{Status: status, Unlocked: status == protocol.UnlockAllowed}
	sink.AddUserMessage("security access: " + status.String())
	return result, nil
}

type seedResult struct {
	seed            uint16
	alreadyUnlocked bool
}

// RequestHighSpeedPermission broadcasts the 4x permission query and gathers
// responses until the bus goes quiet (receive returns none). It returns
// the granting module ids if every responder granted, or ok=false if any
// refused.
func (v *Vehicle) RequestHighSpeedPermission(ctx context.Context, canceller Canceller) (moduleIDs []ModuleID, ok bool, err error) {
	v.device.ClearMessageQueue()
	req := protocol.BuildHighSpeedPermissionRequest()
	if err := v.device.SendMessage(req); err != nil {
		return nil, false, WrapError(ReasonError, "send high speed permission request", err)
	}

	for {
		if canceller != nil && canceller.Cancelled() {
			return nil, false, NewError(ReasonCancelled, "cancelled awaiting permission responses")
		}
		f, has := v.device.ReceiveMessage()
		if !has {
			return moduleIDs, true, nil
		}
		granted, who, perr := protocol.ParseHighSpeedPermissionResponse(f)
		if perr != nil {
			continue
		}
		if !granted {
			return nil, false, nil
		}
		moduleIDs = append(moduleIDs, who)
	}
}

// VehicleSetVpw4x runs permission -> begin_high_speed -> a short refusal
// watch window -> device speed switch -> forced tool-present.
func (v *Vehicle) VehicleSetVpw4x(ctx context.Context, canceller Canceller) error {
	_, granted, err := v.RequestHighSpeedPermission(ctx, canceller)
	if err != nil {
		return err
	}
	if !granted {
		return NewError(ReasonError, "one or more modules refused 4x speed request")
	}

	begin := protocol.BuildBeginHighSpeed()
	if err := v.device.SendMessage(begin); err != nil {
		return WrapError(ReasonError, "send begin high speed", err)
	}

	deadline := v.clock.Now().Add(100 * time.Millisecond)
	for v.clock.Now().Before(deadline) {
		f, has := v.device.ReceiveMessage()
		if !has {
			continue
		}
		if f.Mode() == ModeNegativeResponse {
			return NewError(ReasonError, "module refused begin high speed")
		}
	}

	if err := v.device.SetVpwSpeed(SpeedFourX); err != nil {
		return WrapError(ReasonError, "set vpw speed to 4x", err)
	}
	return v.notifier.ForceNotify()
}

// Cleanup exits the kernel at 4x if supported, then at 1x, then clears
// DTCs (two copies of each clear frame, 250ms apart, because other modules
// compete for the bus).
func (v *Vehicle) Cleanup(caps Capabilities) {
	if caps.Supports4x {
		_ = v.device.SendMessage(protocol.BuildExitKernel())
		_ = v.device.SetVpwSpeed(SpeedStandard)
	}
	_ = v.device.SendMessage(protocol.BuildExitKernel())

	for i := 0; i < 2; i++ {
		_ = v.device.SendMessage(protocol.BuildClearDTCs())
		if i == 0 {
			time.Sleep(250 * time.Millisecond)
		}
	}
}
