// Package contactor implements the six-state contactor sequencer:
// OPEN -> PRE_CHARGE -> CLOSING -> CLOSED -> OPENING -> {OPEN, WELDED}.
package contactor

import "marinebms/internal/measurement"

// Tunables holds the sequencer's configurable timeouts and thresholds.
type Tunables struct {
	VoltageMatchMVPerModule uint32
	PrechargeTimeoutMS      uint32
	ClosingTimeoutMS        uint32
	WeldDetectMS            uint32
	PrechargeTargetPercent  uint32 // of bus voltage, e.g. 95
	OpenCurrentThresholdMA  int32
}

// DefaultTunables returns the canonical values.
func DefaultTunables() Tunables {
	return Tunables{
		VoltageMatchMVPerModule: 1200,
		PrechargeTimeoutMS:      5000,
		ClosingTimeoutMS:        100,
		WeldDetectMS:            200,
		PrechargeTargetPercent:  95,
		OpenCurrentThresholdMA:  1000,
	}
}

// Inputs bundles the per-tick signals the sequencer reacts to. Feedback
// fields mirror the external relay/contactor feedback inputs.
type Inputs struct {
	CloseRequested     bool
	OpenRequested      bool
	BusVoltageMV       uint32
	PackVoltageMV      uint32
	PackCurrentMA      int32
	PositiveFeedbackHi bool
	NegativeFeedbackHi bool
}

// Outputs are the discrete signals the sequencer drives; the capability
// layer (HAL) is responsible for actually energizing them.
type Outputs struct {
	PrechargeRelay    bool
	NegativeContactor bool
	PositiveContactor bool
}

// Timers is the sequencer's own private state, separate from
// ProtectionState, owned exclusively by the contactor task.
type Timers struct {
	InStateMS uint32
}

// Engine steps the contactor state machine.
type Engine struct {
	T Tunables
}

// NewEngine constructs an Engine with the given tunables.
func NewEngine(t Tunables) Engine { return Engine{T: t} }

// Step advances pack.ContactorState by dtMS given in, returning the
// outputs to drive this tick. Weld detection is the sole path to the
// WELDED state.
func (e Engine) Step(pack *measurement.PackState, timers *Timers, in Inputs, dtMS uint32) Outputs {
	prev := pack.ContactorState
	timers.InStateMS += dtMS

	switch pack.ContactorState {
	case measurement.ContactorOpen:
		if in.CloseRequested {
			pack.ContactorState = measurement.ContactorPreCharge
		}

	case measurement.ContactorPreCharge:
		target := (in.BusVoltageMV * uint32(e.T.PrechargeTargetPercent)) / 100
		switch {
		case in.PackVoltageMV >= target:
			pack.ContactorState = measurement.ContactorClosing
		case in.OpenRequested:
			pack.ContactorState = measurement.ContactorOpening
		case timers.InStateMS >= e.T.PrechargeTimeoutMS:
			pack.ContactorState = measurement.ContactorOpen
		}

	case measurement.ContactorClosing:
		switch {
		case in.PositiveFeedbackHi && in.NegativeFeedbackHi:
			pack.ContactorState = measurement.ContactorClosed
		case in.OpenRequested:
			pack.ContactorState = measurement.ContactorOpening
		case timers.InStateMS >= e.T.ClosingTimeoutMS:
			pack.ContactorState = measurement.ContactorOpen
		}

	case measurement.ContactorClosed:
		if in.OpenRequested {
			pack.ContactorState = measurement.ContactorOpening
		}

	case measurement.ContactorOpening:
		mag := in.PackCurrentMA
		if mag < 0 {
			mag = -mag
		}
		switch {
		case mag < e.T.OpenCurrentThresholdMA:
			pack.ContactorState = measurement.ContactorOpen
		case timers.InStateMS >= e.T.WeldDetectMS:
			pack.ContactorState = measurement.ContactorWelded
			pack.Faults = pack.Faults.Set(measurement.FaultContactorWeld)
			pack.FaultLatched = true
		}

	case measurement.ContactorWelded:
		// terminal: only manual fault reset after hardware service can leave.
	}

	if pack.ContactorState != prev {
		timers.InStateMS = 0
	}

	return e.outputsFor(pack.ContactorState)
}

func (e Engine) outputsFor(state measurement.ContactorState) Outputs {
	switch state {
	case measurement.ContactorPreCharge:
		return Outputs{PrechargeRelay: true, NegativeContactor: true}
	case measurement.ContactorClosing:
		return Outputs{NegativeContactor: true, PositiveContactor: true}
	case measurement.ContactorClosed:
		return Outputs{NegativeContactor: true, PositiveContactor: true}
	default:
		return Outputs{}
	}
}

// AckWeld clears the terminal WELDED state after explicit hardware
// service; it must never be invoked automatically.
func AckWeld(pack *measurement.PackState, timers *Timers) {
	if pack.ContactorState != measurement.ContactorWelded {
		return
	}
	pack.ContactorState = measurement.ContactorOpen
	pack.Faults = pack.Faults.Clear(measurement.FaultContactorWeld)
	timers.InStateMS = 0
}
