// Package packfsm implements the seven-mode pack operating state
// machine, the EMS watchdog, and the fault-reset guard consumer.
// Transitions are a total function of (current_mode, inputs) -> next
// mode; illegal source modes for a given EMS command silently do
// nothing.
package packfsm

import "marinebms/internal/measurement"

// EMSCommand is the tagged union of commands the EMS can issue.
type EMSCommand uint8

const (
	CmdNone EMSCommand = iota
	CmdConnectForCharge
	CmdConnectForDischarge
	CmdDisconnect
	CmdResetFaults
	CmdPowerSave
	CmdSetLimits
)

// Inputs bundles the per-cycle signals the state machine consumes.
type Inputs struct {
	AllModulesCommOK bool
	Command          EMSCommand
	SetLimitsChargeMA    int32
	SetLimitsDischargeMA int32
	UptimeMS         uint32
	EMSWatchdogMS    uint32

	ContactorState measurement.ContactorState

	// ResetGuard reports whether the protection engine's safe-state
	// hold has been satisfied; only consulted on CmdResetFaults.
	ResetGuard func() bool
	// OnResetDenied is invoked (for logging) when a reset is requested
	// but the guard denies it; denials must be observable, not silent.
	OnResetDenied func()
	// OnResetAccepted is invoked when the guard is satisfied, before the
	// mode transitions to READY. The caller clears fault_latched, the
	// fault bits, and the protection timers here; Step itself does not
	// clear pack.Faults.
	OnResetAccepted func()
	// RequestContactorClose/Open let the state machine drive the
	// contactor sequencer without a stored back-reference.
	RequestContactorClose func(busVoltageMV uint32)
	RequestContactorOpen  func()
	BusVoltageMV          uint32
}

// Step advances pack.Mode by one cycle given in. The only fault it sets
// itself is ems_timeout (with fault_latched) when the EMS watchdog
// expires; every other fault is latched by the protection engine before
// this runs, per tick ordering.
func Step(pack *measurement.PackState, in Inputs) {
	if in.Command != CmdNone {
		pack.LastEMSMsgMS = in.UptimeMS
	}
	pack.UptimeMS = in.UptimeMS

	if pack.FaultLatched && pack.Mode != measurement.ModeFault {
		enterFault(pack, in)
		return
	}

	switch pack.Mode {
	case measurement.ModeOff:
		// Remains OFF until externally commissioned; no spec-defined
		// transition out of OFF is listed beyond NOT_READY being the
		// initial lifecycle mode, so OFF is left to the owning
		// application to transition out of explicitly.

	case measurement.ModeNotReady:
		if in.AllModulesCommOK {
			pack.Mode = measurement.ModeReady
		}

	case measurement.ModeReady:
		switch in.Command {
		case CmdConnectForCharge, CmdConnectForDischarge:
			pack.Mode = measurement.ModeConnecting
			if in.RequestContactorClose != nil {
				in.RequestContactorClose(in.BusVoltageMV)
			}
		case CmdPowerSave:
			pack.Mode = measurement.ModePowerSave
		}

	case measurement.ModePowerSave:
		if in.Command != CmdNone && in.Command != CmdPowerSave {
			pack.Mode = measurement.ModeReady
		}

	case measurement.ModeConnecting:
		watchdogTimeout(pack, in)
		if pack.Mode != measurement.ModeFault {
			switch {
			case in.ContactorState == measurement.ContactorClosed:
				pack.Mode = measurement.ModeConnected
			case in.ContactorState == measurement.ContactorOpen || in.Command == CmdDisconnect:
				pack.Mode = measurement.ModeReady
			}
		}

	case measurement.ModeConnected:
		watchdogTimeout(pack, in)
		if pack.Mode != measurement.ModeFault {
			switch in.Command {
			case CmdDisconnect:
				pack.Mode = measurement.ModeReady
				if in.RequestContactorOpen != nil {
					in.RequestContactorOpen()
				}
			case CmdSetLimits:
				if in.SetLimitsChargeMA < pack.ChargeLimitMA {
					pack.ChargeLimitMA = in.SetLimitsChargeMA
				}
				if in.SetLimitsDischargeMA < pack.DischargeLimitMA {
					pack.DischargeLimitMA = in.SetLimitsDischargeMA
				}
			}
		}

	case measurement.ModeFault:
		if in.Command == CmdResetFaults {
			guardOK := in.ResetGuard != nil && in.ResetGuard()
			if guardOK {
				if in.OnResetAccepted != nil {
					in.OnResetAccepted()
				}
				pack.Mode = measurement.ModeReady
			} else if in.OnResetDenied != nil {
				in.OnResetDenied()
			}
		}
	}
}

func enterFault(pack *measurement.PackState, in Inputs) {
	pack.Mode = measurement.ModeFault
	pack.ChargeLimitMA = 0
	pack.DischargeLimitMA = 0
	if in.RequestContactorOpen != nil {
		in.RequestContactorOpen()
	}
}

func watchdogTimeout(pack *measurement.PackState, in Inputs) {
	if in.UptimeMS < pack.LastEMSMsgMS {
		return
	}
	if in.UptimeMS-pack.LastEMSMsgMS > in.EMSWatchdogMS {
		pack.Faults = pack.Faults.Set(measurement.FaultEMSTimeout)
		pack.FaultLatched = true
		enterFault(pack, in)
	}
}
