// Package protection implements the protection engine: the independent
// hardware-safety layer, per-cell/per-sensor software protection,
// overcurrent evaluation, the safe-state accumulator gating fault
// reset, and the warning channel with hysteresis and hold. It runs on a
// fixed cadence and is a pure step function over its inputs plus the
// ProtectionState it exclusively owns.
package protection

import (
	"fmt"

	"marinebms/internal/measurement"
)

// Tunables holds every threshold and delay the engine consults,
// defaulted to the canonical values.
type Tunables struct {
	SEOvFaultMV   uint16
	SEUvFaultMV   uint16
	SEOtFaultDeciC int16

	SEOvWarnMV   uint16
	SEOvClearMV  uint16
	SEUvWarnMV   uint16
	SEUvClearMV  uint16
	SEOtWarnDeciC  int16
	SEOtClearDeciC int16

	HWOvMV     uint16
	HWUvMV     uint16
	HWOtDeciC  int16

	SEFaultDelayMS uint32
	HWOvDelayMS    uint32
	HWOtDelayMS    uint32

	WarnDelayMS uint32
	WarnHoldMS  uint32

	OCWarnDelayMS   uint32
	FaultResetHoldMS uint32

	LeakDecayRatio uint32

	DischargeCurrentLimitMA int32
}

// DefaultTunables returns the canonical values from the tunable table.
func DefaultTunables() Tunables {
	return Tunables{
		SEOvFaultMV:    4225,
		SEUvFaultMV:    3000,
		SEOtFaultDeciC: 650,

		SEOvWarnMV:     4210,
		SEOvClearMV:    4190,
		SEUvWarnMV:     3050,
		SEUvClearMV:    3100,
		SEOtWarnDeciC:  600,
		SEOtClearDeciC: 570,

		HWOvMV:    4300,
		HWUvMV:    2700,
		HWOtDeciC: 700,

		SEFaultDelayMS: 5000,
		HWOvDelayMS:    1000,
		HWOtDelayMS:    5000,

		WarnDelayMS: 5000,
		WarnHoldMS:  10000,

		OCWarnDelayMS:    10000,
		FaultResetHoldMS: 60000,

		LeakDecayRatio: 2,

		DischargeCurrentLimitMA: 400000,
	}
}

// FaultLogger is the external fault-log collaborator: timestamp is
// supplied by the caller's clock capability, not this package.
type FaultLogger interface {
	LogFaultEvent(kind string, index int, value int32)
}

// leak advances a leaky-integrator timer: increments by dt when
// condition holds, decays by dt/decayRatio otherwise, floored at zero.
func leak(timer uint32, dt uint32, condition bool, decayRatio uint32) uint32 {
	if condition {
		timer += dt
		return timer
	}
	decay := dt / decayRatio
	if decay >= timer {
		return 0
	}
	return timer - decay
}

// Engine evaluates the protection step function.
type Engine struct {
	T   Tunables
	Log FaultLogger
}

// NewEngine constructs an Engine with the given tunables and fault-log
// collaborator.
func NewEngine(t Tunables, log FaultLogger) Engine {
	return Engine{T: t, Log: log}
}

// Step advances ProtectionState by dtMS and updates pack.Faults and
// pack.FaultLatched accordingly. It never returns an error: it is a
// total, non-blocking function over its inputs.
func (e Engine) Step(pack *measurement.PackState, ps *measurement.ProtectionState, dtMS uint32, tempDerratedChargeLimitMA int32) {
	e.hardwareSafety(pack, ps, dtMS)

	if !pack.FaultLatched {
		e.softwareProtection(pack, ps, dtMS)
	}

	e.overcurrent(pack, ps, dtMS, tempDerratedChargeLimitMA)
	e.safeState(pack, ps, dtMS)
	e.warnings(pack, ps, dtMS)
}

// hardwareSafety runs unconditionally, even if fault_latched is already
// true. Each hardware fault is ORed into pack.Faults and logged as a new
// fault event, leaving faults that are already latched in place. No
// fault-message text is kept.
func (e Engine) hardwareSafety(pack *measurement.PackState, ps *measurement.ProtectionState, dtMS uint32) {
	anyHWOv, anyHWUv := false, false
	for _, mv := range pack.CellMV {
		if mv == 0 {
			continue
		}
		if mv >= e.T.HWOvMV {
			anyHWOv = true
		}
		if mv < e.T.HWUvMV {
			anyHWUv = true
		}
	}
	anyHWOt := false
	for _, t := range pack.TempDeciC {
		if t >= e.T.HWOtDeciC {
			anyHWOt = true
		}
	}

	ps.HWOVTimerMS = leak(ps.HWOVTimerMS, dtMS, anyHWOv, e.T.LeakDecayRatio)
	ps.HWUVTimerMS = leak(ps.HWUVTimerMS, dtMS, anyHWUv, e.T.LeakDecayRatio)
	ps.HWOTTimerMS = leak(ps.HWOTTimerMS, dtMS, anyHWOt, e.T.LeakDecayRatio)

	if ps.HWOVTimerMS >= e.T.HWOvDelayMS && !pack.Faults.Has(measurement.FaultHWOV) {
		e.latch(pack, measurement.FaultHWOV, "hw_ov", -1, int32(pack.MaxCellMV))
	}
	if ps.HWUVTimerMS >= e.T.HWOvDelayMS && !pack.Faults.Has(measurement.FaultHWUV) {
		e.latch(pack, measurement.FaultHWUV, "hw_uv", -1, int32(pack.MinCellMV))
	}
	if ps.HWOTTimerMS >= e.T.HWOtDelayMS && !pack.Faults.Has(measurement.FaultHWOT) {
		e.latch(pack, measurement.FaultHWOT, "hw_ot", -1, int32(pack.MaxTempDeciC))
	}
	if pack.Faults.Has(measurement.FaultHWOV) || pack.Faults.Has(measurement.FaultHWUV) || pack.Faults.Has(measurement.FaultHWOT) {
		ps.HWFaultLatched = true
	}
}

// softwareProtection evaluates per-cell and per-sensor OV/UV/OT and
// latches on the first condition to cross its delay, exiting the scan
// early per spec.
func (e Engine) softwareProtection(pack *measurement.PackState, ps *measurement.ProtectionState, dtMS uint32) {
	for i, mv := range pack.CellMV {
		ps.OVTimerMS[i] = leak(ps.OVTimerMS[i], dtMS, mv >= e.T.SEOvFaultMV, e.T.LeakDecayRatio)
		uvCondition := mv != 0 && mv <= e.T.SEUvFaultMV
		ps.UVTimerMS[i] = leak(ps.UVTimerMS[i], dtMS, uvCondition, e.T.LeakDecayRatio)

		if ps.OVTimerMS[i] >= e.T.SEFaultDelayMS {
			e.latch(pack, measurement.FaultCellOV, "cell_ov", i, int32(mv))
			return
		}
		if ps.UVTimerMS[i] >= e.T.SEFaultDelayMS {
			e.latch(pack, measurement.FaultCellUV, "cell_uv", i, int32(mv))
			return
		}
	}
	for i, t := range pack.TempDeciC {
		ps.OTTimerMS[i] = leak(ps.OTTimerMS[i], dtMS, t >= e.T.SEOtFaultDeciC, e.T.LeakDecayRatio)
		if ps.OTTimerMS[i] >= e.T.SEFaultDelayMS {
			e.latch(pack, measurement.FaultCellOT, "cell_ot", i, int32(t))
			return
		}
	}
}

// overcurrent evaluates the two independent overcurrent timers plus the
// overcurrent warning.
func (e Engine) overcurrent(pack *measurement.PackState, ps *measurement.ProtectionState, dtMS uint32, tempDerratedChargeLimitMA int32) {
	current := pack.PackCurrentMA
	discharging := current < 0
	charging := current > 0
	mag := current
	if mag < 0 {
		mag = -mag
	}

	ocDischarge := discharging && mag > e.T.DischargeCurrentLimitMA
	ps.OCDischargeTimerMS = leak(ps.OCDischargeTimerMS, dtMS, ocDischarge, e.T.LeakDecayRatio)
	if ps.OCDischargeTimerMS >= e.T.SEFaultDelayMS && !pack.FaultLatched {
		e.latch(pack, measurement.FaultOCDischarge, "oc_discharge", -1, mag)
	}

	coldCharging := charging && pack.MinTempDeciC < 0
	ocCharge := coldCharging && mag > tempDerratedChargeLimitMA
	ps.OCChargeTimerMS = leak(ps.OCChargeTimerMS, dtMS, ocCharge, e.T.LeakDecayRatio)
	if ps.OCChargeTimerMS >= e.T.SEFaultDelayMS && !pack.FaultLatched {
		e.latch(pack, measurement.FaultOCCharge, "oc_charge", -1, mag)
	}

	warnThreshold := int64(105)*int64(tempDerratedChargeLimitMA)/100 + 5000
	ocWarn := charging && int64(mag) > warnThreshold
	ps.OCWarnTimerMS = leak(ps.OCWarnTimerMS, dtMS, ocWarn, e.T.LeakDecayRatio)
}

// safeState advances the fault-reset hold accumulator.
func (e Engine) safeState(pack *measurement.PackState, ps *measurement.ProtectionState, dtMS uint32) {
	if !pack.FaultLatched {
		ps.SafeStateMS = 0
		return
	}
	allSafe := true
	for _, mv := range pack.CellMV {
		if mv == 0 {
			continue
		}
		if mv >= e.T.SEOvFaultMV || mv <= e.T.SEUvFaultMV {
			allSafe = false
			break
		}
	}
	if allSafe && pack.MaxTempDeciC >= e.T.SEOtFaultDeciC {
		allSafe = false
	}
	if allSafe {
		ps.SafeStateMS += dtMS
	} else {
		ps.SafeStateMS = 0
	}
}

// CanReset reports whether the fault-reset guard is satisfied. It is
// side-effect-free so repeated denied attempts are safe.
func (e Engine) CanReset(ps *measurement.ProtectionState) bool {
	return ps.SafeStateMS >= e.T.FaultResetHoldMS
}

// Reset clears software fault_latched and the associated timers. The
// hardware-safety latch is untouched: it requires a separate explicit
// acknowledgement (AckHardwareFault).
func (e Engine) Reset(pack *measurement.PackState, ps *measurement.ProtectionState) bool {
	if !e.CanReset(ps) {
		return false
	}
	pack.FaultLatched = false
	pack.Faults = pack.Faults.
		Clear(measurement.FaultCellOV).
		Clear(measurement.FaultCellUV).
		Clear(measurement.FaultCellOT).
		Clear(measurement.FaultOCCharge).
		Clear(measurement.FaultOCDischarge)
	ps.SafeStateMS = 0
	for i := range ps.OVTimerMS {
		ps.OVTimerMS[i] = 0
		ps.UVTimerMS[i] = 0
	}
	for i := range ps.OTTimerMS {
		ps.OTTimerMS[i] = 0
	}
	ps.OCChargeTimerMS = 0
	ps.OCDischargeTimerMS = 0
	return true
}

// AckHardwareFault clears the independent hardware-safety latch. It
// must never be invoked automatically.
func (e Engine) AckHardwareFault(pack *measurement.PackState, ps *measurement.ProtectionState) {
	ps.HWFaultLatched = false
	ps.HWOVTimerMS = 0
	ps.HWUVTimerMS = 0
	ps.HWOTTimerMS = 0
	pack.Faults = pack.Faults.Clear(measurement.FaultHWOV).Clear(measurement.FaultHWUV).Clear(measurement.FaultHWOT)
}

// warnings evaluates the hysteresis warning channel for OV, UV, OT axes,
// folds in the overcurrent warning timer advanced by overcurrent, and
// maintains the hold-off timer on has_warning.
func (e Engine) warnings(pack *measurement.PackState, ps *measurement.ProtectionState, dtMS uint32) {
	pack.WarningMessage = ""
	anyAxisActive := false

	ovCondition := false
	for _, mv := range pack.CellMV {
		if mv == 0 {
			continue
		}
		threshold := e.T.SEOvWarnMV
		if ps.WarnOVActive {
			threshold = e.T.SEOvClearMV
		}
		if mv >= threshold {
			ovCondition = true
			break
		}
	}
	ps.WarnOVTimerMS = leak(ps.WarnOVTimerMS, dtMS, ovCondition, e.T.LeakDecayRatio)
	if ps.WarnOVTimerMS >= e.T.WarnDelayMS {
		ps.WarnOVActive = true
	} else if !ovCondition && ps.WarnOVTimerMS == 0 {
		ps.WarnOVActive = false
	}
	if ps.WarnOVActive {
		anyAxisActive = true
		e.addWarning(pack, "OV cell over-voltage warning")
	}

	uvCondition := false
	for _, mv := range pack.CellMV {
		if mv == 0 {
			continue
		}
		threshold := e.T.SEUvWarnMV
		if ps.WarnUVActive {
			threshold = e.T.SEUvClearMV
		}
		if mv <= threshold {
			uvCondition = true
			break
		}
	}
	ps.WarnUVTimerMS = leak(ps.WarnUVTimerMS, dtMS, uvCondition, e.T.LeakDecayRatio)
	if ps.WarnUVTimerMS >= e.T.WarnDelayMS {
		ps.WarnUVActive = true
	} else if !uvCondition && ps.WarnUVTimerMS == 0 {
		ps.WarnUVActive = false
	}
	if ps.WarnUVActive {
		anyAxisActive = true
		e.addWarning(pack, "UV cell under-voltage warning")
	}

	otThreshold := e.T.SEOtWarnDeciC
	if ps.WarnOTActive {
		otThreshold = e.T.SEOtClearDeciC
	}
	otCondition := pack.MaxTempDeciC >= otThreshold
	ps.WarnOTTimerMS = leak(ps.WarnOTTimerMS, dtMS, otCondition, e.T.LeakDecayRatio)
	if ps.WarnOTTimerMS >= e.T.WarnDelayMS {
		ps.WarnOTActive = true
	} else if !otCondition && ps.WarnOTTimerMS == 0 {
		ps.WarnOTActive = false
	}
	if ps.WarnOTActive {
		anyAxisActive = true
		e.addWarning(pack, "OT cell over-temperature warning")
	}

	if ps.OCWarnTimerMS >= e.T.OCWarnDelayMS {
		anyAxisActive = true
		e.addWarning(pack, "OC overcurrent-charge warning")
	}

	if anyAxisActive {
		ps.WarningHoldMS = e.T.WarnHoldMS
		pack.HasWarning = true
	} else if ps.WarningHoldMS > dtMS {
		ps.WarningHoldMS -= dtMS
		pack.HasWarning = true
	} else {
		ps.WarningHoldMS = 0
		pack.HasWarning = false
	}
}

func (e Engine) addWarning(pack *measurement.PackState, msg string) {
	if pack.WarningMessage == "" {
		pack.WarningMessage = msg
		return
	}
	pack.WarningMessage += "; " + msg
}

func (e Engine) latch(pack *measurement.PackState, bit measurement.Faults, kind string, index int, value int32) {
	pack.Faults = pack.Faults.Set(bit)
	pack.FaultLatched = true
	if e.Log != nil {
		e.Log.LogFaultEvent(kind, index, value)
	}
}

// DenyResetMessage formats the standard denial message for a refused
// reset attempt, used by the pack state machine so denials are
// observable rather than silently absorbed.
func DenyResetMessage(ps *measurement.ProtectionState, holdMS uint32) string {
	return fmt.Sprintf("reset denied: safe_state_ms=%d < fault_reset_hold_ms=%d", ps.SafeStateMS, holdMS)
}
