// Package soc implements integer coulomb counting with saturating
// arithmetic and rest-detection open-circuit-voltage reset, per spec.
package soc

import "marinebms/internal/currentlimit"

// Canonical defaults (spec §9 open questions, resolved).
const (
	ChargeEfficiencyMilli = 998  // 0.998, applied to accumulated charge
	DischargeEfficiencyMilli = 1000 // 1.000, no scaling
	DefaultRestThresholdMA = 2000
	DefaultRestHoldMS      = 30000
)

// Estimator owns the rest-timer and OCV table; SoC itself lives on the
// pack record (soc_hundredths) as the spec dictates.
type Estimator struct {
	CapacityMAh     int64
	OCVTable        currentlimit.Curve // X = millivolts, Y = soc_hundredths
	RestThresholdMA int32
	RestHoldMS      uint32

	restTimerMS uint32
}

// NewEstimator constructs an Estimator with the canonical rest-detection
// parameters unless overridden by the caller.
func NewEstimator(capacityMAh int64, ocvTable currentlimit.Curve) *Estimator {
	return &Estimator{
		CapacityMAh:     capacityMAh,
		OCVTable:        ocvTable,
		RestThresholdMA: DefaultRestThresholdMA,
		RestHoldMS:      DefaultRestHoldMS,
	}
}

// Integrate accumulates Δsoc_hundredths = (packCurrentMA * dtMS) /
// (capacityMAh * 360) into socHundredths with saturating arithmetic
// clamped to [0, 10000]. All intermediate computation is 64-bit signed.
// Positive current (charging) is scaled by the coulombic efficiency
// before integration; discharge is not scaled.
func (e *Estimator) Integrate(socHundredths uint16, packCurrentMA int32, dtMS uint32) uint16 {
	current := int64(packCurrentMA)
	if current > 0 {
		current = (current * ChargeEfficiencyMilli) / 1000
	}
	delta := (current * int64(dtMS)) / (e.CapacityMAh * 360)

	next := int64(socHundredths) + delta
	if next < 0 {
		next = 0
	}
	if next > 10000 {
		next = 10000
	}
	return uint16(next)
}

// ShouldRest advances the rest timer given the current pack current and
// elapsed time, and reports whether the sustained-rest condition
// (|current| below threshold for RestHoldMS) has just been satisfied.
// onlyWhenReady must be true when the pack is in mode READY (the rest
// reset must never fire while CONNECTED, to avoid disturbing a live
// bus).
func (e *Estimator) ShouldRest(packCurrentMA int32, dtMS uint32, onlyWhenReady bool) bool {
	mag := packCurrentMA
	if mag < 0 {
		mag = -mag
	}
	if mag < e.RestThresholdMA && onlyWhenReady {
		e.restTimerMS += dtMS
	} else {
		e.restTimerMS = 0
		return false
	}
	return e.restTimerMS >= e.RestHoldMS
}

// ResetTimer zeros the rest timer (called once the OCV reset has fired).
func (e *Estimator) ResetTimer() { e.restTimerMS = 0 }

// RestTimerMS reports the current accumulated rest duration, for tests
// and status reporting.
func (e *Estimator) RestTimerMS() uint32 { return e.restTimerMS }

// OCVReset reverse-interpolates avgCellMV through the open-circuit
// voltage table to produce a fresh soc_hundredths reading.
func (e *Estimator) OCVReset(avgCellMV uint16) uint16 {
	v := e.OCVTable.Eval(int32(avgCellMV))
	if v < 0 {
		v = 0
	}
	if v > 10000 {
		v = 10000
	}
	return uint16(v)
}

// CanonicalOCVTable returns a representative monotonic OCV-vs-SoC curve
// for a typical LFP-class cell, expressed as (millivolts, soc_hundredths)
// points ordered by voltage so reverse lookup is a direct Curve.Eval.
func CanonicalOCVTable() currentlimit.Curve {
	return currentlimit.NewCurve([]currentlimit.Point{
		{X: 3000, Y: 0},
		{X: 3200, Y: 500},
		{X: 3250, Y: 2000},
		{X: 3300, Y: 5000},
		{X: 3350, Y: 8000},
		{X: 3400, Y: 9500},
		{X: 3650, Y: 10000},
	})
}
