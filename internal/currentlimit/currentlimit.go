// Package currentlimit implements the three independent piecewise-linear
// derating curves (temperature, state of charge, extreme cell voltage)
// that the current-limit engine combines by minimum, per spec. All
// arithmetic is fixed-point integer: C-rate is expressed in
// milli-C-rate units (1000 = 1.0C) and interpolation widens to 64 bits
// so that C-rate * capacity cannot overflow, generalizing the
// Q16-fraction integer lerp pattern to arbitrary integer breakpoints.
package currentlimit

import "sort"

// Point is one breakpoint of a piecewise-linear curve: X is the input
// axis (deci-°C, hundredths of percent SoC, or millivolts), Y is the
// output C-rate in milli-C (1000 == 1.0C).
type Point struct {
	X int32
	Y int32
}

// Curve is an ordered set of breakpoints. Breakpoints must be sorted
// ascending by X; NewCurve sorts a copy so callers need not pre-sort.
type Curve []Point

// NewCurve returns pts sorted ascending by X.
func NewCurve(pts []Point) Curve {
	c := make(Curve, len(pts))
	copy(c, pts)
	sort.Slice(c, func(i, j int) bool { return c[i].X < c[j].X })
	return c
}

// Eval linearly interpolates y at x, clamping to the nearest endpoint
// outside the breakpoint range. An empty curve evaluates to 0.
func (c Curve) Eval(x int32) int32 {
	if len(c) == 0 {
		return 0
	}
	if x <= c[0].X {
		return c[0].Y
	}
	last := c[len(c)-1]
	if x >= last.X {
		return last.Y
	}
	for i := 0; i < len(c)-1; i++ {
		a, b := c[i], c[i+1]
		if x >= a.X && x <= b.X {
			if b.X == a.X {
				return a.Y
			}
			// 64-bit intermediate: (b.Y-a.Y)*(x-a.X) can exceed 32 bits
			// for wide breakpoint tables.
			num := int64(b.Y-a.Y) * int64(x-a.X)
			den := int64(b.X - a.X)
			return a.Y + int32(num/den)
		}
	}
	return last.Y
}

// Tables holds the three independent derating curves for one direction
// (charge or discharge), plus the optional fourth sensor-based axis
// (spec §9 open question: default absent, nil curve means "not
// evaluated").
type Tables struct {
	Temperature Curve
	SOC         Curve
	CellVoltage Curve
	Sensor      Curve // optional fourth axis; nil if unused
}

// Engine evaluates the charge and discharge current limits for a pack
// given its worst-case temperature, SoC, and extreme cell voltages.
type Engine struct {
	Charge           Tables
	Discharge        Tables
	NominalCapacityMAh int64
}

// NewEngine constructs an Engine from the given charge and discharge
// breakpoint tables and the configured nominal capacity.
func NewEngine(charge, discharge Tables, nominalCapacityMAh int64) Engine {
	return Engine{Charge: charge, Discharge: discharge, NominalCapacityMAh: nominalCapacityMAh}
}

// crateToMA converts a milli-C-rate value to milliamps using a 64-bit
// intermediate product, floored at zero.
func crateToMA(milliCRate int32, capacityMAh int64) int32 {
	if milliCRate < 0 {
		return 0
	}
	ma := (int64(milliCRate) * capacityMAh) / 1000
	if ma < 0 {
		return 0
	}
	if ma > int64(int32(^uint32(0)>>1)) {
		return int32(^uint32(0) >> 1)
	}
	return int32(ma)
}

func minI32(a, b, c, d int32, hasD bool) int32 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	if hasD && d < m {
		m = d
	}
	return m
}

// Evaluate returns (maxChargeMA, maxDischargeMA), both non-negative,
// given worst-case pack temperature, SoC, and the extreme cell voltages
// used as the limit input for each direction (highest cell for charge,
// lowest cell for discharge), plus an optional sensor reading for the
// fourth axis (ignored when the corresponding curve is nil).
func (e Engine) Evaluate(worstTempDeciC int16, socHundredths uint16, highCellMV uint16, lowCellMV uint16, sensorValue int32) (maxChargeMA int32, maxDischargeMA int32) {
	chargeRate := minI32(
		e.Charge.Temperature.Eval(int32(worstTempDeciC)),
		e.Charge.SOC.Eval(int32(socHundredths)),
		e.Charge.CellVoltage.Eval(int32(highCellMV)),
		e.Charge.Sensor.Eval(sensorValue),
		e.Charge.Sensor != nil,
	)
	dischargeRate := minI32(
		e.Discharge.Temperature.Eval(int32(worstTempDeciC)),
		e.Discharge.SOC.Eval(int32(socHundredths)),
		e.Discharge.CellVoltage.Eval(int32(lowCellMV)),
		e.Discharge.Sensor.Eval(sensorValue),
		e.Discharge.Sensor != nil,
	)
	return crateToMA(chargeRate, e.NominalCapacityMAh), crateToMA(dischargeRate, e.NominalCapacityMAh)
}

// CanonicalChargeTables returns the spec's recommended breakpoint sets
// for the charge direction.
func CanonicalChargeTables() Tables {
	return Tables{
		Temperature: NewCurve([]Point{
			{X: -200, Y: 0},
			{X: 0, Y: 200},
			{X: 100, Y: 500},
			{X: 250, Y: 1000},
			{X: 450, Y: 1000},
			{X: 550, Y: 300},
			{X: 650, Y: 0},
		}),
		SOC: NewCurve([]Point{
			{X: 0, Y: 1000},
			{X: 9000, Y: 1000},
			{X: 9700, Y: 300},
			{X: 10000, Y: 0},
		}),
		CellVoltage: NewCurve([]Point{
			{X: 0, Y: 1000},
			{X: 4150, Y: 1000},
			{X: 4210, Y: 300},
			{X: 4225, Y: 0},
		}),
	}
}

// CanonicalDischargeTables returns the spec's recommended breakpoint
// sets for the discharge direction.
func CanonicalDischargeTables() Tables {
	return Tables{
		Temperature: NewCurve([]Point{
			{X: -200, Y: 0},
			{X: -100, Y: 300},
			{X: 0, Y: 1000},
			{X: 600, Y: 1000},
			{X: 650, Y: 0},
		}),
		SOC: NewCurve([]Point{
			{X: 0, Y: 0},
			{X: 300, Y: 300},
			{X: 1000, Y: 1000},
			{X: 10000, Y: 1000},
		}),
		CellVoltage: NewCurve([]Point{
			{X: 3000, Y: 0},
			{X: 3050, Y: 300},
			{X: 3200, Y: 1000},
			{X: 10000, Y: 1000},
		}),
	}
}
