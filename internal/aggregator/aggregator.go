// Package aggregator computes per-cycle cell-voltage and temperature
// statistics from raw cell-monitor readings. It is a pure function over
// its inputs: no side effects beyond what the caller writes back.
package aggregator

import "marinebms/internal/measurement"

// ImbalanceWarnMV is the canonical imbalance-warning threshold (spec §6).
const ImbalanceWarnMV = 50

// Result holds the derived statistics for one aggregation pass.
type Result struct {
	PackVoltageMV uint32
	MaxCellMV     uint16
	MinCellMV     uint16
	AvgCellMV     uint16
	MaxTempDeciC  int16
	MinTempDeciC  int16
	Imbalance     bool
}

// Aggregate derives PackVoltageMV, min/max/avg cell voltage, min/max
// temperature and the imbalance flag from raw readings. A cell reading
// of 0 means "unconnected/invalid" and does not participate in minimum
// detection; if every reading is 0, min/max/avg fall back to zero.
func Aggregate(cellMV []uint16, tempDeciC []int16, imbalanceWarnMV uint16) Result {
	var r Result

	var sum uint64
	var minNonzero uint16 = 0
	var max uint16
	anyNonzero := false
	for _, v := range cellMV {
		sum += uint64(v)
		if v == 0 {
			continue
		}
		anyNonzero = true
		if minNonzero == 0 || v < minNonzero {
			minNonzero = v
		}
		if v > max {
			max = v
		}
	}
	r.PackVoltageMV = uint32(sum)
	if anyNonzero {
		r.MinCellMV = minNonzero
		r.MaxCellMV = max
		// Σ/N_CELLS per spec, including any zero (unread) cells in the
		// numerator; a pack with some cells still at 0 can therefore
		// read avg < min_nonzero until every sensor reports in.
		r.AvgCellMV = uint16(sum / uint64(len(cellMV)))
		if max-minNonzero > imbalanceWarnMV {
			r.Imbalance = true
		}
	}

	if len(tempDeciC) > 0 {
		r.MinTempDeciC = tempDeciC[0]
		r.MaxTempDeciC = tempDeciC[0]
		for _, t := range tempDeciC[1:] {
			if t < r.MinTempDeciC {
				r.MinTempDeciC = t
			}
			if t > r.MaxTempDeciC {
				r.MaxTempDeciC = t
			}
		}
	}

	return r
}

// Apply runs Aggregate over p's raw readings and writes the derived
// fields back into p, using the given imbalance threshold.
func Apply(p *measurement.PackState, imbalanceWarnMV uint16) {
	r := Aggregate(p.CellMV, p.TempDeciC, imbalanceWarnMV)
	p.PackVoltageMV = r.PackVoltageMV
	p.MaxCellMV = r.MaxCellMV
	p.MinCellMV = r.MinCellMV
	p.AvgCellMV = r.AvgCellMV
	p.MaxTempDeciC = r.MaxTempDeciC
	p.MinTempDeciC = r.MinTempDeciC
	if r.Imbalance {
		p.Faults = p.Faults.Set(measurement.FaultImbalance)
	} else {
		p.Faults = p.Faults.Clear(measurement.FaultImbalance)
	}
}
