// Package array implements the multi-pack array coordinator: connect
// ordering, the voltage-match gate, the Kirchhoff's-current-law bus
// solver (driven and equalization modes), iterative per-pack limit
// clamping, and the conservative array-level limit publication.
package array

import "sort"

// solveScale is the fixed-point scale used for the 1/R terms in the bus
// solver so that integer division does not collapse small conductances
// to zero.
const solveScale = 1_000_000

// PackSummary is the minimal read-only view the array coordinator needs
// of one pack in order to make connect and solver decisions; it is
// passed by value each call rather than stored as a back-reference,
// keeping the array/pack relationship acyclic.
type PackSummary struct {
	ID                  string
	SOCHundredths       uint16
	Ready               bool
	Connected           bool
	PackVoltageMV       uint32
	OCVMV               int64 // open-circuit voltage estimate, mV
	ResistanceMilliOhm  int64 // internal resistance, must be > 0
	ChargeLimitMA       int64 // non-negative magnitude
	DischargeLimitMA    int64 // non-negative magnitude
}

// VoltageMatchGate reports whether a pack at packVoltageMV may connect
// to a bus at busVoltageMV, per the |ΔV| ≤ 1.2V × N_MODULES gate.
func VoltageMatchGate(packVoltageMV, busVoltageMV uint32, nModules int, mvPerModule uint32) bool {
	var delta uint32
	if packVoltageMV > busVoltageMV {
		delta = packVoltageMV - busVoltageMV
	} else {
		delta = busVoltageMV - packVoltageMV
	}
	return delta <= mvPerModule*uint32(nModules)
}

// SelectPrechargePack returns the ID of the single READY pack to
// pre-charge first: lowest SoC for connect-for-charge, highest SoC for
// connect-for-discharge. ok is false if no READY pack exists.
func SelectPrechargePack(ready []PackSummary, forCharge bool) (id string, ok bool) {
	if len(ready) == 0 {
		return "", false
	}
	best := ready[0]
	for _, p := range ready[1:] {
		if forCharge && p.SOCHundredths < best.SOCHundredths {
			best = p
		}
		if !forCharge && p.SOCHundredths > best.SOCHundredths {
			best = p
		}
	}
	return best.ID, true
}

// ArrayLimits publishes the conservative min(limit) × |C| form for both
// directions.
func ArrayLimits(connected []PackSummary) (chargeLimitMA, dischargeLimitMA int64) {
	if len(connected) == 0 {
		return 0, 0
	}
	minCharge := connected[0].ChargeLimitMA
	minDischarge := connected[0].DischargeLimitMA
	for _, p := range connected[1:] {
		if p.ChargeLimitMA < minCharge {
			minCharge = p.ChargeLimitMA
		}
		if p.DischargeLimitMA < minDischarge {
			minDischarge = p.DischargeLimitMA
		}
	}
	n := int64(len(connected))
	return minCharge * n, minDischarge * n
}

// SolveResult is the bus solver's output for one tick.
type SolveResult struct {
	CurrentMA    map[string]int64
	BusVoltageMV int64
}

// SolveBus computes V_bus and each connected pack's current for
// requestMA of externally-requested total current (driven mode when
// non-zero, equalization mode when zero), iteratively clamping any pack
// whose solved current exceeds its own limit, removing it from the
// active set, and re-solving the remainder with the clamped
// contribution subtracted — preserving Σ I_k = requestMA (Kirchhoff's
// current law) to within the clamped packs' own limits.
func SolveBus(packs []PackSummary, requestMA int64) SolveResult {
	result := SolveResult{CurrentMA: make(map[string]int64, len(packs))}
	if len(packs) == 0 {
		return result
	}

	active := make([]PackSummary, len(packs))
	copy(active, packs)
	remainingRequest := requestMA

	maxIter := len(packs) + 1
	for iter := 0; iter < maxIter && len(active) > 0; iter++ {
		var sumInvR, sumOCVInvR int64
		invR := make([]int64, len(active))
		for i, p := range active {
			r := p.ResistanceMilliOhm
			if r <= 0 {
				r = 1
			}
			invR[i] = solveScale / r
			sumInvR += invR[i]
			sumOCVInvR += p.OCVMV * invR[i]
		}
		if sumInvR == 0 {
			break
		}
		busV := (sumOCVInvR + (remainingRequest*solveScale)/1000) / sumInvR
		result.BusVoltageMV = busV

		currents := make([]int64, len(active))
		for i, p := range active {
			currents[i] = (busV - p.OCVMV) * invR[i] * 1000 / solveScale
		}

		var stillActive []PackSummary
		clampedAny := false
		for i, p := range active {
			ik := currents[i]
			switch {
			case ik > p.ChargeLimitMA:
				result.CurrentMA[p.ID] = p.ChargeLimitMA
				remainingRequest -= p.ChargeLimitMA
				clampedAny = true
			case ik < -p.DischargeLimitMA:
				result.CurrentMA[p.ID] = -p.DischargeLimitMA
				remainingRequest -= -p.DischargeLimitMA
				clampedAny = true
			default:
				stillActive = append(stillActive, p)
			}
		}
		active = stillActive

		if !clampedAny {
			for i, p := range active {
				result.CurrentMA[p.ID] = currents[i]
			}
			break
		}
		if iter == maxIter-1 {
			// bound reached with remaining active packs still present:
			// record their last computed current rather than leaving
			// them unset.
			for i, p := range active {
				result.CurrentMA[p.ID] = currents[i]
			}
		}
	}
	return result
}

// sortBySOCAscending returns a copy of packs ordered by ascending SoC;
// packs with equal SoC keep no guaranteed order. Nothing in the module
// calls it, the solver included.
func sortBySOCAscending(packs []PackSummary) []PackSummary {
	out := make([]PackSummary, len(packs))
	copy(out, packs)
	sort.Slice(out, func(i, j int) bool { return out[i].SOCHundredths < out[j].SOCHundredths })
	return out
}
