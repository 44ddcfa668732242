package array

import "testing"

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func threePacks() []PackSummary {
	// OCV roughly tracks SoC: higher SoC -> higher OCV, same internal
	// resistance for simplicity.
	return []PackSummary{
		{ID: "p45", SOCHundredths: 4500, OCVMV: 750000, ResistanceMilliOhm: 50, ChargeLimitMA: 200000, DischargeLimitMA: 200000},
		{ID: "p55", SOCHundredths: 5500, OCVMV: 760000, ResistanceMilliOhm: 50, ChargeLimitMA: 200000, DischargeLimitMA: 200000},
		{ID: "p65", SOCHundredths: 6500, OCVMV: 770000, ResistanceMilliOhm: 50, ChargeLimitMA: 200000, DischargeLimitMA: 200000},
	}
}

// Scenario 2: driven charge distribution; sum equals request within 2A
// and the lowest-SoC pack draws the largest share.
func TestSolveBusDrivenChargeDistribution(t *testing.T) {
	packs := threePacks()
	result := SolveBus(packs, 200000) // 200A charge request

	var sum int64
	for _, v := range result.CurrentMA {
		sum += v
	}
	if abs64(sum-200000) > 2000 {
		t.Fatalf("expected sum of per-pack currents within 2A of 200A request, got %d mA", sum)
	}
	if result.CurrentMA["p45"] <= result.CurrentMA["p65"] {
		t.Errorf("expected lowest-SoC pack (p45) to draw more current than highest-SoC pack (p65): p45=%d p65=%d",
			result.CurrentMA["p45"], result.CurrentMA["p65"])
	}
}

// Scenario 3: equalization at zero load.
func TestSolveBusEqualizationZeroLoad(t *testing.T) {
	packs := []PackSummary{
		{ID: "p40", SOCHundredths: 4000, OCVMV: 745000, ResistanceMilliOhm: 50, ChargeLimitMA: 50000, DischargeLimitMA: 50000},
		{ID: "p50", SOCHundredths: 5000, OCVMV: 755000, ResistanceMilliOhm: 50, ChargeLimitMA: 50000, DischargeLimitMA: 50000},
		{ID: "p60", SOCHundredths: 6000, OCVMV: 765000, ResistanceMilliOhm: 50, ChargeLimitMA: 50000, DischargeLimitMA: 50000},
	}
	result := SolveBus(packs, 0)

	var sum int64
	for _, v := range result.CurrentMA {
		sum += v
	}
	if abs64(sum) > 1000 {
		t.Fatalf("expected |sum I_k| <= 1A residual at zero load, got %d mA", sum)
	}
	if result.CurrentMA["p40"] <= 0 {
		t.Errorf("expected lowest-SoC pack to charge (positive current), got %d", result.CurrentMA["p40"])
	}
	if result.CurrentMA["p60"] >= 0 {
		t.Errorf("expected highest-SoC pack to discharge (negative current), got %d", result.CurrentMA["p60"])
	}
}

func TestSolveBusClampsToPerPackLimit(t *testing.T) {
	packs := []PackSummary{
		{ID: "weak", SOCHundredths: 3000, OCVMV: 700000, ResistanceMilliOhm: 50, ChargeLimitMA: 10000, DischargeLimitMA: 10000},
		{ID: "strong", SOCHundredths: 7000, OCVMV: 800000, ResistanceMilliOhm: 50, ChargeLimitMA: 200000, DischargeLimitMA: 200000},
	}
	result := SolveBus(packs, 100000)
	if result.CurrentMA["weak"] > packs[0].ChargeLimitMA {
		t.Errorf("expected weak pack clamped to its charge limit, got %d", result.CurrentMA["weak"])
	}
}

func TestArrayLimitsConservativeMinTimesN(t *testing.T) {
	connected := []PackSummary{
		{ID: "a", ChargeLimitMA: 100000, DischargeLimitMA: 80000},
		{ID: "b", ChargeLimitMA: 50000, DischargeLimitMA: 120000},
	}
	charge, discharge := ArrayLimits(connected)
	if charge != 100000 {
		t.Errorf("charge limit = %d, want min(100000,50000)*2=100000", charge)
	}
	if discharge != 160000 {
		t.Errorf("discharge limit = %d, want min(80000,120000)*2=160000", discharge)
	}
}

func TestSelectPrechargePackLowestSOCForCharge(t *testing.T) {
	ready := threePacks()
	id, ok := SelectPrechargePack(ready, true)
	if !ok || id != "p45" {
		t.Errorf("expected p45 (lowest SoC) for connect-for-charge, got %q", id)
	}
	id, ok = SelectPrechargePack(ready, false)
	if !ok || id != "p65" {
		t.Errorf("expected p65 (highest SoC) for connect-for-discharge, got %q", id)
	}
}

func TestVoltageMatchGate(t *testing.T) {
	if !VoltageMatchGate(800000, 800000, 22, 1200) {
		t.Error("equal voltages should always pass the gate")
	}
	if VoltageMatchGate(800000, 830000, 22, 1200) {
		t.Error("30V delta over 26.4V allowance should fail the gate")
	}
	if !VoltageMatchGate(800000, 820000, 22, 1200) {
		t.Error("20V delta under 26.4V allowance should pass the gate")
	}
}
