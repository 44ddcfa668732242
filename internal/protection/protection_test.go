package protection

import (
	"testing"

	"marinebms/internal/measurement"
)

type noopLog struct{ events []string }

func (n *noopLog) LogFaultEvent(kind string, index int, value int32) {
	n.events = append(n.events, kind)
}

func newTestPack() (*measurement.PackState, *measurement.ProtectionState) {
	top := measurement.DefaultTopology()
	p := measurement.NewPackState(top)
	for i := range p.CellMV {
		p.CellMV[i] = 3700
	}
	for i := range p.TempDeciC {
		p.TempDeciC[i] = 350
	}
	p.MaxCellMV, p.MinCellMV, p.AvgCellMV = 3700, 3700, 3700
	p.MaxTempDeciC, p.MinTempDeciC = 350, 350
	ps := measurement.NewProtectionState(top)
	return p, ps
}

// Scenario 6: hardware-safety independence — fires even with a software
// fault already latched.
func TestHardwareSafetyIndependentOfSoftwareFault(t *testing.T) {
	p, ps := newTestPack()
	log := &noopLog{}
	e := NewEngine(DefaultTunables(), log)

	p.FaultLatched = true
	p.Faults = p.Faults.Set(measurement.FaultCellOV)
	p.CellMV[0] = 4301

	for i := 0; i < 100; i++ {
		p.MaxCellMV = 4301
		e.Step(p, ps, 10, 128000)
	}

	if !p.Faults.Has(measurement.FaultHWOV) {
		t.Fatal("expected hw_ov fault to latch despite pre-existing software fault")
	}
	found := false
	for _, ev := range log.events {
		if ev == "hw_ov" {
			found = true
		}
	}
	if !found {
		t.Error("expected hw_ov event appended to fault log, not replacing existing state")
	}
}

// Scenario 4: thermal warning -> fault with hysteresis.
func TestThermalWarningThenFaultWithHysteresis(t *testing.T) {
	p, ps := newTestPack()
	e := NewEngine(DefaultTunables(), &noopLog{})

	setTemp := func(deciC int16) {
		for i := range p.TempDeciC {
			p.TempDeciC[i] = deciC
		}
		p.MaxTempDeciC = deciC
	}

	setTemp(600) // 60.0C, warning trigger
	for i := 0; i < 500; i++ { // 5s
		e.Step(p, ps, 10, 128000)
	}
	if !p.HasWarning {
		t.Fatal("expected warning latched after 5s at 60C")
	}

	setTemp(650) // 65.0C, fault
	for i := 0; i < 500; i++ {
		e.Step(p, ps, 10, 128000)
	}
	if !p.FaultLatched || !p.Faults.Has(measurement.FaultCellOT) {
		t.Fatal("expected cell_ot fault latched after 5s at 65C")
	}

	setTemp(569) // 56.9C, below clear threshold but must hold 10s
	for i := 0; i < 900; i++ { // 9s, not yet 10s
		e.Step(p, ps, 10, 128000)
	}
	if !p.HasWarning {
		t.Error("warning must remain asserted until the 10s hold elapses")
	}
}

// Scenario 5: fault reset hold time.
func TestFaultResetHoldTime(t *testing.T) {
	p, ps := newTestPack()
	e := NewEngine(DefaultTunables(), &noopLog{})

	p.FaultLatched = true
	p.Faults = p.Faults.Set(measurement.FaultCellOV)

	for i := 0; i < 3000; i++ { // 30s safe-state accumulation
		e.Step(p, ps, 10, 128000)
	}
	if e.Reset(p, ps) {
		t.Fatal("reset should be denied at 30s safe-state accumulation")
	}
	if !p.FaultLatched {
		t.Fatal("fault should remain latched after denied reset")
	}

	for i := 0; i < 3500; i++ { // additional 35s -> 65s total
		e.Step(p, ps, 10, 128000)
	}
	if !e.Reset(p, ps) {
		t.Fatal("reset should be accepted at 65s safe-state accumulation")
	}
	if p.FaultLatched {
		t.Fatal("fault_latched should be cleared after accepted reset")
	}
}

// Scenario 7: overcurrent warning.
func TestOvercurrentWarning(t *testing.T) {
	p, ps := newTestPack()
	e := NewEngine(DefaultTunables(), &noopLog{})

	tempChargeLimitMA := int32(384000)
	p.PackCurrentMA = int32(1.05*384000) + 5000 + 20000 // ~428.2 A of margin over threshold

	for i := 0; i < 999; i++ { // 9.99s, just under 10s
		e.Step(p, ps, 10, tempChargeLimitMA)
	}
	if p.HasWarning {
		t.Error("overcurrent warning should not assert before 10s")
	}

	e.Step(p, ps, 10, tempChargeLimitMA) // crosses 10.0s
	if !p.HasWarning {
		t.Fatal("expected overcurrent warning after 10s")
	}
	if p.FaultLatched {
		t.Error("overcurrent warning must not latch a fault")
	}
}

func TestUnderVoltageExcludesZeroReading(t *testing.T) {
	p, ps := newTestPack()
	e := NewEngine(DefaultTunables(), &noopLog{})
	p.CellMV[5] = 0

	for i := 0; i < 600; i++ { // 6s, past the 5s delay
		e.Step(p, ps, 10, 128000)
	}
	if p.FaultLatched {
		t.Error("a zero (unconnected) cell reading must not trigger under-voltage fault")
	}
}

func TestSoftwareProtectionSkippedWhenAlreadyFaultLatched(t *testing.T) {
	p, ps := newTestPack()
	e := NewEngine(DefaultTunables(), &noopLog{})
	p.FaultLatched = true
	p.Faults = p.Faults.Set(measurement.FaultCellOV)
	p.CellMV[10] = 2999 // would trip UV if evaluated

	for i := 0; i < 600; i++ {
		e.Step(p, ps, 10, 128000)
	}
	if ps.UVTimerMS[10] != 0 {
		t.Error("software protection must not accumulate timers once fault_latched is true")
	}
}
