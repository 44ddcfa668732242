package contactor

import (
	"testing"

	"marinebms/internal/measurement"
)

func newPack() *measurement.PackState {
	return measurement.NewPackState(measurement.DefaultTopology())
}

func TestOpenToPrechargeOnCloseRequest(t *testing.T) {
	e := NewEngine(DefaultTunables())
	p := newPack()
	timers := &Timers{}
	e.Step(p, timers, Inputs{CloseRequested: true}, 10)
	if p.ContactorState != measurement.ContactorPreCharge {
		t.Fatalf("expected PRE_CHARGE, got %s", p.ContactorState)
	}
}

func TestPrechargeTimeoutReturnsToOpen(t *testing.T) {
	e := NewEngine(DefaultTunables())
	p := newPack()
	p.ContactorState = measurement.ContactorPreCharge
	timers := &Timers{}
	in := Inputs{BusVoltageMV: 800000, PackVoltageMV: 0}
	for i := 0; i < 501; i++ {
		e.Step(p, timers, in, 10)
	}
	if p.ContactorState != measurement.ContactorOpen {
		t.Fatalf("expected OPEN after precharge timeout, got %s", p.ContactorState)
	}
}

// Scenario 8: contactor weld.
func TestContactorWeldDetection(t *testing.T) {
	e := NewEngine(DefaultTunables())
	p := newPack()
	p.ContactorState = measurement.ContactorClosed
	timers := &Timers{}

	e.Step(p, timers, Inputs{OpenRequested: true, PackCurrentMA: 50000}, 10)
	if p.ContactorState != measurement.ContactorOpening {
		t.Fatalf("expected OPENING, got %s", p.ContactorState)
	}

	for i := 0; i < 20; i++ { // 200ms with current still flowing
		e.Step(p, timers, Inputs{PackCurrentMA: 50000}, 10)
	}
	if p.ContactorState != measurement.ContactorWelded {
		t.Fatalf("expected WELDED after 200ms with persistent current, got %s", p.ContactorState)
	}
	if !p.Faults.Has(measurement.FaultContactorWeld) || !p.FaultLatched {
		t.Error("expected contactor_weld fault and fault_latched set")
	}
}

func TestOpeningReturnsToOpenWhenCurrentDrops(t *testing.T) {
	e := NewEngine(DefaultTunables())
	p := newPack()
	p.ContactorState = measurement.ContactorOpening
	timers := &Timers{}
	e.Step(p, timers, Inputs{PackCurrentMA: 100}, 10)
	if p.ContactorState != measurement.ContactorOpen {
		t.Fatalf("expected OPEN once current drops below threshold, got %s", p.ContactorState)
	}
}

func TestWeldedIsTerminalUntilAck(t *testing.T) {
	e := NewEngine(DefaultTunables())
	p := newPack()
	p.ContactorState = measurement.ContactorWelded
	timers := &Timers{}
	e.Step(p, timers, Inputs{CloseRequested: true, OpenRequested: true}, 1000)
	if p.ContactorState != measurement.ContactorWelded {
		t.Fatal("WELDED must be terminal until explicit AckWeld")
	}
	AckWeld(p, timers)
	if p.ContactorState != measurement.ContactorOpen {
		t.Fatalf("expected OPEN after AckWeld, got %s", p.ContactorState)
	}
}
