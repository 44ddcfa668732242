package controller

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"marinebms/internal/contactor"
	"marinebms/internal/currentlimit"
	"marinebms/internal/measurement"
	"marinebms/internal/packfsm"
	"marinebms/internal/protection"
	"marinebms/internal/soc"
	"marinebms/pkg/hal/mock"
)

func newTestController(t *testing.T) (*Controller, *mock.CellMonitor) {
	t.Helper()
	top := measurement.Topology{Modules: 2, CellsPerModule: 4, SensorsPerModule: 2}
	cfg := Config{
		ID:                 "pack-a",
		Topology:           top,
		ImbalanceWarnMV:    50,
		NominalCapacityMAh: 128000,
		EMSWatchdogMS:      5000,
		BalanceBandMV:      5,
	}
	driver := mock.NewCellMonitor()
	for m := 0; m < top.Modules; m++ {
		driver.CellsByModule[m] = []uint16{3700, 3710, 3705, 3702}
		driver.TempsByModule[m] = []int16{300, 310}
	}
	cio := mock.NewContactor()
	store := mock.NewStore()
	clock := mock.NewClock()

	limitEngine := currentlimit.NewEngine(currentlimit.CanonicalChargeTables(), currentlimit.CanonicalDischargeTables(), 128000)

	c := New(cfg, driver, cio, store, clock, limitEngine, protection.DefaultTunables(), contactor.DefaultTunables(), soc.CanonicalOCVTable(), zap.NewNop())
	return c, driver
}

func TestControllerUpdatePhysicalPopulatesCells(t *testing.T) {
	c, _ := newTestController(t)
	c.UpdatePhysical(context.Background())
	if c.Pack.CellMV[0] != 3700 {
		t.Errorf("expected cell 0 = 3700, got %d", c.Pack.CellMV[0])
	}
	if c.Pack.Faults.Has(measurement.FaultCommLoss) {
		t.Error("did not expect comm_loss fault on clean reads")
	}
}

func TestControllerUpdatePhysicalSetsCommLossOnFailure(t *testing.T) {
	c, driver := newTestController(t)
	driver.SetFailNext("ReadAllCells")
	c.UpdatePhysical(context.Background())
	if !c.Pack.Faults.Has(measurement.FaultCommLoss) {
		t.Error("expected comm_loss fault after a failed cell read")
	}
}

func TestControllerTickProgressesNotReadyToReady(t *testing.T) {
	c, _ := newTestController(t)
	c.UpdatePhysical(context.Background())
	c.Tick(10, 10)
	if c.Pack.Mode != measurement.ModeReady {
		t.Fatalf("expected READY after a clean tick, got %s", c.Pack.Mode)
	}
}

func TestControllerConnectRequestDrivesContactor(t *testing.T) {
	c, _ := newTestController(t)
	c.UpdatePhysical(context.Background())
	c.Tick(10, 10) // NOT_READY -> READY

	c.SubmitEMSCommand(packfsm.CmdConnectForCharge, 0, 0)
	c.Tick(10, 20)
	if c.Pack.Mode != measurement.ModeConnecting {
		t.Fatalf("expected CONNECTING, got %s", c.Pack.Mode)
	}

	c.TickContactor(c.Pack.PackVoltageMV, 10)
	if c.Pack.ContactorState != measurement.ContactorPreCharge {
		t.Fatalf("expected PRE_CHARGE, got %s", c.Pack.ContactorState)
	}
}

// TestFaultResetClearsLatchAndSurvivesNextTick exercises the full
// fault/reset cycle through Controller.Tick, not just packfsm.Step in
// isolation: a reset must clear fault_latched end to end so the pack
// does not snap back to FAULT on the very next tick.
func TestFaultResetClearsLatchAndSurvivesNextTick(t *testing.T) {
	c, _ := newTestController(t)
	c.UpdatePhysical(context.Background())
	c.Tick(10, 10) // NOT_READY -> READY

	c.Pack.FaultLatched = true
	c.Pack.Faults = c.Pack.Faults.Set(measurement.FaultCellOV)
	c.Tick(10, 20)
	if c.Pack.Mode != measurement.ModeFault {
		t.Fatalf("expected FAULT after latching, got %s", c.Pack.Mode)
	}

	// Reset is denied until the safe-state hold accumulates.
	c.SubmitEMSCommand(packfsm.CmdResetFaults, 0, 0)
	c.Tick(10, 30)
	if c.Pack.Mode != measurement.ModeFault {
		t.Fatalf("expected reset to be denied before the safe-state hold, got %s", c.Pack.Mode)
	}

	c.Protection.SafeStateMS = c.ProtectionEngine.T.FaultResetHoldMS
	c.SubmitEMSCommand(packfsm.CmdResetFaults, 0, 0)
	c.Tick(10, 40)
	if c.Pack.Mode != measurement.ModeReady {
		t.Fatalf("expected READY once the guard is satisfied, got %s", c.Pack.Mode)
	}
	if c.Pack.FaultLatched {
		t.Error("expected fault_latched cleared by the accepted reset")
	}
	if c.Pack.Faults.Has(measurement.FaultCellOV) {
		t.Error("expected cell_ov fault bit cleared by the accepted reset")
	}

	// The next tick must not re-latch the fault.
	c.Tick(10, 50)
	if c.Pack.Mode != measurement.ModeReady {
		t.Fatalf("expected to remain READY on the tick after reset, got %s", c.Pack.Mode)
	}
}

func TestAckHardwareFaultClearsLatchIndependentlyOfReset(t *testing.T) {
	c, _ := newTestController(t)
	c.Protection.HWFaultLatched = true
	c.Pack.Faults = c.Pack.Faults.Set(measurement.FaultHWOV)

	c.AckHardwareFault()

	if c.Protection.HWFaultLatched {
		t.Error("expected hw_fault_latched cleared by AckHardwareFault")
	}
	if c.Pack.Faults.Has(measurement.FaultHWOV) {
		t.Error("expected hw_ov fault bit cleared by AckHardwareFault")
	}
}

func TestAckWeldClearsWeldedContactorState(t *testing.T) {
	c, _ := newTestController(t)
	c.Pack.ContactorState = measurement.ContactorWelded
	c.Pack.Faults = c.Pack.Faults.Set(measurement.FaultContactorWeld)

	c.AckWeld()

	if c.Pack.ContactorState != measurement.ContactorOpen {
		t.Fatalf("expected OPEN after AckWeld, got %s", c.Pack.ContactorState)
	}
	if c.Pack.Faults.Has(measurement.FaultContactorWeld) {
		t.Error("expected contactor_weld fault bit cleared by AckWeld")
	}
}
