// Package controller bundles one pack's full state and drivers and
// exposes the fixed per-tick ordering: physics/driver update -> aggregate
// -> SoC -> current limits -> protection -> state machine -> contactor.
package controller

import (
	"context"

	"go.uber.org/zap"

	"marinebms/internal/aggregator"
	"marinebms/internal/balancing"
	"marinebms/internal/contactor"
	"marinebms/internal/currentlimit"
	"marinebms/internal/measurement"
	"marinebms/internal/packfsm"
	"marinebms/internal/protection"
	"marinebms/internal/soc"
	"marinebms/pkg/hal"
)

// Config bundles a controller's tunables, separate from the pack
// topology that measurement.Topology already carries.
type Config struct {
	ID                 string
	Topology           measurement.Topology
	ImbalanceWarnMV    uint16
	NominalCapacityMAh int64
	EMSWatchdogMS      uint32
	BalanceBandMV      uint16
}

// Controller owns one pack's PackState, ProtectionState, contactor
// timers, and the cell-monitor driver for its modules. It never stores
// a back-reference to the owning array; the array passes bus context in
// per call.
type Controller struct {
	ID string

	Pack       *measurement.PackState
	Protection *measurement.ProtectionState
	ContactorTimers contactor.Timers

	cfg Config

	Driver     hal.CellMonitorDriver
	ContactorIO hal.ContactorIO
	FaultLog   hal.Store

	ProtectionEngine protection.Engine
	ContactorEngine  contactor.Engine
	CurrentLimit     currentlimit.Engine
	SOC              *soc.Estimator
	BalancingTunables balancing.Tunables

	log *zap.Logger

	pendingCloseRequested bool
	pendingOpenRequested  bool
	pendingBusVoltageMV   uint32
	lastEMSCommand        packfsm.EMSCommand
	lastSetLimitsCharge   int32
	lastSetLimitsDischarge int32
}

// fault-log adapter so protection.Engine can log through hal.Store
// without importing hal itself.
type faultLogAdapter struct {
	ctx    context.Context
	store  hal.Store
	packID string
	clock  hal.Clock
}

func (a faultLogAdapter) LogFaultEvent(kind string, index int, value int32) {
	if a.store == nil {
		return
	}
	ts := uint32(0)
	if a.clock != nil {
		ts = a.clock.NowMS()
	}
	_ = a.store.LogFaultEvent(a.ctx, hal.FaultEvent{
		TimestampMS: ts,
		PackID:      a.packID,
		Kind:        kind,
		Index:       index,
		Value:       value,
	})
}

// New constructs a Controller with fresh zero-value state.
func New(cfg Config, driver hal.CellMonitorDriver, contactorIO hal.ContactorIO, store hal.Store, clock hal.Clock, limitEngine currentlimit.Engine, protectionTunables protection.Tunables, contactorTunables contactor.Tunables, ocvTable currentlimit.Curve, log *zap.Logger) *Controller {
	pack := measurement.NewPackState(cfg.Topology)
	ps := measurement.NewProtectionState(cfg.Topology)

	adapter := faultLogAdapter{ctx: context.Background(), store: store, packID: cfg.ID, clock: clock}

	return &Controller{
		ID:                cfg.ID,
		Pack:              pack,
		Protection:        ps,
		cfg:               cfg,
		Driver:            driver,
		ContactorIO:       contactorIO,
		FaultLog:          store,
		ProtectionEngine:  protection.NewEngine(protectionTunables, adapter),
		ContactorEngine:   contactor.NewEngine(contactorTunables),
		CurrentLimit:      limitEngine,
		SOC:               soc.NewEstimator(cfg.NominalCapacityMAh, ocvTable),
		BalancingTunables: balancing.DefaultTunables(),
		log:               log.With(zap.String("component", "controller"), zap.String("pack_id", cfg.ID)),
	}
}

// RequestConnect asks the contactor sequencer to close against
// busVoltageMV on the next tick.
func (c *Controller) RequestConnect(busVoltageMV uint32) {
	c.pendingCloseRequested = true
	c.pendingBusVoltageMV = busVoltageMV
}

// RequestDisconnect asks the contactor sequencer to open on the next
// tick.
func (c *Controller) RequestDisconnect() {
	c.pendingOpenRequested = true
}

// UpdatePhysical refreshes the pack's raw readings from the driver. On
// error it sets faults.comm_loss and does not otherwise alter pack
// state; this mirrors the teacher's per-rack log-and-continue pattern.
func (c *Controller) UpdatePhysical(ctx context.Context) {
	allOK := true
	modules := c.cfg.Topology.Modules
	cellsPer := c.cfg.Topology.CellsPerModule
	sensorsPer := c.cfg.Topology.SensorsPerModule

	for m := 0; m < modules; m++ {
		cells, err := c.Driver.ReadAllCells(ctx, m)
		if err != nil {
			c.log.Warn("cell read failed", zap.Int("module", m), zap.Error(err))
			allOK = false
			continue
		}
		copy(c.Pack.CellMV[m*cellsPer:(m+1)*cellsPer], cells)

		temps, err := c.Driver.ReadTemperatures(ctx, m)
		if err != nil {
			c.log.Warn("temperature read failed", zap.Int("module", m), zap.Error(err))
			allOK = false
			continue
		}
		copy(c.Pack.TempDeciC[m*sensorsPer:(m+1)*sensorsPer], temps)
	}

	if current, err := c.Driver.ReadCurrent(ctx, 0); err == nil {
		c.Pack.PackCurrentMA = current
	} else {
		allOK = false
	}

	if allOK {
		c.Pack.Faults = c.Pack.Faults.Clear(measurement.FaultCommLoss)
	} else {
		c.Pack.Faults = c.Pack.Faults.Set(measurement.FaultCommLoss)
	}
}

// Tick advances the controller by dtMS in the fixed ordering: aggregate
// -> SoC -> current limits -> protection -> state machine. Contactor
// advancement and physics/driver update are driven separately by the
// scheduler/array coordinator per the concurrency model's task split.
func (c *Controller) Tick(dtMS uint32, uptimeMS uint32) {
	aggregator.Apply(c.Pack, c.cfg.ImbalanceWarnMV)

	onlyWhenReady := c.Pack.Mode == measurement.ModeReady
	if c.SOC.ShouldRest(c.Pack.PackCurrentMA, dtMS, onlyWhenReady) {
		c.Pack.SOCHundredths = c.SOC.OCVReset(c.Pack.AvgCellMV)
		c.SOC.ResetTimer()
	} else {
		c.Pack.SOCHundredths = c.SOC.Integrate(c.Pack.SOCHundredths, c.Pack.PackCurrentMA, dtMS)
	}

	tempChargeLimitMA, dischargeMA := c.CurrentLimit.Evaluate(c.Pack.MaxTempDeciC, c.Pack.SOCHundredths, c.Pack.MaxCellMV, c.Pack.MinCellMV, 0)
	if !c.Pack.FaultLatched {
		c.Pack.ChargeLimitMA = tempChargeLimitMA
		c.Pack.DischargeLimitMA = dischargeMA
	}

	c.ProtectionEngine.Step(c.Pack, c.Protection, dtMS, tempChargeLimitMA)

	mask := balancing.Decide(c.BalancingTunables, c.Pack.CellMV, c.Pack.MaxCellMV, c.Pack.PackCurrentMA, c.cfg.BalanceBandMV)
	copy(c.Pack.BalanceMask, mask)

	packfsm.Step(c.Pack, packfsm.Inputs{
		AllModulesCommOK: !c.Pack.Faults.Has(measurement.FaultCommLoss),
		Command:          c.lastEMSCommand,
		SetLimitsChargeMA:    c.lastSetLimitsCharge,
		SetLimitsDischargeMA: c.lastSetLimitsDischarge,
		UptimeMS:         uptimeMS,
		EMSWatchdogMS:    c.cfg.EMSWatchdogMS,
		ContactorState:   c.Pack.ContactorState,
		BusVoltageMV:     c.pendingBusVoltageMV,
		ResetGuard:       func() bool { return c.ProtectionEngine.CanReset(c.Protection) },
		OnResetDenied: func() {
			c.log.Info("fault reset denied", zap.String("reason", protection.DenyResetMessage(c.Protection, c.ProtectionEngine.T.FaultResetHoldMS)))
		},
		OnResetAccepted: func() {
			c.ProtectionEngine.Reset(c.Pack, c.Protection)
			c.log.Info("fault reset accepted")
		},
		RequestContactorClose: func(busVoltageMV uint32) { c.RequestConnect(busVoltageMV) },
		RequestContactorOpen:  func() { c.RequestDisconnect() },
	})
	c.lastEMSCommand = packfsm.CmdNone

	c.Pack.HeartbeatCount++
}

// TickContactor advances the contactor sequencer given the current bus
// voltage (needed for the pre-charge target).
func (c *Controller) TickContactor(busVoltageMV uint32, dtMS uint32) {
	in := contactor.Inputs{
		CloseRequested:     c.pendingCloseRequested,
		OpenRequested:      c.pendingOpenRequested,
		BusVoltageMV:       busVoltageMV,
		PackVoltageMV:      c.Pack.PackVoltageMV,
		PackCurrentMA:      c.Pack.PackCurrentMA,
		PositiveFeedbackHi: true,
		NegativeFeedbackHi: true,
	}
	if c.ContactorIO != nil {
		if v, err := c.ContactorIO.PositiveFeedback(); err == nil {
			in.PositiveFeedbackHi = v
		}
		if v, err := c.ContactorIO.NegativeFeedback(); err == nil {
			in.NegativeFeedbackHi = v
		}
	}

	out := c.ContactorEngine.Step(c.Pack, &c.ContactorTimers, in, dtMS)
	c.pendingCloseRequested = false
	c.pendingOpenRequested = false

	if c.ContactorIO != nil {
		_ = c.ContactorIO.SetPrechargeRelay(out.PrechargeRelay)
		_ = c.ContactorIO.SetNegativeContactor(out.NegativeContactor)
		_ = c.ContactorIO.SetPositiveContactor(out.PositiveContactor)
	}
}

// SubmitEMSCommand queues a decoded EMS command for the next state-
// machine tick and updates last_ems_msg_ms bookkeeping via Tick.
func (c *Controller) SubmitEMSCommand(cmd packfsm.EMSCommand, setChargeMA, setDischargeMA int32) {
	c.lastEMSCommand = cmd
	c.lastSetLimitsCharge = setChargeMA
	c.lastSetLimitsDischarge = setDischargeMA
}

// AckHardwareFault clears the independent hardware-safety latch
// (hw_ov/hw_uv/hw_ot). It must be invoked explicitly by an operator;
// nothing in the tick path calls it automatically.
func (c *Controller) AckHardwareFault() {
	c.ProtectionEngine.AckHardwareFault(c.Pack, c.Protection)
}

// AckWeld clears the terminal WELDED contactor state after explicit
// hardware service. It must be invoked explicitly by an operator.
func (c *Controller) AckWeld() {
	contactor.AckWeld(c.Pack, &c.ContactorTimers)
}
