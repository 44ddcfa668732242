// Package app wires the per-pack controllers into the array-level
// behavior (spec.md §4.7) and drives the scheduler's task table. It is
// the top-level assembly point: everything else in this module is a
// pure or narrowly-scoped component this package composes.
package app

import (
	"context"

	"go.uber.org/zap"

	"marinebms/internal/array"
	"marinebms/internal/controller"
	"marinebms/internal/measurement"
	"marinebms/internal/packfsm"
	"marinebms/pkg/hal"
)

// telemetrySink is the narrow slice of *telemetry.Sink the coordinator
// needs, so tests can substitute a fake instead of a live InfluxDB
// connection.
type telemetrySink interface {
	WritePackStatus(packID string, pack *measurement.PackState)
}

// nominalResistanceMilliOhmPerModule is the bus solver's per-module
// resistance estimate. The driver contract exposes no resistance
// sensor, so every pack uses this same fixed value scaled by its module
// count; a future hardware revision that measures per-string resistance
// can replace this with a real reading without changing the solver.
const nominalResistanceMilliOhmPerModule = 2

// Coordinator ties the per-pack controllers together: it dispatches
// polled EMS commands (applying array-level connect ordering for
// connect-for-charge/discharge), advances the contactor/bus-solver tick,
// and publishes status. Grounded on the teacher's control.Logic
// (checkBMSPCSPairs iterating a fixed sibling set), generalized from a
// hardcoded BMS/PCS pairing to an arbitrary configured pack count.
type Coordinator struct {
	controllers []*controller.Controller
	ems         hal.EMSChannel
	sink        telemetrySink
	faultLog    hal.Store
	clock       hal.Clock
	log         *zap.Logger

	voltageMatchMVPerModule uint32
	modulesPerPack          int

	bus measurement.ArrayState

	pendingGroupConnect   bool
	pendingGroupForCharge bool
}

// NewCoordinator constructs a Coordinator over the given controllers.
func NewCoordinator(controllers []*controller.Controller, emsChannel hal.EMSChannel, sink telemetrySink, faultLog hal.Store, clock hal.Clock, voltageMatchMVPerModule uint32, log *zap.Logger) *Coordinator {
	modules := 0
	if len(controllers) > 0 {
		modules = controllers[0].Pack.Topology.Modules
	}
	return &Coordinator{
		controllers:             controllers,
		ems:                     emsChannel,
		sink:                    sink,
		faultLog:                faultLog,
		clock:                   clock,
		voltageMatchMVPerModule: voltageMatchMVPerModule,
		modulesPerPack:          modules,
		log:                     log.With(zap.String("component", "array_coordinator")),
	}
}

func (co *Coordinator) summaries() []array.PackSummary {
	out := make([]array.PackSummary, 0, len(co.controllers))
	for _, c := range co.controllers {
		resistance := int64(nominalResistanceMilliOhmPerModule * c.Pack.Topology.Modules)
		out = append(out, array.PackSummary{
			ID:                 c.ID,
			SOCHundredths:      c.Pack.SOCHundredths,
			Ready:              c.Pack.Mode == measurement.ModeReady,
			Connected:          c.Pack.ContactorState == measurement.ContactorClosed,
			PackVoltageMV:      c.Pack.PackVoltageMV,
			OCVMV:              int64(c.Pack.PackVoltageMV),
			ResistanceMilliOhm: resistance,
			ChargeLimitMA:      int64(c.Pack.ChargeLimitMA),
			DischargeLimitMA:   int64(c.Pack.DischargeLimitMA),
		})
	}
	return out
}

// MonitorTick refreshes each controller's physical readings and advances
// its aggregate/SoC/limit/protection/state-machine tick, in that fixed
// order (spec.md §5).
func (co *Coordinator) MonitorTick(dtMS uint32) {
	ctx := context.Background()
	uptimeMS := co.clock.NowMS()
	for _, c := range co.controllers {
		c.UpdatePhysical(ctx)
		c.Tick(dtMS, uptimeMS)
	}
}

// CommandTick polls the EMS channel for every pack. A disconnect,
// reset-faults, power-save, or set-limits command applies directly to
// the pack it addressed. A connect-for-charge/discharge command is
// treated as an array-wide request and handed to beginArrayConnect,
// which selects the pre-charge pack by spec.md §4.7's SoC ordering
// rather than connecting the addressed pack alone.
func (co *Coordinator) CommandTick(dtMS uint32) {
	ctx := context.Background()
	for _, c := range co.controllers {
		frame, ok, err := co.ems.PollCommand(ctx, c.ID)
		if err != nil {
			co.log.Warn("ems poll failed", zap.String("pack_id", c.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		switch frame.Kind {
		case hal.EMSConnectForCharge:
			co.beginArrayConnect(true)
		case hal.EMSConnectForDischarge:
			co.beginArrayConnect(false)
		default:
			c.SubmitEMSCommand(packfsm.EMSCommand(frame.Kind), frame.ChargeLimitMA, frame.DischargeLimitMA)
		}
	}
}

// beginArrayConnect selects the single READY pack with the extreme SoC
// (lowest for charge, highest for discharge) and issues its connect
// request alone; ContactorTick issues the remaining READY packs' connect
// requests once that pre-charge pack reaches CONNECTED.
func (co *Coordinator) beginArrayConnect(forCharge bool) {
	var ready []array.PackSummary
	for _, s := range co.summaries() {
		if s.Ready {
			ready = append(ready, s)
		}
	}
	prechargeID, ok := array.SelectPrechargePack(ready, forCharge)
	if !ok {
		co.log.Warn("connect requested but no READY pack available", zap.Bool("for_charge", forCharge))
		return
	}

	cmd := packfsm.CmdConnectForCharge
	if !forCharge {
		cmd = packfsm.CmdConnectForDischarge
	}
	for _, c := range co.controllers {
		if c.ID == prechargeID {
			c.SubmitEMSCommand(cmd, 0, 0)
			break
		}
	}
	co.pendingGroupConnect = true
	co.pendingGroupForCharge = forCharge
}

// ContactorTick advances the contactor sequencer for every pack and
// re-solves the bus. When a pre-charge pack commanded by
// beginArrayConnect reaches CONNECTED, it issues connect requests to
// every remaining READY pack simultaneously (spec.md §4.7).
func (co *Coordinator) ContactorTick(dtMS uint32) {
	if co.pendingGroupConnect {
		anyConnected := false
		for _, c := range co.controllers {
			if c.Pack.Mode == measurement.ModeConnected {
				anyConnected = true
				break
			}
		}
		if anyConnected {
			cmd := packfsm.CmdConnectForCharge
			if !co.pendingGroupForCharge {
				cmd = packfsm.CmdConnectForDischarge
			}
			for _, c := range co.controllers {
				if c.Pack.Mode != measurement.ModeReady {
					continue
				}
				if !array.VoltageMatchGate(c.Pack.PackVoltageMV, co.bus.BusVoltageMV, co.modulesPerPack, co.voltageMatchMVPerModule) {
					co.log.Warn("pack excluded from group connect: voltage mismatch", zap.String("pack_id", c.ID))
					continue
				}
				c.SubmitEMSCommand(cmd, 0, 0)
			}
			co.pendingGroupConnect = false
		}
	}

	for _, c := range co.controllers {
		c.TickContactor(co.bus.BusVoltageMV, dtMS)
	}

	var connected []array.PackSummary
	for _, s := range co.summaries() {
		if s.Connected {
			connected = append(connected, s)
		}
	}
	// The 0 here is I_request: the EMS command set (§6) has no
	// current-request command today, so the array always equalizes
	// rather than tracks an external setpoint. A driven-mode command
	// would plumb its value in at this call.
	result := array.SolveBus(connected, 0)
	co.bus.BusVoltageMV = uint32(result.BusVoltageMV)

	chargeLimitMA, dischargeLimitMA := array.ArrayLimits(connected)
	co.bus.ArrayChargeLimitMA = int32(chargeLimitMA)
	co.bus.ArrayDischargeLimitMA = int32(dischargeLimitMA)
}

// StatusTick publishes every pack's status to the EMS channel and the
// telemetry sink, the role the teacher's CAN TX task plays for its
// BMS/PCS data.
func (co *Coordinator) StatusTick(dtMS uint32) {
	ctx := context.Background()
	for _, c := range co.controllers {
		p := c.Pack
		snapshot := hal.StatusSnapshot{
			Mode:             p.Mode.String(),
			PackVoltageDV:    p.PackVoltageMV / 100,
			PackCurrentDA:    p.PackCurrentMA / 100,
			SOCPercent:       uint8(p.SOCHundredths / 100),
			WorstTempDeciC:   p.MaxTempDeciC,
			Faults:           uint32(p.Faults),
			ChargeLimitMA:    p.ChargeLimitMA,
			DischargeLimitMA: p.DischargeLimitMA,
			MinCellMV:        p.MinCellMV,
			MaxCellMV:        p.MaxCellMV,
			AvgCellMV:        p.AvgCellMV,
			Imbalance:        p.Faults.Has(measurement.FaultImbalance),
		}
		if err := co.ems.PublishStatus(ctx, c.ID, snapshot); err != nil {
			co.log.Warn("ems publish failed", zap.String("pack_id", c.ID), zap.Error(err))
		}
		co.sink.WritePackStatus(c.ID, p)
	}
}

// PersistTick saves every pack's SoC and runtime counters through the
// store. Nothing reads the snapshot back at startup, so a restart still
// begins from power-on initialization.
func (co *Coordinator) PersistTick(dtMS uint32) {
	ctx := context.Background()
	for _, c := range co.controllers {
		snap := hal.PersistentSnapshot{
			PackID:        c.ID,
			SOCHundredths: c.Pack.SOCHundredths,
			RuntimeHours:  c.Pack.UptimeMS / 3_600_000,
		}
		if err := co.faultLog.SavePersistent(ctx, snap); err != nil {
			co.log.Warn("persist failed", zap.String("pack_id", c.ID), zap.Error(err))
		}
	}
}
