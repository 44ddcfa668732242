package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"marinebms/internal/config"
	"marinebms/internal/controller"
	"marinebms/internal/scheduler"
	"marinebms/internal/telemetry"
	"marinebms/pkg/hal"
)

// Module wires the array coordinator and the periodic-task scheduler
// into the Fx application: the top-level assembly, grounded on
// cmd/ems/main.go's module list and the teacher's EMS container's
// Start/Stop lifecycle (relocated here, see DESIGN.md).
var Module = fx.Module("app",
	fx.Provide(ProvideCoordinator),
	fx.Invoke(RegisterScheduler),
)

// CoordinatorParams collects every controller contributed to the
// "pack_controllers" group, independent of how many packs are
// configured.
type CoordinatorParams struct {
	fx.In

	Controllers []*controller.Controller `group:"pack_controllers"`
	EMSChannel  hal.EMSChannel
	Sink        *telemetry.Sink
	FaultLog    hal.Store
	Clock       hal.Clock
	Config      *config.Config
	Log         *zap.Logger
}

// ProvideCoordinator builds the array coordinator over every configured
// pack's controller.
func ProvideCoordinator(p CoordinatorParams) *Coordinator {
	return NewCoordinator(p.Controllers, p.EMSChannel, p.Sink, p.FaultLog, p.Clock, p.Config.Tunables.VoltageMatchMVPerModule, p.Log)
}

// RegisterScheduler builds the fixed periodic-task table (spec.md §5)
// and starts/stops it with the Fx lifecycle. Every pack shares one task
// table; the first configured pack's intervals set the cadence, since
// the pack topology and tunables are already shared across every pack.
func RegisterScheduler(lc fx.Lifecycle, co *Coordinator, cfg *config.Config, log *zap.Logger) {
	pc := cfg.Packs[0]

	s := scheduler.New([]scheduler.Task{
		{Name: "monitor", Interval: pc.MonitorInterval, Fn: co.MonitorTick},
		{Name: "contactor", Interval: pc.ContactorInterval, Fn: co.ContactorTick},
		{Name: "ems_command", Interval: pc.StateInterval, Fn: co.CommandTick},
		{Name: "status", Interval: pc.StateInterval, Fn: co.StatusTick},
		{Name: "persist", Interval: pc.PersistInterval, Fn: co.PersistTick},
	}, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}
