package controller

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"marinebms/internal/config"
	"marinebms/internal/contactor"
	"marinebms/internal/currentlimit"
	"marinebms/internal/measurement"
	"marinebms/internal/protection"
	"marinebms/internal/soc"
	"marinebms/pkg/hal"
	"marinebms/pkg/hal/modbusdriver"
)

// Module provides one Controller per configured pack, each wired to its
// own Modbus endpoint, feeding the "pack_controllers" fx group that
// internal/app, internal/api, and internal/health all consume.
var Module = fx.Module("controller",
	fx.Provide(
		fx.Annotate(ProvideControllers, fx.ResultTags(`group:"pack_controllers,flatten"`)),
	),
)

// PackID renders the configured pack's ID the same way across every
// cross-package string-keyed lookup (controller ID, array summary ID,
// EMS register-block index, HTTP route parameter).
func PackID(id int) string {
	return fmt.Sprintf("pack-%d", id)
}

// ProvideControllers builds one Controller per entry in cfg.Packs, in
// config order, sharing the topology and tunable table. Each pack's
// Modbus client is connected on fx start and disconnected on fx stop.
func ProvideControllers(lc fx.Lifecycle, cfg *config.Config, store hal.Store, clock hal.Clock, log *zap.Logger) []*Controller {
	topology := measurement.Topology{
		Modules:          cfg.Topology.Modules,
		CellsPerModule:   cfg.Topology.CellsPerModule,
		SensorsPerModule: cfg.Topology.SensorsPerModule,
	}

	protectionTunables := protectionTunablesFrom(cfg.Tunables)
	contactorTunables := contactorTunablesFrom(cfg.Tunables)
	limitEngine := currentlimit.NewEngine(currentlimit.CanonicalChargeTables(), currentlimit.CanonicalDischargeTables(), cfg.Tunables.NominalCapacityMAh)
	ocvTable := soc.CanonicalOCVTable()

	controllers := make([]*Controller, 0, len(cfg.Packs))
	for _, pc := range cfg.Packs {
		id := PackID(pc.ID)
		packLog := log.With(zap.String("pack_id", id))

		client := modbusdriver.NewClient(pc.Host, pc.Port, pc.SlaveID, pc.Timeout, packLog)
		driver := modbusdriver.NewCellMonitorDriver(client, topology.CellsPerModule, topology.SensorsPerModule, pc.ReconnectDelay)
		contactorIO := modbusdriver.NewContactorIO(client)

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Connect(ctx); err != nil {
					packLog.Warn("initial modbus connect failed, will retry on first poll error", zap.Error(err))
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Disconnect()
			},
		})

		c := New(Config{
			ID:                 id,
			Topology:           topology,
			ImbalanceWarnMV:    cfg.Tunables.ImbalanceWarnMV,
			NominalCapacityMAh: cfg.Tunables.NominalCapacityMAh,
			EMSWatchdogMS:      cfg.Tunables.EMSWatchdogMS,
			BalanceBandMV:      cfg.Tunables.ImbalanceWarnMV,
		}, driver, contactorIO, store, clock, limitEngine, protectionTunables, contactorTunables, ocvTable, packLog)

		controllers = append(controllers, c)
	}
	return controllers
}

func protectionTunablesFrom(t config.TunablesConfig) protection.Tunables {
	d := protection.DefaultTunables()
	d.SEOvFaultMV = t.SEOvFaultMV
	d.SEUvFaultMV = t.SEUvFaultMV
	d.SEOtFaultDeciC = t.SEOtFaultDeciC
	d.SEOvWarnMV = t.SEOvWarnMV
	d.SEOvClearMV = t.SEOvClearMV
	d.HWOvMV = t.HWOvMV
	d.HWUvMV = t.HWUvMV
	d.HWOtDeciC = t.HWOtDeciC
	d.SEFaultDelayMS = t.SEFaultDelayMS
	d.HWOvDelayMS = t.HWOvDelayMS
	d.HWOtDelayMS = t.HWOtDelayMS
	d.WarnDelayMS = t.WarnDelayMS
	d.WarnHoldMS = t.WarnHoldMS
	d.OCWarnDelayMS = t.OCWarnDelayMS
	d.FaultResetHoldMS = t.FaultResetHoldMS
	return d
}

func contactorTunablesFrom(t config.TunablesConfig) contactor.Tunables {
	d := contactor.DefaultTunables()
	d.VoltageMatchMVPerModule = t.VoltageMatchMVPerModule
	d.PrechargeTimeoutMS = t.PrechargeTimeoutMS
	d.WeldDetectMS = t.WeldDetectMS
	return d
}
