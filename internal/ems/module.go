package ems

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"marinebms/internal/config"
	"marinebms/internal/controller"
	"marinebms/pkg/hal"
)

// Module provides the EMS-facing Modbus TCP channel to the Fx
// application.
var Module = fx.Module("ems",
	fx.Provide(ProvideChannel),
	fx.Provide(provideEMSChannel),
	fx.Provide(ProvideServer),
)

// ProvideChannel builds the register-backed channel with one block per
// configured pack, in config order.
func ProvideChannel(cfg *config.Config, log *zap.Logger) *Channel {
	packIDs := make([]string, len(cfg.Packs))
	for i, p := range cfg.Packs {
		packIDs[i] = controller.PackID(p.ID)
	}
	return NewChannel(packIDs, log)
}

// provideEMSChannel exposes the concrete Channel as hal.EMSChannel so
// the controller/scheduler wiring depends only on the interface.
func provideEMSChannel(ch *Channel) hal.EMSChannel {
	return ch
}

// ProvideServer starts the Modbus TCP server on the Fx lifecycle.
func ProvideServer(lc fx.Lifecycle, cfg *config.Config, channel *Channel, log *zap.Logger) (*Server, error) {
	srv, err := NewServer(cfg.API.Host, cfg.API.ModbusPort, channel, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop()
			return nil
		},
	})
	return srv, nil
}
