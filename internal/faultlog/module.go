package faultlog

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"marinebms/internal/config"
	"marinebms/pkg/hal"
)

// Module provides the fault-log store to the Fx application.
var Module = fx.Module("faultlog",
	fx.Provide(ProvideStore),
)

// ProvideStore opens the PostgreSQL-backed fault log and registers its
// shutdown hook.
func ProvideStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (hal.Store, error) {
	store, err := NewStore(cfg.PostgreSQL, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}
