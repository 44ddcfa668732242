package telemetry

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"marinebms/internal/config"
)

// Module provides the InfluxDB telemetry sink to the Fx application.
var Module = fx.Module("telemetry",
	fx.Provide(ProvideSink),
)

// ProvideSink connects the telemetry sink and registers its shutdown
// hook.
func ProvideSink(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*Sink, error) {
	sink, err := NewSink(cfg.InfluxDB, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return sink.Close()
		},
	})
	return sink, nil
}
