package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marinebms/internal/config"
)

// NewLogger creates and initializes a zap logger from the application's
// logger config (level + json/console format).
func NewLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	baseCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)

	// Sample after the first 100 entries per second, then keep 1 of every 100.
	// The controller's protection/monitor loops run at 10ms and would
	// otherwise flood the sink under a sustained warning condition.
	samplingCore := zapcore.NewSamplerWithOptions(
		baseCore,
		time.Second,
		100,
		100,
	)

	zapLogger := zap.New(samplingCore, zap.ErrorOutput(zapcore.AddSync(os.Stderr)))

	zapLogger.Info("logger initialized",
		zap.String("level", cfg.Level),
		zap.String("format", cfg.Format))

	return zapLogger, nil
}
