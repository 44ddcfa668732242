package main

import (
	"go.uber.org/fx"

	"marinebms/internal/api"
	"marinebms/internal/app"
	"marinebms/internal/config"
	"marinebms/internal/controller"
	"marinebms/internal/ems"
	"marinebms/internal/faultlog"
	"marinebms/internal/health"
	"marinebms/internal/logger"
	"marinebms/internal/telemetry"
	"marinebms/pkg/hal"
)

func main() {
	fxapp := fx.New(
		// Configuration
		config.Module,

		// Logging
		logger.Module,
		logger.FxLogger,

		// Hardware abstraction
		hal.Module,

		// Persistence and telemetry
		faultlog.Module,
		telemetry.Module,

		// Per-pack controllers
		controller.Module,

		// EMS-facing Modbus server
		ems.Module,

		// Health monitoring
		health.Module,

		// HTTP status/control API
		api.Module,

		// Array coordinator + scheduler
		app.Module,
	)

	fxapp.Run()
}
