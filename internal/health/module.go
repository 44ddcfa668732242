package health

import (
	"fmt"

	"go.uber.org/fx"

	"marinebms/internal/controller"
	"marinebms/pkg/hal"
)

// Module provides health check functionality to the Fx application.
var Module = fx.Module("health",
	fx.Provide(ProvideService),
)

// Params collects the dependencies ProvideService needs to register one
// checker per pack plus the fault log store. Controllers arrive as an fx
// group so the controller module can supply one per configured pack
// without health needing to know how many packs exist.
type Params struct {
	fx.In

	Controllers []*controller.Controller `group:"pack_controllers"`
	FaultLog    hal.Store
}

// ProvideService builds a Service with one PackDriverChecker per pack and
// a DatabaseChecker for the fault log store.
func ProvideService(p Params) *Service {
	service := NewService()

	for _, c := range p.Controllers {
		if driver, ok := c.Driver.(interface{ IsConnected() bool }); ok {
			service.RegisterChecker(NewPackDriverChecker(fmt.Sprintf("pack_%s", c.ID), driver))
		}
	}

	if db, ok := p.FaultLog.(interface{ HealthCheck() error }); ok {
		service.RegisterChecker(NewDatabaseChecker("fault_log", db))
	}

	return service
}
