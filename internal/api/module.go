package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"marinebms/internal/config"
	"marinebms/internal/controller"
	"marinebms/internal/health"
	"marinebms/pkg/hal"
)

// Module provides the HTTP status/control surface to the Fx application.
var Module = fx.Module("api",
	fx.Provide(
		ProvideHandlers,
		ProvideRouter,
		ProvideHTTPServer,
	),
	fx.Invoke(RegisterLifecycle),
)

// HandlersParams collects every controller contributed to the
// "pack_controllers" group so this package never needs to know the
// configured pack count in advance.
type HandlersParams struct {
	fx.In

	Controllers []*controller.Controller `group:"pack_controllers"`
	FaultLog    hal.Store
	EMSChannel  hal.EMSChannel
	Health      *health.Service
	Log         *zap.Logger
}

// ProvideHandlers creates the API handlers.
func ProvideHandlers(p HandlersParams) *Handlers {
	return NewHandlers(p.Controllers, p.FaultLog, p.EMSChannel, p.Health, p.Log)
}

// ProvideRouter creates and configures the Gin router.
func ProvideRouter(handlers *Handlers, log *zap.Logger) *gin.Engine {
	return SetupRoutes(handlers, log)
}

// ProvideHTTPServer creates the HTTP server.
func ProvideHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler: router,
	}
}

// RegisterLifecycle registers lifecycle hooks for the HTTP server.
func RegisterLifecycle(lc fx.Lifecycle, server *http.Server, log *zap.Logger) {
	log = log.With(zap.String("component", "api_server"))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting HTTP server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("HTTP server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}
