package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRoutes configures all API routes.
func SetupRoutes(handlers *Handlers, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware())
	router.Use(ErrorHandlerMiddleware(logger))
	router.Use(gin.Recovery())

	router.GET("/health", handlers.HealthCheck)

	api := router.Group("/api/v1")
	{
		api.GET("/status", handlers.GetStatus)

		packGroup := api.Group("/packs")
		{
			packGroup.GET("/:id", handlers.GetPack)
			packGroup.GET("/:id/faults", handlers.GetPackFaults)
			packGroup.POST("/:id/command", handlers.PostPackCommand)
			packGroup.POST("/:id/reset-faults", handlers.PostResetFaults)
			packGroup.POST("/:id/ack-hardware-fault", handlers.PostAckHardwareFault)
			packGroup.POST("/:id/ack-weld", handlers.PostAckWeld)
		}
	}

	return router
}
