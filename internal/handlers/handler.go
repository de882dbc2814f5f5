package handlers

import (
	"pellet_dispenser/internal/logger"
	"pellet_dispenser/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: logger.OrNop(log)}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	// State stream on the same port.
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerDispenserRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerDispenserRoutes(api *gin.RouterGroup) {
	dispenser := api.Group("/dispenser")
	{
		// Body example: {"port":"/dev/ttyUSB0"}; empty uses the configured port.
		dispenser.POST("/connect", h.connectDevice)
		dispenser.POST("/disconnect", h.disconnectDevice)
		// Body example: {"command":"pour","value":12.5}
		dispenser.POST("/command", h.sendCommand)
		dispenser.POST("/refill", h.refillHopper)
		dispenser.GET("/state", h.getState)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
