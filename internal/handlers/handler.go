package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"machine_monitor/internal/logger"
	"machine_monitor/internal/service"
)

// Options carries optional collaborators of the HTTP layer.
type Options struct {
	// Hub streams live machine states over /ws. Without it /ws is not served.
	Hub *Hub
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Location is used to read query times without an offset. Defaults to UTC.
	Location *time.Location
}

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	hub      *Hub
	metrics  http.Handler
	loc      *time.Location
	now      func() time.Time
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger, opts Options) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Handler{
		services: services,
		log:      log,
		hub:      opts.Hub,
		metrics:  opts.Metrics,
		loc:      opts.Location,
		now:      time.Now,
	}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	if h.hub != nil {
		router.GET("/ws", h.wsConnect)
	}

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
	api := r.Group("/api/v1", h.requireOperator)
	{
		h.registerMachineRoutes(api)
		h.registerMonitorRoutes(api)
		h.registerReportRoutes(api)
	}
}

func (h *Handler) registerMachineRoutes(api *gin.RouterGroup) {
	machines := api.Group("/machines")
	{
		machines.GET("", h.listMachines)
		machines.GET("/states", h.machineStates)
		machines.GET("/:id", h.getMachine)
		machines.GET("/:id/intervals", h.listIntervals)
		machines.POST("/:id/close", h.closeMachineIntervals)
	}
	api.POST("/intervals/close-all", h.closeAllIntervals)
}

func (h *Handler) registerMonitorRoutes(api *gin.RouterGroup) {
	monitor := api.Group("/monitor")
	{
		monitor.GET("/status", h.monitorStatus)
		monitor.POST("/start", h.startMonitor)
		monitor.POST("/stop", h.stopMonitor)
		monitor.POST("/reset", h.resetMonitor)
		monitor.POST("/focas/reset", h.resetFocasAdapter)
	}
}

func (h *Handler) registerReportRoutes(api *gin.RouterGroup) {
	reports := api.Group("/reports")
	{
		reports.GET("/overview", h.overview)
	}
}

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	resp := gin.H{"status": statusOK}
	if h.services != nil && h.services.Monitor != nil {
		resp["monitoring"] = h.services.Monitor.Running()
	}
	c.JSON(http.StatusOK, resp)
}
