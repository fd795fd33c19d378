package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"machine_monitor/internal/service"
)

const (
	statusStarted = "started"
	statusStopped = "stopped"
	statusReset   = "reset"

	statusAdapterReset = "focas_adapter_reset"

	errStartMonitor = "failed to start monitoring"
	errStopMonitor  = "failed to stop monitoring"
	errResetMonitor = "failed to reset monitoring"
	errNoFocas      = "no FOCAS adapter configured"
	errResetFocas   = "FOCAS adapter reset failed"
)

// respondWithStatus answers with the monitor state after an operation.
func (h *Handler) respondWithStatus(c *gin.Context, status string) {
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"running": h.services.Monitor.Running(),
	})
}

// @Summary      Monitoring status
// @Tags         monitor
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "running"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/monitor/status [get]
// @Security     BearerAuth
func (h *Handler) monitorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.services.Monitor.Running()})
}

// @Summary      Start monitoring
// @Description  Loads the registry and starts the polling loop. A no-op when already running.
// @Tags         monitor
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, running"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/monitor/start [post]
// @Security     BearerAuth
func (h *Handler) startMonitor(c *gin.Context) {
	h.runMonitorOp(c, h.services.Monitor.Initialize, statusStarted, errStartMonitor, "monitor_start_failed")
}

// @Summary      Stop monitoring
// @Description  Stops the polling loop and closes every open interval.
// @Tags         monitor
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, running"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/monitor/stop [post]
// @Security     BearerAuth
func (h *Handler) stopMonitor(c *gin.Context) {
	h.runMonitorOp(c, h.services.Monitor.Stop, statusStopped, errStopMonitor, "monitor_stop_failed")
}

// @Summary      Reset monitoring
// @Description  Stops monitoring and forgets the loaded registry.
// @Tags         monitor
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, running"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/monitor/reset [post]
// @Security     BearerAuth
func (h *Handler) resetMonitor(c *gin.Context) {
	h.runMonitorOp(c, h.services.Monitor.Reset, statusReset, errResetMonitor, "monitor_reset_failed")
}

// @Summary      Reset the FOCAS adapter
// @Description  Asks the FOCAS adapter service to drop and reopen its controller sessions and relays its reply.
// @Tags         monitor
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, adapter"
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/monitor/focas/reset [post]
// @Security     BearerAuth
func (h *Handler) resetFocasAdapter(c *gin.Context) {
	reply, err := h.services.Monitor.ResetFocasAdapter(c.Request.Context())
	switch {
	case errors.Is(err, service.ErrAdapterResetUnsupported):
		h.logAndJSONError(c, http.StatusNotFound, errNoFocas, "focas_reset_unavailable", err)
		return
	case err != nil:
		h.logAndJSONError(c, http.StatusBadGateway, errResetFocas, "focas_reset_failed", err)
		return
	}
	h.log.Infow("focas_adapter_reset", "operator_id", operatorID(c))
	c.JSON(http.StatusOK, gin.H{"status": statusAdapterReset, "adapter": reply})
}

func (h *Handler) runMonitorOp(c *gin.Context, op func(context.Context) error, status, userMsg, logKey string) {
	if err := op(c.Request.Context()); err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, userMsg, logKey, err)
		return
	}
	h.log.Infow("monitor_"+status, "operator_id", operatorID(c))
	h.respondWithStatus(c, status)
}
