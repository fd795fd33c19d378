package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"machine_monitor/internal/models"
	"machine_monitor/internal/repository"
	"machine_monitor/internal/service"
)

const (
	statusOK = "ok"

	errListMachines   = "failed to load machines"
	errLoadMachine    = "failed to load machine"
	errMachineUnknown = "machine not found"
	errLoadStates     = "failed to load machine states"
	errLoadIntervals  = "failed to load intervals"
	errCloseIntervals = "failed to close intervals"
	errFromInvalid    = "invalid 'from' time; use RFC3339, 'YYYY-MM-DD HH:MM:SS' or YYYY-MM-DD"
	errToInvalid      = "invalid 'to' time; use RFC3339, 'YYYY-MM-DD HH:MM:SS' or YYYY-MM-DD"
	errStateInvalid   = "invalid 'state'; use ACTIVE, SETUP, IDLE, ALARM or OFFLINE"
)

// @Summary      List machines
// @Tags         machines
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, machines"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/machines [get]
// @Security     BearerAuth
func (h *Handler) listMachines(c *gin.Context) {
	machines, err := h.services.ListMachines(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errListMachines, "machines_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(machines),
		"machines": machines,
	})
}

// @Summary      Get machine
// @Tags         machines
// @Produce      json
// @Param        id   path      string  true  "Machine id"
// @Success      200  {object}  models.Machine
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/machines/{id} [get]
// @Security     BearerAuth
func (h *Handler) getMachine(c *gin.Context) {
	m, err := h.services.GetMachine(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, m)
	case errors.Is(err, repository.ErrMachineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": errMachineUnknown})
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, errLoadMachine, "machine_get_failed", err, "machine_id", c.Param("id"))
	}
}

// @Summary      Live machine states
// @Description  Last observed state of every monitored machine. Machines not polled yet are OFFLINE.
// @Tags         machines
// @Produce      json
// @Success      200  {array}   models.MachineStatus
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/machines/states [get]
// @Security     BearerAuth
func (h *Handler) machineStates(c *gin.Context) {
	states, err := h.services.Current(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errLoadStates, "machine_states_failed", err)
		return
	}
	c.JSON(http.StatusOK, states)
}

// @Summary      Interval history of a machine
// @Description  Intervals overlapping [from, to), clipped to the range. A date-only 'to' includes that whole day.
// @Tags         machines
// @Produce      json
// @Param        id     path   string  true   "Machine id"
// @Param        from   query  string  false  "Start of range"  example(2025-08-01)
// @Param        to     query  string  false  "End of range"    example(2025-08-31)
// @Param        state  query  string  false  "Only this state"  Enums(ACTIVE,SETUP,IDLE,ALARM,OFFLINE)
// @Success      200    {object}  map[string]interface{}  "count, intervals"
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Router       /api/v1/machines/{id}/intervals [get]
// @Security     BearerAuth
func (h *Handler) listIntervals(c *gin.Context) {
	q := service.IntervalQuery{MachineID: c.Param("id")}

	if qs := c.Query("from"); qs != "" {
		from, err := service.ParseQueryTime(qs, h.loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFromInvalid})
			return
		}
		q.From = from
	}
	if qs := c.Query("to"); qs != "" {
		to, err := service.ParseQueryTime(qs, h.loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errToInvalid})
			return
		}
		if service.IsDateOnly(qs) {
			to = to.AddDate(0, 0, 1)
		}
		q.To = to
	}
	if qs := strings.ToUpper(strings.TrimSpace(c.Query("state"))); qs != "" {
		st := models.MachineState(qs)
		if !st.Valid() || st == models.StateUnknown {
			c.JSON(http.StatusBadRequest, gin.H{"error": errStateInvalid})
			return
		}
		q.State = st
	}

	intervals, err := h.services.Intervals(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errLoadIntervals, "intervals_list_failed", err,
			"machine_id", q.MachineID, "from", q.From, "to", q.To, "state", q.State)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":     len(intervals),
		"intervals": intervals,
	})
}

// @Summary      Close the open interval of a machine
// @Tags         machines
// @Produce      json
// @Param        id   path      string  true  "Machine id"
// @Success      200  {object}  map[string]interface{}  "status, closed"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/machines/{id}/close [post]
// @Security     BearerAuth
func (h *Handler) closeMachineIntervals(c *gin.Context) {
	id := c.Param("id")
	n, err := h.services.CloseMachine(c.Request.Context(), id)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errCloseIntervals, "intervals_close_failed", err, "machine_id", id)
		return
	}
	h.log.Infow("intervals_closed_manually", "machine_id", id, "closed", n, "operator_id", operatorID(c))
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "closed": n})
}

// @Summary      Close every open interval
// @Tags         machines
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, machines, closed_at"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/intervals/close-all [post]
// @Security     BearerAuth
func (h *Handler) closeAllIntervals(c *gin.Context) {
	ids, err := h.services.History.CloseAll(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errCloseIntervals, "intervals_close_all_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    statusOK,
		"machines":  ids,
		"closed_at": h.now().UTC().Format(time.RFC3339),
	})
}
