package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"machine_monitor/internal/models"
	"machine_monitor/internal/service"
)

const errOverview = "failed to build report"

// @Summary      Utilization overview
// @Description  KPIs, bucketed utilization and state distribution over [from, to). Both bounds default to today; a date-only 'to' includes that whole day. Times without an offset are read in the report timezone.
// @Tags         reports
// @Produce      json
// @Param        from   query  string  false  "Start of range"  example(2025-08-01)
// @Param        to     query  string  false  "End of range"    example(2025-08-31)
// @Param        view   query  string  false  "Series grouping"  Enums(all,group,machine)
// @Param        scale  query  string  false  "Bucket size; chosen from the range length when empty"  Enums(HOUR,DAY,WEEK,MONTH,QUARTER,YEAR)
// @Success      200    {object}  models.Overview
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Router       /api/v1/reports/overview [get]
// @Security     BearerAuth
func (h *Handler) overview(c *gin.Context) {
	start, end, err := service.ResolveRange(c.Query("from"), c.Query("to"), h.loc, h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ov, err := h.services.Overview(c.Request.Context(), service.OverviewParams{
		Start: start,
		End:   end,
		View:  models.ReportView(c.Query("view")),
		Scale: models.TimeScale(c.Query("scale")),
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, ov)
	case errors.Is(err, service.ErrInvalidRange), errors.Is(err, service.ErrInvalidView), errors.Is(err, service.ErrInvalidScale):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, errOverview, "report_overview_failed", err,
			"from", start, "to", end, "view", c.Query("view"))
	}
}
