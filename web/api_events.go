package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradebook/database"
)

// listEvents 查询事件记录
func (s *Server) listEvents(c *gin.Context) {
	filter := &database.EventFilter{
		Type:     c.Query("type"),
		Severity: c.Query("severity"),
	}
	filter.AccountID, _ = strconv.ParseInt(c.Query("account_id"), 10, 64)
	filter.InstrumentID, _ = strconv.ParseInt(c.Query("instrument_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	if v := c.Query("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = &t
		}
	}
	if v := c.Query("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndTime = &t
		}
	}

	events, err := s.db.GetEvents(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(c, events)
}
