package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradebook/storage"
)

// getLogs 查询日志
func (s *Server) getLogs(c *gin.Context) {
	if s.logStorage == nil {
		respondError(c, http.StatusServiceUnavailable, "日志存储未启用")
		return
	}

	params := storage.LogQueryParams{
		Level:   c.Query("level"),
		Keyword: c.Query("keyword"),
	}
	params.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	params.Offset, _ = strconv.Atoi(c.Query("offset"))

	if v := c.Query("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = t
		}
	}
	if v := c.Query("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = t
		}
	}

	records, total, err := s.logStorage.GetLogs(params)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(c, gin.H{
		"logs":  records,
		"total": total,
	})
}

// cleanLogs 清理旧日志
func (s *Server) cleanLogs(c *gin.Context) {
	if s.logStorage == nil {
		respondError(c, http.StatusServiceUnavailable, "日志存储未启用")
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 {
		respondError(c, http.StatusBadRequest, "无效的保留天数")
		return
	}

	if err := s.logStorage.CleanOldLogs(days); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(c, nil)
}

// vacuumLogs 回收日志库空间
func (s *Server) vacuumLogs(c *gin.Context) {
	if s.logStorage == nil {
		respondError(c, http.StatusServiceUnavailable, "日志存储未启用")
		return
	}

	if err := s.logStorage.Vacuum(); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(c, nil)
}
