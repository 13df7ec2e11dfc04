package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// listPositions 查询持仓汇总列表
func (s *Server) listPositions(c *gin.Context) {
	accountID, _ := strconv.ParseInt(c.Query("account_id"), 10, 64)

	positions, err := s.journal.ListPositions(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(c, positions)
}

// getPosition 查询单个组合的持仓汇总
func (s *Server) getPosition(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("account_id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的账户ID")
		return
	}
	instrumentID, err := strconv.ParseInt(c.Param("instrument_id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的标的ID")
		return
	}

	pos, err := s.journal.GetPosition(c.Request.Context(), accountID, instrumentID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if pos == nil {
		respondError(c, http.StatusNotFound, "该组合没有持仓")
		return
	}

	respondSuccess(c, pos)
}

// recalculateRequest 重算请求
type recalculateRequest struct {
	AccountID    int64 `json:"account_id" binding:"required"`
	InstrumentID int64 `json:"instrument_id" binding:"required"`
}

// recalculatePair 重算单个组合
func (s *Server) recalculatePair(c *gin.Context) {
	var req recalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的重算请求")
		return
	}

	result, err := s.journal.Recalculate(c.Request.Context(), req.AccountID, req.InstrumentID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(c, gin.H{
		"transactions": result.Transactions,
		"sells":        result.Sells,
		"shortfalls":   len(result.Shortfalls),
	})
}

// migrateAll 批量重算全部组合
func (s *Server) migrateAll(c *gin.Context) {
	result, err := s.journal.MigrateAll(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(c, result)
}
