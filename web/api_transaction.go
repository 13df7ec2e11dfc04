package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradebook/database"
)

// transactionRequest 流水写入请求
type transactionRequest struct {
	AccountID    int64           `json:"account_id" binding:"required"`
	InstrumentID int64           `json:"instrument_id" binding:"required"`
	Direction    string          `json:"direction" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity" binding:"required"`
	Price        decimal.Decimal `json:"price" binding:"required"`
	Commission   decimal.Decimal `json:"commission"`
	ExecutedAt   time.Time       `json:"executed_at" binding:"required"`
	Note         string          `json:"note"`
}

// toModel 转换为数据模型
func (r *transactionRequest) toModel() *database.Transaction {
	return &database.Transaction{
		AccountID:    r.AccountID,
		InstrumentID: r.InstrumentID,
		Direction:    database.Direction(r.Direction),
		Quantity:     r.Quantity,
		Price:        r.Price,
		Commission:   r.Commission,
		ExecutedAt:   r.ExecutedAt.UTC(),
		Note:         r.Note,
	}
}

// createTransaction 创建流水
func (s *Server) createTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的流水请求: "+err.Error())
		return
	}

	tx := req.toModel()
	if err := s.journal.CreateTransaction(c.Request.Context(), tx); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	respondSuccess(c, tx)
}

// getTransaction 查询单笔流水
func (s *Server) getTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的流水ID")
		return
	}

	tx, err := s.journal.GetTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}

	respondSuccess(c, tx)
}

// listTransactions 查询流水列表
func (s *Server) listTransactions(c *gin.Context) {
	filter := &database.TransactionFilter{
		Direction: database.Direction(c.Query("direction")),
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

	txs, err := s.journal.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(c, txs)
}

// updateTransaction 编辑流水
func (s *Server) updateTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的流水ID")
		return
	}

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的流水请求: "+err.Error())
		return
	}

	tx := req.toModel()
	tx.ID = id
	if err := s.journal.UpdateTransaction(c.Request.Context(), tx); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	respondSuccess(c, tx)
}

// deleteTransaction 删除流水
func (s *Server) deleteTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的流水ID")
		return
	}

	if err := s.journal.DeleteTransaction(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	respondSuccess(c, nil)
}
