package web

import (
	"github.com/gin-gonic/gin"
)

// respondSuccess 成功响应
func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(200, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError 错误响应
func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}
