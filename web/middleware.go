package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"tradebook/logger"
)

// authMiddleware 认证中间件
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, exists := s.sessions.GetSessionFromRequest(c.Request)
		if !exists || session == nil {
			respondError(c, http.StatusUnauthorized, "未登录或会话已过期")
			c.Abort()
			return
		}

		c.Set("session", session)
		c.Set("username", session.Username)
		c.Next()
	}
}

// rateLimitMiddleware 全局限流中间件
func rateLimitMiddleware(perSecond int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(perSecond), perSecond*2)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			respondError(c, http.StatusTooManyRequests, "请求过于频繁，请稍后重试")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GinLoggerMiddleware 自定义 Gin 日志中间件
// logAll=true 时全量输出；否则仅记录错误请求 (状态码 >= 400)
func GinLoggerMiddleware(logAll bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		statusCode := c.Writer.Status()
		if !logAll && statusCode < 400 {
			return
		}

		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		if raw != "" {
			path = path + "?" + raw
		}

		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		var logMessage string
		if errorMessage != "" {
			logMessage = fmt.Sprintf("[GIN] %d | %v | %s | %-7s %s | Error: %s",
				statusCode, latency, clientIP, method, path, errorMessage)
		} else {
			logMessage = fmt.Sprintf("[GIN] %d | %v | %s | %-7s %s",
				statusCode, latency, clientIP, method, path)
		}

		logger.WriteWebLog(logMessage)
	}
}
