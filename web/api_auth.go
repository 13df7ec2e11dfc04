package web

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"tradebook/logger"
)

// loginRequest 登录请求
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// login 登录
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的登录请求")
		return
	}

	if !s.verifyCredentials(req.Username, req.Password) {
		logger.Warn("⚠️ 登录失败: 用户名=%s IP=%s", req.Username, c.ClientIP())
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	session, err := s.sessions.CreateSession(req.Username, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "创建会话失败")
		return
	}

	s.sessions.SetSessionCookie(c.Writer, session.SessionID)
	logger.Info("✅ 用户 %s 登录成功 (IP=%s)", req.Username, c.ClientIP())

	respondSuccess(c, gin.H{
		"username":   session.Username,
		"expires_at": session.ExpiresAt,
	})
}

// verifyCredentials 校验用户名与密码
// 配置了 password_hash 时按 bcrypt 校验，否则与明文密码做常数时间比较。
func (s *Server) verifyCredentials(username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Server.Username)) != 1 {
		return false
	}

	if s.cfg.Server.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.Server.PasswordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Server.Password)) == 1
}

// logout 登出
func (s *Server) logout(c *gin.Context) {
	if cookie, err := c.Request.Cookie("session_id"); err == nil {
		s.sessions.DeleteSession(cookie.Value)
	}
	s.sessions.ClearSessionCookie(c.Writer)
	respondSuccess(c, nil)
}

// authStatus 认证状态
func (s *Server) authStatus(c *gin.Context) {
	session, exists := s.sessions.GetSessionFromRequest(c.Request)
	if !exists {
		respondSuccess(c, gin.H{"logged_in": false})
		return
	}
	respondSuccess(c, gin.H{
		"logged_in":  true,
		"username":   session.Username,
		"expires_at": session.ExpiresAt,
	})
}
