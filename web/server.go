package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradebook/config"
	"tradebook/database"
	"tradebook/journal"
	"tradebook/logger"
	"tradebook/storage"
)

// Server Web服务器
type Server struct {
	cfg        *config.Config
	journal    journal.Journal
	db         database.Database
	logStorage *storage.LogStorage // 可选
	sessions   *SessionManager
	hub        *WebSocketHub
	server     *http.Server
}

// NewServer 创建Web服务器
func NewServer(cfg *config.Config, jnl journal.Journal, db database.Database, logStorage *storage.LogStorage) *Server {
	if !cfg.Server.Enabled {
		return nil
	}

	if logger.GetLevel() == logger.DEBUG {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        cfg,
		journal:    jnl,
		db:         db,
		logStorage: logStorage,
		sessions:   NewSessionManager(time.Duration(cfg.Server.SessionTTL) * time.Minute),
		hub:        NewWebSocketHub(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(GinLoggerMiddleware(logger.GetLevel() == logger.DEBUG))
	if cfg.Server.RateLimit > 0 {
		r.Use(rateLimitMiddleware(cfg.Server.RateLimit))
	}

	s.setupRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(r *gin.Engine) {
	// Prometheus metrics 端点（不需要认证，供 Prometheus 抓取）
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// pprof 性能分析端点（调试用，生产环境建议通过防火墙限制访问）
	pprofGroup := r.Group("/debug/pprof")
	{
		pprofGroup.GET("/", gin.WrapF(pprof.Index))
		pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
		pprofGroup.GET("/trace", gin.WrapF(pprof.Trace))
		pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
		pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
	}

	api := r.Group("/api")
	{
		// 认证路由（不需要认证）
		auth := api.Group("/auth")
		{
			auth.POST("/login", s.login)
			auth.POST("/logout", s.logout)
			auth.GET("/status", s.authStatus)
		}

		// 需要认证的业务API
		protected := api.Group("")
		protected.Use(s.authMiddleware())
		{
			// 流水API
			protected.POST("/transactions", s.createTransaction)
			protected.GET("/transactions", s.listTransactions)
			protected.GET("/transactions/:id", s.getTransaction)
			protected.PUT("/transactions/:id", s.updateTransaction)
			protected.DELETE("/transactions/:id", s.deleteTransaction)

			// 持仓API
			protected.GET("/positions", s.listPositions)
			protected.GET("/positions/:account_id/:instrument_id", s.getPosition)

			// 重算API
			protected.POST("/recalculate", s.recalculatePair)
			protected.POST("/recalculate/all", s.migrateAll)

			// 事件API
			protected.GET("/events", s.listEvents)

			// 日志API
			protected.GET("/logs", s.getLogs)
			protected.POST("/logs/clean", s.cleanLogs)
			protected.POST("/logs/vacuum", s.vacuumLogs)

			// WebSocket（持仓变化与日志实时推送）
			protected.GET("/ws", s.handleWebSocket)
		}
	}
}

// Start 启动Web服务器
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}

	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop 停止Web服务器
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
	} else {
		logger.Info("✅ Web服务器已关闭")
	}
}

// BroadcastPositionChanged 广播持仓变化通知
func (s *Server) BroadcastPositionChanged(accountID, instrumentID int64) {
	if s == nil {
		return
	}
	s.hub.BroadcastJSON(map[string]interface{}{
		"type": "position_changed",
		"data": map[string]interface{}{
			"account_id":    accountID,
			"instrument_id": instrumentID,
		},
	})
}
