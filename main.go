package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradebook/config"
	"tradebook/crypto"
	"tradebook/database"
	"tradebook/event"
	"tradebook/journal"
	"tradebook/lock"
	"tradebook/logger"
	"tradebook/metrics"
	"tradebook/storage"
	"tradebook/utils"
	"tradebook/web"
)

// Version 版本号
var Version = "1.2.0"

func main() {
	// 检查版本参数
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Printf("Tradebook Trading Journal\n")
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	// 解析命令行参数
	configPath := "config.yaml"
	debugMode := false
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-debug", "--debug":
			debugMode = true
		case "-config", "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		}
	}

	// 1. 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("[FATAL] 加载配置失败: %v", err)
	}

	// 2. 初始化时区与日志
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		log.Printf("[WARN] 加载时区 %s 失败: %v，使用 UTC", cfg.System.Timezone, err)
	}
	logger.SetLocation(utils.GlobalLocation)

	if debugMode {
		logger.SetLevel(logger.DEBUG)
	} else {
		logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	}

	// 3. 初始化日志存储（SQLite 日志库，可查询、可实时推送）
	var logStorage *storage.LogStorage
	if cfg.LogStorage.Enabled {
		logStorage, err = storage.NewLogStorage(cfg.LogStorage.Path)
		if err != nil {
			log.Printf("[WARN] 初始化日志存储失败: %v，将继续运行但不保存日志到数据库", err)
			logStorage = nil
		} else {
			ls := logStorage
			logger.InitLogStorage(func(level, message string) {
				ls.WriteLog(level, message)
			})
			if cfg.System.LogRetentionDays > 0 {
				go logCleanupTask(ls, cfg.System.LogRetentionDays)
			}
		}
	}

	logger.Info("🚀 Tradebook v%s 启动中...", Version)

	// 4. 初始化数据库
	db, err := database.NewDatabase(&database.Config{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		logger.Fatal("❌ 初始化数据库失败: %v", err)
	}
	defer db.Close()

	// 5. 初始化事件总线与事件中心
	eventBus := event.NewEventBus(cfg.Events.BufferSize)
	eventCenter := event.NewEventCenter(db, eventBus, &event.EventCenterConfig{
		Enabled:         cfg.Events.Enabled,
		CleanupInterval: cfg.Events.CleanupInterval,
		Retention: event.RetentionConfig{
			CriticalDays:     cfg.Events.Retention.CriticalDays,
			WarningDays:      cfg.Events.Retention.WarningDays,
			InfoDays:         cfg.Events.Retention.InfoDays,
			CriticalMaxCount: cfg.Events.Retention.CriticalMaxCount,
			WarningMaxCount:  cfg.Events.Retention.WarningMaxCount,
			InfoMaxCount:     cfg.Events.Retention.InfoMaxCount,
		},
	})
	if err := eventCenter.Start(); err != nil {
		logger.Fatal("❌ 启动事件中心失败: %v", err)
	}
	defer eventCenter.Stop()

	// 6. 初始化组合锁（单实例进程内锁 / 多实例 Redis 锁）
	locker, err := lock.NewDistributedLock(&lock.Config{
		Enabled:    cfg.DistributedLock.Enabled,
		Type:       cfg.DistributedLock.Type,
		Prefix:     cfg.DistributedLock.Prefix,
		DefaultTTL: time.Duration(cfg.DistributedLock.DefaultTTL) * time.Second,
		Redis: lock.RedisConfig{
			Addr:     cfg.DistributedLock.Redis.Addr,
			Password: cfg.DistributedLock.Redis.Password,
			DB:       cfg.DistributedLock.Redis.DB,
			PoolSize: cfg.DistributedLock.Redis.PoolSize,
		},
	})
	if err != nil {
		logger.Fatal("❌ 初始化组合锁失败: %v", err)
	}
	defer locker.Close()

	// 7. 初始化备注字段加密
	var cipher *crypto.FieldCipher
	if cfg.Encryption.Enabled {
		cipher, err = crypto.NewFieldCipher(cfg.Encryption.Passphrase, cfg.Encryption.Salt)
		if err != nil {
			logger.Fatal("❌ 初始化字段加密失败: %v", err)
		}
		logger.Info("🔐 备注字段加密已启用")
	}

	// 8. 组装账本服务
	svc := journal.NewService(db, locker, eventBus, cipher, journal.Config{
		LockTTL:            time.Duration(cfg.Journal.LockTTL) * time.Second,
		MigrateParallelism: cfg.Journal.MigrateParallelism,
	})
	jnl := journal.WithInstrumentation(svc)

	// 9. 启动系统指标采集
	var collector *metrics.SystemMetricsCollector
	if cfg.Metrics.Enabled {
		collector = metrics.NewSystemMetricsCollector(time.Duration(cfg.Metrics.CollectInterval) * time.Second)
		collector.Start()
		defer collector.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 10. 启动 Web 服务器
	if cfg.Server.Enabled {
		if err := logger.InitWebLogger(); err != nil {
			logger.Warn("⚠️ 初始化 Web 日志失败: %v", err)
		}
		webServer := web.NewServer(cfg, jnl, db, logStorage)
		svc.SetPositionChangedHook(webServer.BroadcastPositionChanged)
		if err := webServer.Start(ctx); err != nil {
			logger.Fatal("❌ 启动 Web 服务器失败: %v", err)
		}
	}

	// 11. 启动配置热更新监控
	watcher, err := config.NewConfigWatcher(configPath, func(newCfg *config.Config) {
		logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))
		if err := utils.SetLocation(newCfg.System.Timezone); err == nil {
			logger.SetLocation(utils.GlobalLocation)
		}
		logger.Info("🔄 配置已热更新: log_level=%s timezone=%s", newCfg.System.LogLevel, newCfg.System.Timezone)
	})
	if err != nil {
		logger.Warn("⚠️ 创建配置监控器失败: %v", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监控器失败: %v", err)
	} else {
		defer watcher.Stop()
		go func() {
			for err := range watcher.GetErrorChan() {
				logger.Warn("⚠️ 配置热更新错误: %v", err)
			}
		}()
	}

	eventCenter.PublishEvent(event.EventTypeSystemStart, map[string]interface{}{
		"version": Version,
	})
	logger.Info("✅ Tradebook 已启动 (数据库: %s)", cfg.Database.Type)

	// 12. 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("🛑 收到信号 %v，开始优雅关闭...", sig)
	eventCenter.PublishEvent(event.EventTypeSystemStop, map[string]interface{}{
		"signal": sig.String(),
	})

	cancel()
	// 留出时间让事件落库与在途请求完成
	time.Sleep(500 * time.Millisecond)

	if logStorage != nil {
		logStorage.Close()
	}
	logger.Close()
}

// logCleanupTask 定期清理日志库
func logCleanupTask(ls *storage.LogStorage, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		logger.Info("🧹 开始定期清理日志...")
		if err := ls.CleanOldLogs(retentionDays); err != nil {
			logger.Warn("⚠️ 清理日志失败: %v", err)
			continue
		}
		if err := ls.Vacuum(); err != nil {
			logger.Warn("⚠️ 日志数据库优化失败: %v", err)
		} else {
			logger.Info("✅ 日志清理完成（保留 %d 天）", retentionDays)
		}
	}
}
