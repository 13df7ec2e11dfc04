package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 交易日志系统配置
type Config struct {
	// 系统配置
	System struct {
		LogLevel         string `yaml:"log_level"`          // 日志级别: DEBUG, INFO, WARN, ERROR
		Timezone         string `yaml:"timezone"`           // 展示时区，如 "Asia/Shanghai"，默认 UTC
		LogRetentionDays int    `yaml:"log_retention_days"` // 日志保留天数（默认30天，0表示不清理）
	} `yaml:"system"`

	// Web 服务配置
	Server struct {
		Enabled      bool   `yaml:"enabled"`
		Host         string `yaml:"host"` // 监听地址，默认 0.0.0.0
		Port         int    `yaml:"port"` // 监听端口，默认 28800
		Username     string `yaml:"username"`
		Password     string `yaml:"password"`      // 明文密码（与 password_hash 二选一）
		PasswordHash string `yaml:"password_hash"` // bcrypt 哈希，优先于明文密码
		SessionTTL   int    `yaml:"session_ttl"`   // 会话有效期（分钟，默认720）
		RateLimit    int    `yaml:"rate_limit"`    // 每秒请求数限制（默认50，0表示不限制）
	} `yaml:"server"`

	// 数据库配置（支持 SQLite、PostgreSQL、MySQL）
	Database struct {
		Type            string `yaml:"type"`              // 数据库类型: sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 数据源名称，默认 ./data/tradebook.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 最大打开连接数，默认100
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 最大空闲连接数，默认10
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 连接最大生命周期（秒），默认3600
		LogLevel        string `yaml:"log_level"`         // 日志级别: silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 日志存储配置（独立的 SQLite 日志库）
	LogStorage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"` // 日志库路径，默认 ./data/tradebook-logs.db
	} `yaml:"log_storage"`

	// 分布式锁配置（多实例部署时启用；单实例默认进程内锁）
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`
		Type       string `yaml:"type"`        // 锁类型: redis，默认 redis
		Prefix     string `yaml:"prefix"`      // 锁键前缀，默认 "tradebook:lock:"
		DefaultTTL int    `yaml:"default_ttl"` // 锁过期时间（秒），默认10

		Redis struct {
			Addr     string `yaml:"addr"`      // Redis 地址，默认 localhost:6379
			Password string `yaml:"password"`  // Redis 密码，默认为空
			DB       int    `yaml:"db"`        // Redis 数据库，默认0
			PoolSize int    `yaml:"pool_size"` // 连接池大小，默认10
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	// 备注字段加密配置
	Encryption struct {
		Enabled    bool   `yaml:"enabled"`
		Passphrase string `yaml:"passphrase"` // 派生密钥的口令
		Salt       string `yaml:"salt"`       // 派生密钥的盐
	} `yaml:"encryption"`

	// 事件中心配置
	Events struct {
		Enabled         bool `yaml:"enabled"`
		BufferSize      int  `yaml:"buffer_size"`      // 事件队列缓冲区，默认1000
		CleanupInterval int  `yaml:"cleanup_interval"` // 清理间隔（小时，默认24）

		Retention struct {
			CriticalDays     int `yaml:"critical_days"`      // critical 事件保留天数，默认90
			WarningDays      int `yaml:"warning_days"`       // warning 事件保留天数，默认30
			InfoDays         int `yaml:"info_days"`          // info 事件保留天数，默认7
			CriticalMaxCount int `yaml:"critical_max_count"` // critical 事件最大条数，默认10000
			WarningMaxCount  int `yaml:"warning_max_count"`  // warning 事件最大条数，默认5000
			InfoMaxCount     int `yaml:"info_max_count"`     // info 事件最大条数，默认2000
		} `yaml:"retention"`
	} `yaml:"events"`

	// 指标配置
	Metrics struct {
		Enabled         bool `yaml:"enabled"`
		CollectInterval int  `yaml:"collect_interval"` // 系统指标采集间隔（秒，默认60）
	} `yaml:"metrics"`

	// 账本配置
	Journal struct {
		LockTTL            int `yaml:"lock_ttl"`            // 组合锁过期时间（秒，默认10）
		MigrateParallelism int `yaml:"migrate_parallelism"` // 批量重算并行度，默认4
	} `yaml:"journal"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置（用于测试）
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %v", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %v", err)
	}

	return nil
}

// applyDefaults 填充缺省值
func (c *Config) applyDefaults() {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	if c.System.LogRetentionDays == 0 {
		c.System.LogRetentionDays = 30
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 28800
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = 720
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 50
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "./data/tradebook.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	if c.LogStorage.Path == "" {
		c.LogStorage.Path = "./data/tradebook-logs.db"
	}

	if c.DistributedLock.Type == "" {
		c.DistributedLock.Type = "redis"
	}
	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "tradebook:lock:"
	}
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 10
	}
	if c.DistributedLock.Redis.Addr == "" {
		c.DistributedLock.Redis.Addr = "localhost:6379"
	}
	if c.DistributedLock.Redis.PoolSize <= 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 1000
	}
	if c.Events.CleanupInterval <= 0 {
		c.Events.CleanupInterval = 24
	}
	if c.Events.Retention.CriticalDays <= 0 {
		c.Events.Retention.CriticalDays = 90
	}
	if c.Events.Retention.WarningDays <= 0 {
		c.Events.Retention.WarningDays = 30
	}
	if c.Events.Retention.InfoDays <= 0 {
		c.Events.Retention.InfoDays = 7
	}
	if c.Events.Retention.CriticalMaxCount <= 0 {
		c.Events.Retention.CriticalMaxCount = 10000
	}
	if c.Events.Retention.WarningMaxCount <= 0 {
		c.Events.Retention.WarningMaxCount = 5000
	}
	if c.Events.Retention.InfoMaxCount <= 0 {
		c.Events.Retention.InfoMaxCount = 2000
	}

	if c.Metrics.CollectInterval <= 0 {
		c.Metrics.CollectInterval = 60
	}

	if c.Journal.LockTTL <= 0 {
		c.Journal.LockTTL = 10
	}
	if c.Journal.MigrateParallelism <= 0 {
		c.Journal.MigrateParallelism = 4
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("无效的 Web 服务端口: %d", c.Server.Port)
		}
		if c.Server.Username == "" {
			return fmt.Errorf("启用 Web 服务时必须配置 server.username")
		}
		if c.Server.Password == "" && c.Server.PasswordHash == "" {
			return fmt.Errorf("启用 Web 服务时必须配置 server.password 或 server.password_hash")
		}
	}

	if c.DistributedLock.Enabled {
		if c.DistributedLock.Type != "redis" {
			return fmt.Errorf("不支持的分布式锁类型: %s", c.DistributedLock.Type)
		}
		if c.DistributedLock.Redis.Addr == "" {
			return fmt.Errorf("启用 Redis 分布式锁时必须配置 redis.addr")
		}
	}

	if c.Encryption.Enabled {
		if c.Encryption.Passphrase == "" {
			return fmt.Errorf("启用字段加密时必须配置 encryption.passphrase")
		}
		if c.Encryption.Salt == "" {
			return fmt.Errorf("启用字段加密时必须配置 encryption.salt")
		}
	}

	return nil
}
