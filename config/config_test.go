package config

import (
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	data := []byte(`
database:
  type: sqlite
`)
	cfg, err := LoadConfigFromBytes(data)
	if err != nil {
		t.Fatalf("加载最小配置失败: %v", err)
	}

	if cfg.System.LogLevel != "INFO" {
		t.Errorf("默认日志级别错误: %s", cfg.System.LogLevel)
	}
	if cfg.System.Timezone != "UTC" {
		t.Errorf("默认时区错误: %s", cfg.System.Timezone)
	}
	if cfg.Database.DSN != "./data/tradebook.db" {
		t.Errorf("默认 DSN 错误: %s", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 100 {
		t.Errorf("默认连接池大小错误: %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Server.Port != 28800 {
		t.Errorf("默认端口错误: %d", cfg.Server.Port)
	}
	if cfg.Journal.LockTTL != 10 || cfg.Journal.MigrateParallelism != 4 {
		t.Errorf("默认账本配置错误: %+v", cfg.Journal)
	}
	if cfg.Events.BufferSize != 1000 || cfg.Events.Retention.WarningDays != 30 {
		t.Errorf("默认事件配置错误: %+v", cfg.Events)
	}
}

func TestLoadConfigFull(t *testing.T) {
	data := []byte(`
system:
  log_level: DEBUG
  timezone: Asia/Shanghai
  log_retention_days: 7
server:
  enabled: true
  port: 19000
  username: admin
  password: secret
  rate_limit: 20
database:
  type: postgres
  dsn: "host=localhost user=tradebook dbname=tradebook"
distributed_lock:
  enabled: true
  type: redis
  redis:
    addr: "redis:6379"
encryption:
  enabled: true
  passphrase: "p"
  salt: "s"
journal:
  lock_ttl: 30
  migrate_parallelism: 8
`)
	cfg, err := LoadConfigFromBytes(data)
	if err != nil {
		t.Fatalf("加载完整配置失败: %v", err)
	}

	if cfg.System.LogLevel != "DEBUG" || cfg.System.Timezone != "Asia/Shanghai" {
		t.Errorf("系统配置错误: %+v", cfg.System)
	}
	if cfg.Server.Port != 19000 || cfg.Server.RateLimit != 20 {
		t.Errorf("服务配置错误: %+v", cfg.Server)
	}
	if cfg.Database.Type != "postgres" {
		t.Errorf("数据库类型错误: %s", cfg.Database.Type)
	}
	if !cfg.DistributedLock.Enabled || cfg.DistributedLock.Redis.Addr != "redis:6379" {
		t.Errorf("分布式锁配置错误: %+v", cfg.DistributedLock)
	}
	if cfg.Journal.LockTTL != 30 || cfg.Journal.MigrateParallelism != 8 {
		t.Errorf("账本配置错误: %+v", cfg.Journal)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"未知数据库类型", `
database:
  type: oracle
`},
		{"Web 缺少用户名", `
server:
  enabled: true
  password: secret
`},
		{"Web 缺少密码", `
server:
  enabled: true
  username: admin
`},
		{"加密缺少盐", `
encryption:
  enabled: true
  passphrase: p
`},
		{"未知锁类型", `
distributed_lock:
  enabled: true
  type: zookeeper
`},
	}

	for _, tc := range cases {
		if _, err := LoadConfigFromBytes([]byte(tc.yaml)); err == nil {
			t.Errorf("%s: 应验证失败", tc.name)
		}
	}
}
