package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormOps 封装全部读写操作
// GormDatabase 与 GormTx 共用同一套实现，保证重算重放在事务内也能执行完整查询
type gormOps struct {
	db *gorm.DB
}

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	gormOps
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *DBConfig) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	// 日志级别
	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	// 打开数据库
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 获取底层 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&Transaction{},
		&Position{},
		&EventRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormDatabase{gormOps{db: db}}, nil
}

// SaveTransaction 保存流水记录
func (o *gormOps) SaveTransaction(ctx context.Context, tx *Transaction) error {
	return o.db.WithContext(ctx).Create(tx).Error
}

// GetTransaction 根据ID获取流水记录
func (o *gormOps) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	var tx Transaction
	if err := o.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// UpdateTransaction 更新流水记录（全字段覆盖）
func (o *gormOps) UpdateTransaction(ctx context.Context, tx *Transaction) error {
	return o.db.WithContext(ctx).Save(tx).Error
}

// DeleteTransaction 删除流水记录
func (o *gormOps) DeleteTransaction(ctx context.Context, id int64) error {
	return o.db.WithContext(ctx).Delete(&Transaction{}, id).Error
}

// GetTransactions 获取流水记录
func (o *gormOps) GetTransactions(ctx context.Context, filter *TransactionFilter) ([]*Transaction, error) {
	query := o.db.WithContext(ctx).Model(&Transaction{})

	if filter.AccountID > 0 {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.InstrumentID > 0 {
		query = query.Where("instrument_id = ?", filter.InstrumentID)
	}
	if filter.Direction != "" {
		query = query.Where("direction = ?", filter.Direction)
	}
	if filter.StartTime != nil {
		query = query.Where("executed_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("executed_at <= ?", filter.EndTime)
	}

	query = query.Order("executed_at DESC, id DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var txs []*Transaction
	if err := query.Find(&txs).Error; err != nil {
		return nil, err
	}

	return txs, nil
}

// BatchUpdateTransactions 批量更新流水记录
func (o *gormOps) BatchUpdateTransactions(ctx context.Context, txs []*Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	for _, tx := range txs {
		if err := o.db.WithContext(ctx).Save(tx).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetOpenLots 获取可消耗的 BUY 批次
// 条件：同组合、剩余数量大于零、时间不晚于 cutoff，按 (executed_at, id) 升序。
// cutoffID > 0 时启用同刻裁决：时间戳相等的批次只取创建更早（id 更小）的。
func (o *gormOps) GetOpenLots(ctx context.Context, accountID, instrumentID int64, cutoff time.Time, cutoffID int64) ([]*Transaction, error) {
	query := o.db.WithContext(ctx).Model(&Transaction{}).
		Where("account_id = ? AND instrument_id = ?", accountID, instrumentID).
		Where("direction = ?", DirectionBuy).
		Where("remaining_quantity > 0")

	if cutoffID > 0 {
		query = query.Where("executed_at < ? OR (executed_at = ? AND id < ?)", cutoff, cutoff, cutoffID)
	} else {
		query = query.Where("executed_at <= ?", cutoff)
	}

	var lots []*Transaction
	if err := query.Order("executed_at ASC, id ASC").Find(&lots).Error; err != nil {
		return nil, err
	}

	return lots, nil
}

// GetPairHistory 获取组合的完整流水历史（按时间升序，同刻按创建顺序）
func (o *gormOps) GetPairHistory(ctx context.Context, accountID, instrumentID int64) ([]*Transaction, error) {
	var txs []*Transaction
	err := o.db.WithContext(ctx).
		Where("account_id = ? AND instrument_id = ?", accountID, instrumentID).
		Order("executed_at ASC, id ASC").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// ListPairs 枚举账本中出现过的全部 (账户, 标的) 组合
func (o *gormOps) ListPairs(ctx context.Context) ([]Pair, error) {
	var pairs []Pair
	err := o.db.WithContext(ctx).Model(&Transaction{}).
		Select("DISTINCT account_id, instrument_id").
		Order("account_id, instrument_id").
		Scan(&pairs).Error
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// SavePosition 保存持仓汇总（存在则覆盖）
func (o *gormOps) SavePosition(ctx context.Context, pos *Position) error {
	return o.db.WithContext(ctx).Save(pos).Error
}

// GetPosition 获取持仓汇总，不存在时返回 (nil, nil)
func (o *gormOps) GetPosition(ctx context.Context, accountID, instrumentID int64) (*Position, error) {
	var pos Position
	err := o.db.WithContext(ctx).
		Where("account_id = ? AND instrument_id = ?", accountID, instrumentID).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pos, nil
}

// DeletePosition 删除持仓汇总
func (o *gormOps) DeletePosition(ctx context.Context, accountID, instrumentID int64) error {
	return o.db.WithContext(ctx).
		Where("account_id = ? AND instrument_id = ?", accountID, instrumentID).
		Delete(&Position{}).Error
}

// ListPositions 获取持仓汇总列表，accountID 为 0 时返回全部
func (o *gormOps) ListPositions(ctx context.Context, accountID int64) ([]*Position, error) {
	query := o.db.WithContext(ctx).Model(&Position{})
	if accountID > 0 {
		query = query.Where("account_id = ?", accountID)
	}

	var positions []*Position
	if err := query.Order("account_id, instrument_id").Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// SaveEvent 保存事件记录
func (o *gormOps) SaveEvent(ctx context.Context, event *EventRecord) error {
	return o.db.WithContext(ctx).Create(event).Error
}

// GetEvents 获取事件记录
func (o *gormOps) GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error) {
	query := o.db.WithContext(ctx).Model(&EventRecord{})

	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.AccountID > 0 {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.InstrumentID > 0 {
		query = query.Where("instrument_id = ?", filter.InstrumentID)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	query = query.Order("created_at DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []*EventRecord
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}

	return events, nil
}

// CleanupOldEvents 清理旧事件
func (o *gormOps) CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error {
	// 按时间清理：删除超过指定天数的事件
	cutoffDate := time.Now().AddDate(0, 0, -keepDays)
	if err := o.db.WithContext(ctx).
		Where("severity = ? AND created_at < ?", severity, cutoffDate).
		Delete(&EventRecord{}).Error; err != nil {
		return err
	}

	// 按数量清理：保留最新的 keepCount 条
	var count int64
	o.db.WithContext(ctx).Model(&EventRecord{}).Where("severity = ?", severity).Count(&count)

	if int(count) > keepCount {
		// 获取需要保留的最老记录的ID
		var cutoffID int64
		o.db.WithContext(ctx).Model(&EventRecord{}).
			Where("severity = ?", severity).
			Order("created_at DESC").
			Limit(1).
			Offset(keepCount).
			Pluck("id", &cutoffID)

		// 删除ID小于cutoffID的记录
		if cutoffID > 0 {
			if err := o.db.WithContext(ctx).
				Where("severity = ? AND id < ?", severity, cutoffID).
				Delete(&EventRecord{}).Error; err != nil {
				return err
			}
		}
	}

	return nil
}

// BeginTx 开始事务
func (g *GormDatabase) BeginTx(ctx context.Context) (Tx, error) {
	tx := g.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &GormTx{gormOps{db: tx}}, nil
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormTx GORM 事务实现
// 读写全部走事务连接，重算重放依赖这一点保证全量批次在同一事务内读改写
type GormTx struct {
	gormOps
}

func (t *GormTx) Commit() error {
	return t.db.Commit().Error
}

func (t *GormTx) Rollback() error {
	return t.db.Rollback().Error
}

func (t *GormTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *GormTx) Ping(ctx context.Context) error {
	return nil
}

func (t *GormTx) Close() error {
	return nil
}
