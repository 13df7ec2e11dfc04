package database

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Database 数据库接口
type Database interface {
	// 流水记录
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	GetTransactions(ctx context.Context, filter *TransactionFilter) ([]*Transaction, error)
	BatchUpdateTransactions(ctx context.Context, txs []*Transaction) error

	// 账本查询（FIFO 引擎依赖的三类访问路径）
	GetOpenLots(ctx context.Context, accountID, instrumentID int64, cutoff time.Time, cutoffID int64) ([]*Transaction, error)
	GetPairHistory(ctx context.Context, accountID, instrumentID int64) ([]*Transaction, error)
	ListPairs(ctx context.Context) ([]Pair, error)

	// 持仓汇总
	SavePosition(ctx context.Context, pos *Position) error
	GetPosition(ctx context.Context, accountID, instrumentID int64) (*Position, error)
	DeletePosition(ctx context.Context, accountID, instrumentID int64) error
	ListPositions(ctx context.Context, accountID int64) ([]*Position, error)

	// 事件记录
	SaveEvent(ctx context.Context, event *EventRecord) error
	GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error)
	CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error

	// 事务支持
	BeginTx(ctx context.Context) (Tx, error)

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// Tx 事务接口
type Tx interface {
	Commit() error
	Rollback() error
	Database // 继承所有数据库操作
}

// Direction 交易方向（封闭枚举，未知值在写入前被拒绝）
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Valid 校验交易方向
func (d Direction) Valid() error {
	switch d {
	case DirectionBuy, DirectionSell:
		return nil
	default:
		return fmt.Errorf("unknown direction: %q", string(d))
	}
}

// 数据模型

// Transaction 买卖流水记录
// BUY 记录维护 remaining_quantity；SELL 记录维护 cost_basis / realized_pnl，
// 两者只允许由账本引擎（应用匹配结果或重算重放）修改。
// created_at / updated_at 由写入方显式设置，不走 ORM 自动时间戳。
type Transaction struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID    int64           `gorm:"index:idx_account_instrument_time" json:"account_id"`
	InstrumentID int64           `gorm:"index:idx_account_instrument_time" json:"instrument_id"`
	Direction    Direction       `gorm:"size:4" json:"direction"` // BUY, SELL
	Quantity     decimal.Decimal `gorm:"type:decimal(30,10)" json:"quantity"`
	Price        decimal.Decimal `gorm:"type:decimal(30,10)" json:"price"`
	Commission   decimal.Decimal `gorm:"type:decimal(30,10)" json:"commission"`
	ExecutedAt   time.Time       `gorm:"index:idx_account_instrument_time" json:"executed_at"`
	Note         string          `gorm:"type:text" json:"note"` // 备注（落库前加密）

	// BUY 派生字段
	RemainingQuantity decimal.Decimal `gorm:"type:decimal(30,10)" json:"remaining_quantity"`

	// SELL 派生字段（计算前为 NULL）
	CostBasis   decimal.NullDecimal `gorm:"type:decimal(30,10)" json:"cost_basis"`
	RealizedPnL decimal.NullDecimal `gorm:"type:decimal(30,10)" json:"realized_pnl"`

	CreatedAt time.Time `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// Pair 账户+标的组合（FIFO 状态的隔离粒度）
type Pair struct {
	AccountID    int64 `json:"account_id"`
	InstrumentID int64 `json:"instrument_id"`
}

// Position 持仓汇总（派生状态，每个组合一行，数量归零即删除）
type Position struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID     int64           `gorm:"uniqueIndex:idx_position_pair" json:"account_id"`
	InstrumentID  int64           `gorm:"uniqueIndex:idx_position_pair" json:"instrument_id"`
	Quantity      decimal.Decimal `gorm:"type:decimal(30,10)" json:"quantity"`
	AvgCost       decimal.Decimal `gorm:"type:decimal(30,10)" json:"avg_cost"`
	TotalInvested decimal.Decimal `gorm:"type:decimal(30,10)" json:"total_invested"`
	CreatedAt     time.Time       `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// EventRecord 事件记录
type EventRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Type         string    `gorm:"index;size:50" json:"type"`
	Severity     string    `gorm:"index;size:20" json:"severity"`
	Source       string    `gorm:"size:50" json:"source"`
	AccountID    int64     `gorm:"index:idx_event_pair" json:"account_id"`
	InstrumentID int64     `gorm:"index:idx_event_pair" json:"instrument_id"`
	Title        string    `gorm:"size:200" json:"title"`
	Message      string    `gorm:"type:text" json:"message"`
	Details      string    `gorm:"type:text" json:"details"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// 过滤器

// TransactionFilter 流水查询过滤器
type TransactionFilter struct {
	AccountID    int64
	InstrumentID int64
	Direction    Direction
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// EventFilter 事件查询过滤器
type EventFilter struct {
	Type         string
	Severity     string
	AccountID    int64
	InstrumentID int64
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}
