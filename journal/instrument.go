package journal

import (
	"context"
	"time"

	"tradebook/database"
	"tradebook/ledger"
	"tradebook/logger"
	"tradebook/metrics"
)

// instrumentedJournal 带指标采集的装饰器
// 核心服务不直接依赖指标，耗时统计和操作计数统一在这里完成。
type instrumentedJournal struct {
	next Journal
}

// WithInstrumentation 包装 Journal，为每个操作记录耗时直方图
func WithInstrumentation(next Journal) Journal {
	return &instrumentedJournal{next: next}
}

// observe 上报单次操作的耗时与结果
func observe(operation string, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.ObserveOperation(operation, elapsed, err == nil)
	if err != nil {
		logger.Error("❌ 操作 %s 失败 (耗时 %v): %v", operation, elapsed, err)
	} else {
		logger.Debug("操作 %s 完成 (耗时 %v)", operation, elapsed)
	}
}

func (j *instrumentedJournal) CreateTransaction(ctx context.Context, tx *database.Transaction) error {
	start := time.Now()
	err := j.next.CreateTransaction(ctx, tx)
	observe("create_transaction", start, err)
	return err
}

func (j *instrumentedJournal) UpdateTransaction(ctx context.Context, tx *database.Transaction) error {
	start := time.Now()
	err := j.next.UpdateTransaction(ctx, tx)
	observe("update_transaction", start, err)
	return err
}

func (j *instrumentedJournal) DeleteTransaction(ctx context.Context, id int64) error {
	start := time.Now()
	err := j.next.DeleteTransaction(ctx, id)
	observe("delete_transaction", start, err)
	return err
}

func (j *instrumentedJournal) GetTransaction(ctx context.Context, id int64) (*database.Transaction, error) {
	start := time.Now()
	tx, err := j.next.GetTransaction(ctx, id)
	observe("get_transaction", start, err)
	return tx, err
}

func (j *instrumentedJournal) ListTransactions(ctx context.Context, filter *database.TransactionFilter) ([]*database.Transaction, error) {
	start := time.Now()
	txs, err := j.next.ListTransactions(ctx, filter)
	observe("list_transactions", start, err)
	return txs, err
}

func (j *instrumentedJournal) GetPosition(ctx context.Context, accountID, instrumentID int64) (*database.Position, error) {
	start := time.Now()
	pos, err := j.next.GetPosition(ctx, accountID, instrumentID)
	observe("get_position", start, err)
	return pos, err
}

func (j *instrumentedJournal) ListPositions(ctx context.Context, accountID int64) ([]*database.Position, error) {
	start := time.Now()
	positions, err := j.next.ListPositions(ctx, accountID)
	observe("list_positions", start, err)
	return positions, err
}

func (j *instrumentedJournal) Recalculate(ctx context.Context, accountID, instrumentID int64) (*ledger.Result, error) {
	start := time.Now()
	result, err := j.next.Recalculate(ctx, accountID, instrumentID)
	observe("recalculate", start, err)
	return result, err
}

func (j *instrumentedJournal) MigrateAll(ctx context.Context) (*MigrateResult, error) {
	start := time.Now()
	result, err := j.next.MigrateAll(ctx)
	observe("migrate_all", start, err)
	return result, err
}
