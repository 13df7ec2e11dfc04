package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradebook/database"
)

// applyResult 把匹配结果写入内存中的记录
// 卖出记录落下成本与已实现盈亏，被消耗批次扣减剩余数量；
// 扣减结果为负时钳制到零，容忍上游漂移而不污染后续匹配。
func applyResult(sell *database.Transaction, result *MatchResult, now time.Time) {
	sell.CostBasis = decimal.NewNullDecimal(result.CostBasis)
	sell.RealizedPnL = decimal.NewNullDecimal(result.RealizedPnL)
	sell.UpdatedAt = now

	for i := range result.Consumptions {
		lot := result.Consumptions[i].Lot
		remaining := lot.RemainingQuantity.Sub(result.Consumptions[i].Quantity)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		lot.RemainingQuantity = remaining
		lot.UpdatedAt = now
	}
}

// Apply 以单个数据库事务提交匹配结果
// 卖出记录与全部被消耗批次要么全部落库，要么全部回滚，不存在半应用状态。
func Apply(ctx context.Context, db database.Database, sell *database.Transaction, result *MatchResult) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin apply tx: %w", err)
	}

	if err := ApplyTo(ctx, tx, sell, result); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply tx: %w", err)
	}
	return nil
}

// ApplyTo 在调用方提供的存储句柄内提交匹配结果
// 调用方负责事务边界；流水创建与匹配落库共用一个事务时走这里。
func ApplyTo(ctx context.Context, store database.Database, sell *database.Transaction, result *MatchResult) error {
	applyResult(sell, result, time.Now().UTC())

	records := make([]*database.Transaction, 0, len(result.Consumptions)+1)
	records = append(records, sell)
	for i := range result.Consumptions {
		records = append(records, result.Consumptions[i].Lot)
	}

	if err := store.BatchUpdateTransactions(ctx, records); err != nil {
		return fmt.Errorf("persist match result for sell %d: %w", sell.ID, err)
	}
	return nil
}
