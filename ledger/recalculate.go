package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradebook/database"
)

// Recalculator 重算协调器
// 对单个 (账户, 标的) 组合重置全部派生字段并按时间顺序重放历史，
// 重放过程与落库在同一个数据库事务内完成，操作天然幂等。
type Recalculator struct {
	db database.Database
}

// NewRecalculator 创建重算协调器
func NewRecalculator(db database.Database) *Recalculator {
	return &Recalculator{db: db}
}

// Shortfall 重放中遇到的数据缺口（卖出数量超出可匹配历史）
type Shortfall struct {
	TransactionID int64
	Uncovered     decimal.Decimal
}

// Result 单组合重算统计
type Result struct {
	Transactions int
	Sells        int
	Shortfalls   []Shortfall
}

// Recalculate 重建一个组合的账本派生状态
// 步骤：加载全量历史（时间升序）→ 重置 BUY 剩余数量与 SELL 派生字段 →
// 逐笔重放，每笔 SELL 针对此前已重放（含已被扣减）的 BUY 集合匹配并立即应用，
// 保证后续卖出观察到前序消耗 → 全量批量落库并提交。
func (r *Recalculator) Recalculate(ctx context.Context, accountID, instrumentID int64) (*Result, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin recalculate tx: %w", err)
	}

	result, err := r.replay(ctx, tx, accountID, instrumentID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recalculate tx: %w", err)
	}
	return result, nil
}

// RecalculateTo 在调用方提供的存储句柄内执行重算
// 编排层把历史编辑与重算放进同一个事务时走这里，事务边界由调用方负责。
func (r *Recalculator) RecalculateTo(ctx context.Context, store database.Database, accountID, instrumentID int64) (*Result, error) {
	return r.replay(ctx, store, accountID, instrumentID)
}

// replay 在给定存储句柄内执行重置与重放
func (r *Recalculator) replay(ctx context.Context, store database.Database, accountID, instrumentID int64) (*Result, error) {
	history, err := store.GetPairHistory(ctx, accountID, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("load pair history (%d, %d): %w", accountID, instrumentID, err)
	}

	now := time.Now().UTC()

	// 重置派生字段
	for _, t := range history {
		switch t.Direction {
		case database.DirectionBuy:
			t.RemainingQuantity = t.Quantity
		case database.DirectionSell:
			t.CostBasis = decimal.NullDecimal{}
			t.RealizedPnL = decimal.NullDecimal{}
		default:
			return nil, fmt.Errorf("transaction %d: %v", t.ID, t.Direction.Valid())
		}
		t.UpdatedAt = now
	}

	result := &Result{Transactions: len(history)}

	// 按时间顺序重放；history 已按 (executed_at, id) 升序，
	// 故出现在卖出之前的 BUY 即为其全部可消耗批次
	var buys []*database.Transaction
	for _, t := range history {
		switch t.Direction {
		case database.DirectionBuy:
			buys = append(buys, t)
		case database.DirectionSell:
			eligible := make([]*database.Transaction, 0, len(buys))
			for _, b := range buys {
				if b.RemainingQuantity.IsPositive() {
					eligible = append(eligible, b)
				}
			}

			match, err := Match(t, eligible)
			if err != nil {
				return nil, err
			}
			applyResult(t, match, now)

			result.Sells++
			if match.Uncovered.IsPositive() {
				result.Shortfalls = append(result.Shortfalls, Shortfall{
					TransactionID: t.ID,
					Uncovered:     match.Uncovered,
				})
			}
		}
	}

	if err := store.BatchUpdateTransactions(ctx, history); err != nil {
		return nil, fmt.Errorf("persist recalculated pair (%d, %d): %w", accountID, instrumentID, err)
	}
	return result, nil
}
