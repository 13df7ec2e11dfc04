package position

import (
	"context"
	"fmt"
	"time"

	"tradebook/database"
)

// Aggregator 持仓汇总器
// 维护每个 (账户, 标的) 组合的派生汇总行：持有数量、加权平均成本、总投入。
// 平均成本与 FIFO 成本是两套独立口径：卖出按卖出前的平均成本等比例扣减总投入，
// 与账本引擎算出的 FIFO 成本允许发散。派生状态出现任何不一致时以 Rebuild 为准。
type Aggregator struct {
	db database.Database
}

// NewAggregator 创建持仓汇总器
func NewAggregator(db database.Database) *Aggregator {
	return &Aggregator{db: db}
}

// OnTransactionWritten 流水写入后的增量更新
// store 可以是事务句柄，调用方负责把汇总更新与流水写入放进同一事务。
func (a *Aggregator) OnTransactionWritten(ctx context.Context, store database.Database, tx *database.Transaction) error {
	pos, err := store.GetPosition(ctx, tx.AccountID, tx.InstrumentID)
	if err != nil {
		return fmt.Errorf("load position (%d, %d): %w", tx.AccountID, tx.InstrumentID, err)
	}

	now := time.Now().UTC()

	switch tx.Direction {
	case database.DirectionBuy:
		cost := tx.Price.Mul(tx.Quantity).Add(tx.Commission)
		if pos == nil {
			pos = &database.Position{
				AccountID:     tx.AccountID,
				InstrumentID:  tx.InstrumentID,
				Quantity:      tx.Quantity,
				AvgCost:       cost.Div(tx.Quantity),
				TotalInvested: cost,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			return store.SavePosition(ctx, pos)
		}
		pos.Quantity = pos.Quantity.Add(tx.Quantity)
		pos.TotalInvested = pos.TotalInvested.Add(cost)
		pos.AvgCost = pos.TotalInvested.Div(pos.Quantity)
		pos.UpdatedAt = now
		return store.SavePosition(ctx, pos)

	case database.DirectionSell:
		if pos == nil {
			// 无持仓却卖出：增量口径无从扣减，交给重算/Rebuild 兜底
			return nil
		}
		newQuantity := pos.Quantity.Sub(tx.Quantity)
		if !newQuantity.IsPositive() {
			// 数量归零（或上游漂移导致为负）时删除汇总行而不是留一行零
			return store.DeletePosition(ctx, tx.AccountID, tx.InstrumentID)
		}
		pos.TotalInvested = pos.TotalInvested.Sub(pos.AvgCost.Mul(tx.Quantity))
		pos.Quantity = newQuantity
		pos.UpdatedAt = now
		return store.SavePosition(ctx, pos)

	default:
		return fmt.Errorf("transaction %d: %v", tx.ID, tx.Direction.Valid())
	}
}

// Rebuild 重建一个组合的持仓汇总
// 删除现有汇总行后按时间顺序重放组合全部流水，整体在一个事务内完成。
// 历史被编辑、删除或 FIFO 重算之后必须调用，保证汇总与修正后的账本一致。
func (a *Aggregator) Rebuild(ctx context.Context, accountID, instrumentID int64) error {
	tx, err := a.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}

	if err := a.RebuildTo(ctx, tx, accountID, instrumentID); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild tx: %w", err)
	}
	return nil
}

// RebuildTo 在调用方提供的存储句柄内重建持仓汇总
func (a *Aggregator) RebuildTo(ctx context.Context, store database.Database, accountID, instrumentID int64) error {
	if err := store.DeletePosition(ctx, accountID, instrumentID); err != nil {
		return fmt.Errorf("delete position (%d, %d): %w", accountID, instrumentID, err)
	}

	history, err := store.GetPairHistory(ctx, accountID, instrumentID)
	if err != nil {
		return fmt.Errorf("load pair history (%d, %d): %w", accountID, instrumentID, err)
	}

	for _, t := range history {
		if err := a.OnTransactionWritten(ctx, store, t); err != nil {
			return err
		}
	}
	return nil
}
