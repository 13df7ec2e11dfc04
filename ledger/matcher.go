package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradebook/database"
)

// Consumption 单次匹配中对一个 BUY 批次的消耗
type Consumption struct {
	Lot      *database.Transaction // 被消耗的 BUY 批次
	Quantity decimal.Decimal       // 消耗数量（不超过批次当时的剩余数量）
	Cost     decimal.Decimal       // 消耗成本
}

// MatchResult FIFO 匹配结果
// Uncovered 为未被任何批次覆盖的卖出数量：可匹配历史不足时按零成本处理（数据缺口策略），
// 由编排层决定如何上报，本包不做任何日志输出。
type MatchResult struct {
	CostBasis    decimal.Decimal
	RealizedPnL  decimal.Decimal
	Consumptions []Consumption
	Uncovered    decimal.Decimal
}

// Match 对一笔 SELL 执行 FIFO 匹配，纯计算，不产生副作用
//
// eligibleBuys 必须由调用方预先过滤并排序：同一 (账户, 标的) 组合、
// 时间不晚于卖出时刻（同刻按创建顺序裁决）、剩余数量大于零、按 (executed_at, id) 升序。
//
// 批次单位成本 = (价格 × 原始数量 + 佣金) / 原始数量，佣金平摊到原始数量而非剩余数量。
// 卖出净收入 = 价格 × 数量 − 佣金（买入佣金计入成本，卖出佣金抵减收入，两侧不对称）。
func Match(sell *database.Transaction, eligibleBuys []*database.Transaction) (*MatchResult, error) {
	if sell.Direction != database.DirectionSell {
		return nil, fmt.Errorf("%w: transaction %d has direction %s", ErrInvalidOperation, sell.ID, sell.Direction)
	}

	remainingToFill := sell.Quantity
	costBasis := decimal.Zero
	var consumptions []Consumption

	for _, lot := range eligibleBuys {
		if !remainingToFill.IsPositive() {
			break
		}
		// 剩余数量为零的批次直接跳过
		if !lot.RemainingQuantity.IsPositive() {
			continue
		}

		take := decimal.Min(remainingToFill, lot.RemainingQuantity)
		unitCost := lot.Price.Mul(lot.Quantity).Add(lot.Commission).Div(lot.Quantity)
		consumedCost := unitCost.Mul(take)

		consumptions = append(consumptions, Consumption{
			Lot:      lot,
			Quantity: take,
			Cost:     consumedCost,
		})

		costBasis = costBasis.Add(consumedCost)
		remainingToFill = remainingToFill.Sub(take)
	}

	proceeds := sell.Price.Mul(sell.Quantity).Sub(sell.Commission)

	return &MatchResult{
		CostBasis:    costBasis,
		RealizedPnL:  proceeds.Sub(costBasis),
		Consumptions: consumptions,
		Uncovered:    remainingToFill,
	}, nil
}
