package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradebook/database"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func buyLot(id int64, qty, price, commission string, executedAt time.Time) *database.Transaction {
	return &database.Transaction{
		ID:                id,
		AccountID:         1,
		InstrumentID:      1,
		Direction:         database.DirectionBuy,
		Quantity:          dec(qty),
		Price:             dec(price),
		Commission:        dec(commission),
		ExecutedAt:        executedAt,
		RemainingQuantity: dec(qty),
	}
}

func sellTx(id int64, qty, price, commission string, executedAt time.Time) *database.Transaction {
	return &database.Transaction{
		ID:           id,
		AccountID:    1,
		InstrumentID: 1,
		Direction:    database.DirectionSell,
		Quantity:     dec(qty),
		Price:        dec(price),
		Commission:   dec(commission),
		ExecutedAt:   executedAt,
	}
}

func TestMatchFullLot(t *testing.T) {
	// 买入 10 股 @100 佣金 5，全部卖出 @120 佣金 3
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	lot := buyLot(1, "10", "100", "5", base)
	sell := sellTx(2, "10", "120", "3", base.Add(time.Hour))

	result, err := Match(sell, []*database.Transaction{lot})
	if err != nil {
		t.Fatalf("匹配失败: %v", err)
	}

	if !result.CostBasis.Equal(dec("1005")) {
		t.Errorf("成本基础错误: 期望 1005, 得到 %s", result.CostBasis)
	}
	if !result.RealizedPnL.Equal(dec("192")) {
		t.Errorf("已实现盈亏错误: 期望 192, 得到 %s", result.RealizedPnL)
	}
	if !result.Uncovered.IsZero() {
		t.Errorf("不应存在数据缺口: %s", result.Uncovered)
	}
	if len(result.Consumptions) != 1 || !result.Consumptions[0].Quantity.Equal(dec("10")) {
		t.Errorf("消耗记录错误: %+v", result.Consumptions)
	}
}

func TestMatchPartialLot(t *testing.T) {
	// 买入 10 股 @100 佣金 5，卖出 5 股 @110 佣金 2
	// 单位成本 = (100×10+5)/10 = 100.5，成本基础 = 502.5，盈亏 = 548−502.5 = 45.5
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	lot := buyLot(1, "10", "100", "5", base)
	sell := sellTx(2, "5", "110", "2", base.Add(time.Hour))

	result, err := Match(sell, []*database.Transaction{lot})
	if err != nil {
		t.Fatalf("匹配失败: %v", err)
	}

	if !result.CostBasis.Equal(dec("502.5")) {
		t.Errorf("成本基础错误: 期望 502.5, 得到 %s", result.CostBasis)
	}
	if !result.RealizedPnL.Equal(dec("45.5")) {
		t.Errorf("已实现盈亏错误: 期望 45.5, 得到 %s", result.RealizedPnL)
	}

	// 应用后批次剩余 5
	applyResult(sell, result, time.Now().UTC())
	if !lot.RemainingQuantity.Equal(dec("5")) {
		t.Errorf("批次剩余数量错误: 期望 5, 得到 %s", lot.RemainingQuantity)
	}
	if !sell.CostBasis.Valid || !sell.CostBasis.Decimal.Equal(dec("502.5")) {
		t.Errorf("卖出记录成本基础未落值: %+v", sell.CostBasis)
	}
}

func TestMatchSpansLots(t *testing.T) {
	// 批次1: 10@100 佣金5；批次2: 10@110 佣金6（单位成本 110.6）
	// 卖出 15 @120 佣金4：成本 = 1005 + 5×110.6 = 1558，净收入 = 1800−4 = 1796，盈亏 = 238
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	lot1 := buyLot(1, "10", "100", "5", base)
	lot2 := buyLot(2, "10", "110", "6", base.Add(time.Minute))
	sell := sellTx(3, "15", "120", "4", base.Add(time.Hour))

	result, err := Match(sell, []*database.Transaction{lot1, lot2})
	if err != nil {
		t.Fatalf("匹配失败: %v", err)
	}

	if !result.CostBasis.Equal(dec("1558")) {
		t.Errorf("跨批次成本基础错误: 期望 1558, 得到 %s", result.CostBasis)
	}
	if !result.RealizedPnL.Equal(dec("238")) {
		t.Errorf("跨批次盈亏错误: 期望 238, 得到 %s", result.RealizedPnL)
	}

	// FIFO：批次1 先被耗尽
	if len(result.Consumptions) != 2 {
		t.Fatalf("消耗记录数错误: 期望 2, 得到 %d", len(result.Consumptions))
	}
	if result.Consumptions[0].Lot.ID != 1 || !result.Consumptions[0].Quantity.Equal(dec("10")) {
		t.Errorf("FIFO 顺序错误: 第一笔消耗 %+v", result.Consumptions[0])
	}
	if result.Consumptions[1].Lot.ID != 2 || !result.Consumptions[1].Quantity.Equal(dec("5")) {
		t.Errorf("FIFO 顺序错误: 第二笔消耗 %+v", result.Consumptions[1])
	}

	applyResult(sell, result, time.Now().UTC())
	if !lot1.RemainingQuantity.IsZero() {
		t.Errorf("批次1 应被耗尽, 剩余 %s", lot1.RemainingQuantity)
	}
	if !lot2.RemainingQuantity.Equal(dec("5")) {
		t.Errorf("批次2 剩余数量错误: 期望 5, 得到 %s", lot2.RemainingQuantity)
	}
}

func TestMatchShortfall(t *testing.T) {
	// 没有任何买入历史，卖出 10 @100 佣金 3：缺口部分按零成本计入
	sell := sellTx(1, "10", "100", "3", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))

	result, err := Match(sell, nil)
	if err != nil {
		t.Fatalf("匹配失败: %v", err)
	}

	if !result.CostBasis.IsZero() {
		t.Errorf("零覆盖时成本基础应为 0, 得到 %s", result.CostBasis)
	}
	if !result.RealizedPnL.Equal(dec("997")) {
		t.Errorf("零覆盖盈亏错误: 期望 997, 得到 %s", result.RealizedPnL)
	}
	if !result.Uncovered.Equal(dec("10")) {
		t.Errorf("数据缺口数量错误: 期望 10, 得到 %s", result.Uncovered)
	}
}

func TestMatchPartialShortfall(t *testing.T) {
	// 批次只剩 3 股，卖出 10 股：7 股按零成本
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	lot := buyLot(1, "10", "100", "0", base)
	lot.RemainingQuantity = dec("3")
	sell := sellTx(2, "10", "120", "0", base.Add(time.Hour))

	result, err := Match(sell, []*database.Transaction{lot})
	if err != nil {
		t.Fatalf("匹配失败: %v", err)
	}

	if !result.CostBasis.Equal(dec("300")) {
		t.Errorf("部分缺口成本基础错误: 期望 300, 得到 %s", result.CostBasis)
	}
	if !result.Uncovered.Equal(dec("7")) {
		t.Errorf("部分缺口数量错误: 期望 7, 得到 %s", result.Uncovered)
	}
}

func TestMatchSkipsExhaustedLots(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	exhausted := buyLot(1, "10", "90", "0", base)
	exhausted.RemainingQuantity = decimal.Zero
	lot := buyLot(2, "10", "100", "0", base.Add(time.Minute))
	sell := sellTx(3, "5", "120", "0", base.Add(time.Hour))

	result, err := Match(sell, []*database.Transaction{exhausted, lot})
	if err != nil {
		t.Fatalf("匹配失败: %v", err)
	}

	if len(result.Consumptions) != 1 || result.Consumptions[0].Lot.ID != 2 {
		t.Errorf("耗尽批次不应参与匹配: %+v", result.Consumptions)
	}
	if !result.CostBasis.Equal(dec("500")) {
		t.Errorf("成本基础错误: 期望 500, 得到 %s", result.CostBasis)
	}
}

func TestMatchRejectsBuy(t *testing.T) {
	buy := buyLot(1, "10", "100", "0", time.Now().UTC())

	_, err := Match(buy, nil)
	if err == nil {
		t.Fatal("BUY 流水不应允许匹配")
	}
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("错误类型不正确: %v", err)
	}
}

func TestMatchQuantityConservation(t *testing.T) {
	// 消耗数量之和 + 缺口 = 卖出数量
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	lots := []*database.Transaction{
		buyLot(1, "3", "100", "1", base),
		buyLot(2, "4", "101", "1", base.Add(time.Minute)),
		buyLot(3, "2", "102", "1", base.Add(2*time.Minute)),
	}
	sell := sellTx(4, "12", "105", "1", base.Add(time.Hour))

	result, err := Match(sell, lots)
	if err != nil {
		t.Fatalf("匹配失败: %v", err)
	}

	consumed := decimal.Zero
	for _, c := range result.Consumptions {
		consumed = consumed.Add(c.Quantity)
	}
	if !consumed.Add(result.Uncovered).Equal(sell.Quantity) {
		t.Errorf("数量不守恒: 消耗 %s + 缺口 %s ≠ 卖出 %s", consumed, result.Uncovered, sell.Quantity)
	}
	if !result.Uncovered.Equal(dec("3")) {
		t.Errorf("缺口数量错误: 期望 3, 得到 %s", result.Uncovered)
	}
}
