package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradebook/database"
	"tradebook/lock"
)

func newTestService(t *testing.T) (*Service, database.Database) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := database.NewGormDatabase(&database.DBConfig{
		Type:         "sqlite",
		DSN:          dsn,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := NewService(db, lock.NewLocalLock(), nil, nil, Config{})
	return svc, db
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func makeTx(direction database.Direction, qty, price, commission string, executedAt time.Time) *database.Transaction {
	return &database.Transaction{
		AccountID:    1,
		InstrumentID: 5,
		Direction:    direction,
		Quantity:     dec(qty),
		Price:        dec(price),
		Commission:   dec(commission),
		ExecutedAt:   executedAt,
	}
}

func TestCreateBuyAndSell(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	buy := makeTx(database.DirectionBuy, "10", "100", "5", base)
	if err := svc.CreateTransaction(ctx, buy); err != nil {
		t.Fatalf("创建买入失败: %v", err)
	}
	if buy.ID == 0 {
		t.Fatal("买入流水应分配 ID")
	}
	if !buy.RemainingQuantity.Equal(dec("10")) {
		t.Errorf("买入剩余数量错误: %s", buy.RemainingQuantity)
	}

	// 部分卖出：匹配、应用与持仓更新在同一流程内完成
	sell := makeTx(database.DirectionSell, "5", "110", "2", base.Add(time.Hour))
	if err := svc.CreateTransaction(ctx, sell); err != nil {
		t.Fatalf("创建卖出失败: %v", err)
	}

	gotSell, err := svc.GetTransaction(ctx, sell.ID)
	if err != nil {
		t.Fatalf("读取卖出失败: %v", err)
	}
	if !gotSell.CostBasis.Valid || !gotSell.CostBasis.Decimal.Equal(dec("502.5")) {
		t.Errorf("卖出成本基础错误: %+v", gotSell.CostBasis)
	}
	if !gotSell.RealizedPnL.Decimal.Equal(dec("45.5")) {
		t.Errorf("卖出盈亏错误: %+v", gotSell.RealizedPnL)
	}

	gotBuy, _ := db.GetTransaction(ctx, buy.ID)
	if !gotBuy.RemainingQuantity.Equal(dec("5")) {
		t.Errorf("买入批次剩余数量错误: 期望 5, 得到 %s", gotBuy.RemainingQuantity)
	}

	pos, _ := db.GetPosition(ctx, 1, 5)
	if pos == nil || !pos.Quantity.Equal(dec("5")) {
		t.Errorf("持仓汇总错误: %+v", pos)
	}
}

func TestCreateSellWithShortfall(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// 没有任何买入历史，卖出按零成本降级而不是报错
	sell := makeTx(database.DirectionSell, "10", "100", "3", time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))
	if err := svc.CreateTransaction(ctx, sell); err != nil {
		t.Fatalf("数据缺口卖出不应报错: %v", err)
	}

	got, _ := svc.GetTransaction(ctx, sell.ID)
	if !got.CostBasis.Decimal.IsZero() {
		t.Errorf("零覆盖成本基础应为 0: %s", got.CostBasis.Decimal)
	}
	if !got.RealizedPnL.Decimal.Equal(dec("997")) {
		t.Errorf("零覆盖盈亏错误: 期望 997, 得到 %s", got.RealizedPnL.Decimal)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		tx   *database.Transaction
	}{
		{"未知方向", &database.Transaction{AccountID: 1, InstrumentID: 5, Direction: "HOLD", Quantity: dec("1"), Price: dec("1"), ExecutedAt: base}},
		{"数量为零", makeTx(database.DirectionBuy, "0", "100", "0", base)},
		{"价格为零", makeTx(database.DirectionBuy, "1", "0", "0", base)},
		{"佣金为负", makeTx(database.DirectionBuy, "1", "100", "-1", base)},
		{"缺少成交时间", makeTx(database.DirectionBuy, "1", "100", "0", time.Time{})},
	}

	for _, tc := range cases {
		if err := svc.CreateTransaction(ctx, tc.tx); err == nil {
			t.Errorf("%s: 应拒绝写入", tc.name)
		}
	}
}

func TestUpdateTransactionRecalculates(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	buy := makeTx(database.DirectionBuy, "10", "100", "5", base)
	if err := svc.CreateTransaction(ctx, buy); err != nil {
		t.Fatalf("创建买入失败: %v", err)
	}
	sell := makeTx(database.DirectionSell, "5", "110", "2", base.Add(time.Hour))
	if err := svc.CreateTransaction(ctx, sell); err != nil {
		t.Fatalf("创建卖出失败: %v", err)
	}

	// 修改买入价格，整个组合重算，卖出派生字段随之更新
	edited := makeTx(database.DirectionBuy, "10", "90", "5", base)
	edited.ID = buy.ID
	if err := svc.UpdateTransaction(ctx, edited); err != nil {
		t.Fatalf("更新买入失败: %v", err)
	}

	gotSell, _ := db.GetTransaction(ctx, sell.ID)
	// 单位成本 = (90×10+5)/10 = 90.5，成本 = 452.5，盈亏 = 548−452.5 = 95.5
	if !gotSell.CostBasis.Decimal.Equal(dec("452.5")) {
		t.Errorf("编辑后成本基础错误: 期望 452.5, 得到 %s", gotSell.CostBasis.Decimal)
	}
	if !gotSell.RealizedPnL.Decimal.Equal(dec("95.5")) {
		t.Errorf("编辑后盈亏错误: 期望 95.5, 得到 %s", gotSell.RealizedPnL.Decimal)
	}

	pos, _ := db.GetPosition(ctx, 1, 5)
	if pos == nil || !pos.Quantity.Equal(dec("5")) {
		t.Errorf("编辑后持仓汇总错误: %+v", pos)
	}
}

func TestUpdateRejectsPairChange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	buy := makeTx(database.DirectionBuy, "10", "100", "5", base)
	if err := svc.CreateTransaction(ctx, buy); err != nil {
		t.Fatalf("创建买入失败: %v", err)
	}

	moved := makeTx(database.DirectionBuy, "10", "100", "5", base)
	moved.ID = buy.ID
	moved.InstrumentID = 99
	if err := svc.UpdateTransaction(ctx, moved); err == nil {
		t.Error("修改组合应被拒绝")
	}

	flipped := makeTx(database.DirectionSell, "10", "100", "5", base)
	flipped.ID = buy.ID
	if err := svc.UpdateTransaction(ctx, flipped); err == nil {
		t.Error("修改方向应被拒绝")
	}
}

func TestDeleteTransactionRecalculates(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	buy := makeTx(database.DirectionBuy, "10", "100", "5", base)
	if err := svc.CreateTransaction(ctx, buy); err != nil {
		t.Fatalf("创建买入失败: %v", err)
	}
	sell := makeTx(database.DirectionSell, "5", "110", "2", base.Add(time.Hour))
	if err := svc.CreateTransaction(ctx, sell); err != nil {
		t.Fatalf("创建卖出失败: %v", err)
	}

	// 删除买入后卖出失去全部覆盖，重算应按零成本降级
	if err := svc.DeleteTransaction(ctx, buy.ID); err != nil {
		t.Fatalf("删除买入失败: %v", err)
	}

	gotSell, _ := db.GetTransaction(ctx, sell.ID)
	if !gotSell.CostBasis.Decimal.IsZero() {
		t.Errorf("删除后成本基础应为 0: %s", gotSell.CostBasis.Decimal)
	}
	if !gotSell.RealizedPnL.Decimal.Equal(dec("548")) {
		t.Errorf("删除后盈亏错误: 期望 548, 得到 %s", gotSell.RealizedPnL.Decimal)
	}

	pos, _ := db.GetPosition(ctx, 1, 5)
	if pos != nil {
		t.Errorf("删除唯一买入后持仓行应不存在: %+v", pos)
	}
}

func TestRecalculateAndMigrateAll(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	buy := makeTx(database.DirectionBuy, "10", "100", "5", base)
	svc.CreateTransaction(ctx, buy)
	sell := makeTx(database.DirectionSell, "5", "110", "2", base.Add(time.Hour))
	svc.CreateTransaction(ctx, sell)

	// 另一个组合
	other := makeTx(database.DirectionBuy, "3", "50", "1", base)
	other.InstrumentID = 6
	svc.CreateTransaction(ctx, other)

	result, err := svc.Recalculate(ctx, 1, 5)
	if err != nil {
		t.Fatalf("单组合重算失败: %v", err)
	}
	if result.Transactions != 2 || result.Sells != 1 {
		t.Errorf("重算统计错误: %+v", result)
	}

	migrate, err := svc.MigrateAll(ctx)
	if err != nil {
		t.Fatalf("批量重算失败: %v", err)
	}
	if migrate.Pairs != 2 || migrate.Recalculated != 2 || migrate.Failed != 0 {
		t.Errorf("批量重算统计错误: %+v", migrate)
	}

	pos, _ := db.GetPosition(ctx, 1, 6)
	if pos == nil || !pos.Quantity.Equal(dec("3")) {
		t.Errorf("批量重算后持仓错误: %+v", pos)
	}
}
