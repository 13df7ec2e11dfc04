package position

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradebook/database"
)

func newTestDB(t *testing.T) database.Database {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := database.NewGormDatabase(&database.DBConfig{
		Type:         "sqlite",
		DSN:          dsn,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func makeTx(direction database.Direction, qty, price, commission string, executedAt time.Time) *database.Transaction {
	now := time.Now().UTC()
	tx := &database.Transaction{
		AccountID:    1,
		InstrumentID: 9,
		Direction:    direction,
		Quantity:     dec(qty),
		Price:        dec(price),
		Commission:   dec(commission),
		ExecutedAt:   executedAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if direction == database.DirectionBuy {
		tx.RemainingQuantity = tx.Quantity
	}
	return tx
}

func TestOnTransactionWrittenBuy(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agg := NewAggregator(db)
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	// 首笔买入：10 股 @100 佣金 5 → 数量 10，总投入 1005，平均成本 100.5
	buy1 := makeTx(database.DirectionBuy, "10", "100", "5", base)
	if err := db.SaveTransaction(ctx, buy1); err != nil {
		t.Fatalf("保存流水失败: %v", err)
	}
	if err := agg.OnTransactionWritten(ctx, db, buy1); err != nil {
		t.Fatalf("持仓更新失败: %v", err)
	}

	pos, err := db.GetPosition(ctx, 1, 9)
	if err != nil || pos == nil {
		t.Fatalf("持仓行应存在: %v", err)
	}
	if !pos.Quantity.Equal(dec("10")) || !pos.TotalInvested.Equal(dec("1005")) || !pos.AvgCost.Equal(dec("100.5")) {
		t.Errorf("首笔买入持仓错误: qty=%s invested=%s avg=%s", pos.Quantity, pos.TotalInvested, pos.AvgCost)
	}

	// 第二笔买入：10 股 @110 佣金 6 → 数量 20，总投入 2111，平均成本 105.55
	buy2 := makeTx(database.DirectionBuy, "10", "110", "6", base.Add(time.Minute))
	if err := db.SaveTransaction(ctx, buy2); err != nil {
		t.Fatalf("保存流水失败: %v", err)
	}
	if err := agg.OnTransactionWritten(ctx, db, buy2); err != nil {
		t.Fatalf("持仓更新失败: %v", err)
	}

	pos, _ = db.GetPosition(ctx, 1, 9)
	if !pos.Quantity.Equal(dec("20")) || !pos.TotalInvested.Equal(dec("2111")) {
		t.Errorf("第二笔买入持仓错误: qty=%s invested=%s", pos.Quantity, pos.TotalInvested)
	}
	if !pos.AvgCost.Equal(dec("105.55")) {
		t.Errorf("平均成本错误: 期望 105.55, 得到 %s", pos.AvgCost)
	}
}

func TestOnTransactionWrittenSell(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agg := NewAggregator(db)
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	buy := makeTx(database.DirectionBuy, "10", "100", "5", base)
	db.SaveTransaction(ctx, buy)
	agg.OnTransactionWritten(ctx, db, buy)

	// 部分卖出：按卖出前平均成本等比例扣减总投入
	sell := makeTx(database.DirectionSell, "4", "120", "2", base.Add(time.Hour))
	db.SaveTransaction(ctx, sell)
	if err := agg.OnTransactionWritten(ctx, db, sell); err != nil {
		t.Fatalf("持仓更新失败: %v", err)
	}

	pos, _ := db.GetPosition(ctx, 1, 9)
	if !pos.Quantity.Equal(dec("6")) {
		t.Errorf("卖出后数量错误: 期望 6, 得到 %s", pos.Quantity)
	}
	// 1005 − 100.5×4 = 603
	if !pos.TotalInvested.Equal(dec("603")) {
		t.Errorf("卖出后总投入错误: 期望 603, 得到 %s", pos.TotalInvested)
	}

	// 全部卖出：汇总行删除而不是留一行零
	sellRest := makeTx(database.DirectionSell, "6", "120", "2", base.Add(2*time.Hour))
	db.SaveTransaction(ctx, sellRest)
	if err := agg.OnTransactionWritten(ctx, db, sellRest); err != nil {
		t.Fatalf("持仓更新失败: %v", err)
	}

	pos, err := db.GetPosition(ctx, 1, 9)
	if err != nil {
		t.Fatalf("查询持仓失败: %v", err)
	}
	if pos != nil {
		t.Errorf("数量归零后持仓行应删除: %+v", pos)
	}
}

func TestOnTransactionWrittenSellWithoutPosition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agg := NewAggregator(db)

	// 无持仓时卖出不报错，交给重建兜底
	sell := makeTx(database.DirectionSell, "5", "100", "0", time.Now().UTC())
	db.SaveTransaction(ctx, sell)
	if err := agg.OnTransactionWritten(ctx, db, sell); err != nil {
		t.Fatalf("无持仓卖出不应报错: %v", err)
	}
}

func TestRebuild(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agg := NewAggregator(db)
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	txs := []*database.Transaction{
		makeTx(database.DirectionBuy, "10", "100", "5", base),
		makeTx(database.DirectionSell, "4", "120", "2", base.Add(time.Hour)),
		makeTx(database.DirectionBuy, "5", "110", "3", base.Add(2*time.Hour)),
	}
	for _, tx := range txs {
		if err := db.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("保存流水失败: %v", err)
		}
	}

	// 故意写入一行脏汇总
	dirty := &database.Position{
		AccountID: 1, InstrumentID: 9,
		Quantity: dec("999"), AvgCost: dec("1"), TotalInvested: dec("999"),
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := db.SavePosition(ctx, dirty); err != nil {
		t.Fatalf("写入脏数据失败: %v", err)
	}

	if err := agg.Rebuild(ctx, 1, 9); err != nil {
		t.Fatalf("重建失败: %v", err)
	}

	pos, _ := db.GetPosition(ctx, 1, 9)
	if pos == nil {
		t.Fatal("重建后持仓行应存在")
	}
	// 买 10 卖 4 买 5 = 11
	if !pos.Quantity.Equal(dec("11")) {
		t.Errorf("重建后数量错误: 期望 11, 得到 %s", pos.Quantity)
	}
	// 1005 − 402 + 553 = 1156
	if !pos.TotalInvested.Equal(dec("1156")) {
		t.Errorf("重建后总投入错误: 期望 1156, 得到 %s", pos.TotalInvested)
	}
}
