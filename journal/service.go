package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebook/crypto"
	"tradebook/database"
	"tradebook/event"
	"tradebook/ledger"
	"tradebook/lock"
	"tradebook/logger"
	"tradebook/metrics"
	"tradebook/position"
)

// Journal 流水编排接口（web 层的唯一入口）
type Journal interface {
	CreateTransaction(ctx context.Context, tx *database.Transaction) error
	UpdateTransaction(ctx context.Context, tx *database.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	GetTransaction(ctx context.Context, id int64) (*database.Transaction, error)
	ListTransactions(ctx context.Context, filter *database.TransactionFilter) ([]*database.Transaction, error)
	GetPosition(ctx context.Context, accountID, instrumentID int64) (*database.Position, error)
	ListPositions(ctx context.Context, accountID int64) ([]*database.Position, error)
	Recalculate(ctx context.Context, accountID, instrumentID int64) (*ledger.Result, error)
	MigrateAll(ctx context.Context) (*MigrateResult, error)
}

// MigrateResult 批量重算统计
type MigrateResult struct {
	Pairs        int `json:"pairs"`
	Recalculated int `json:"recalculated"`
	Failed       int `json:"failed"`
	Shortfalls   int `json:"shortfalls"`
}

// Config 编排服务配置
type Config struct {
	LockTTL            time.Duration // 组合锁的过期时间
	MigrateParallelism int           // 批量重算并行度（组合粒度）
}

// Service 流水编排服务
// 账本核心（匹配/应用/重算）与持仓汇总不做日志、不持有锁；
// 组合级串行化、数据缺口告警、显式时间戳、备注加解密和事件发布都收敛在这一层。
type Service struct {
	db        database.Database
	locker    lock.DistributedLock
	recalc    *ledger.Recalculator
	positions *position.Aggregator
	events    *event.EventBus       // 可选
	cipher    *crypto.FieldCipher   // 可选，备注字段加密
	config    Config

	positionHook func(accountID, instrumentID int64) // 持仓变化通知（WebSocket 推送）
}

// NewService 创建编排服务
func NewService(db database.Database, locker lock.DistributedLock, events *event.EventBus, cipher *crypto.FieldCipher, config Config) *Service {
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Second
	}
	if config.MigrateParallelism <= 0 {
		config.MigrateParallelism = 4
	}
	return &Service{
		db:        db,
		locker:    locker,
		recalc:    ledger.NewRecalculator(db),
		positions: position.NewAggregator(db),
		events:    events,
		cipher:    cipher,
		config:    config,
	}
}

// SetPositionChangedHook 设置持仓变化通知回调
func (s *Service) SetPositionChangedHook(fn func(accountID, instrumentID int64)) {
	s.positionHook = fn
}

// pairKey 组合锁键
func pairKey(accountID, instrumentID int64) string {
	return fmt.Sprintf("pair:%d:%d", accountID, instrumentID)
}

// validateTransaction 流水入参校验
func validateTransaction(tx *database.Transaction) error {
	if err := tx.Direction.Valid(); err != nil {
		return err
	}
	if tx.AccountID <= 0 {
		return fmt.Errorf("account id is required")
	}
	if tx.InstrumentID <= 0 {
		return fmt.Errorf("instrument id is required")
	}
	if !tx.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive")
	}
	if !tx.Price.IsPositive() {
		return fmt.Errorf("price must be positive")
	}
	if tx.Commission.IsNegative() {
		return fmt.Errorf("commission must not be negative")
	}
	if tx.ExecutedAt.IsZero() {
		return fmt.Errorf("executed_at is required")
	}
	return nil
}

// CreateTransaction 创建流水
// SELL 在同一个数据库事务内完成：写入流水 → FIFO 匹配 → 应用匹配结果 → 持仓增量更新。
// BUY 跳过匹配，仅初始化剩余数量并更新持仓。
func (s *Service) CreateTransaction(ctx context.Context, tx *database.Transaction) error {
	if err := validateTransaction(tx); err != nil {
		return err
	}
	if err := s.encryptNote(tx); err != nil {
		return err
	}

	key := pairKey(tx.AccountID, tx.InstrumentID)
	if err := s.locker.Lock(ctx, key, s.config.LockTTL); err != nil {
		return fmt.Errorf("acquire pair lock %s: %w", key, err)
	}
	defer s.locker.Unlock(ctx, key)

	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	tx.CostBasis = decimal.NullDecimal{}
	tx.RealizedPnL = decimal.NullDecimal{}
	if tx.Direction == database.DirectionBuy {
		tx.RemainingQuantity = tx.Quantity
	} else {
		tx.RemainingQuantity = decimal.Zero
	}

	var match *ledger.MatchResult

	dbTx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}

	err = func() error {
		if err := dbTx.SaveTransaction(ctx, tx); err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}

		if tx.Direction == database.DirectionSell {
			lots, err := dbTx.GetOpenLots(ctx, tx.AccountID, tx.InstrumentID, tx.ExecutedAt, tx.ID)
			if err != nil {
				return fmt.Errorf("load open lots: %w", err)
			}
			match, err = ledger.Match(tx, lots)
			if err != nil {
				return err
			}
			if err := ledger.ApplyTo(ctx, dbTx, tx, match); err != nil {
				return err
			}
		}

		return s.positions.OnTransactionWritten(ctx, dbTx, tx)
	}()
	if err != nil {
		dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}

	logger.Info("✅ 流水已创建: id=%d 组合=(%d,%d) %s %s @ %s",
		tx.ID, tx.AccountID, tx.InstrumentID, tx.Direction, tx.Quantity, tx.Price)

	metrics.RecordTransaction(string(tx.Direction))
	if match != nil {
		pnl, _ := match.RealizedPnL.Float64()
		metrics.AddRealizedPnL(pnl)
		if match.Uncovered.IsPositive() {
			s.reportShortfall(tx.ID, tx.AccountID, tx.InstrumentID, match.Uncovered)
		}
	}

	s.publish(event.EventTypeTransactionCreated, map[string]interface{}{
		"transaction_id": tx.ID,
		"account_id":     tx.AccountID,
		"instrument_id":  tx.InstrumentID,
		"direction":      string(tx.Direction),
		"quantity":       tx.Quantity.String(),
		"price":          tx.Price.String(),
	})
	s.notifyPositionChanged(tx.AccountID, tx.InstrumentID)
	return nil
}

// UpdateTransaction 编辑流水
// 历史被编辑后该组合的 FIFO 状态全部失效：编辑、重算、持仓重建在同一个事务内完成。
// 组合与方向不可修改，需要时删除重建。
func (s *Service) UpdateTransaction(ctx context.Context, tx *database.Transaction) error {
	if err := validateTransaction(tx); err != nil {
		return err
	}

	existing, err := s.db.GetTransaction(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("load transaction %d: %w", tx.ID, err)
	}
	if existing.AccountID != tx.AccountID || existing.InstrumentID != tx.InstrumentID || existing.Direction != tx.Direction {
		return fmt.Errorf("account, instrument and direction of transaction %d cannot be changed", tx.ID)
	}
	if err := s.encryptNote(tx); err != nil {
		return err
	}

	key := pairKey(tx.AccountID, tx.InstrumentID)
	if err := s.locker.Lock(ctx, key, s.config.LockTTL); err != nil {
		return fmt.Errorf("acquire pair lock %s: %w", key, err)
	}
	defer s.locker.Unlock(ctx, key)

	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = time.Now().UTC()
	// 派生字段交给重放重建
	tx.CostBasis = decimal.NullDecimal{}
	tx.RealizedPnL = decimal.NullDecimal{}
	if tx.Direction == database.DirectionBuy {
		tx.RemainingQuantity = tx.Quantity
	} else {
		tx.RemainingQuantity = decimal.Zero
	}

	result, err := s.withRecalculatedPair(ctx, tx.AccountID, tx.InstrumentID, func(dbTx database.Tx) error {
		return dbTx.UpdateTransaction(ctx, tx)
	})
	if err != nil {
		return err
	}

	logger.Info("📝 流水已更新: id=%d 组合=(%d,%d)", tx.ID, tx.AccountID, tx.InstrumentID)
	s.reportReplay(tx.AccountID, tx.InstrumentID, result)
	s.publish(event.EventTypeTransactionUpdated, map[string]interface{}{
		"transaction_id": tx.ID,
		"account_id":     tx.AccountID,
		"instrument_id":  tx.InstrumentID,
		"direction":      string(tx.Direction),
		"quantity":       tx.Quantity.String(),
		"price":          tx.Price.String(),
	})
	s.notifyPositionChanged(tx.AccountID, tx.InstrumentID)
	return nil
}

// DeleteTransaction 删除流水，随后重算该组合并重建持仓
func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	existing, err := s.db.GetTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("load transaction %d: %w", id, err)
	}

	key := pairKey(existing.AccountID, existing.InstrumentID)
	if err := s.locker.Lock(ctx, key, s.config.LockTTL); err != nil {
		return fmt.Errorf("acquire pair lock %s: %w", key, err)
	}
	defer s.locker.Unlock(ctx, key)

	result, err := s.withRecalculatedPair(ctx, existing.AccountID, existing.InstrumentID, func(dbTx database.Tx) error {
		return dbTx.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return err
	}

	logger.Info("🗑️ 流水已删除: id=%d 组合=(%d,%d)", id, existing.AccountID, existing.InstrumentID)
	metrics.RecordTransactionDeleted()
	s.reportReplay(existing.AccountID, existing.InstrumentID, result)
	s.publish(event.EventTypeTransactionDeleted, map[string]interface{}{
		"transaction_id": id,
		"account_id":     existing.AccountID,
		"instrument_id":  existing.InstrumentID,
		"direction":      string(existing.Direction),
		"quantity":       existing.Quantity.String(),
		"price":          existing.Price.String(),
	})
	s.notifyPositionChanged(existing.AccountID, existing.InstrumentID)
	return nil
}

// withRecalculatedPair 在单个事务内执行修改，随后重算组合并重建持仓
func (s *Service) withRecalculatedPair(ctx context.Context, accountID, instrumentID int64, mutate func(dbTx database.Tx) error) (*ledger.Result, error) {
	dbTx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin pair tx: %w", err)
	}

	var result *ledger.Result
	err = func() error {
		if err := mutate(dbTx); err != nil {
			return err
		}
		result, err = s.recalc.RecalculateTo(ctx, dbTx, accountID, instrumentID)
		if err != nil {
			return err
		}
		return s.positions.RebuildTo(ctx, dbTx, accountID, instrumentID)
	}()
	if err != nil {
		dbTx.Rollback()
		return nil, err
	}
	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pair tx: %w", err)
	}

	metrics.RecordRecalculation()
	return result, nil
}

// Recalculate 重算一个组合并重建其持仓汇总
func (s *Service) Recalculate(ctx context.Context, accountID, instrumentID int64) (*ledger.Result, error) {
	key := pairKey(accountID, instrumentID)
	if err := s.locker.Lock(ctx, key, s.config.LockTTL); err != nil {
		return nil, fmt.Errorf("acquire pair lock %s: %w", key, err)
	}
	defer s.locker.Unlock(ctx, key)

	result, err := s.withRecalculatedPair(ctx, accountID, instrumentID, func(database.Tx) error { return nil })
	if err != nil {
		return nil, err
	}

	logger.Info("🔄 组合 (%d,%d) 重算完成: %d 笔流水, %d 笔卖出",
		accountID, instrumentID, result.Transactions, result.Sells)
	s.reportReplay(accountID, instrumentID, result)
	s.publish(event.EventTypeRecalculationCompleted, map[string]interface{}{
		"account_id":    accountID,
		"instrument_id": instrumentID,
		"transactions":  result.Transactions,
		"sells":         result.Sells,
		"shortfalls":    len(result.Shortfalls),
	})
	s.publish(event.EventTypePositionRebuilt, map[string]interface{}{
		"account_id":    accountID,
		"instrument_id": instrumentID,
	})
	s.notifyPositionChanged(accountID, instrumentID)
	return result, nil
}

// MigrateAll 批量重算账本中的全部组合
// 组合之间无共享状态，按组合粒度并行；单个组合内部保持顺序重放。
func (s *Service) MigrateAll(ctx context.Context) (*MigrateResult, error) {
	pairs, err := s.db.ListPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}

	logger.Info("🚀 开始批量重算: %d 个组合 (并行度 %d)", len(pairs), s.config.MigrateParallelism)

	result := &MigrateResult{Pairs: len(pairs)}
	sem := make(chan struct{}, s.config.MigrateParallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, p := range pairs {
		wg.Add(1)
		sem <- struct{}{}
		go func(p database.Pair) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := s.Recalculate(ctx, p.AccountID, p.InstrumentID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				if firstErr == nil {
					firstErr = fmt.Errorf("recalculate pair (%d, %d): %w", p.AccountID, p.InstrumentID, err)
				}
				return
			}
			result.Recalculated++
			result.Shortfalls += len(res.Shortfalls)
		}(p)
	}
	wg.Wait()

	logger.Info("✅ 批量重算完成: %d 组合, 成功 %d, 失败 %d, 数据缺口 %d",
		result.Pairs, result.Recalculated, result.Failed, result.Shortfalls)
	return result, firstErr
}

// GetTransaction 读取单笔流水（备注解密后返回）
func (s *Service) GetTransaction(ctx context.Context, id int64) (*database.Transaction, error) {
	tx, err := s.db.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	s.decryptNote(tx)
	return tx, nil
}

// ListTransactions 查询流水列表（备注解密后返回）
func (s *Service) ListTransactions(ctx context.Context, filter *database.TransactionFilter) ([]*database.Transaction, error) {
	txs, err := s.db.GetTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		s.decryptNote(tx)
	}
	return txs, nil
}

// GetPosition 读取单个组合的持仓汇总，不存在时返回 (nil, nil)
func (s *Service) GetPosition(ctx context.Context, accountID, instrumentID int64) (*database.Position, error) {
	return s.db.GetPosition(ctx, accountID, instrumentID)
}

// ListPositions 读取持仓汇总列表
func (s *Service) ListPositions(ctx context.Context, accountID int64) ([]*database.Position, error) {
	return s.db.ListPositions(ctx, accountID)
}

// encryptNote 备注落库前加密
func (s *Service) encryptNote(tx *database.Transaction) error {
	if s.cipher == nil || tx.Note == "" {
		return nil
	}
	encrypted, err := s.cipher.EncryptString(tx.Note)
	if err != nil {
		return fmt.Errorf("encrypt note: %w", err)
	}
	tx.Note = encrypted
	return nil
}

// decryptNote 备注读取后解密，失败时保留密文并告警
func (s *Service) decryptNote(tx *database.Transaction) {
	if s.cipher == nil || tx.Note == "" {
		return
	}
	plain, err := s.cipher.DecryptString(tx.Note)
	if err != nil {
		logger.Warn("⚠️ 解密流水 %d 备注失败: %v", tx.ID, err)
		return
	}
	tx.Note = plain
}

// reportShortfall 数据缺口降级上报：日志 + 事件 + 指标
func (s *Service) reportShortfall(transactionID, accountID, instrumentID int64, uncovered decimal.Decimal) {
	logger.Warn("⚠️ 数据缺口: 流水 %d 有 %s 数量未被买入批次覆盖，按零成本计入（已实现盈亏偏高）",
		transactionID, uncovered)
	metrics.RecordShortfall()
	s.publish(event.EventTypeDataShortfall, map[string]interface{}{
		"transaction_id": transactionID,
		"account_id":     accountID,
		"instrument_id":  instrumentID,
		"uncovered":      uncovered.String(),
	})
}

// reportReplay 上报重放中发现的数据缺口
func (s *Service) reportReplay(accountID, instrumentID int64, result *ledger.Result) {
	for _, sf := range result.Shortfalls {
		s.reportShortfall(sf.TransactionID, accountID, instrumentID, sf.Uncovered)
	}
}

// publish 发布事件（事件总线未配置时为空操作）
func (s *Service) publish(eventType event.EventType, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(&event.Event{Type: eventType, Timestamp: time.Now(), Data: data})
}

// notifyPositionChanged 触发持仓变化通知并刷新持仓行数指标
func (s *Service) notifyPositionChanged(accountID, instrumentID int64) {
	if s.positionHook != nil {
		s.positionHook(accountID, instrumentID)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		positions, err := s.db.ListPositions(ctx, 0)
		if err != nil {
			return
		}
		metrics.SetOpenPositions(float64(len(positions)))
	}()
}
