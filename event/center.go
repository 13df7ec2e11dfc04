package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tradebook/database"
	"tradebook/logger"
)

// EventCenter 事件中心
// 订阅事件总线，把事件持久化为可查询的记录，并按保留策略定期清理。
type EventCenter struct {
	db       database.Database
	eventBus *EventBus
	config   *EventCenterConfig
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// EventCenterConfig 事件中心配置
type EventCenterConfig struct {
	Enabled         bool
	CleanupInterval int // 清理间隔（小时）
	Retention       RetentionConfig
}

// RetentionConfig 保留策略配置
type RetentionConfig struct {
	CriticalDays     int
	WarningDays      int
	InfoDays         int
	CriticalMaxCount int
	WarningMaxCount  int
	InfoMaxCount     int
}

// NewEventCenter 创建事件中心
func NewEventCenter(db database.Database, eventBus *EventBus, config *EventCenterConfig) *EventCenter {
	ctx, cancel := context.WithCancel(context.Background())

	return &EventCenter{
		db:       db,
		eventBus: eventBus,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 启动事件中心
func (ec *EventCenter) Start() error {
	if !ec.config.Enabled {
		logger.Info("⏸️ 事件中心未启用")
		return nil
	}

	logger.Info("🚀 启动事件中心...")

	// 启动事件处理协程
	ec.wg.Add(1)
	go ec.processEvents()

	// 启动清理任务
	ec.wg.Add(1)
	go ec.cleanupTask()

	logger.Info("✅ 事件中心已启动")
	return nil
}

// Stop 停止事件中心
func (ec *EventCenter) Stop() {
	logger.Info("🛑 停止事件中心...")
	ec.cancel()
	ec.wg.Wait()
	logger.Info("✅ 事件中心已停止")
}

// processEvents 处理事件
func (ec *EventCenter) processEvents() {
	defer ec.wg.Done()

	eventCh := ec.eventBus.Subscribe()

	for {
		select {
		case <-ec.ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(event)
		}
	}
}

// handleEvent 处理单个事件
func (ec *EventCenter) handleEvent(event *Event) {
	if event == nil {
		return
	}

	// 获取事件元数据
	severity := GetEventSeverity(event.Type)
	source := GetEventSource(event.Type)
	title := GetEventTitle(event.Type)

	// 提取组合信息
	accountID := ec.extractInt64(event.Data, "account_id")
	instrumentID := ec.extractInt64(event.Data, "instrument_id")

	// 构建消息
	message := ec.buildMessage(event)

	// 序列化详细信息
	detailsJSON, err := json.Marshal(event.Data)
	if err != nil {
		logger.Warn("⚠️ 序列化事件详情失败: %v", err)
		detailsJSON = []byte("{}")
	}

	// 保存到数据库
	record := &database.EventRecord{
		Type:         string(event.Type),
		Severity:     string(severity),
		Source:       source,
		AccountID:    accountID,
		InstrumentID: instrumentID,
		Title:        title,
		Message:      message,
		Details:      string(detailsJSON),
		CreatedAt:    event.Timestamp,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ec.db.SaveEvent(ctx, record); err != nil {
		logger.Error("❌ 保存事件失败: %v", err)
	}
}

// extractInt64 从事件数据中提取整型字段
func (ec *EventCenter) extractInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// extractString 从事件数据中提取字符串字段
func (ec *EventCenter) extractString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// buildMessage 构建事件消息
func (ec *EventCenter) buildMessage(event *Event) string {
	switch event.Type {
	case EventTypeTransactionCreated, EventTypeTransactionUpdated, EventTypeTransactionDeleted:
		return ec.buildTransactionMessage(event)
	case EventTypeDataShortfall:
		return ec.buildShortfallMessage(event)
	case EventTypeRecalculationCompleted:
		return ec.buildRecalculationMessage(event)
	case EventTypePositionRebuilt:
		return fmt.Sprintf("组合 (%d, %d) 持仓汇总已重建",
			ec.extractInt64(event.Data, "account_id"),
			ec.extractInt64(event.Data, "instrument_id"))
	default:
		if msg, ok := event.Data["message"].(string); ok {
			return msg
		}
		return fmt.Sprintf("事件类型: %s", event.Type)
	}
}

// buildTransactionMessage 构建流水消息
func (ec *EventCenter) buildTransactionMessage(event *Event) string {
	direction := ec.extractString(event.Data, "direction")
	quantity := ec.extractString(event.Data, "quantity")
	price := ec.extractString(event.Data, "price")

	return fmt.Sprintf("组合 (%d, %d) %s %s @ %s",
		ec.extractInt64(event.Data, "account_id"),
		ec.extractInt64(event.Data, "instrument_id"),
		direction, quantity, price)
}

// buildShortfallMessage 构建数据缺口消息
func (ec *EventCenter) buildShortfallMessage(event *Event) string {
	uncovered := ec.extractString(event.Data, "uncovered")
	return fmt.Sprintf("流水 %d 有 %s 数量未被任何买入批次覆盖，按零成本计入",
		ec.extractInt64(event.Data, "transaction_id"), uncovered)
}

// buildRecalculationMessage 构建重算消息
func (ec *EventCenter) buildRecalculationMessage(event *Event) string {
	return fmt.Sprintf("组合 (%d, %d) 重算完成：%d 笔流水，%d 笔卖出，%d 处数据缺口",
		ec.extractInt64(event.Data, "account_id"),
		ec.extractInt64(event.Data, "instrument_id"),
		ec.extractInt64(event.Data, "transactions"),
		ec.extractInt64(event.Data, "sells"),
		ec.extractInt64(event.Data, "shortfalls"))
}

// cleanupTask 清理任务
func (ec *EventCenter) cleanupTask() {
	defer ec.wg.Done()

	// 首次等待1小时后再开始清理
	timer := time.NewTimer(1 * time.Hour)
	defer timer.Stop()

	for {
		select {
		case <-ec.ctx.Done():
			return
		case <-timer.C:
			ec.performCleanup()
			// 重置定时器
			timer.Reset(time.Duration(ec.config.CleanupInterval) * time.Hour)
		}
	}
}

// performCleanup 执行清理
func (ec *EventCenter) performCleanup() {
	logger.Info("🧹 开始清理旧事件...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	type rule struct {
		severity string
		maxCount int
		days     int
	}
	rules := []rule{
		{"critical", ec.config.Retention.CriticalMaxCount, ec.config.Retention.CriticalDays},
		{"warning", ec.config.Retention.WarningMaxCount, ec.config.Retention.WarningDays},
		{"info", ec.config.Retention.InfoMaxCount, ec.config.Retention.InfoDays},
	}

	for _, r := range rules {
		if err := ec.db.CleanupOldEvents(ctx, r.severity, r.maxCount, r.days); err != nil {
			logger.Error("❌ 清理 %s 事件失败: %v", r.severity, err)
		}
	}

	logger.Info("✅ 事件清理完成")
}

// PublishEvent 发布事件（便捷方法）
func (ec *EventCenter) PublishEvent(eventType EventType, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ec.eventBus.Publish(event)
}
