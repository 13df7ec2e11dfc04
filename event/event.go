package event

import (
	"time"

	"tradebook/logger"
)

// EventType 事件类型（封闭集合，新增类型必须同步补齐元数据映射）
type EventType string

const (
	EventTypeTransactionCreated     EventType = "transaction_created"
	EventTypeTransactionUpdated     EventType = "transaction_updated"
	EventTypeTransactionDeleted     EventType = "transaction_deleted"
	EventTypeDataShortfall          EventType = "data_shortfall"
	EventTypeRecalculationCompleted EventType = "recalculation_completed"
	EventTypePositionRebuilt        EventType = "position_rebuilt"
	EventTypeSystemStart            EventType = "system_start"
	EventTypeSystemStop             EventType = "system_stop"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// GetEventSeverity 获取事件严重程度
func GetEventSeverity(t EventType) EventSeverity {
	switch t {
	case EventTypeDataShortfall:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// GetEventSource 获取事件来源
func GetEventSource(t EventType) string {
	switch t {
	case EventTypeTransactionCreated, EventTypeTransactionUpdated, EventTypeTransactionDeleted:
		return "journal"
	case EventTypeDataShortfall, EventTypeRecalculationCompleted:
		return "ledger"
	case EventTypePositionRebuilt:
		return "position"
	default:
		return "system"
	}
}

// GetEventTitle 获取事件标题
func GetEventTitle(t EventType) string {
	switch t {
	case EventTypeTransactionCreated:
		return "流水已创建"
	case EventTypeTransactionUpdated:
		return "流水已更新"
	case EventTypeTransactionDeleted:
		return "流水已删除"
	case EventTypeDataShortfall:
		return "卖出数量超出可匹配历史"
	case EventTypeRecalculationCompleted:
		return "组合重算完成"
	case EventTypePositionRebuilt:
		return "持仓汇总已重建"
	case EventTypeSystemStart:
		return "系统启动"
	case EventTypeSystemStop:
		return "系统停止"
	default:
		return string(t)
	}
}

// Event 事件结构
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// EventBus 事件总线
type EventBus struct {
	eventCh    chan *Event
	bufferSize int
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000 // 默认1000
	}
	return &EventBus{
		eventCh:    make(chan *Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞）
func (eb *EventBus) Publish(event *Event) {
	if event == nil {
		return
	}

	// 设置时间戳
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventCh <- event:
		// 成功发布
	default:
		// Channel 满了，记录警告但不阻塞
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
	}
}

// Subscribe 订阅事件（返回 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.eventCh
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	close(eb.eventCh)
}
