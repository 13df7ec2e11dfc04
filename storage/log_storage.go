package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradebook/utils"
)

// LogStorage 日志的 SQLite 存储
// 写入走异步批量通道，查询与清理直接走数据库。
type LogStorage struct {
	db     *sql.DB
	mu     sync.RWMutex
	logCh  chan *logEntry
	closed bool

	subscribers []chan *LogRecord // 实时推送订阅者
	subMu       sync.RWMutex
}

// logEntry 待写入的日志条目
type logEntry struct {
	level     string
	message   string
	timestamp time.Time
}

// LogRecord 日志记录
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// LogQueryParams 日志查询参数
type LogQueryParams struct {
	StartTime time.Time
	EndTime   time.Time
	Level     string
	Keyword   string
	Limit     int
	Offset    int
}

// NewLogStorage 创建日志存储
func NewLogStorage(path string) (*LogStorage, error) {
	// WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开日志数据库失败: %w", err)
	}

	// SQLite 单写入者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ls := &LogStorage{
		db:    db,
		logCh: make(chan *logEntry, 500),
	}

	if err := ls.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建日志表失败: %w", err)
	}

	go ls.processLogs()

	return ls, nil
}

// createTable 创建日志表
func (ls *LogStorage) createTable() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
	`
	_, err := ls.db.Exec(ddl)
	return err
}

// WriteLog 写入日志（异步，不阻塞）
func (ls *LogStorage) WriteLog(level, message string) {
	if ls.closed {
		return
	}

	entry := &logEntry{
		level:     level,
		message:   message,
		timestamp: utils.NowUTC(),
	}

	select {
	case ls.logCh <- entry:
	default:
		// 队列满了，丢弃（日志存储不能反压主流程）
	}
}

// processLogs 异步批量写入循环
func (ls *LogStorage) processLogs() {
	buffer := make([]*logEntry, 0, 100)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		ls.mu.Lock()
		ls.batchInsert(buffer)
		ls.mu.Unlock()
		buffer = buffer[:0]
	}

	for {
		select {
		case entry, ok := <-ls.logCh:
			if !ok {
				flush()
				return
			}
			buffer = append(buffer, entry)
			if len(buffer) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// batchInsert 在单个事务内批量插入
func (ls *LogStorage) batchInsert(entries []*logEntry) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO logs (timestamp, level, message) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	inserted := make([]*LogRecord, 0, len(entries))
	for _, entry := range entries {
		result, err := stmt.Exec(entry.timestamp, entry.level, entry.message)
		if err != nil {
			return err
		}
		id, _ := result.LastInsertId()
		inserted = append(inserted, &LogRecord{
			ID:        id,
			Timestamp: entry.timestamp,
			Level:     entry.level,
			Message:   entry.message,
		})
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	ls.notifySubscribers(inserted)
	return nil
}

// Subscribe 订阅日志实时推送
func (ls *LogStorage) Subscribe() chan *LogRecord {
	ls.subMu.Lock()
	defer ls.subMu.Unlock()

	ch := make(chan *LogRecord, 100)
	ls.subscribers = append(ls.subscribers, ch)

	// 限制订阅者数量，超出时淘汰最旧的
	const maxSubscribers = 100
	if len(ls.subscribers) > maxSubscribers {
		oldest := ls.subscribers[0]
		close(oldest)
		ls.subscribers = ls.subscribers[1:]
	}

	return ch
}

// Unsubscribe 取消订阅
func (ls *LogStorage) Unsubscribe(ch chan *LogRecord) {
	ls.subMu.Lock()
	defer ls.subMu.Unlock()

	for i, sub := range ls.subscribers {
		if sub == ch {
			ls.subscribers = append(ls.subscribers[:i], ls.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// notifySubscribers 异步推送给所有订阅者
func (ls *LogStorage) notifySubscribers(records []*LogRecord) {
	ls.subMu.RLock()
	subscribers := make([]chan *LogRecord, len(ls.subscribers))
	copy(subscribers, ls.subscribers)
	ls.subMu.RUnlock()

	go func() {
		for _, record := range records {
			for _, sub := range subscribers {
				select {
				case sub <- record:
				default:
					// 订阅者消费不过来，跳过
				}
			}
		}
	}()
}

// GetLogs 查询日志，返回记录和总数
func (ls *LogStorage) GetLogs(params LogQueryParams) ([]*LogRecord, int, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	where := []string{"1=1"}
	args := []interface{}{}

	if !params.StartTime.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, params.StartTime)
	}
	if !params.EndTime.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, params.EndTime)
	}
	if params.Level != "" {
		where = append(where, "level = ?")
		args = append(args, params.Level)
	}
	if params.Keyword != "" {
		where = append(where, "message LIKE ?")
		args = append(args, "%"+params.Keyword+"%")
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM logs WHERE %s", whereClause)
	if err := ls.db.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("查询日志总数失败: %w", err)
	}

	if params.Limit <= 0 {
		params.Limit = 100
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}

	querySQL := fmt.Sprintf(`
		SELECT id, timestamp, level, message
		FROM logs
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	args = append(args, params.Limit, params.Offset)

	rows, err := ls.db.Query(querySQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("查询日志失败: %w", err)
	}
	defer rows.Close()

	var records []*LogRecord
	for rows.Next() {
		var record LogRecord
		if err := rows.Scan(&record.ID, &record.Timestamp, &record.Level, &record.Message); err != nil {
			continue
		}
		records = append(records, &record)
	}

	return records, total, nil
}

// CleanOldLogs 清理超过指定天数的日志
func (ls *LogStorage) CleanOldLogs(days int) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -days)
	_, err := ls.db.Exec(`DELETE FROM logs WHERE timestamp < ?`, cutoff)
	return err
}

// Vacuum 回收 SQLite 空间
func (ls *LogStorage) Vacuum() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	_, err := ls.db.Exec("VACUUM")
	return err
}

// Close 关闭日志存储
func (ls *LogStorage) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.closed {
		return nil
	}

	ls.closed = true
	close(ls.logCh)

	ls.subMu.Lock()
	for _, sub := range ls.subscribers {
		close(sub)
	}
	ls.subscribers = nil
	ls.subMu.Unlock()

	// 给写入协程留出刷新缓冲区的时间
	time.Sleep(100 * time.Millisecond)

	return ls.db.Close()
}
