package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 流水指标
	transactionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebook_transaction_total",
			Help: "Total number of ledger transactions written",
		},
		[]string{"direction"},
	)

	transactionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradebook_transaction_deleted_total",
			Help: "Total number of ledger transactions deleted",
		},
	)

	// 账本指标
	realizedPnL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebook_realized_pnl_total",
			Help: "Cumulative realized profit and loss across all sells",
		},
	)

	shortfallTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradebook_data_shortfall_total",
			Help: "Number of sells matched against insufficient buy history",
		},
	)

	recalculationTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradebook_recalculation_total",
			Help: "Number of pair recalculations performed",
		},
	)

	// 编排层操作指标（计时装饰器写入）
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradebook_journal_operation_duration_seconds",
			Help:    "Journal operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"operation", "status"},
	)

	// 持仓指标
	openPositions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebook_open_positions",
			Help: "Number of open position rows",
		},
	)
)

// RecordTransaction 记录一笔流水写入
func RecordTransaction(direction string) {
	transactionTotal.WithLabelValues(direction).Inc()
}

// RecordTransactionDeleted 记录一笔流水删除
func RecordTransactionDeleted() {
	transactionDeleted.Inc()
}

// AddRealizedPnL 累加已实现盈亏
func AddRealizedPnL(v float64) {
	realizedPnL.Add(v)
}

// RecordShortfall 记录一次数据缺口降级
func RecordShortfall() {
	shortfallTotal.Inc()
}

// RecordRecalculation 记录一次组合重算
func RecordRecalculation() {
	recalculationTotal.Inc()
}

// ObserveOperation 记录编排层操作耗时
func ObserveOperation(operation string, elapsed time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	operationDuration.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

// SetOpenPositions 更新持仓行数
func SetOpenPositions(n float64) {
	openPositions.Set(n)
}
