package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebook_goroutines",
			Help: "Number of goroutines",
		},
	)

	heapAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebook_heap_alloc_bytes",
			Help: "Heap memory allocated in bytes",
		},
	)

	systemCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebook_system_cpu_percent",
			Help: "System CPU usage percent",
		},
	)

	systemMemPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebook_system_memory_percent",
			Help: "System memory usage percent",
		},
	)
)

// SystemMetricsCollector 系统指标采集器
type SystemMetricsCollector struct {
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSystemMetricsCollector 创建系统指标采集器
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	ctx, cancel := context.WithCancel(context.Background())
	return &SystemMetricsCollector{
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 启动采集
func (smc *SystemMetricsCollector) Start() {
	go smc.collectLoop()
}

// Stop 停止采集
func (smc *SystemMetricsCollector) Stop() {
	if smc.cancel != nil {
		smc.cancel()
	}
}

// collectLoop 采集循环
func (smc *SystemMetricsCollector) collectLoop() {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	// 立即采集一次
	smc.collect()

	for {
		select {
		case <-smc.ctx.Done():
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

// collect 采集系统指标
func (smc *SystemMetricsCollector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	goroutineCount.Set(float64(runtime.NumGoroutine()))
	heapAllocBytes.Set(float64(m.Alloc))

	// CPU 使用率（非阻塞采样，取上次采样以来的平均值）
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		systemCPUPercent.Set(percents[0])
	}

	// 系统内存使用率
	if vm, err := mem.VirtualMemory(); err == nil {
		systemMemPercent.Set(vm.UsedPercent)
	}
}
