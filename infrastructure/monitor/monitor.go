// Package monitor 汇总 Prometheus 指标：扫描、会话、订单、重试与交易所请求。
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pump-trader-go/order"
)

// Monitor Prometheus 指标收集器，使用私有 registry。
type Monitor struct {
	registry *prometheus.Registry

	// 扫描指标
	scanCycles     prometheus.Counter
	scanErrors     prometheus.Counter
	scanLatency    prometheus.Histogram
	anomalies      *prometheus.CounterVec
	trackedSymbols prometheus.Gauge
	suspended      prometheus.Gauge

	// 会话指标
	activeSessions  *prometheus.GaugeVec
	sessionOutcomes *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	estimatedProfit prometheus.Counter
	leakedOrders    prometheus.Counter

	// 订单指标
	orders  *prometheus.CounterVec
	retries *prometheus.CounterVec

	// 交易所请求
	restRequests *prometheus.CounterVec
	restErrors   *prometheus.CounterVec
	restLatency  *prometheus.HistogramVec
}

// Config 监控配置。
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Namespace: "pump",
		Subsystem: "trader",
	}
}

// New 创建 Monitor。
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	ns, sub := cfg.Namespace, cfg.Subsystem

	return &Monitor{
		registry: reg,

		scanCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "scan_cycles_total",
			Help: "扫描轮数",
		}),
		scanErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "scan_errors_total",
			Help: "扫描失败轮数",
		}),
		scanLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "scan_latency_seconds",
			Help:    "单轮扫描耗时（秒）",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "anomalies_total",
			Help: "检测到的异动事件",
		}, []string{"symbol"}),
		trackedSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "tracked_symbols",
			Help: "已建立基线的交易对数量",
		}),
		suspended: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "scanner_suspended",
			Help: "扫描是否处于节流状态（1=是）",
		}),

		activeSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "active_sessions",
			Help: "运行中的会话数",
		}, []string{"kind"}),
		sessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "session_outcomes_total",
			Help: "会话结束结果",
		}, []string{"kind", "result"}),
		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "session_duration_seconds",
			Help:    "会话时长（秒）",
			Buckets: []float64{1, 5, 20, 60, 120, 300, 900, 3600},
		}, []string{"kind"}),
		estimatedProfit: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "estimated_profit_usd_total",
			Help: "止盈成交的估算收益（美元）",
		}),
		leakedOrders: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "leaked_orders_total",
			Help: "会话结束时仍挂在交易所上的订单数",
		}),

		orders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "orders_total",
			Help: "订单事件（placed/canceled/rejected）",
		}, []string{"side", "event"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "retries_total",
			Help: "按操作统计的重试次数",
		}, []string{"op"}),

		restRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rest_requests_total",
			Help: "交易所 REST 请求数",
		}, []string{"action"}),
		restErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rest_errors_total",
			Help: "交易所 REST 请求错误数",
		}, []string{"action"}),
		restLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "rest_latency_seconds",
			Help:    "交易所 REST 请求延迟（秒）",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"action"}),
	}
}

// ObserveScan 记录一轮扫描。
func (m *Monitor) ObserveScan(d time.Duration, err error) {
	m.scanCycles.Inc()
	m.scanLatency.Observe(d.Seconds())
	if err != nil {
		m.scanErrors.Inc()
	}
}

// ObserveAnomaly 记录异动事件。
func (m *Monitor) ObserveAnomaly(symbol string) {
	m.anomalies.WithLabelValues(symbol).Inc()
}

func (m *Monitor) SetTracked(n int) {
	m.trackedSymbols.Set(float64(n))
}

func (m *Monitor) SetSuspended(v bool) {
	if v {
		m.suspended.Set(1)
		return
	}
	m.suspended.Set(0)
}

// ObserveRetry 记录一次重试。
func (m *Monitor) ObserveRetry(op string) {
	m.retries.WithLabelValues(op).Inc()
}

// ObserveOrder 记录订单事件。
func (m *Monitor) ObserveOrder(side order.Side, event string) {
	m.orders.WithLabelValues(string(side), event).Inc()
}

// SessionStarted 会话启动。
func (m *Monitor) SessionStarted(kind string) {
	m.activeSessions.WithLabelValues(kind).Inc()
}

// SessionFinished 会话结束。
func (m *Monitor) SessionFinished(kind, result string, d time.Duration, profit float64, leaked int) {
	m.activeSessions.WithLabelValues(kind).Dec()
	m.sessionOutcomes.WithLabelValues(kind, result).Inc()
	m.sessionDuration.WithLabelValues(kind).Observe(d.Seconds())
	if profit > 0 {
		m.estimatedProfit.Add(profit)
	}
	if leaked > 0 {
		m.leakedOrders.Add(float64(leaked))
	}
}

func (m *Monitor) RecordRESTRequest(action string) {
	m.restRequests.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTError(action string) {
	m.restErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

// Handler 返回暴露指标的 HTTP handler。
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回 prometheus registry。
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
