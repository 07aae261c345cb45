package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// expvar 计数（/debug/vars），便于无 Prometheus 时快速查看
var (
	MonitorCycles   = expvar.NewInt("monitor_cycles")
	SnapshotSaves   = expvar.NewInt("registry_snapshot_saves")
	SnapshotErrors  = expvar.NewInt("registry_snapshot_errors")
	LaddersInFlight = expvar.NewInt("ladders_in_flight")
)

// Registry 独立的 Prometheus registry，避免全局 DefaultRegisterer 的副作用
var Registry = prometheus.NewRegistry()

var (
	// ProbesTotal 查价次数，按场所和结果（matched|unmatched|not_authenticated|failure）
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitbot_probes_total",
			Help: "Price probes by venue and outcome",
		},
		[]string{"venue", "outcome"},
	)

	// OrdersTotal 委托次数，按场所、结果（accepted|rejected）和是否涨停委托
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitbot_orders_total",
			Help: "Limit orders submitted by ladders",
		},
		[]string{"venue", "status", "circuit"},
	)

	// LaddersTotal 阶梯终态，按场所和结果（success|failed|circuit）
	LaddersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitbot_ladders_total",
			Help: "Completed order ladders by venue and result",
		},
		[]string{"venue", "result"},
	)

	// TokenRefreshes TMS token 刷新次数
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitbot_token_refreshes_total",
			Help: "Token refresh attempts after 401",
		},
		[]string{"result"},
	)

	// CycleDuration 一轮查价耗时
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "circuitbot_cycle_duration_seconds",
			Help:    "Duration of one round-robin probe cycle",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Monitoring 监控是否在运行（0/1）
	Monitoring = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitbot_monitoring",
			Help: "1 while the monitor loop is running",
		},
	)
)

func init() {
	Registry.MustRegister(
		ProbesTotal,
		OrdersTotal,
		LaddersTotal,
		TokenRefreshes,
		CycleDuration,
		Monitoring,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// BoolLabel 把布尔值转为标签值
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
