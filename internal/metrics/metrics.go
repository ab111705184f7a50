package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zo_keeper"

// expvar：便于本地 curl /debug/vars 快速查看
var (
	ScanCycles      = expvar.NewInt("scan_cycles")
	ScanErrors      = expvar.NewInt("scan_errors")
	RefreshRuns     = expvar.NewInt("refresh_runs")
	RefreshErrors   = expvar.NewInt("refresh_errors")
	TrackedAccounts = expvar.NewInt("tracked_accounts")
)

// AccountsChecked 每轮检查的账户数
var AccountsChecked = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "scan",
	Name:      "accounts_checked_total",
	Help:      "Margin accounts evaluated by the solvency check",
})

// Candidates 判定为可清算的账户数
var Candidates = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "scan",
	Name:      "liquidation_candidates_total",
	Help:      "Accounts classified as liquidation candidates",
})

// CycleDuration 单轮检查耗时
var CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "scan",
	Name:      "cycle_duration_seconds",
	Help:      "Duration of one full account-universe check",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
})

// BranchDecisions 策略选择结果
var BranchDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "liquidator",
	Name:      "branch_decisions_total",
	Help:      "Branch selected per triaged account",
}, []string{"branch"})

// Reductions 因敞口超限而减半的次数
var Reductions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "liquidator",
	Name:      "size_reductions_total",
	Help:      "Transfer size halvings after over-exposure rejections",
}, []string{"branch"})

// Failures 终止性失败
var Failures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "liquidator",
	Name:      "failures_total",
	Help:      "Terminal failures per branch",
}, []string{"branch"})

// Swaps 再平衡兑换结果
var Swaps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "liquidator",
	Name:      "swaps_total",
	Help:      "Rebalancing swaps by outcome",
}, []string{"outcome"})
