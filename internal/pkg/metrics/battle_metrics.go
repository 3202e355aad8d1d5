// File: internal/pkg/metrics/battle_metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BattleMetrics 战斗业务指标收集器
type BattleMetrics struct {
	// 当前进行中的战斗会话数（Gauge 类型，可增可减）
	ActiveSessions *prometheus.GaugeVec

	// 战斗总数（按结果分组：victory/defeat/fled/timedOut）
	BattlesTotal *prometheus.CounterVec

	// 单次玩家行动处理耗时直方图
	ActionDuration *prometheus.HistogramVec

	// 单次伤害数值分布（按来源分组：player/opponent）
	DamageDealt *prometheus.HistogramVec

	// 战斗回合数分布
	BattleRounds *prometheus.HistogramVec
}

var (
	// DefaultBattleMetrics 默认的战斗指标实例
	DefaultBattleMetrics *BattleMetrics
)

// ActionBuckets 是针对行动处理耗时优化的 buckets
// 行动解析为纯内存计算, 预期亚毫秒为主
// 单位：秒
var ActionBuckets = []float64{
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.5,    // 500ms
}

// DamageBuckets 覆盖常见伤害区间
var DamageBuckets = []float64{1, 5, 10, 20, 40, 80, 160, 320}

// RoundBuckets 覆盖常见战斗长度
var RoundBuckets = []float64{1, 2, 3, 5, 8, 13, 21, 34}

// init 初始化默认指标
func init() {
	DefaultBattleMetrics = NewBattleMetrics("fable")
}

// NewBattleMetrics 创建新的战斗指标收集器
func NewBattleMetrics(namespace string) *BattleMetrics {
	return NewBattleMetricsWithRegistry(namespace, GetRegisterer())
}

// NewBattleMetricsWithRegistry 创建新的战斗指标收集器（使用自定义注册表）
func NewBattleMetricsWithRegistry(namespace string, registerer prometheus.Registerer) *BattleMetrics {
	factory := promauto.With(registerer)

	return &BattleMetrics{
		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "battle",
				Name:      "active_sessions",
				Help:      "Current number of active battle sessions",
			},
			[]string{"service"},
		),

		BattlesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "battle",
				Name:      "battles_total",
				Help:      "Total number of finished battles by result (victory/defeat/fled/timedOut)",
			},
			[]string{"result", "service"},
		),

		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "battle",
				Name:      "action_duration_seconds",
				Help:      "Player action processing duration in seconds",
				Buckets:   ActionBuckets,
			},
			[]string{"action", "service"},
		),

		DamageDealt: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "battle",
				Name:      "damage_dealt",
				Help:      "Damage dealt per hit by source (player/opponent)",
				Buckets:   DamageBuckets,
			},
			[]string{"source", "service"},
		),

		BattleRounds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "battle",
				Name:      "battle_rounds",
				Help:      "Number of rounds per finished battle",
				Buckets:   RoundBuckets,
			},
			[]string{"service"},
		),
	}
}

// RecordBattleFinished 记录一场战斗的结束
//
// 参数:
//   - result: 战斗结果 ("victory", "defeat", "fled", "timedOut")
//   - rounds: 战斗持续的回合数
//   - service: 服务名称
func (m *BattleMetrics) RecordBattleFinished(result string, rounds int, service string) {
	service = normalizeServiceName(service)
	m.BattlesTotal.WithLabelValues(result, service).Inc()
	m.BattleRounds.WithLabelValues(service).Observe(float64(rounds))
}

// RecordAction 记录一次玩家行动的处理耗时
func (m *BattleMetrics) RecordAction(action string, duration time.Duration, service string) {
	service = normalizeServiceName(service)
	m.ActionDuration.WithLabelValues(action, service).Observe(duration.Seconds())
}

// RecordDamage 记录一次伤害
//
// 参数:
//   - source: 伤害来源 ("player", "opponent")
//   - amount: 伤害数值
func (m *BattleMetrics) RecordDamage(source string, amount int, service string) {
	service = normalizeServiceName(service)
	m.DamageDealt.WithLabelValues(source, service).Observe(float64(amount))
}

// IncActiveSessions 增加进行中的会话数
func (m *BattleMetrics) IncActiveSessions(service string) {
	service = normalizeServiceName(service)
	m.ActiveSessions.WithLabelValues(service).Inc()
}

// DecActiveSessions 减少进行中的会话数
func (m *BattleMetrics) DecActiveSessions(service string) {
	service = normalizeServiceName(service)
	m.ActiveSessions.WithLabelValues(service).Dec()
}

// SetActiveSessions 设置当前进行中的会话数
func (m *BattleMetrics) SetActiveSessions(count int, service string) {
	service = normalizeServiceName(service)
	m.ActiveSessions.WithLabelValues(service).Set(float64(count))
}
