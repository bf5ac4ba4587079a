// Package metrics 记录运行期关键指标（用于监控与调试）
package metrics

import "sync/atomic"

// RoomMetrics 单个房间的计数器
type RoomMetrics struct {
	Joins          atomic.Int64 // 成功加入
	RejectedJoins  atomic.Int64 // 因满员/重复被拒绝的加入
	Leaves         atomic.Int64 // 离开（含驱逐）
	Evictions      atomic.Int64 // 心跳超时驱逐
	Moves          atomic.Int64 // 收到的位置更新
	StateFlushes   atomic.Int64 // 实际发出的 state 广播次数
	BallEvents     atomic.Int64 // 立即广播的 ball 事件
	Broadcasts     atomic.Int64 // 所有广播（按事件计，不按连接计）
	SendFailures   atomic.Int64 // 单连接发送失败
	EncodeFailures atomic.Int64 // 事件编码失败（不移除玩家）
	MovesCoalesced atomic.Int64 // 被合并进同一次 state 的多余 move
	TickCount      atomic.Int64 // 广播循环的 Tick 次数
	TotalTickNs    atomic.Int64 // Tick 累计耗时（纳秒）
}

// AddTick 记录一次广播 Tick 的耗时
func (m *RoomMetrics) AddTick(ns int64) {
	m.TickCount.Add(1)
	m.TotalTickNs.Add(ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := m.TickCount.Load()
	var avgMs float64
	if tick > 0 {
		avgMs = float64(m.TotalTickNs.Load()) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":      tick,
		"avg_tick_ms":     avgMs,
		"joins":           m.Joins.Load(),
		"rejected_joins":  m.RejectedJoins.Load(),
		"leaves":          m.Leaves.Load(),
		"evictions":       m.Evictions.Load(),
		"moves":           m.Moves.Load(),
		"state_flushes":   m.StateFlushes.Load(),
		"ball_events":     m.BallEvents.Load(),
		"broadcasts":      m.Broadcasts.Load(),
		"send_failures":   m.SendFailures.Load(),
		"encode_failures": m.EncodeFailures.Load(),
		"moves_coalesced": m.MovesCoalesced.Load(),
	}
}

// Global 进程级计数器
type Global struct {
	RoomsCreated      atomic.Int64
	RoomsReclaimed    atomic.Int64
	StoreFailures     atomic.Int64 // 外部存储写失败
	StoreDropped      atomic.Int64 // 写队列满被丢弃
	MalformedMessages atomic.Int64
}

func (g *Global) Snapshot() map[string]any {
	return map[string]any{
		"rooms_created":      g.RoomsCreated.Load(),
		"rooms_reclaimed":    g.RoomsReclaimed.Load(),
		"store_failures":     g.StoreFailures.Load(),
		"store_dropped":      g.StoreDropped.Load(),
		"malformed_messages": g.MalformedMessages.Load(),
	}
}
