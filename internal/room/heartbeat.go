package room

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Heartbeat 全局心跳巡检：驱逐超时玩家，回收长期空置的房间
type Heartbeat struct {
	reg      *Registry
	interval time.Duration
	timeout  time.Duration
	emptyTTL time.Duration
	log      *zap.Logger
}

// NewHeartbeat interval 默认 10s，timeout 默认 60s，emptyTTL 为 0 时不回收空房间
func NewHeartbeat(reg *Registry, interval, timeout, emptyTTL time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Heartbeat{
		reg:      reg,
		interval: interval,
		timeout:  timeout,
		emptyTTL: emptyTTL,
		log:      reg.Logger().Named("heartbeat"),
	}
}

// Run 阻塞运行直到 ctx 取消
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	h.log.Info("heartbeat started", zap.Duration("interval", h.interval), zap.Duration("timeout", h.timeout))
	for {
		select {
		case <-ctx.Done():
			h.log.Info("heartbeat stopped")
			return nil
		case <-ticker.C:
			h.Sweep(h.reg.d.now())
		}
	}
}

// Sweep 执行一次巡检，返回被驱逐的玩家数
func (h *Heartbeat) Sweep(now time.Time) int {
	evicted := 0
	for _, r := range h.reg.Rooms() {
		ids := r.Evict(now, h.timeout)
		if len(ids) > 0 {
			h.log.Info("evicted idle players", zap.String("room", r.ID), zap.Strings("players", ids))
		}
		evicted += len(ids)
	}
	if reaped := h.reg.Reap(now, h.emptyTTL); reaped > 0 {
		h.log.Info("reaped empty rooms", zap.Int("rooms", reaped))
	}
	return evicted
}
