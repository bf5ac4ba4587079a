package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"roomsync/internal/errs"
)

// start 启动房间的广播循环（只启动一次）
func (r *Room) start(parent context.Context) {
	r.startOnce.Do(func() {
		r.ctx, r.cancel = context.WithCancel(parent)
		go r.runBroadcast()
	})
}

// stop 停止广播循环，不等待其退出
func (r *Room) stop() {
	r.startOnce.Do(func() { close(r.done) })
	if r.cancel != nil {
		r.cancel()
	}
}

// Done 广播循环退出后关闭
func (r *Room) Done() <-chan struct{} { return r.done }

// runBroadcast 按房间广播间隔合并发送 state；间隔可在运行时修改，下一拍生效
func (r *Room) runBroadcast() {
	defer close(r.done)
	cur := r.Interval()
	ticker := time.NewTicker(cur)
	defer ticker.Stop()
	r.log.Debug("broadcast loop started", zap.Duration("interval", cur))

	for {
		select {
		case <-r.ctx.Done():
			r.log.Debug("broadcast loop stopped")
			return
		case <-ticker.C:
			start := time.Now()
			r.FlushState()
			r.metrics.AddTick(time.Since(start).Nanoseconds())
			if d := r.Interval(); d != cur {
				cur = d
				ticker.Reset(cur)
			}
		}
	}
}

// Interval 当前广播间隔
func (r *Room) Interval() time.Duration {
	return time.Duration(r.interval.Load())
}

// SetBroadcastInterval 热更新广播间隔
func (r *Room) SetBroadcastInterval(d time.Duration) error {
	if d <= 0 {
		return errs.New(errs.CodeInvalidInput, "broadcast interval must be positive")
	}
	r.interval.Store(int64(d))
	r.log.Info("broadcast interval updated", zap.Duration("interval", d))
	return nil
}
