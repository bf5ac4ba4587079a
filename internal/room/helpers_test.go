package room_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roomsync/internal/protocol"
	"roomsync/internal/room"
)

// fakeConn 记录收到的事件
type fakeConn struct {
	mu     sync.Mutex
	events []protocol.Outbound
	closed bool
	fail   bool
	codec  protocol.Codec // 非空时先编码，模拟真实连接
}

func newFakeConn() *fakeConn { return &fakeConn{} }

func newCodecConn(codec protocol.Codec) *fakeConn { return &fakeConn{codec: codec} }

func (c *fakeConn) Send(ev protocol.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("connection broken")
	}
	if c.codec != nil {
		if _, err := c.codec.Encode(ev); err != nil {
			return err
		}
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) breakSend() {
	c.mu.Lock()
	c.fail = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ofKind 返回指定类型的事件
func (c *fakeConn) ofKind(kind string) []protocol.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Outbound
	for _, ev := range c.events {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) count(kind string) int { return len(c.ofKind(kind)) }

func (c *fakeConn) lastState(t *testing.T) protocol.StateEvent {
	t.Helper()
	states := c.ofKind(protocol.TypeState)
	require.NotEmpty(t, states, "no state event received")
	return states[len(states)-1].(protocol.StateEvent)
}

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newRegistry 广播间隔设为 1 小时，测试里手动调用 FlushState
func newRegistry(t *testing.T, opts ...room.Option) *room.Registry {
	t.Helper()
	cfg := room.DefaultConfig()
	cfg.BroadcastInterval = time.Hour
	return newRegistryWith(t, cfg, opts...)
}

func newRegistryWith(t *testing.T, cfg room.Config, opts ...room.Option) *room.Registry {
	t.Helper()
	reg := room.NewRegistry(cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return reg
}

func join(t *testing.T, reg *room.Registry, roomID, playerID string) (*room.Room, room.Assignment, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	r, a, err := reg.Join(roomID, playerID, conn)
	require.NoError(t, err)
	return r, a, conn
}
