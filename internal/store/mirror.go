package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"roomsync/internal/errs"
	"roomsync/internal/metrics"
)

// op 一次待写入的外部存储操作
type op struct {
	name   string
	roomID string
	apply  func(ctx context.Context) error
}

// Mirror 把房间的写穿透变成异步、有序、非阻塞的队列。
//
// 房间在持锁时入队（入队本身不做 I/O），单个 worker 按入队顺序依次执行，
// 因此同一玩家的 join → move → leave 在外部存储中也保持同样的顺序。
// 队列满时直接丢弃并计数，绝不阻塞房间锁。
type Mirror struct {
	backend Store
	queue   chan op
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Global

	closeOnce sync.Once
	mu        sync.RWMutex // 保护 closed 与 queue 的关闭
	closed    bool
	done      chan struct{}
}

// NewMirror 创建并启动写入 worker
func NewMirror(backend Store, queueSize int, timeout time.Duration, log *zap.Logger, m *metrics.Global) *Mirror {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	if m == nil {
		m = &metrics.Global{}
	}
	mr := &Mirror{
		backend: backend,
		queue:   make(chan op, queueSize),
		timeout: timeout,
		log:     log.Named("mirror"),
		metrics: m,
		done:    make(chan struct{}),
	}
	go mr.run()
	return mr
}

func (m *Mirror) run() {
	defer close(m.done)
	for o := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		err := o.apply(ctx)
		cancel()
		if err != nil {
			m.metrics.StoreFailures.Add(1)
			m.log.Warn("store write failed",
				zap.String("op", o.name),
				zap.String("room", o.roomID),
				zap.Error(errs.Wrap(err, errs.CodeStoreWriteFailed, o.name)))
		}
	}
}

func (m *Mirror) enqueue(o op) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- o:
	default:
		m.metrics.StoreDropped.Add(1)
		m.log.Warn("store queue full, dropping write", zap.String("op", o.name), zap.String("room", o.roomID))
	}
}

func (m *Mirror) PutMember(roomID, playerID string) {
	m.enqueue(op{name: "put_member", roomID: roomID, apply: func(ctx context.Context) error {
		return m.backend.PutMember(ctx, roomID, playerID)
	}})
}

func (m *Mirror) PutPlayerState(roomID, playerID string, f PlayerFields) {
	m.enqueue(op{name: "put_player_state", roomID: roomID, apply: func(ctx context.Context) error {
		return m.backend.PutPlayerState(ctx, roomID, playerID, f)
	}})
}

func (m *Mirror) RemoveMember(roomID, playerID string) {
	m.enqueue(op{name: "remove_member", roomID: roomID, apply: func(ctx context.Context) error {
		return m.backend.RemoveMember(ctx, roomID, playerID)
	}})
}

func (m *Mirror) PutRoomMeta(roomID string, meta RoomMeta) {
	m.enqueue(op{name: "put_room_meta", roomID: roomID, apply: func(ctx context.Context) error {
		return m.backend.PutRoomMeta(ctx, roomID, meta)
	}})
}

func (m *Mirror) RemoveRoom(roomID string) {
	m.enqueue(op{name: "remove_room", roomID: roomID, apply: func(ctx context.Context) error {
		return m.backend.RemoveRoom(ctx, roomID)
	}})
}

// ListRoomIDs 直接读后端，只给排查工具使用
func (m *Mirror) ListRoomIDs(ctx context.Context) ([]string, error) {
	return m.backend.ListRoomIDs(ctx)
}

// Close 停止接收新写入，等待队列排空（受 ctx 限制）
func (m *Mirror) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
	})
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
