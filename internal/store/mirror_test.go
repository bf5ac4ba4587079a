package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomsync/internal/metrics"
)

// blockingStore 第一次写入阻塞直到 release 关闭
type blockingStore struct {
	Nop
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   []string
}

func (b *blockingStore) PutMember(_ context.Context, roomID, playerID string) error {
	b.once.Do(func() { <-b.release })
	b.mu.Lock()
	b.calls = append(b.calls, roomID+"/"+playerID)
	b.mu.Unlock()
	return nil
}

func (b *blockingStore) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func TestMirrorAppliesInOrder(t *testing.T) {
	mem := NewMemory()
	m := NewMirror(mem, 16, time.Second, zap.NewNop(), nil)

	m.PutMember("r1", "p1")
	m.PutPlayerState("r1", "p1", PlayerFields{X: 1})
	m.PutPlayerState("r1", "p1", PlayerFields{X: 2})
	m.RemoveMember("r1", "p1")
	m.PutMember("r1", "p2")
	m.PutRoomMeta("r1", RoomMeta{Name: "alpha"})

	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{"p2"}, mem.Members("r1"))
	_, ok := mem.Player("r1", "p1")
	assert.False(t, ok)
	meta, ok := mem.Meta("r1")
	require.True(t, ok)
	assert.Equal(t, "alpha", meta.Name)

	ids, err := m.ListRoomIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids)

	// 关闭后写入被忽略
	m.PutMember("r1", "p3")
	assert.Equal(t, []string{"p2"}, mem.Members("r1"))
}

func TestMirrorDropsWhenQueueFull(t *testing.T) {
	bs := &blockingStore{release: make(chan struct{})}
	global := &metrics.Global{}
	m := NewMirror(bs, 2, time.Second, zap.NewNop(), global)

	// worker 卡在第一条；队列容量 2，其余被丢弃
	for i := 0; i < 10; i++ {
		m.PutMember("r1", "p")
	}
	assert.Eventually(t, func() bool { return global.StoreDropped.Load() >= 7 }, time.Second, 5*time.Millisecond)

	close(bs.release)
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, int64(10), int64(bs.callCount())+global.StoreDropped.Load())
}

func TestMirrorCountsFailures(t *testing.T) {
	mem := NewMemory()
	mem.SetFailure(errors.New("boom"))
	global := &metrics.Global{}
	m := NewMirror(mem, 4, time.Second, zap.NewNop(), global)

	m.PutMember("r1", "p1")
	m.RemoveRoom("r1")
	require.NoError(t, m.Close(context.Background()))
	assert.EqualValues(t, 2, global.StoreFailures.Load())
}

func TestMirrorCloseHonoursContext(t *testing.T) {
	bs := &blockingStore{release: make(chan struct{})}
	m := NewMirror(bs, 4, time.Second, zap.NewNop(), nil)
	m.PutMember("r1", "p1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Close(ctx), context.DeadlineExceeded)
	close(bs.release)
}
