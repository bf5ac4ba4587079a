package room_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomsync/internal/errs"
	"roomsync/internal/metrics"
	"roomsync/internal/protocol"
	"roomsync/internal/room"
	"roomsync/internal/store"
)

func TestHeartbeatEvictsIdlePlayers(t *testing.T) {
	clock := newFakeClock()
	reg := newRegistry(t, room.WithClock(clock.Now))
	hb := room.NewHeartbeat(reg, 10*time.Second, 60*time.Second, 0)

	r, _, c1 := join(t, reg, "r1", "p1")
	_, _, c2 := join(t, reg, "r1", "p2")

	// p1 每 10s ping 一次，p2 一直沉默
	for i := 0; i < 7; i++ {
		clock.Advance(10 * time.Second)
		require.True(t, r.Touch("p1"))
		hb.Sweep(clock.Now())
	}

	assert.True(t, r.Has("p1"))
	assert.False(t, r.Has("p2"))
	assert.True(t, c2.isClosed())
	assert.Equal(t, []protocol.Outbound{protocol.NewLeave("p2")}, c1.ofKind(protocol.TypeLeave))
	assert.EqualValues(t, 1, r.Metrics().Evictions.Load())

	// 驱逐之后再离开不会重复广播
	assert.False(t, r.Leave("p2"))
	assert.Equal(t, 1, c1.count(protocol.TypeLeave))
}

func TestHeartbeatSweepReclaimsEmptiedRoom(t *testing.T) {
	clock := newFakeClock()
	reg := newRegistry(t, room.WithClock(clock.Now))
	hb := room.NewHeartbeat(reg, time.Second, 5*time.Second, 0)

	r, _, _ := join(t, reg, "r1", "p1")
	clock.Advance(6 * time.Second)
	assert.Equal(t, 1, hb.Sweep(clock.Now()))

	assert.True(t, r.Retired())
	_, err := reg.GetRoom("r1")
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)
}

func TestHeartbeatRunStopsOnCancel(t *testing.T) {
	reg := newRegistry(t)
	hb := room.NewHeartbeat(reg, 5*time.Millisecond, time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hb.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop")
	}
}

func TestLastLeaveReclaimsRoom(t *testing.T) {
	reg := newRegistry(t)
	r, _, _ := join(t, reg, "r1", "p1")

	require.True(t, r.Leave("p1"))
	assert.True(t, r.Retired())
	assert.Empty(t, reg.ListRooms())
	assert.EqualValues(t, 1, reg.Metrics().RoomsReclaimed.Load())

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("broadcast loop still running after reclaim")
	}

	_, err := r.Join("p2", newFakeConn())
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)

	// 同名房间重新引用时得到新实例
	r2, _, _ := join(t, reg, "r1", "p2")
	assert.NotSame(t, r, r2)
	assert.Equal(t, 1, r2.Info().PlayerCount)
}

func TestReapRoomsNeverJoined(t *testing.T) {
	clock := newFakeClock()
	reg := newRegistry(t, room.WithClock(clock.Now))

	id, err := reg.CreateRoom("idle")
	require.NoError(t, err)
	join(t, reg, "busy", "p1")

	clock.Advance(4 * time.Minute)
	assert.Equal(t, 0, reg.Reap(clock.Now(), 5*time.Minute))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, reg.Reap(clock.Now(), 5*time.Minute))

	_, err = reg.GetRoom(id)
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)
	_, err = reg.GetRoom("busy")
	assert.NoError(t, err)
}

func TestListRoomsAndJoinCheck(t *testing.T) {
	reg := newRegistry(t)
	id, err := reg.CreateRoom("alpha")
	require.NoError(t, err)
	join(t, reg, id, "p1")

	rooms := reg.ListRooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "alpha", rooms[0].Name)
	assert.Equal(t, 1, rooms[0].PlayerCount)
	assert.Equal(t, 2, rooms[0].Capacity)
	assert.False(t, rooms[0].Started)

	st, err := reg.JoinCheck(id)
	require.NoError(t, err)
	assert.Equal(t, room.JoinStatus{PlayerCount: 1, Capacity: 2, Full: false}, st)

	join(t, reg, id, "p2")
	st, err = reg.JoinCheck(id)
	require.NoError(t, err)
	assert.True(t, st.Full)

	_, err = reg.JoinCheck("missing")
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)
}

func TestSingleSeatRoom(t *testing.T) {
	cfg := room.DefaultConfig()
	cfg.Capacity = 1
	reg := newRegistryWith(t, cfg)

	join(t, reg, "solo", "p1")
	_, _, err := reg.Join("solo", "p2", newFakeConn())
	assert.ErrorIs(t, err, errs.ErrRoomFull)
}

func TestShutdownClosesConnections(t *testing.T) {
	reg := room.NewRegistry(room.DefaultConfig())
	_, _, c1 := join(t, reg, "r1", "p1")
	_, _, c2 := join(t, reg, "r2", "p2")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	assert.True(t, c1.isClosed())
	assert.True(t, c2.isClosed())
	assert.Empty(t, reg.ListRooms())
	_, err := reg.CreateRoom("late")
	assert.Error(t, err)
}

func TestSessionDispatch(t *testing.T) {
	reg := newRegistry(t)
	c := newFakeConn()
	s := room.NewSession(reg, "r1", "p1", c)
	assert.Equal(t, room.Connecting, s.State())

	_, err := s.Start()
	require.NoError(t, err)
	assert.Equal(t, room.Active, s.State())
	assert.Equal(t, 1, c.count(protocol.TypeJoin))

	s.Handle(protocol.Ping{})
	assert.Equal(t, 1, c.count(protocol.TypePong))

	s.Handle(protocol.Init{Width: 1200, Height: 900})
	info := s.Room().Info()
	assert.Equal(t, 1200.0, info.Width)
	assert.Equal(t, 900.0, info.Height)

	s.Handle(protocol.Ball{X: 1, Y: 1, VX: 2, VY: 2})
	assert.Equal(t, 1, c.count(protocol.TypeBall))

	s.Handle(protocol.StartGame{})
	s.Handle(protocol.StartGame{})
	assert.Equal(t, 1, c.count(protocol.TypeGameStarted))

	s.HandleFrame(protocol.JSON, []byte(`{"type":"dance"}`))
	s.HandleFrame(protocol.JSON, []byte(`not json`))
	assert.Equal(t, 2, c.count(protocol.TypeError))
	assert.False(t, c.isClosed(), "malformed messages must not close the connection")
	assert.EqualValues(t, 2, reg.Metrics().MalformedMessages.Load())

	s.HandleFrame(protocol.JSON, []byte(`{"type":"MOVE","x":"5","y":6}`))
	assert.Equal(t, 5.0, s.Room().Snapshot()[0].X)

	s.Close()
	s.Close()
	assert.Equal(t, room.Closed, s.State())
	assert.True(t, c.isClosed())
	assert.True(t, s.Room().Retired())

	// 关闭后的消息被忽略
	s.Handle(protocol.Ping{})
	assert.Equal(t, 1, c.count(protocol.TypePong))
}

func TestStaleSessionDoesNotRemoveRejoinedPlayer(t *testing.T) {
	reg := newRegistry(t)
	join(t, reg, "r1", "keeper")

	old := newFakeConn()
	s1 := room.NewSession(reg, "r1", "p1", old)
	_, err := s1.Start()
	require.NoError(t, err)
	r := s1.Room()

	// 心跳驱逐后同一玩家以新连接重新加入
	require.True(t, r.Leave("p1"))
	s2 := room.NewSession(reg, "r1", "p1", newFakeConn())
	_, err = s2.Start()
	require.NoError(t, err)

	s1.Close()
	assert.True(t, r.Has("p1"))
}

func TestStoreMirrorsRoomState(t *testing.T) {
	mem := store.NewMemory()
	global := &metrics.Global{}
	mirror := store.NewMirror(mem, 64, time.Second, zap.NewNop(), global)
	t.Cleanup(func() { _ = mirror.Close(context.Background()) })

	reg := newRegistry(t, room.WithMirror(mirror), room.WithMetrics(global))
	r, _, _ := join(t, reg, "r1", "p1")
	join(t, reg, "r1", "p2")
	r.UpdatePosition("p1", 11, 22)
	r.StartGame()

	assert.Eventually(t, func() bool {
		f, ok := mem.Player("r1", "p1")
		return ok && f.X == 11 && f.Y == 22 && f.Side == "A"
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		meta, ok := mem.Meta("r1")
		return ok && meta.Started && meta.Capacity == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"p1", "p2"}, mem.Members("r1"))

	r.Leave("p2")
	r.Leave("p1")
	assert.Eventually(t, func() bool {
		_, ok := mem.Meta("r1")
		return !ok && len(mem.Members("r1")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStoreFailureDoesNotRollBack(t *testing.T) {
	mem := store.NewMemory()
	mem.SetFailure(assert.AnError)
	global := &metrics.Global{}
	mirror := store.NewMirror(mem, 64, time.Second, zap.NewNop(), global)
	t.Cleanup(func() { _ = mirror.Close(context.Background()) })

	reg := newRegistry(t, room.WithMirror(mirror), room.WithMetrics(global))
	r, _, _ := join(t, reg, "r1", "p1")

	assert.True(t, r.Has("p1"))
	assert.Eventually(t, func() bool { return global.StoreFailures.Load() > 0 }, time.Second, 5*time.Millisecond)
}

// rejoinMirror 在 RemoveRoom 入队时尝试以相同 id 重新加入
type rejoinMirror struct {
	*store.Mirror
	onRemove func(roomID string)
}

func (m *rejoinMirror) RemoveRoom(roomID string) {
	if m.onRemove != nil {
		m.onRemove(roomID)
	}
	m.Mirror.RemoveRoom(roomID)
}

func TestReclaimDoesNotWipeRecreatedRoom(t *testing.T) {
	mem := store.NewMemory()
	mirror := &rejoinMirror{Mirror: store.NewMirror(mem, 64, time.Second, zap.NewNop(), nil)}
	reg := newRegistry(t, room.WithMirror(mirror))

	c2 := newFakeConn()
	var once sync.Once
	mirror.onRemove = func(roomID string) {
		once.Do(func() {
			joined := make(chan struct{})
			go func() {
				defer close(joined)
				_, _, _ = reg.Join(roomID, "p2", c2)
			}()
			select {
			case <-joined:
			case <-time.After(50 * time.Millisecond):
			}
		})
	}

	r1, _, _ := join(t, reg, "r1", "p1")
	require.True(t, r1.Leave("p1"))

	var r2 *room.Room
	require.Eventually(t, func() bool {
		r, err := reg.GetRoom("r1")
		if err != nil || !r.Has("p2") {
			return false
		}
		r2 = r
		return true
	}, time.Second, 5*time.Millisecond)
	assert.NotSame(t, r1, r2)

	require.NoError(t, mirror.Close(context.Background()))
	assert.Equal(t, []string{"p2"}, mem.Members("r1"))
	_, ok := mem.Meta("r1")
	assert.True(t, ok)
}
