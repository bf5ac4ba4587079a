// Package room 房间同步核心：房间、注册表、广播调度、心跳与连接会话
package room

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"roomsync/internal/errs"
	"roomsync/internal/events"
	"roomsync/internal/metrics"
	"roomsync/internal/protocol"
	"roomsync/internal/store"
)

// Conn 连接句柄：房间只通过它向客户端发消息。
// Send 必须非阻塞（满了就返回错误），Close 必须可重复调用。
type Conn interface {
	Send(ev protocol.Outbound) error
	Close()
}

// Mirror 外部存储写入队列；*store.Mirror 即为实现。调用方可能持有房间锁或注册表锁，不得阻塞。
type Mirror interface {
	PutMember(roomID, playerID string)
	PutPlayerState(roomID, playerID string, f store.PlayerFields)
	RemoveMember(roomID, playerID string)
	PutRoomMeta(roomID string, meta store.RoomMeta)
	RemoveRoom(roomID string)
}

type nopMirror struct{}

func (nopMirror) PutMember(string, string)                          {}
func (nopMirror) PutPlayerState(string, string, store.PlayerFields) {}
func (nopMirror) RemoveMember(string, string)                       {}
func (nopMirror) PutRoomMeta(string, store.RoomMeta)                {}
func (nopMirror) RemoveRoom(string)                                 {}

// deps 由注册表注入给每个房间的共享依赖
type deps struct {
	log    *zap.Logger
	mirror Mirror
	events events.Publisher
	global *metrics.Global
	now    func() time.Time
}

// Info 房间概要（只读副本）
type Info struct {
	ID                string        `json:"room_id"`
	Name              string        `json:"name"`
	PlayerCount       int           `json:"player_count"`
	Capacity          int           `json:"capacity"`
	Started           bool          `json:"started"`
	Width             float64       `json:"width"`
	Height            float64       `json:"height"`
	BroadcastInterval time.Duration `json:"broadcast_interval"`
}

// JoinStatus 加入前的容量检查结果，仅供参考
type JoinStatus struct {
	PlayerCount int  `json:"player_count"`
	Capacity    int  `json:"capacity"`
	Full        bool `json:"full"`
}

type member struct {
	id   string
	conn Conn
}

// Room 一个房间：所有状态由 mu 保护，持锁期间不做任何 I/O
type Room struct {
	ID       string
	Name     string
	capacity int

	mu           sync.Mutex
	started      bool
	width        float64
	height       float64
	conns        map[string]Conn
	players      map[string]*Player
	ball         *Ball
	dirty        bool
	pendingMoves int64
	emptySince   time.Time

	retired  atomic.Bool // 只在持有 mu 时置位
	interval atomic.Int64
	removing sync.Map // Conn -> struct{}，正在移除的连接

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	d         *deps
	onEmpty   func(*Room)
	metrics   *metrics.RoomMetrics
	log       *zap.Logger
	startOnce sync.Once
}

func newRoom(id, name string, cfg Config, d *deps, onEmpty func(*Room)) *Room {
	r := &Room{
		ID:         id,
		Name:       name,
		capacity:   cfg.Capacity,
		width:      cfg.WorldWidth,
		height:     cfg.WorldHeight,
		conns:      make(map[string]Conn),
		players:    make(map[string]*Player),
		emptySince: d.now(),
		done:       make(chan struct{}),
		d:          d,
		onEmpty:    onEmpty,
		metrics:    &metrics.RoomMetrics{},
		log:        d.log.With(zap.String("room", id)),
	}
	r.interval.Store(int64(cfg.BroadcastInterval))
	return r
}

// Metrics 返回房间计数器
func (r *Room) Metrics() *metrics.RoomMetrics { return r.metrics }

// Retired 房间是否已被回收
func (r *Room) Retired() bool { return r.retired.Load() }

// Join 加入房间，分配半场、颜色与出生点。
// 调用方负责在成功后广播 join 事件。
func (r *Room) Join(playerID string, conn Conn) (Assignment, error) {
	r.mu.Lock()
	if r.retired.Load() {
		r.mu.Unlock()
		return Assignment{}, errs.ErrRoomNotFound
	}
	if _, ok := r.players[playerID]; ok {
		r.mu.Unlock()
		r.metrics.RejectedJoins.Add(1)
		return Assignment{}, errs.ErrAlreadyJoined
	}
	if len(r.players) >= r.capacity {
		r.mu.Unlock()
		r.metrics.RejectedJoins.Add(1)
		return Assignment{}, errs.ErrRoomFull
	}
	side, ok := r.freeSideLocked()
	if !ok {
		n := len(r.players)
		r.mu.Unlock()
		r.log.Error("no free side for joining player", zap.String("player", playerID), zap.Int("players", n))
		return Assignment{}, errs.New(errs.CodeInvariant, "no free side")
	}

	p := &Player{ID: playerID, Side: side, Color: side.Color(), LastActivity: r.d.now()}
	p.X, p.Y = side.Spawn(r.width, r.height)
	r.players[playerID] = p
	r.conns[playerID] = conn
	r.dirty = true
	r.emptySince = time.Time{}
	r.d.mirror.PutMember(r.ID, playerID)
	r.d.mirror.PutPlayerState(r.ID, playerID, fieldsOf(p))
	a := Assignment{Side: side, Color: p.Color, X: p.X, Y: p.Y}
	r.mu.Unlock()

	r.metrics.Joins.Add(1)
	r.log.Info("player joined", zap.String("player", playerID), zap.String("side", string(side)))
	r.d.events.Publish(r.ID, events.PlayerJoined, map[string]any{"player_id": playerID, "side": string(side)})
	return a, nil
}

func (r *Room) freeSideLocked() (Side, bool) {
	taken := make(map[Side]bool, len(r.players))
	for _, p := range r.players {
		taken[p.Side] = true
	}
	for _, s := range sides {
		if !taken[s] {
			return s, true
		}
	}
	return "", false
}

// Leave 离开房间，可重复调用；只有真正移除玩家的那一次会广播 leave
func (r *Room) Leave(playerID string) bool {
	return r.leave(playerID, nil)
}

// leave 移除玩家；conn 非空时只在玩家仍绑定该连接时移除，避免旧连接误删重连后的玩家
func (r *Room) leave(playerID string, conn Conn) bool {
	r.mu.Lock()
	if conn != nil && r.conns[playerID] != conn {
		r.mu.Unlock()
		return false
	}
	m, ok := r.removeLocked(playerID)
	empty := len(r.players) == 0
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.afterRemove(m, events.PlayerLeft)
	if empty {
		r.onEmpty(r)
	}
	return true
}

func (r *Room) removeLocked(playerID string) (member, bool) {
	if _, ok := r.players[playerID]; !ok {
		return member{}, false
	}
	conn := r.conns[playerID]
	delete(r.players, playerID)
	delete(r.conns, playerID)
	r.dirty = true
	if len(r.players) == 0 {
		r.emptySince = r.d.now()
	}
	r.d.mirror.RemoveMember(r.ID, playerID)
	return member{id: playerID, conn: conn}, true
}

// afterRemove 在锁外关闭连接并广播 leave
func (r *Room) afterRemove(m member, kind string) {
	if m.conn != nil {
		m.conn.Close()
	}
	r.Broadcast(protocol.NewLeave(m.id))
	r.metrics.Leaves.Add(1)
	if kind == events.PlayerEvicted {
		r.metrics.Evictions.Add(1)
		r.log.Info("player evicted", zap.String("player", m.id))
	} else {
		r.log.Info("player left", zap.String("player", m.id))
	}
	r.d.events.Publish(r.ID, kind, map[string]any{"player_id": m.id})
}

// Kick 管理端强制移出玩家
func (r *Room) Kick(playerID string) error {
	if !r.Leave(playerID) {
		return errs.ErrNotAMember
	}
	return nil
}

// UpdatePosition 覆盖玩家位置并标记脏，不立即广播；玩家不在房间时忽略
func (r *Room) UpdatePosition(playerID string, x, y float64) bool {
	r.mu.Lock()
	p, ok := r.players[playerID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	p.X, p.Y = x, y
	p.LastActivity = r.d.now()
	if r.dirty {
		r.pendingMoves++
	}
	r.dirty = true
	r.d.mirror.PutPlayerState(r.ID, playerID, fieldsOf(p))
	r.mu.Unlock()

	r.metrics.Moves.Add(1)
	return true
}

// RecordBall 覆盖球状态并立即广播，不经过脏标记
func (r *Room) RecordBall(x, y, vx, vy float64) {
	r.mu.Lock()
	if r.retired.Load() {
		r.mu.Unlock()
		return
	}
	r.ball = &Ball{X: x, Y: y, VX: vx, VY: vy, Timestamp: r.d.now()}
	r.mu.Unlock()

	r.metrics.BallEvents.Add(1)
	r.Broadcast(protocol.NewBall(x, y, vx, vy))
}

// Ball 返回当前球状态副本
func (r *Room) Ball() (Ball, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ball == nil {
		return Ball{}, false
	}
	return *r.ball, true
}

// SetWorld 更新世界尺寸，只影响之后加入的玩家的出生点
func (r *Room) SetWorld(width, height float64) error {
	if !(width > 0 && height > 0) || math.IsInf(width, 0) || math.IsInf(height, 0) {
		return errs.New(errs.CodeInvalidInput, "world size must be positive and finite")
	}
	r.mu.Lock()
	r.width, r.height = width, height
	r.d.mirror.PutRoomMeta(r.ID, r.metaLocked())
	r.mu.Unlock()
	return nil
}

// StartGame 只有第一次调用会广播 game_started
func (r *Room) StartGame() bool {
	r.mu.Lock()
	if r.started || r.retired.Load() {
		r.mu.Unlock()
		return false
	}
	r.started = true
	r.d.mirror.PutRoomMeta(r.ID, r.metaLocked())
	r.mu.Unlock()

	r.Broadcast(protocol.NewGameStarted())
	r.log.Info("game started")
	r.d.events.Publish(r.ID, events.GameStarted, nil)
	return true
}

// Touch 刷新玩家最近活跃时间
func (r *Room) Touch(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[playerID]
	if !ok {
		return false
	}
	p.LastActivity = r.d.now()
	return true
}

// Has 玩家是否在房间内
func (r *Room) Has(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.players[playerID]
	return ok
}

// Snapshot 返回玩家状态副本（按半场排序）
func (r *Room) Snapshot() []protocol.PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() []protocol.PlayerState {
	out := make([]protocol.PlayerState, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.state())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Side != out[j].Side {
			return out[i].Side < out[j].Side
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

// Info 返回房间概要
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		ID:                r.ID,
		Name:              r.Name,
		PlayerCount:       len(r.players),
		Capacity:          r.capacity,
		Started:           r.started,
		Width:             r.width,
		Height:            r.height,
		BroadcastInterval: r.Interval(),
	}
}

// JoinStatus 返回当前人数与容量
func (r *Room) JoinStatus() JoinStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.players)
	return JoinStatus{PlayerCount: n, Capacity: r.capacity, Full: n >= r.capacity}
}

func (r *Room) metaLocked() store.RoomMeta {
	return store.RoomMeta{
		Name:     r.Name,
		Capacity: r.capacity,
		Started:  r.started,
		Width:    r.width,
		Height:   r.height,
		Updated:  r.d.now(),
	}
}

func fieldsOf(p *Player) store.PlayerFields {
	return store.PlayerFields{Side: string(p.Side), X: p.X, Y: p.Y, Color: p.Color}
}

func (r *Room) membersLocked() []member {
	out := make([]member, 0, len(r.conns))
	for id, c := range r.conns {
		if c != nil {
			out = append(out, member{id: id, conn: c})
		}
	}
	return out
}

// Broadcast 锁内复制连接，锁外逐个发送；单个连接失败不影响其他连接
func (r *Room) Broadcast(ev protocol.Outbound) {
	r.mu.Lock()
	targets := r.membersLocked()
	r.mu.Unlock()
	r.fanout(ev, targets)
}

func (r *Room) fanout(ev protocol.Outbound, targets []member) {
	r.metrics.Broadcasts.Add(1)
	for _, m := range targets {
		err := m.conn.Send(ev)
		switch {
		case err == nil:
		case errs.IsCode(err, errs.CodeEncodeFailed):
			// 事件本身无法编码，连接仍然可用
			r.metrics.EncodeFailures.Add(1)
			r.log.Error("encode event failed",
				zap.String("player", m.id),
				zap.String("event", ev.Kind()),
				zap.Error(err))
		default:
			r.metrics.SendFailures.Add(1)
			r.log.Warn("send failed, removing player",
				zap.String("player", m.id),
				zap.String("event", ev.Kind()),
				zap.Error(errs.Wrap(err, errs.CodeTransportSendFailed, "send")))
			r.dropBroken(m)
		}
	}
}

// dropBroken 异步移除发送失败的连接；同一连接同时只有一个移除任务
func (r *Room) dropBroken(m member) {
	if _, loaded := r.removing.LoadOrStore(m.conn, struct{}{}); loaded {
		return
	}
	go func() {
		defer r.removing.Delete(m.conn)
		r.leave(m.id, m.conn)
	}()
}

// FlushState 脏标记置位时广播一次 state 并清除标记
func (r *Room) FlushState() bool {
	r.mu.Lock()
	if !r.dirty || r.retired.Load() {
		r.mu.Unlock()
		return false
	}
	players := r.snapshotLocked()
	targets := r.membersLocked()
	r.dirty = false
	coalesced := r.pendingMoves
	r.pendingMoves = 0
	r.mu.Unlock()

	r.metrics.StateFlushes.Add(1)
	r.metrics.MovesCoalesced.Add(coalesced)
	r.fanout(protocol.NewState(players), targets)
	return true
}

// Evict 移除超过 timeout 未活跃的玩家，返回被移除的玩家 ID
func (r *Room) Evict(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	var gone []member
	for id, p := range r.players {
		if now.Sub(p.LastActivity) > timeout {
			if m, ok := r.removeLocked(id); ok {
				gone = append(gone, m)
			}
		}
	}
	empty := len(gone) > 0 && len(r.players) == 0
	r.mu.Unlock()

	ids := make([]string, 0, len(gone))
	for _, m := range gone {
		r.afterRemove(m, events.PlayerEvicted)
		ids = append(ids, m.id)
	}
	if empty {
		r.onEmpty(r)
	}
	return ids
}

// idleFor 房间为空的时长；有玩家时返回 0
func (r *Room) idleFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.players) > 0 || r.emptySince.IsZero() {
		return 0
	}
	return now.Sub(r.emptySince)
}

// retireIfEmpty 仍为空时标记回收，返回是否由本次调用完成回收
func (r *Room) retireIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.players) > 0 || r.retired.Load() {
		return false
	}
	r.retired.Store(true)
	return true
}

// retire 无条件回收（进程关闭），返回仍在线的连接
func (r *Room) retire() []member {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired.Store(true)
	return r.membersLocked()
}
