package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomsync/internal/errs"
	"roomsync/internal/events"
	"roomsync/internal/metrics"
)

// Config 房间与注册表的运行参数
type Config struct {
	Capacity          int
	WorldWidth        float64
	WorldHeight       float64
	BroadcastInterval time.Duration
	AutoCreate        bool // WebSocket 首次引用不存在的房间时自动创建
}

// DefaultConfig 默认参数：两人房、800x600、50ms 广播
func DefaultConfig() Config {
	return Config{
		Capacity:          2,
		WorldWidth:        800,
		WorldHeight:       600,
		BroadcastInterval: 50 * time.Millisecond,
		AutoCreate:        true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Capacity <= 0 || c.Capacity > MaxCapacity {
		c.Capacity = def.Capacity
	}
	if c.WorldWidth <= 0 || c.WorldHeight <= 0 {
		c.WorldWidth, c.WorldHeight = def.WorldWidth, def.WorldHeight
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = def.BroadcastInterval
	}
	return c
}

// Option 注册表可选依赖
type Option func(*Registry)

func WithLogger(log *zap.Logger) Option {
	return func(g *Registry) { g.d.log = log }
}

func WithMirror(m Mirror) Option {
	return func(g *Registry) { g.d.mirror = m }
}

func WithPublisher(p events.Publisher) Option {
	return func(g *Registry) { g.d.events = p }
}

func WithMetrics(m *metrics.Global) Option {
	return func(g *Registry) { g.d.global = m }
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(g *Registry) { g.d.now = now }
}

// Registry 房间注册表。
// mu 只保护 map 本身：持有 mu 时只复制房间指针，从不等待房间内部操作。
type Registry struct {
	cfg Config
	d   *deps

	mu    sync.RWMutex
	rooms map[string]*Room

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(cfg Config, opts ...Option) *Registry {
	g := &Registry{
		cfg:   cfg.withDefaults(),
		rooms: make(map[string]*Room),
		d: &deps{
			log:    zap.NewNop(),
			mirror: nopMirror{},
			events: events.Nop{},
			global: &metrics.Global{},
			now:    time.Now,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.d.log = g.d.log.Named("room")
	g.ctx, g.cancel = context.WithCancel(context.Background())
	return g
}

// Config 返回生效的配置
func (g *Registry) Config() Config { return g.cfg }

// Metrics 进程级计数器
func (g *Registry) Metrics() *metrics.Global { return g.d.global }

// Logger 注册表日志
func (g *Registry) Logger() *zap.Logger { return g.d.log }

// CreateRoom 创建空房间并启动其广播循环
func (g *Registry) CreateRoom(name string) (string, error) {
	if g.ctx.Err() != nil {
		return "", errs.New(errs.CodeInvalidInput, "registry is shut down")
	}
	id := uuid.NewString()
	g.mu.Lock()
	r := g.insertLocked(id, name)
	g.mu.Unlock()
	g.created(r)
	return id, nil
}

// insertLocked 调用方持有 g.mu 写锁
func (g *Registry) insertLocked(id, name string) *Room {
	if name == "" {
		name = id
	}
	r := newRoom(id, name, g.cfg, g.d, func(r *Room) { g.reclaim(r) })
	r.start(g.ctx)
	g.rooms[id] = r
	return r
}

func (g *Registry) created(r *Room) {
	r.mu.Lock()
	r.d.mirror.PutRoomMeta(r.ID, r.metaLocked())
	r.mu.Unlock()
	g.d.global.RoomsCreated.Add(1)
	g.d.log.Info("room created", zap.String("room", r.ID), zap.String("name", r.Name))
	g.d.events.Publish(r.ID, events.RoomCreated, map[string]any{"name": r.Name})
}

// GetRoom 查找房间
func (g *Registry) GetRoom(id string) (*Room, error) {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if !ok || r.Retired() {
		return nil, errs.ErrRoomNotFound
	}
	return r, nil
}

// GetOrCreate 房间不存在（或已回收）时以给定 ID 新建
func (g *Registry) GetOrCreate(id string) (*Room, error) {
	if r, err := g.GetRoom(id); err == nil {
		return r, nil
	}
	if g.ctx.Err() != nil {
		return nil, errs.ErrRoomNotFound
	}
	g.mu.Lock()
	if r, ok := g.rooms[id]; ok && !r.Retired() {
		g.mu.Unlock()
		return r, nil
	}
	r := g.insertLocked(id, id)
	g.mu.Unlock()
	g.created(r)
	return r, nil
}

// Rooms 当前房间指针快照
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	g.mu.RUnlock()
	return out
}

// ListRooms 列出房间概要；每个房间的人数在各自的锁内读取
func (g *Registry) ListRooms() []Info {
	rooms := g.Rooms()
	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		if r.Retired() {
			continue
		}
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// JoinCheck 加入前检查，结果只是参考，以实际加入为准
func (g *Registry) JoinCheck(id string) (JoinStatus, error) {
	r, err := g.GetRoom(id)
	if err != nil {
		return JoinStatus{}, err
	}
	return r.JoinStatus(), nil
}

func (g *Registry) resolve(id string) (*Room, error) {
	if g.cfg.AutoCreate {
		return g.GetOrCreate(id)
	}
	return g.GetRoom(id)
}

// Join 解析房间并加入；房间在查找与加入之间被回收时重试一次
func (g *Registry) Join(roomID, playerID string, conn Conn) (*Room, Assignment, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		r, err := g.resolve(roomID)
		if err != nil {
			return nil, Assignment{}, err
		}
		a, err := r.Join(playerID, conn)
		if err == nil {
			return r, a, nil
		}
		if !errs.IsCode(err, errs.CodeRoomNotFound) {
			return nil, Assignment{}, err
		}
		lastErr = err
	}
	return nil, Assignment{}, lastErr
}

// Leave 管理端强制离开
func (g *Registry) Leave(roomID, playerID string) error {
	r, err := g.GetRoom(roomID)
	if err != nil {
		return err
	}
	return r.Kick(playerID)
}

// reclaim 比较后删除：房间仍为空才标记回收，map 仍指向该房间才删除并清理存储。
// 已被同 id 新房间替换时不清理存储。
func (g *Registry) reclaim(r *Room) bool {
	if !r.retireIfEmpty() {
		return false
	}
	g.mu.Lock()
	if cur, ok := g.rooms[r.ID]; ok && cur == r {
		// 持锁入队：同 id 重建房间的写入一定排在 RemoveRoom 之后
		g.d.mirror.RemoveRoom(r.ID)
		delete(g.rooms, r.ID)
	}
	g.mu.Unlock()

	r.stop()
	g.d.global.RoomsReclaimed.Add(1)
	g.d.log.Info("room reclaimed", zap.String("room", r.ID))
	g.d.events.Publish(r.ID, events.RoomReclaimed, nil)
	return true
}

// Reap 回收空置超过 ttl 的房间（创建后一直无人加入的房间）
func (g *Registry) Reap(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	n := 0
	for _, r := range g.Rooms() {
		if r.idleFor(now) > ttl && g.reclaim(r) {
			n++
		}
	}
	return n
}

// Shutdown 回收全部房间并关闭连接，等待广播循环退出（受 ctx 限制）
func (g *Registry) Shutdown(ctx context.Context) error {
	g.cancel()
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for id, r := range g.rooms {
		rooms = append(rooms, r)
		delete(g.rooms, id)
	}
	g.mu.Unlock()

	for _, r := range rooms {
		for _, m := range r.retire() {
			m.conn.Close()
		}
		r.stop()
	}
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.d.log.Info("registry shut down", zap.Int("rooms", len(rooms)))
	return nil
}
