// Package events 将房间生命周期事件发布到外部（可选）
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// 生命周期事件类型
const (
	RoomCreated   = "room_created"
	RoomReclaimed = "room_reclaimed"
	PlayerJoined  = "join"
	PlayerLeft    = "leave"
	PlayerEvicted = "evict"
	GameStarted   = "game_started"
)

// Publisher 尽力而为的事件发布，不得阻塞调用方
type Publisher interface {
	Publish(roomID, kind string, payload map[string]any)
}

// Nop 默认实现
type Nop struct{}

func (Nop) Publish(string, string, map[string]any) {}

// Envelope 发布到 NATS 的消息体
type Envelope struct {
	Room    string         `json:"room"`
	Kind    string         `json:"kind"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NATS 主题格式：{prefix}.room.{roomID}.{kind}
type NATS struct {
	conn   *nats.Conn
	prefix string
	log    *zap.Logger
}

// Connect 连接 NATS；断线由客户端库自动重连
func Connect(url, prefix string, log *zap.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("roomsync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATS(nc, prefix, log), nil
}

func NewNATS(conn *nats.Conn, prefix string, log *zap.Logger) *NATS {
	if prefix == "" {
		prefix = "roomsync"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATS{conn: conn, prefix: prefix, log: log.Named("events")}
}

// Subject 返回事件主题
func (p *NATS) Subject(roomID, kind string) string {
	return Subject(p.prefix, roomID, kind)
}

func Subject(prefix, roomID, kind string) string {
	return fmt.Sprintf("%s.room.%s.%s", prefix, roomID, kind)
}

func (p *NATS) Publish(roomID, kind string, payload map[string]any) {
	data, err := json.Marshal(Envelope{Room: roomID, Kind: kind, At: time.Now(), Payload: payload})
	if err != nil {
		p.log.Warn("marshal event failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	// Publish 只写入客户端缓冲区，不等待服务端确认
	if err := p.conn.Publish(p.Subject(roomID, kind), data); err != nil {
		p.log.Warn("publish event failed", zap.String("room", roomID), zap.String("kind", kind), zap.Error(err))
	}
}

// Close 刷新缓冲并关闭连接
func (p *NATS) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Warn("nats drain failed", zap.Error(err))
	}
}
