package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomsync/internal/auth"
	"roomsync/internal/config"
	"roomsync/internal/errs"
	"roomsync/internal/protocol"
	"roomsync/internal/room"
)

var errConnClosed = errors.New("connection closed")

// ClientConn 负责发送（写）数据到客户端的轻量包装，实现 room.Conn
type ClientConn struct {
	ws    *websocket.Conn
	codec protocol.Codec
	send  chan []byte
	opts  config.WSConfig
	log   *zap.Logger

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string
}

func NewClientConn(ws *websocket.Conn, codec protocol.Codec, opts config.WSConfig, log *zap.Logger) *ClientConn {
	return &ClientConn{
		ws:        ws,
		codec:     codec,
		send:      make(chan []byte, opts.SendBuffer),
		opts:      opts,
		log:       log,
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// Send 编码后压入发送队列（非阻塞，满则返回错误，由房间移除该玩家）。
// 编码失败返回 ENCODE_FAILED，房间不会因此移除玩家。
func (c *ClientConn) Send(ev protocol.Outbound) error {
	data, err := c.codec.Encode(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errs.Wrap(errors.New("send buffer full"), errs.CodeTransportSendFailed, ev.Kind())
	}
}

// Close 关闭连接；已入队的消息会先写出
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// CloseWith 以指定关闭码关闭
func (c *ClientConn) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *ClientConn) messageType() int {
	if c.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (c *ClientConn) write(mt int, msg []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.ws.WriteMessage(mt, msg)
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			if err := c.write(c.messageType(), msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.drain()
			deadline := time.Now().Add(c.opts.WriteWait)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason), deadline)
			return
		}
	}
}

// drain 写出关闭前已入队的消息
func (c *ClientConn) drain() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(c.messageType(), msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump 读取客户端输入，交给会话分发；退出时离开房间
func (c *ClientConn) readPump(s *room.Session) {
	defer c.Close()
	defer s.Close()
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	// 协议层 pong 只延长读超时，不刷新房间内的活跃时间
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", zap.Error(err))
			}
			return
		}
		s.HandleFrame(c.codec, payload)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// WSHandler WebSocket 接入：/ws/{roomID}?token=...&encoding=msgpack
type WSHandler struct {
	reg  *room.Registry
	auth auth.Provider
	dev  bool
	opts config.WSConfig
	log  *zap.Logger
}

func NewWSHandler(reg *room.Registry, provider auth.Provider, dev bool, opts config.WSConfig, log *zap.Logger) *WSHandler {
	return &WSHandler{reg: reg, auth: provider, dev: dev, opts: opts, log: log.Named("ws")}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	codec := protocol.CodecFor(r.URL.Query().Get("encoding"))

	// 先完成升级，客户端才能收到鉴权失败的提示帧
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	log := h.log.With(zap.String("room", roomID), zap.String("remote", r.RemoteAddr))
	client := NewClientConn(ws, codec, h.opts, log)
	go client.writePump()

	playerID, err := h.auth.Identify(r.Context(), auth.Credential(r, h.dev))
	if err != nil {
		log.Warn("auth failed", zap.Error(err))
		_ = client.Send(protocol.NewAuthFailed())
		client.CloseWith(websocket.ClosePolicyViolation, "auth_failed")
		return
	}

	log = log.With(zap.String("player", playerID))
	client.log = log
	s := room.NewSession(h.reg, roomID, playerID, client)
	if _, err := s.Start(); err != nil {
		log.Info("join rejected", zap.Error(err))
		_ = client.Send(protocol.NewError(err.Error()))
		client.CloseWith(websocket.ClosePolicyViolation, errs.Code(err))
		return
	}
	log.Debug("connected", zap.String("encoding", codec.Name()))
	go client.readPump(s)
}
