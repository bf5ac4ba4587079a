package room

import (
	"sync/atomic"

	"go.uber.org/zap"

	"roomsync/internal/errs"
	"roomsync/internal/protocol"
)

// State 连接会话状态
type State int32

const (
	Connecting State = iota
	Joined
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 单个连接的消息分发：Connecting → Joined → Active → Closed
type Session struct {
	reg      *Registry
	roomID   string
	playerID string
	conn     Conn
	room     *Room
	state    atomic.Int32
	log      *zap.Logger
}

func NewSession(reg *Registry, roomID, playerID string, conn Conn) *Session {
	return &Session{
		reg:      reg,
		roomID:   roomID,
		playerID: playerID,
		conn:     conn,
		log:      reg.Logger().With(zap.String("room", roomID), zap.String("player", playerID)),
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) PlayerID() string { return s.playerID }

// Room 加入成功后返回所在房间
func (s *Session) Room() *Room { return s.room }

// Start 加入房间并向全房间广播 join（包括自己）
func (s *Session) Start() (Assignment, error) {
	if !s.state.CompareAndSwap(int32(Connecting), int32(Joined)) {
		return Assignment{}, errs.New(errs.CodeInvalidInput, "session already started")
	}
	r, a, err := s.reg.Join(s.roomID, s.playerID, s.conn)
	if err != nil {
		s.state.Store(int32(Closed))
		return Assignment{}, err
	}
	s.room = r
	r.Broadcast(protocol.NewJoin(s.playerID, string(a.Side), a.Color, a.X, a.Y))
	s.state.CompareAndSwap(int32(Joined), int32(Active))
	return a, nil
}

// Handle 分发一条已解码的上行消息；非 Active 状态下忽略
func (s *Session) Handle(msg protocol.Inbound) {
	if s.State() != Active {
		return
	}
	r := s.room
	switch m := msg.(type) {
	case protocol.Move:
		r.UpdatePosition(s.playerID, m.X, m.Y)
	case protocol.Init:
		r.Touch(s.playerID)
		if err := r.SetWorld(m.Width, m.Height); err != nil {
			s.Reject(err)
		}
	case protocol.Ball:
		r.Touch(s.playerID)
		r.RecordBall(m.X, m.Y, m.VX, m.VY)
	case protocol.StartGame:
		r.Touch(s.playerID)
		r.StartGame()
	case protocol.Ping:
		if r.Touch(s.playerID) {
			if err := s.conn.Send(protocol.NewPong()); err != nil {
				s.log.Debug("pong not delivered", zap.Error(err))
			}
		}
	default:
		s.Reject(errs.ErrMalformedMessage)
	}
}

// HandleFrame 解码并分发一帧；解码失败只回复 error，不断开连接
func (s *Session) HandleFrame(codec protocol.Codec, data []byte) {
	msg, err := codec.Decode(data)
	if err != nil {
		s.Reject(err)
		return
	}
	s.Handle(msg)
}

// Reject 向发送方回复 error 事件
func (s *Session) Reject(err error) {
	if errs.IsCode(err, errs.CodeMalformedMessage) {
		s.reg.Metrics().MalformedMessages.Add(1)
	}
	s.log.Warn("rejected message", zap.Error(err))
	if sendErr := s.conn.Send(protocol.NewError(err.Error())); sendErr != nil {
		s.log.Debug("error event not delivered", zap.Error(sendErr))
	}
}

// Close 进入 Closed 并离开房间；重复调用无副作用
func (s *Session) Close() {
	prev := State(s.state.Swap(int32(Closed)))
	if prev == Closed {
		return
	}
	if s.room != nil {
		s.room.leave(s.playerID, s.conn)
	}
}
