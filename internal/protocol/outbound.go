package protocol

// 下行消息类型
const (
	TypeJoin        = "join"
	TypeState       = "state"
	TypeBall        = "ball"
	TypeGameStarted = "game_started"
	TypeLeave       = "leave"
	TypePong        = "pong"
	TypeError       = "error"
	TypeAuth        = "auth"
)

// Outbound 下行消息，Kind 与线上 type 字段一致
type Outbound interface {
	Kind() string
}

// PlayerState 为广播给客户端的玩家状态
type PlayerState struct {
	PlayerID string  `json:"player_id" msgpack:"player_id"`
	Side     string  `json:"side" msgpack:"side"`
	X        float64 `json:"x" msgpack:"x"`
	Y        float64 `json:"y" msgpack:"y"`
	Color    string  `json:"color" msgpack:"color"`
}

type JoinEvent struct {
	Type     string  `json:"type" msgpack:"type"`
	PlayerID string  `json:"player_id" msgpack:"player_id"`
	Side     string  `json:"side" msgpack:"side"`
	Color    string  `json:"color" msgpack:"color"`
	X        float64 `json:"x" msgpack:"x"`
	Y        float64 `json:"y" msgpack:"y"`
}

type StateEvent struct {
	Type    string        `json:"type" msgpack:"type"`
	Players []PlayerState `json:"players" msgpack:"players"`
}

type BallEvent struct {
	Type string  `json:"type" msgpack:"type"`
	X    float64 `json:"x" msgpack:"x"`
	Y    float64 `json:"y" msgpack:"y"`
	VX   float64 `json:"vx" msgpack:"vx"`
	VY   float64 `json:"vy" msgpack:"vy"`
}

type GameStartedEvent struct {
	Type string `json:"type" msgpack:"type"`
}

type LeaveEvent struct {
	Type     string `json:"type" msgpack:"type"`
	PlayerID string `json:"player_id" msgpack:"player_id"`
}

type PongEvent struct {
	Type string `json:"type" msgpack:"type"`
}

// ErrorEvent 只发给出错的连接本身，不会断开连接
type ErrorEvent struct {
	Type    string `json:"type" msgpack:"type"`
	Message string `json:"message" msgpack:"message"`
}

// AuthEvent 握手鉴权失败时下发，随后以 1008 关闭
type AuthEvent struct {
	Type    string `json:"type" msgpack:"type"`
	Message string `json:"message" msgpack:"message"`
}

func (JoinEvent) Kind() string        { return TypeJoin }
func (StateEvent) Kind() string       { return TypeState }
func (BallEvent) Kind() string        { return TypeBall }
func (GameStartedEvent) Kind() string { return TypeGameStarted }
func (LeaveEvent) Kind() string       { return TypeLeave }
func (PongEvent) Kind() string        { return TypePong }
func (ErrorEvent) Kind() string       { return TypeError }
func (AuthEvent) Kind() string        { return TypeAuth }

func NewJoin(playerID, side, color string, x, y float64) JoinEvent {
	return JoinEvent{Type: TypeJoin, PlayerID: playerID, Side: side, Color: color, X: x, Y: y}
}

func NewState(players []PlayerState) StateEvent {
	if players == nil {
		players = []PlayerState{}
	}
	return StateEvent{Type: TypeState, Players: players}
}

func NewBall(x, y, vx, vy float64) BallEvent {
	return BallEvent{Type: TypeBall, X: x, Y: y, VX: vx, VY: vy}
}

func NewGameStarted() GameStartedEvent { return GameStartedEvent{Type: TypeGameStarted} }

func NewLeave(playerID string) LeaveEvent { return LeaveEvent{Type: TypeLeave, PlayerID: playerID} }

func NewPong() PongEvent { return PongEvent{Type: TypePong} }

func NewError(msg string) ErrorEvent { return ErrorEvent{Type: TypeError, Message: msg} }

func NewAuthFailed() AuthEvent { return AuthEvent{Type: TypeAuth, Message: "false"} }
