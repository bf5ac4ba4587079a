package room

import (
	"time"

	"roomsync/internal/protocol"
)

// Side 玩家所在半场
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// sides 按加入顺序分配：先 A 后 B
var sides = []Side{SideA, SideB}

// MaxCapacity 每个半场一人
var MaxCapacity = len(sides)

// Color 按半场固定取色
func (s Side) Color() string {
	switch s {
	case SideA:
		return "#e74c3c"
	case SideB:
		return "#3498db"
	default:
		return "#ffffff"
	}
}

// Spawn 出生点：A 在左半场中心，B 在右半场中心
func (s Side) Spawn(width, height float64) (float64, float64) {
	if s == SideB {
		return width * 3 / 4, height / 2
	}
	return width / 4, height / 2
}

// Player 房间内的玩家实体（服务端权威状态），只属于一个 Room
type Player struct {
	ID           string
	Side         Side
	X            float64
	Y            float64
	Color        string
	LastActivity time.Time
}

func (p *Player) state() protocol.PlayerState {
	return protocol.PlayerState{
		PlayerID: p.ID,
		Side:     string(p.Side),
		X:        p.X,
		Y:        p.Y,
		Color:    p.Color,
	}
}

// Ball 房间内唯一的球，每次更新整体覆盖
type Ball struct {
	X, Y      float64
	VX, VY    float64
	Timestamp time.Time
}

// Assignment 加入成功后分配给玩家的信息
type Assignment struct {
	Side  Side
	Color string
	X     float64
	Y     float64
}
