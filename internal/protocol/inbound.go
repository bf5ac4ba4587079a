package protocol

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"

	"roomsync/internal/errs"
)

// Inbound 客户端上行消息（封闭集合：Move/Init/Ball/StartGame/Ping）
type Inbound interface {
	inbound()
}

// Move 玩家位置更新
type Move struct {
	X float64
	Y float64
}

// Init 客户端上报世界尺寸
type Init struct {
	Width  float64
	Height float64
}

// Ball 球的物理载荷，服务端只转发不模拟
type Ball struct {
	X, Y   float64
	VX, VY float64
}

// StartGame 开始游戏
type StartGame struct{}

// Ping 应用层心跳
type Ping struct{}

func (Move) inbound()      {}
func (Init) inbound()      {}
func (Ball) inbound()      {}
func (StartGame) inbound() {}
func (Ping) inbound()      {}

// 上行消息类型
const (
	KindMove      = "move"
	KindInit      = "init"
	KindBall      = "ball"
	KindStartGame = "start_game"
	KindPing      = "ping"
)

// Parse 将解码后的通用 map 转为具体消息；未知类型或字段非法返回 MALFORMED_MESSAGE
func Parse(raw map[string]any) (Inbound, error) {
	kind := strings.ToLower(cast.ToString(raw["type"]))
	switch kind {
	case KindMove:
		x, y, err := floats2(raw, "x", "y")
		if err != nil {
			return nil, err
		}
		return Move{X: x, Y: y}, nil
	case KindInit:
		w, h, err := floats2(raw, "width", "height")
		if err != nil {
			return nil, err
		}
		if w <= 0 || h <= 0 {
			return nil, malformed(fmt.Sprintf("init: non-positive world size %vx%v", w, h))
		}
		return Init{Width: w, Height: h}, nil
	case KindBall:
		x, y, err := floats2(raw, "x", "y")
		if err != nil {
			return nil, err
		}
		vx, vy, err := floats2(raw, "vx", "vy")
		if err != nil {
			return nil, err
		}
		return Ball{X: x, Y: y, VX: vx, VY: vy}, nil
	case KindStartGame:
		return StartGame{}, nil
	case KindPing:
		return Ping{}, nil
	case "":
		return nil, malformed("missing type")
	default:
		return nil, malformed("unknown type " + kind)
	}
}

// floats2 读取两个数值字段；允许数字或数字字符串
func floats2(raw map[string]any, a, b string) (float64, float64, error) {
	va, err := number(raw, a)
	if err != nil {
		return 0, 0, err
	}
	vb, err := number(raw, b)
	if err != nil {
		return 0, 0, err
	}
	return va, vb, nil
}

func number(raw map[string]any, key string) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, malformed("missing field " + key)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, errs.Wrap(err, errs.CodeMalformedMessage, "field "+key)
	}
	// NaN/Inf 无法编码为 JSON，会导致整个房间的广播失败
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, malformed("non-finite field " + key)
	}
	return f, nil
}

func malformed(msg string) error {
	return errs.New(errs.CodeMalformedMessage, msg)
}
