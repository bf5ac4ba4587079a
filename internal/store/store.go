// Package store 房间状态的外部镜像（可选，写穿透、尽力而为）。
//
// 内存中的房间状态才是权威；这里的写入失败只记录日志，不会回滚已经生效的
// 加入、移动或离开。读取接口只服务于恢复与排查工具。
package store

import (
	"context"
	"time"
)

// PlayerFields 写入外部存储的玩家字段
type PlayerFields struct {
	Side  string
	X     float64
	Y     float64
	Color string
}

// RoomMeta 写入外部存储的房间元数据
type RoomMeta struct {
	Name     string
	Capacity int
	Started  bool
	Width    float64
	Height   float64
	Updated  time.Time
}

// Store 外部存储适配器
type Store interface {
	PutMember(ctx context.Context, roomID, playerID string) error
	PutPlayerState(ctx context.Context, roomID, playerID string, f PlayerFields) error
	RemoveMember(ctx context.Context, roomID, playerID string) error
	PutRoomMeta(ctx context.Context, roomID string, meta RoomMeta) error
	RemoveRoom(ctx context.Context, roomID string) error
	ListRoomIDs(ctx context.Context) ([]string, error)
}

// Nop 未启用外部存储时使用
type Nop struct{}

func (Nop) PutMember(context.Context, string, string) error                    { return nil }
func (Nop) PutPlayerState(context.Context, string, string, PlayerFields) error { return nil }
func (Nop) RemoveMember(context.Context, string, string) error                 { return nil }
func (Nop) PutRoomMeta(context.Context, string, RoomMeta) error                { return nil }
func (Nop) RemoveRoom(context.Context, string) error                           { return nil }
func (Nop) ListRoomIDs(context.Context) ([]string, error)                      { return nil, nil }
