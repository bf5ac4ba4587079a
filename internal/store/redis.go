package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis 键布局：
//
//	rooms                     SET   所有房间 ID
//	room:{id}:meta            HASH  name/capacity/started/width/height/updated
//	room:{id}:members         SET   玩家 ID
//	room:{id}:player:{pid}    HASH  side/x/y/color
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

const roomsKey = "rooms"

func metaKey(roomID string) string    { return fmt.Sprintf("room:%s:meta", roomID) }
func membersKey(roomID string) string { return fmt.Sprintf("room:%s:members", roomID) }
func playerKey(roomID, playerID string) string {
	return fmt.Sprintf("room:%s:player:%s", roomID, playerID)
}

func (s *Redis) PutMember(ctx context.Context, roomID, playerID string) error {
	return s.client.SAdd(ctx, membersKey(roomID), playerID).Err()
}

func (s *Redis) PutPlayerState(ctx context.Context, roomID, playerID string, f PlayerFields) error {
	values := map[string]any{
		"x": strconv.FormatFloat(f.X, 'f', -1, 64),
		"y": strconv.FormatFloat(f.Y, 'f', -1, 64),
	}
	if f.Side != "" {
		values["side"] = f.Side
	}
	if f.Color != "" {
		values["color"] = f.Color
	}
	return s.client.HSet(ctx, playerKey(roomID, playerID), values).Err()
}

func (s *Redis) RemoveMember(ctx context.Context, roomID, playerID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, membersKey(roomID), playerID)
		pipe.Del(ctx, playerKey(roomID, playerID))
		return nil
	})
	return err
}

func (s *Redis) PutRoomMeta(ctx context.Context, roomID string, meta RoomMeta) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, roomsKey, roomID)
		pipe.HSet(ctx, metaKey(roomID), map[string]any{
			"name":     meta.Name,
			"capacity": meta.Capacity,
			"started":  strconv.FormatBool(meta.Started),
			"width":    strconv.FormatFloat(meta.Width, 'f', -1, 64),
			"height":   strconv.FormatFloat(meta.Height, 'f', -1, 64),
			"updated":  meta.Updated.UnixMilli(),
		})
		return nil
	})
	return err
}

// RemoveRoom 删除房间及其全部玩家键
func (s *Redis) RemoveRoom(ctx context.Context, roomID string) error {
	members, err := s.client.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return err
	}
	keys := []string{metaKey(roomID), membersKey(roomID)}
	for _, pid := range members {
		keys = append(keys, playerKey(roomID, pid))
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, roomsKey, roomID)
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

func (s *Redis) ListRoomIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
