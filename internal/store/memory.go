package store

import (
	"context"
	"sort"
	"sync"
)

// Memory 进程内实现，用于测试与单机排查
type Memory struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
	players map[string]map[string]PlayerFields
	meta    map[string]RoomMeta

	failWith error // 错误注入：非空时所有写操作返回该错误
}

func NewMemory() *Memory {
	return &Memory{
		members: make(map[string]map[string]struct{}),
		players: make(map[string]map[string]PlayerFields),
		meta:    make(map[string]RoomMeta),
	}
}

// SetFailure 注入写错误，传 nil 恢复
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

func (m *Memory) PutMember(_ context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.members[roomID] == nil {
		m.members[roomID] = make(map[string]struct{})
	}
	m.members[roomID][playerID] = struct{}{}
	return nil
}

func (m *Memory) PutPlayerState(_ context.Context, roomID, playerID string, f PlayerFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.players[roomID] == nil {
		m.players[roomID] = make(map[string]PlayerFields)
	}
	m.players[roomID][playerID] = f
	return nil
}

func (m *Memory) RemoveMember(_ context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	delete(m.members[roomID], playerID)
	delete(m.players[roomID], playerID)
	return nil
}

func (m *Memory) PutRoomMeta(_ context.Context, roomID string, meta RoomMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.meta[roomID] = meta
	return nil
}

func (m *Memory) RemoveRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	delete(m.meta, roomID)
	delete(m.members, roomID)
	delete(m.players, roomID)
	return nil
}

func (m *Memory) ListRoomIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.meta))
	for id := range m.meta {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Members 返回房间成员（已排序）
func (m *Memory) Members(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.members[roomID]))
	for id := range m.members[roomID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Player 返回玩家字段
func (m *Memory) Player(roomID, playerID string) (PlayerFields, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.players[roomID][playerID]
	return f, ok
}

// Meta 返回房间元数据
func (m *Memory) Meta(roomID string) (RoomMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.meta[roomID]
	return meta, ok
}
