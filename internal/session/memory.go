package session

import (
	"context"
	"sync"
	"time"
)

type memorySession struct {
	id           string
	createdAt    time.Time
	interactions []Interaction
	shared       map[string][]byte
}

// MemoryStore 在进程内保存会话，适合单实例部署与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (m *MemoryStore) ensure(id string) *memorySession {
	sess, ok := m.sessions[id]
	if !ok {
		sess = &memorySession{id: id, createdAt: time.Now(), shared: make(map[string][]byte)}
		m.sessions[id] = sess
	}
	return sess
}

// GetOrCreate 返回会话快照，ID 为空时生成新会话。
func (m *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	id = normalizeID(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(m.ensure(id))
}

// Get 返回已存在会话的快照。
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	id, err := requireID(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return m.snapshot(sess)
}

func (m *MemoryStore) snapshot(sess *memorySession) (*Session, error) {
	snapshot := &Session{
		ID:           sess.id,
		CreatedAt:    sess.createdAt,
		Interactions: append([]Interaction(nil), sess.interactions...),
		Shared:       make(map[string]any, len(sess.shared)),
	}
	for key, raw := range sess.shared {
		value, err := decode(raw)
		if err != nil {
			return nil, err
		}
		snapshot.Shared[key] = value
	}
	return snapshot, nil
}

// AppendInteraction 追加交互记录，超过上限时丢弃最早的记录。
func (m *MemoryStore) AppendInteraction(_ context.Context, sessionID string, interaction Interaction) error {
	id, err := requireID(sessionID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.ensure(id)
	sess.interactions = append(sess.interactions, stamp(interaction))
	if overflow := len(sess.interactions) - MaxInteractions; overflow > 0 {
		sess.interactions = append([]Interaction(nil), sess.interactions[overflow:]...)
	}
	return nil
}

// SetShared 写入共享值。
func (m *MemoryStore) SetShared(_ context.Context, sessionID, key string, value any) error {
	id, err := requireID(sessionID)
	if err != nil {
		return err
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(id).shared[key] = raw
	return nil
}

// GetShared 读取共享值。
func (m *MemoryStore) GetShared(_ context.Context, sessionID, key string) (any, bool, error) {
	id, err := requireID(sessionID)
	if err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, false, nil
	}
	raw, ok := sess.shared[key]
	if !ok {
		return nil, false, nil
	}
	value, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Len 返回会话数量。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close 实现 Store。
func (m *MemoryStore) Close() error { return nil }
