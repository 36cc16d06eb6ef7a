package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentHub/internal/errors"
)

// RedisConfig 描述 Redis 会话存储的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore 使用 Redis 保存会话：哈希保存共享区，列表保存交互日志。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewRedisStore 建立连接并校验可用性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("Redis 地址不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}
	store := NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL)
	store.owned = true
	return store, nil
}

// NewRedisStoreWithClient 使用已有客户端创建存储，调用方负责关闭客户端。
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "agenthub:session"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) metaKey(id string) string   { return s.prefix + ":" + id }
func (s *RedisStore) sharedKey(id string) string { return s.prefix + ":" + id + ":shared" }
func (s *RedisStore) logKey(id string) string    { return s.prefix + ":" + id + ":log" }

func (s *RedisStore) touch(ctx context.Context, pipe redis.Pipeliner, id string) {
	pipe.HSetNX(ctx, s.metaKey(id), "created_at", time.Now().UnixMilli())
	if s.ttl > 0 {
		pipe.Expire(ctx, s.metaKey(id), s.ttl)
		pipe.Expire(ctx, s.sharedKey(id), s.ttl)
		pipe.Expire(ctx, s.logKey(id), s.ttl)
	}
}

// GetOrCreate 读取或创建会话。
func (s *RedisStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	id = normalizeID(id)
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.touch(ctx, pipe, id)
		return nil
	}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化会话失败")
	}
	return s.load(ctx, id)
}

// Get 读取已存在的会话，不刷新过期时间。
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	id, err := requireID(id)
	if err != nil {
		return nil, err
	}
	n, err := s.client.Exists(ctx, s.metaKey(id)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话元数据失败")
	}
	if n == 0 {
		return nil, notFound(id)
	}
	return s.load(ctx, id)
}

func (s *RedisStore) load(ctx context.Context, id string) (*Session, error) {
	created, err := s.client.HGet(ctx, s.metaKey(id), "created_at").Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话元数据失败")
	}
	sess := &Session{ID: id, CreatedAt: time.UnixMilli(created), Shared: make(map[string]any)}

	fields, err := s.client.HGetAll(ctx, s.sharedKey(id)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取共享上下文失败")
	}
	for key, raw := range fields {
		value, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		sess.Shared[key] = value
	}

	entries, err := s.client.LRange(ctx, s.logKey(id), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取交互日志失败")
	}
	for _, entry := range entries {
		var interaction Interaction
		if err := json.Unmarshal([]byte(entry), &interaction); err != nil {
			continue
		}
		sess.Interactions = append(sess.Interactions, interaction)
	}
	return sess, nil
}

// AppendInteraction 追加交互并裁剪到上限。
func (s *RedisStore) AppendInteraction(ctx context.Context, sessionID string, interaction Interaction) error {
	id, err := requireID(sessionID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(stamp(interaction))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化交互失败")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.logKey(id), payload)
		pipe.LTrim(ctx, s.logKey(id), -MaxInteractions, -1)
		s.touch(ctx, pipe, id)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交互日志失败")
	}
	return nil
}

// SetShared 写入共享值。
func (s *RedisStore) SetShared(ctx context.Context, sessionID, key string, value any) error {
	id, err := requireID(sessionID)
	if err != nil {
		return err
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.sharedKey(id), key, raw)
		s.touch(ctx, pipe, id)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入共享上下文失败")
	}
	return nil
}

// GetShared 读取共享值。
func (s *RedisStore) GetShared(ctx context.Context, sessionID, key string) (any, bool, error) {
	id, err := requireID(sessionID)
	if err != nil {
		return nil, false, err
	}
	raw, err := s.client.HGet(ctx, s.sharedKey(id), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取共享上下文失败")
	}
	value, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Close 关闭自行创建的客户端。
func (s *RedisStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}
