package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "AgentHub/internal/errors"
)

// RedisConfig 描述 Redis 事件通道的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisSink 通过 Redis PUBLISH 广播事件。
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink 创建 Redis 事件通道。
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisSinkWithClient(client, cfg.Channel), nil
}

// NewRedisSinkWithClient 使用已有客户端创建事件通道。
func NewRedisSinkWithClient(client redis.UniversalClient, channel string) *RedisSink {
	if channel == "" {
		channel = "agenthub:events"
	}
	return &RedisSink{client: client, channel: channel}
}

// Send 实现 Sink。
func (s *RedisSink) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "序列化事件失败")
	}
	if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
