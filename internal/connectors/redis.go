package connectors

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

// redisPublisher - то, что нужно от go-redis (redis.Client, redis.ClusterClient).
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher рассылает записанные события в Pub/Sub канал.
// Другие инстансы подписываются на него, чтобы держать табло свежим.
type RedisPublisher struct {
	rdb     redisPublisher
	channel string
}

func NewRedisPublisher(rdb redisPublisher, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt eventlog.RecordedEvent) error {
	data, err := eventlog.Marshal(evt)
	if err != nil {
		return &PublishError{Sink: "redis", ConstraintID: evt.ConstraintID, Version: evt.Version, Cause: err}
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return &PublishError{Sink: "redis", ConstraintID: evt.ConstraintID, Version: evt.Version, Cause: err}
	}
	return nil
}
