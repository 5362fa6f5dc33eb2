package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

// ListenResilient - универсальный цикл для "живучей" подписки на канал Redis.
// Обрабатывает переподключения; после каждого успешного коннекта вызывает onReconnect,
// чтобы догнать пропущенное за время разрыва.
func ListenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func(ctx context.Context) error,
	onMessage func(ctx context.Context, payload string),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if err := onReconnect(ctx); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				onMessage(ctx, msg.Payload)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

// FollowEvents держит табло в актуальном состоянии по событиям других инстансов.
func FollowEvents(ctx context.Context, rdb *redis.Client, board *Board, channel string, logger *zap.Logger) {
	logger = logger.Named("board-follower")
	ListenResilient(ctx, rdb, logger, channel,
		board.Init,
		func(ctx context.Context, payload string) {
			rec, err := eventlog.Unmarshal([]byte(payload))
			if err != nil {
				logger.Error("invalid event envelope", zap.String("payload", payload), zap.Error(err))
				return
			}
			if err := board.Publish(ctx, rec); err != nil {
				logger.Warn("board update failed",
					zap.String("constraint_id", rec.ConstraintID),
					zap.Int64("version", rec.Version),
					zap.Error(err))
			}
		},
	)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
