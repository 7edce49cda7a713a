package sessionbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis fans events out across API replicas over Pub/Sub, one channel per
// user.
type Redis struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedis(rdb *redis.Client, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{rdb: rdb, log: log}
}

func (b *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel(ev.UserID), payload).Err()
}

func (b *Redis) Subscribe(ctx context.Context, userID string, fn func(Event)) (func(), error) {
	sub := b.rdb.Subscribe(ctx, Channel(userID))

	// wait for the subscription to be confirmed so no publish is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	ch := sub.Channel()

	go func() {
		for msg := range ch {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("session_bus_bad_payload", "channel", msg.Channel, "err", err)
				continue
			}
			fn(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				b.log.Warn("session_bus_unsubscribe_failed", "user_id", userID, "err", err)
			}
		})
	}, nil
}
