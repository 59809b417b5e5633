package dagaction

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisChannel = "dagmanager:dagactions"

// RedisStore is the Redis-backed Store alternative: pending actions live
// in a hash, and Add publishes the action's key on a Pub/Sub channel for
// Watch subscribers.
type RedisStore struct {
	Client *redis.Client
	Key    string // hash key holding all pending actions
}

// NewRedisStore returns a Store backed by client, with all actions stored
// under the hash key. DSN-based construction is the caller's
// responsibility (config.StoreConfig.DSN), matching the filesystem store's
// "pass in the resolved location" shape.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{Client: client, Key: key}
}

func (s *RedisStore) Add(ctx context.Context, a Action) error {
	pipe := s.Client.TxPipeline()
	pipe.HSetNX(ctx, s.Key, a.Key(), string(a.Type))
	pipe.Publish(ctx, redisChannel, a.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add dag action %s: %w", a.Key(), err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, a Action) error {
	if err := s.Client.HDel(ctx, s.Key, a.Key()).Err(); err != nil {
		return fmt.Errorf("failed to delete dag action %s: %w", a.Key(), err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, a Action) (bool, error) {
	ok, err := s.Client.HExists(ctx, s.Key, a.Key()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dag action %s: %w", a.Key(), err)
	}
	return ok, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Action, error) {
	keys, err := s.Client.HKeys(ctx, s.Key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dag actions: %w", err)
	}
	actions := make([]Action, 0, len(keys))
	for _, k := range keys {
		if a, ok := parseKey(k); ok {
			actions = append(actions, a)
		}
	}
	return actions, nil
}

// Watch subscribes to the Pub/Sub change-stream, emitting an Action each
// time one is published by Add, until ctx is done.
func (s *RedisStore) Watch(ctx context.Context) (<-chan Action, error) {
	sub := s.Client.Subscribe(ctx, redisChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", redisChannel, err)
	}

	out := make(chan Action)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if a, ok := parseKey(msg.Payload); ok {
					select {
					case out <- a:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}
