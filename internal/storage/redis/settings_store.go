package redis

import (
	"context"
	"errors"

	"github.com/goodtune/puzzlegate/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	destinationsKey = keyPrefix + "settings:destinations"
	economyKey      = keyPrefix + "settings:economy"
	changedChannel  = keyPrefix + "settings:changed"
)

type settingsStore struct {
	client *redis.Client

	// origin tags change notifications so a process ignores its own writes
	origin string
}

// LoadDestinations returns the raw destination list JSON
func (s *settingsStore) LoadDestinations(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, destinationsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SaveDestinations stores the destination list and announces the change
func (s *settingsStore) SaveDestinations(ctx context.Context, raw []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, destinationsKey, raw, 0)
		pipe.Publish(ctx, changedChannel, s.origin)
		return nil
	})
	return err
}

// LoadEconomy returns the stored economy tunables
func (s *settingsStore) LoadEconomy(ctx context.Context) (*storage.EconomyRecord, error) {
	data, err := s.client.HGetAll(ctx, economyKey).Result()
	if err != nil {
		return nil, err
	}
	return parseEconomyRecord(data)
}

// SaveEconomy stores the economy tunables and announces the change
func (s *settingsStore) SaveEconomy(ctx context.Context, economy storage.EconomyRecord) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, economyKey, economyFields(economy)...)
		pipe.Publish(ctx, changedChannel, s.origin)
		return nil
	})
	return err
}

// Subscribe signals settings changes made by other processes. Bursts of
// changes collapse into a single pending signal.
func (s *settingsStore) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	pubsub := s.client.Subscribe(ctx, changedChannel)

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg.Payload == s.origin {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, nil
}
