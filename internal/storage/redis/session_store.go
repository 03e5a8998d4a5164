package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/goodtune/puzzlegate/internal/storage"
	"github.com/redis/go-redis/v9"
)

const sessionsSetKey = keyPrefix + "sessions"

var (
	upsertSession = redis.NewScript(upsertSessionScript)
	deleteSession = redis.NewScript(deleteSessionScript)
)

type sessionStore struct {
	client *redis.Client
}

func sessionKey(destinationID string) string {
	return fmt.Sprintf("%ssession:%s", keyPrefix, destinationID)
}

// Get retrieves the session record for a destination
func (s *sessionStore) Get(ctx context.Context, destinationID string) (*storage.SessionRecord, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(destinationID)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSessionRecord(data)
}

// List returns every stored session record ordered by destination
func (s *sessionStore) List(ctx context.Context) ([]storage.SessionRecord, error) {
	ids, err := s.client.SMembers(ctx, sessionsSetKey).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.SessionRecord{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.SessionRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		record, err := parseSessionRecord(data)
		if err == nil {
			records = append(records, *record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DestinationID < records[j].DestinationID
	})

	return records, nil
}

// Upsert creates or replaces a session record
func (s *sessionStore) Upsert(ctx context.Context, record storage.SessionRecord) error {
	if record.DestinationID == "" {
		return fmt.Errorf("session record requires a destination id")
	}

	keys := []string{sessionKey(record.DestinationID), sessionsSetKey}
	args := []interface{}{record.DestinationID, record.Count, record.LastResetDate}

	return upsertSession.Run(ctx, s.client, keys, args...).Err()
}

// Delete removes a session record
func (s *sessionStore) Delete(ctx context.Context, destinationID string) error {
	keys := []string{sessionKey(destinationID), sessionsSetKey}

	removed, err := deleteSession.Run(ctx, s.client, keys, destinationID).Int()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}
