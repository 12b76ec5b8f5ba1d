package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// MessageCache holds the most recent messages per conversation in a bounded
// redis list, newest first. A miss is not an error; callers fall back to the
// durable store. The cached window, when present, is always a suffix of the
// durable history.
type MessageCache struct {
	rdb *redis.Client
}

const (
	messageCacheSize = 50
	messageCacheTTL  = time.Hour
)

func NewMessageCache(rdb *redis.Client) *MessageCache {
	return &MessageCache{rdb: rdb}
}

// Push prepends a snapshot, trims to the window size, then refreshes the
// TTL. Trimming before the expiry refresh keeps the list bounded even when a
// TTL race drops the expiry.
func (m *MessageCache) Push(ctx context.Context, conversationID string, snapshot any) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	key := messageCacheKey(conversationID)
	pipe := m.rdb.Pipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, messageCacheSize-1)
	pipe.Expire(ctx, key, messageCacheTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Read returns up to count snapshots oldest first. An absent key yields an
// empty slice and no error.
func (m *MessageCache) Read(ctx context.Context, conversationID string, count int) ([]json.RawMessage, error) {
	if count <= 0 {
		count = messageCacheSize
	}
	items, err := m.rdb.LRange(ctx, messageCacheKey(conversationID), 0, int64(count-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		out[len(items)-1-i] = json.RawMessage(item)
	}
	return out, nil
}

// Fill repopulates the cache from a durable read, oldest first, so the list
// ends newest-first like Push leaves it.
func (m *MessageCache) Fill(ctx context.Context, conversationID string, oldestFirst []any) error {
	for _, snapshot := range oldestFirst {
		if err := m.Push(ctx, conversationID, snapshot); err != nil {
			return err
		}
	}
	return nil
}
