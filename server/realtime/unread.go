package realtime

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// UnreadCounter keeps per-conversation unread counts and a derived per-user
// total. The two counters are incremented as independent atomic operations,
// not one transaction; the total can drift under concurrent resets racing
// increments and is corrected by the next full reset.
type UnreadCounter struct {
	rdb *redis.Client
}

func NewUnreadCounter(rdb *redis.Client) *UnreadCounter {
	return &UnreadCounter{rdb: rdb}
}

// resetScript zeroes the per-conversation counter and subtracts the amount
// it held from the total. Blindly zeroing the total would erase unread state
// from other conversations.
var resetScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
redis.call('DEL', KEYS[1])
local total
if count > 0 then
	total = redis.call('DECRBY', KEYS[2], count)
else
	total = tonumber(redis.call('GET', KEYS[2]) or '0')
end
if total < 0 then
	total = 0
end
return total
`)

func (u *UnreadCounter) Increment(ctx context.Context, userID, conversationID string) error {
	pipe := u.rdb.Pipeline()
	pipe.Incr(ctx, unreadKey(userID, conversationID))
	pipe.Incr(ctx, unreadTotalKey(userID))
	_, err := pipe.Exec(ctx)
	return err
}

// Reset returns the user's new total after zeroing the conversation.
func (u *UnreadCounter) Reset(ctx context.Context, userID, conversationID string) (int64, error) {
	keys := []string{unreadKey(userID, conversationID), unreadTotalKey(userID)}
	return resetScript.Run(ctx, u.rdb, keys).Int64()
}

func (u *UnreadCounter) Total(ctx context.Context, userID string) (int64, error) {
	return u.readCount(ctx, unreadTotalKey(userID))
}

func (u *UnreadCounter) PerConversation(ctx context.Context, userID, conversationID string) (int64, error) {
	return u.readCount(ctx, unreadKey(userID, conversationID))
}

func (u *UnreadCounter) readCount(ctx context.Context, key string) (int64, error) {
	n, err := u.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}
