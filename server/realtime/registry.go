package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRegistry maps users to their single live connection per logical
// service, both directions, with a TTL ceiling against orphaned entries.
type SessionRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

const sessionTTL = 24 * time.Hour

func NewSessionRegistry(rdb *redis.Client) *SessionRegistry {
	return &SessionRegistry{rdb: rdb, ttl: sessionTTL}
}

// bindScript supersedes any previous binding for the user: the old reverse
// key is dropped so a stale connection id can no longer resolve to the user.
var bindScript = redis.NewScript(`
local old = redis.call('GET', KEYS[1])
if old and old ~= ARGV[1] then
	redis.call('DEL', ARGV[4] .. old)
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', tonumber(ARGV[3]))
redis.call('SET', KEYS[2], ARGV[2], 'EX', tonumber(ARGV[3]))
return 1
`)

// unbindScript deletes the binding only while it still belongs to the given
// connection, so a stale disconnect cannot evict a fresh reconnect.
var unbindScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	redis.call('DEL', KEYS[2])
	return 1
end
if redis.call('GET', KEYS[2]) == ARGV[2] then
	redis.call('DEL', KEYS[2])
end
return 0
`)

func (r *SessionRegistry) Bind(ctx context.Context, service, userID, connID string) error {
	keys := []string{sessionUserKey(service, userID), sessionConnKey(service, connID)}
	args := []any{connID, userID, int(r.ttl.Seconds()), sessionConnPrefix(service)}
	return bindScript.Run(ctx, r.rdb, keys, args...).Err()
}

// Unbind reports whether the live binding was removed. A false result means
// the binding had already been superseded and presence must not be touched.
func (r *SessionRegistry) Unbind(ctx context.Context, service, userID, connID string) (bool, error) {
	keys := []string{sessionUserKey(service, userID), sessionConnKey(service, connID)}
	n, err := unbindScript.Run(ctx, r.rdb, keys, connID, userID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Refresh extends both directions of the binding on heartbeat.
func (r *SessionRegistry) Refresh(ctx context.Context, service, userID, connID string) error {
	pipe := r.rdb.Pipeline()
	pipe.Expire(ctx, sessionUserKey(service, userID), r.ttl)
	pipe.Expire(ctx, sessionConnKey(service, connID), r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Lookup returns the live connection id for the user, or "" when absent.
func (r *SessionRegistry) Lookup(ctx context.Context, service, userID string) (string, error) {
	connID, err := r.rdb.Get(ctx, sessionUserKey(service, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return connID, err
}

// ReverseLookup returns the user holding the connection id, or "" when absent.
func (r *SessionRegistry) ReverseLookup(ctx context.Context, service, connID string) (string, error) {
	userID, err := r.rdb.Get(ctx, sessionConnKey(service, connID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return userID, err
}
