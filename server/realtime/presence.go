package realtime

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceTracker keeps the online set and per-conversation typing sets for
// one logical service. A user is online only while both their online-set
// membership and their heartbeat key are alive; the heartbeat key expiring
// bounds the staleness window when a process dies without disconnect
// cleanup.
type PresenceTracker struct {
	rdb     *redis.Client
	service string
}

const (
	presenceTTL = 75 * time.Second
	typingTTL   = 5 * time.Second
)

func NewPresenceTracker(rdb *redis.Client, service string) *PresenceTracker {
	return &PresenceTracker{rdb: rdb, service: service}
}

func (p *PresenceTracker) MarkOnline(ctx context.Context, userID string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, onlineSetKey(p.service), userID)
	pipe.Set(ctx, presenceKey(p.service, userID), now, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *PresenceTracker) MarkOffline(ctx context.Context, userID string) error {
	pipe := p.rdb.Pipeline()
	pipe.SRem(ctx, onlineSetKey(p.service), userID)
	pipe.Del(ctx, presenceKey(p.service, userID))
	_, err := pipe.Exec(ctx)
	return err
}

// Heartbeat refreshes the presence key; it also restores it after a missed
// window so a laggy client flaps back online without a reconnect.
func (p *PresenceTracker) Heartbeat(ctx context.Context, userID string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return p.rdb.Set(ctx, presenceKey(p.service, userID), now, presenceTTL).Err()
}

func (p *PresenceTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	pipe := p.rdb.Pipeline()
	member := pipe.SIsMember(ctx, onlineSetKey(p.service), userID)
	alive := pipe.Exists(ctx, presenceKey(p.service, userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if member.Val() && alive.Val() == 0 {
		// heartbeat expired while the membership lingered; correct lazily
		_ = p.rdb.SRem(ctx, onlineSetKey(p.service), userID).Err()
		return false, nil
	}
	return member.Val() && alive.Val() > 0, nil
}

// OnlineSubset filters userIDs down to the ones currently online, in a
// single pipelined round trip.
func (p *PresenceTracker) OnlineSubset(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	pipe := p.rdb.Pipeline()
	members := make([]*redis.BoolCmd, len(userIDs))
	alive := make([]*redis.IntCmd, len(userIDs))
	for i, userID := range userIDs {
		members[i] = pipe.SIsMember(ctx, onlineSetKey(p.service), userID)
		alive[i] = pipe.Exists(ctx, presenceKey(p.service, userID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	online := make([]string, 0, len(userIDs))
	for i, userID := range userIDs {
		if members[i].Val() && alive[i].Val() > 0 {
			online = append(online, userID)
		}
	}
	return online, nil
}

// SweepStale prunes online-set members whose heartbeat key expired and
// returns them so the caller can announce them offline. Safe to run from
// every instance; duplicate offline events are tolerated downstream.
func (p *PresenceTracker) SweepStale(ctx context.Context) ([]string, error) {
	userIDs, err := p.rdb.SMembers(ctx, onlineSetKey(p.service)).Result()
	if err != nil || len(userIDs) == 0 {
		return nil, err
	}
	pipe := p.rdb.Pipeline()
	alive := make([]*redis.IntCmd, len(userIDs))
	for i, userID := range userIDs {
		alive[i] = pipe.Exists(ctx, presenceKey(p.service, userID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	var stale []string
	for i, userID := range userIDs {
		if alive[i].Val() == 0 {
			stale = append(stale, userID)
		}
	}
	if len(stale) > 0 {
		staleAny := make([]any, len(stale))
		for i, userID := range stale {
			staleAny[i] = userID
		}
		if err := p.rdb.SRem(ctx, onlineSetKey(p.service), staleAny...).Err(); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

func (p *PresenceTracker) SetTyping(ctx context.Context, conversationID, userID string) error {
	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, typingKey(conversationID), userID)
	pipe.Expire(ctx, typingKey(conversationID), typingTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *PresenceTracker) ClearTyping(ctx context.Context, conversationID, userID string) error {
	return p.rdb.SRem(ctx, typingKey(conversationID), userID).Err()
}

func (p *PresenceTracker) ListTyping(ctx context.Context, conversationID string) ([]string, error) {
	return p.rdb.SMembers(ctx, typingKey(conversationID)).Result()
}
