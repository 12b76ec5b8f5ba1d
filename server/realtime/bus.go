package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	commonlog "unilink_server/server/common/log"
)

// Handler consumes one event payload. Events arrive at least once and may be
// duplicated across restarts; handlers must tolerate duplicates.
type Handler func(ctx context.Context, payload []byte)

// EventBus bridges process instances over redis pub/sub, one channel per
// event kind. Handlers are resolved through a map built at subscribe time.
type EventBus struct {
	rdb *redis.Client

	mu       sync.Mutex
	handlers map[string]Handler
	sub      *redis.PubSub
	cancel   context.CancelFunc
}

func NewEventBus(rdb *redis.Client) *EventBus {
	return &EventBus{rdb: rdb, handlers: map[string]Handler{}}
}

// Handle registers a handler for a channel. Must be called before Start.
func (b *EventBus) Handle(channel string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = h
}

// Start subscribes to every registered channel and consumes until Stop or
// context cancellation. It returns after the subscriptions are confirmed so
// a publish issued next is not lost to the local consumer.
func (b *EventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.sub != nil {
		b.mu.Unlock()
		return nil
	}
	if len(b.handlers) == 0 {
		b.mu.Unlock()
		return errors.New("event bus has no handlers")
	}
	channels := make([]string, 0, len(b.handlers))
	for channel := range b.handlers {
		channels = append(channels, channel)
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := b.rdb.Subscribe(subCtx, channels...)
	b.sub = sub
	b.cancel = cancel
	b.mu.Unlock()

	for range channels {
		if _, err := sub.Receive(subCtx); err != nil {
			b.Stop()
			return err
		}
	}

	go b.consume(subCtx, sub)
	return nil
}

func (b *EventBus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.sub != nil {
		_ = b.sub.Close()
		b.sub = nil
	}
}

// Publish is fire-and-forget: failures are logged and swallowed so durable
// effects never depend on the fan-out.
func (b *EventBus) Publish(ctx context.Context, channel string, event any) {
	raw, err := json.Marshal(event)
	if err != nil {
		commonlog.Errorf("event=bus action=publish status=failed channel=%s error=%v", channel, err)
		return
	}
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		commonlog.Errorf("event=bus action=publish status=failed channel=%s error=%v", channel, err)
	}
}

func (b *EventBus) consume(ctx context.Context, sub *redis.PubSub) {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		b.mu.Lock()
		h := b.handlers[msg.Channel]
		b.mu.Unlock()
		if h == nil {
			continue
		}
		h(ctx, []byte(msg.Payload))
	}
}
