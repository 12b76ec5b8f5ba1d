package service

import (
	"context"
	"encoding/json"

	commonlog "unilink_server/server/common/log"
	"unilink_server/server/notify/domain"
	"unilink_server/server/realtime"
)

// RegisterBusHandlers subscribes the local fan-out: every instance receives
// notification events and delivers to whichever target users are attached
// locally.
func (s *NotifyService) RegisterBusHandlers(bus *realtime.EventBus) {
	bus.Handle(realtime.ChannelNotificationNew, s.onNew)
	bus.Handle(realtime.ChannelNotificationUpdated, s.onUpdated)
}

func (s *NotifyService) onNew(ctx context.Context, payload []byte) {
	s.deliver(ctx, payload, "notification:new")
}

func (s *NotifyService) onUpdated(ctx context.Context, payload []byte) {
	s.deliver(ctx, payload, "notification:updated")
}

func (s *NotifyService) deliver(ctx context.Context, payload []byte, frameType string) {
	var n domain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		commonlog.Warnf("event=notify_bus action=%s status=malformed error=%v", frameType, err)
		return
	}
	if !s.hub.UserConnected(n.UserID) {
		return
	}
	s.hub.SendUser(n.UserID, map[string]any{"type": frameType, "notification": n})

	count, err := s.store.UnreadCount(ctx, n.UserID)
	if err != nil {
		commonlog.Warnf("event=notify_bus action=unread_count status=failed user_id=%s error=%v", n.UserID, err)
		return
	}
	s.hub.SendUser(n.UserID, map[string]any{"type": "notification:unread-count", "count": count})
}
