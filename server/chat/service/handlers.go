package service

import (
	"context"
	"encoding/json"

	"unilink_server/server/chat/domain"
	commonlog "unilink_server/server/common/log"
	"unilink_server/server/realtime"
)

// RegisterBusHandlers subscribes the local fan-out to the cross-instance
// channels. Every instance receives every event and delivers to whichever
// room members are attached locally.
func (s *ChatService) RegisterBusHandlers(bus *realtime.EventBus) {
	bus.Handle(realtime.ChannelMessageNew, s.onMessageNew)
	bus.Handle(realtime.ChannelTypingStart, s.onTypingStart)
	bus.Handle(realtime.ChannelTypingStop, s.onTypingStop)
	bus.Handle(realtime.ChannelUserOnline, s.onUserOnline)
	bus.Handle(realtime.ChannelUserOffline, s.onUserOffline)
	bus.Handle(realtime.ChannelMessageRead, s.onMessageRead)
}

func (s *ChatService) onMessageNew(ctx context.Context, payload []byte) {
	var event domain.MessageNewEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		commonlog.Warnf("event=chat_bus action=message_new status=malformed error=%v", err)
		return
	}
	s.hub.SendRoom(event.ConversationID, map[string]any{
		"type":           "message:new",
		"conversationId": event.ConversationID,
		"message":        event.Message,
	})
	// the recipient's badge updates even when they haven't joined the room
	if s.hub.UserConnected(event.RecipientID) {
		s.hub.SendUser(event.RecipientID, map[string]any{
			"type":  "unread:total",
			"count": s.UnreadTotal(ctx, event.RecipientID),
		})
	}
}

func (s *ChatService) onTypingStart(ctx context.Context, payload []byte) {
	var event domain.TypingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		commonlog.Warnf("event=chat_bus action=typing_start status=malformed error=%v", err)
		return
	}
	s.hub.SendRoom(event.ConversationID, map[string]any{
		"type":           "typing:start",
		"conversationId": event.ConversationID,
		"userId":         event.UserID,
		"user":           event.User,
	})
}

func (s *ChatService) onTypingStop(ctx context.Context, payload []byte) {
	var event domain.TypingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		commonlog.Warnf("event=chat_bus action=typing_stop status=malformed error=%v", err)
		return
	}
	s.hub.SendRoom(event.ConversationID, map[string]any{
		"type":           "typing:stop",
		"conversationId": event.ConversationID,
		"userId":         event.UserID,
	})
}

func (s *ChatService) onUserOnline(ctx context.Context, payload []byte) {
	var event realtime.PresenceEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		commonlog.Warnf("event=chat_bus action=user_online status=malformed error=%v", err)
		return
	}
	s.hub.SendAll(map[string]any{"type": "user:online", "userId": event.UserID})
}

func (s *ChatService) onUserOffline(ctx context.Context, payload []byte) {
	var event realtime.PresenceEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		commonlog.Warnf("event=chat_bus action=user_offline status=malformed error=%v", err)
		return
	}
	s.hub.SendAll(map[string]any{"type": "user:offline", "userId": event.UserID})
}

func (s *ChatService) onMessageRead(ctx context.Context, payload []byte) {
	var event domain.ReadReceiptEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		commonlog.Warnf("event=chat_bus action=message_read status=malformed error=%v", err)
		return
	}
	s.hub.SendRoom(event.ConversationID, map[string]any{
		"type":           "message:read",
		"conversationId": event.ConversationID,
		"userId":         event.UserID,
	})
	if s.hub.UserConnected(event.UserID) {
		s.hub.SendUser(event.UserID, map[string]any{
			"type":  "unread:total",
			"count": event.Total,
		})
	}
}
