package service

import (
	"context"
	"encoding/json"
	"time"

	"unilink_server/server/chat/domain"
	commonlog "unilink_server/server/common/log"
	"unilink_server/server/realtime"
)

// RegisterActions wires the inbound websocket actions onto the dispatcher
// along with the connect hook that primes a fresh connection.
func (s *ChatService) RegisterActions(d *realtime.Dispatcher) {
	d.Handle("conversation:join", s.actionJoin)
	d.Handle("conversation:leave", s.actionLeave)
	d.Handle("message:send", s.actionSend)
	d.Handle("messages:read", s.actionRead)
	d.Handle("typing:start", s.actionTypingStart)
	d.Handle("typing:stop", s.actionTypingStop)
	d.Handle("users:status", s.actionUsersStatus)
	d.OnConnect(s.onConnect)
}

// onConnect primes the fresh connection with who of the user's friends is
// online and the current unread badge.
func (s *ChatService) onConnect(ctx context.Context, conn *realtime.Conn) {
	friends, err := s.store.FriendIDs(ctx, conn.UserID)
	if err != nil {
		commonlog.Warnf("event=chat_connect action=friend_ids status=failed user_id=%s error=%v", conn.UserID, err)
	}
	online, err := s.presence.OnlineSubset(ctx, friends)
	if err != nil {
		commonlog.Warnf("event=chat_connect action=online_subset status=failed user_id=%s error=%v", conn.UserID, err)
	}
	if online == nil {
		online = []string{}
	}
	conn.WriteJSON(map[string]any{"type": "friends:online", "userIds": online})
	conn.WriteJSON(map[string]any{"type": "unread:total", "count": s.UnreadTotal(ctx, conn.UserID)})
}

// Joining a conversation also marks it read: the client is now looking at it.
func (s *ChatService) actionJoin(ctx context.Context, conn *realtime.Conn, payload json.RawMessage) error {
	var p domain.ConversationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errMalformedPayload
	}
	if p.ConversationID == "" {
		return errConversationRequired
	}
	ok, err := s.store.IsParticipant(ctx, p.ConversationID, conn.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConversationUnknown
	}
	s.hub.Join(p.ConversationID, conn)
	if _, err := s.MarkRead(ctx, conn.UserID, p.ConversationID); err != nil {
		return err
	}
	return nil
}

func (s *ChatService) actionLeave(ctx context.Context, conn *realtime.Conn, payload json.RawMessage) error {
	var p domain.ConversationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errMalformedPayload
	}
	if p.ConversationID == "" {
		return errConversationRequired
	}
	if !s.hub.IsJoined(p.ConversationID, conn) {
		return nil
	}
	s.hub.Leave(p.ConversationID, conn)
	if err := s.presence.ClearTyping(ctx, p.ConversationID, conn.UserID); err != nil {
		commonlog.Warnf("event=chat_action action=leave_clear_typing status=failed conversation_id=%s error=%v", p.ConversationID, err)
	}
	s.bus.Publish(ctx, realtime.ChannelTypingStop, domain.TypingEvent{ConversationID: p.ConversationID, UserID: conn.UserID})
	return nil
}

func (s *ChatService) actionSend(ctx context.Context, conn *realtime.Conn, payload json.RawMessage) error {
	var p domain.SendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errMalformedPayload
	}
	snap, err := s.SendMessage(ctx, conn.UserID, p.RecipientID, p.Content)
	if err != nil {
		return err
	}
	conn.WriteJSON(map[string]any{
		"type":           "message:sent",
		"conversationId": snap.ConversationID,
		"message":        snap,
	})
	return nil
}

func (s *ChatService) actionRead(ctx context.Context, conn *realtime.Conn, payload json.RawMessage) error {
	var p domain.ConversationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errMalformedPayload
	}
	_, err := s.MarkRead(ctx, conn.UserID, p.ConversationID)
	return err
}

func (s *ChatService) actionTypingStart(ctx context.Context, conn *realtime.Conn, payload json.RawMessage) error {
	var p domain.ConversationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errMalformedPayload
	}
	return s.Typing(ctx, conn.UserID, p.ConversationID, true)
}

func (s *ChatService) actionTypingStop(ctx context.Context, conn *realtime.Conn, payload json.RawMessage) error {
	var p domain.ConversationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errMalformedPayload
	}
	return s.Typing(ctx, conn.UserID, p.ConversationID, false)
}

func (s *ChatService) actionUsersStatus(ctx context.Context, conn *realtime.Conn, payload json.RawMessage) error {
	var p domain.UsersStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errMalformedPayload
	}
	if len(p.UserIDs) == 0 {
		return errUserIDsRequired
	}
	online, err := s.OnlineStatus(ctx, p.UserIDs)
	if err != nil {
		return err
	}
	if online == nil {
		online = []string{}
	}
	conn.WriteJSON(map[string]any{"type": "users:status", "onlineUsers": online})
	return nil
}

// StartPresenceSweeper periodically prunes online-set members whose
// heartbeat expired without disconnect cleanup and announces them offline.
// It runs until the context is canceled.
func (s *ChatService) StartPresenceSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stale, err := s.presence.SweepStale(ctx)
				if err != nil {
					commonlog.Warnf("event=chat_sweeper action=sweep status=failed error=%v", err)
					continue
				}
				for _, userID := range stale {
					commonlog.Infof("event=chat_sweeper action=prune status=ok user_id=%s", userID)
					s.bus.Publish(ctx, realtime.ChannelUserOffline, realtime.PresenceEvent{UserID: userID})
				}
			}
		}
	}()
}
