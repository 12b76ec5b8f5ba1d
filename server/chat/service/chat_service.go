package service

import (
	"context"
	"strings"

	"unilink_server/server/chat/domain"
	commonlog "unilink_server/server/common/log"
	"unilink_server/server/realtime"
)

type chatStore interface {
	GetOrCreateConversation(ctx context.Context, userA, userB string) (domain.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, senderID, recipientID, content string) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, int64, error)
	GetMessage(ctx context.Context, messageID string) (domain.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) error
	UserSummary(ctx context.Context, userID string) (domain.UserSummary, error)
	UserSummaries(ctx context.Context, userIDs []string) (map[string]domain.UserSummary, error)
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// NotificationPublisher hands domain notification events to the
// notification fabric. Delivery is best effort; the chat flow never fails
// on it.
type NotificationPublisher interface {
	Publish(ctx context.Context, event domain.NotificationEvent) error
}

// Validation failures are ActionErrors: their reason is the client-facing
// message. Store and infrastructure errors stay untyped and are masked
// before reaching a client.
var (
	errContentRequired      = realtime.NewActionError("message content required")
	errRecipientRequired    = realtime.NewActionError("recipient required")
	errConversationRequired = realtime.NewActionError("conversation id required")
	errMalformedPayload     = realtime.NewActionError("malformed payload")
	errUserIDsRequired      = realtime.NewActionError("user ids required")
	ErrConversationUnknown  = realtime.NewActionError("conversation not found")
)

// ChatService orchestrates the send/read/typing flows across the durable
// store, the realtime core, and the notification fabric.
type ChatService struct {
	store    chatStore
	cache    *realtime.MessageCache
	unread   *realtime.UnreadCounter
	presence *realtime.PresenceTracker
	bus      *realtime.EventBus
	hub      *realtime.Hub
	notifier NotificationPublisher
}

func NewChatService(store chatStore, cache *realtime.MessageCache, unread *realtime.UnreadCounter, presence *realtime.PresenceTracker, bus *realtime.EventBus, hub *realtime.Hub, notifier NotificationPublisher) *ChatService {
	return &ChatService{
		store:    store,
		cache:    cache,
		unread:   unread,
		presence: presence,
		bus:      bus,
		hub:      hub,
		notifier: notifier,
	}
}

// SendMessage persists the message and then layers on the best-effort
// effects: cache push, unread increment, bus fan-out, notification event,
// typing clear. Only validation and durable failures surface to the caller.
func (s *ChatService) SendMessage(ctx context.Context, senderID, recipientID, content string) (domain.MessageSnapshot, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.MessageSnapshot{}, errContentRequired
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return domain.MessageSnapshot{}, errRecipientRequired
	}

	conv, err := s.store.GetOrCreateConversation(ctx, senderID, recipientID)
	if err != nil {
		return domain.MessageSnapshot{}, err
	}
	msg, err := s.store.AppendMessage(ctx, conv.ID, senderID, recipientID, content)
	if err != nil {
		return domain.MessageSnapshot{}, err
	}

	sender, err := s.store.UserSummary(ctx, senderID)
	if err != nil {
		commonlog.Warnf("event=chat_send action=sender_lookup status=failed user_id=%s error=%v", senderID, err)
		sender = domain.UserSummary{ID: senderID}
	}
	snap := msg.Snapshot(sender)

	if err := s.cache.Push(ctx, conv.ID, snap); err != nil {
		commonlog.Warnf("event=chat_send action=cache_push status=failed conversation_id=%s error=%v", conv.ID, err)
	}
	if err := s.unread.Increment(ctx, recipientID, conv.ID); err != nil {
		commonlog.Warnf("event=chat_send action=unread_increment status=failed user_id=%s conversation_id=%s error=%v", recipientID, conv.ID, err)
	}

	s.bus.Publish(ctx, realtime.ChannelMessageNew, domain.MessageNewEvent{
		ConversationID: conv.ID,
		RecipientID:    recipientID,
		Message:        snap,
	})

	if s.notifier != nil {
		event := domain.NotificationEvent{
			Type:         "message",
			UserID:       recipientID,
			ActorID:      senderID,
			ActorName:    strings.TrimSpace(sender.FirstName + " " + sender.LastName),
			ActorPicture: sender.PicturePath,
			RelatedID:    conv.ID,
			Priority:     "high",
		}
		if err := s.notifier.Publish(ctx, event); err != nil {
			commonlog.Warnf("event=chat_send action=notify_publish status=failed conversation_id=%s error=%v", conv.ID, err)
		}
	}

	// sending a message ends the sender's typing state
	if err := s.presence.ClearTyping(ctx, conv.ID, senderID); err != nil {
		commonlog.Warnf("event=chat_send action=clear_typing status=failed conversation_id=%s error=%v", conv.ID, err)
	}
	s.bus.Publish(ctx, realtime.ChannelTypingStop, domain.TypingEvent{ConversationID: conv.ID, UserID: senderID})

	return snap, nil
}

// MarkRead flips the durable read flags, resets the counters, and announces
// the receipt. Returns the reader's new unread total.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID string) (int64, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return 0, errConversationRequired
	}
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrConversationUnknown
	}
	if err := s.store.MarkConversationRead(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	total, err := s.unread.Reset(ctx, userID, conversationID)
	if err != nil {
		commonlog.Warnf("event=chat_read action=unread_reset status=failed user_id=%s conversation_id=%s error=%v", userID, conversationID, err)
		total, _ = s.unread.Total(ctx, userID)
	}
	s.bus.Publish(ctx, realtime.ChannelMessageRead, domain.ReadReceiptEvent{
		ConversationID: conversationID,
		UserID:         userID,
		Total:          total,
	})
	return total, nil
}

// Typing records or clears the typing indicator and announces it. The
// indicator self-expires, so a lost stop event bounds itself.
func (s *ChatService) Typing(ctx context.Context, userID, conversationID string, typing bool) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return errConversationRequired
	}
	if !typing {
		if err := s.presence.ClearTyping(ctx, conversationID, userID); err != nil {
			return err
		}
		s.bus.Publish(ctx, realtime.ChannelTypingStop, domain.TypingEvent{ConversationID: conversationID, UserID: userID})
		return nil
	}

	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConversationUnknown
	}
	if err := s.presence.SetTyping(ctx, conversationID, userID); err != nil {
		return err
	}
	user, err := s.store.UserSummary(ctx, userID)
	if err != nil {
		user = domain.UserSummary{ID: userID}
	}
	s.bus.Publish(ctx, realtime.ChannelTypingStart, domain.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		User:           &user,
	})
	return nil
}

// OnlineStatus is the batched presence check behind "which of these users
// are online".
func (s *ChatService) OnlineStatus(ctx context.Context, userIDs []string) ([]string, error) {
	return s.presence.OnlineSubset(ctx, userIDs)
}

// UnreadTotal is the fast-path counter read for the connected user.
func (s *ChatService) UnreadTotal(ctx context.Context, userID string) int64 {
	total, err := s.unread.Total(ctx, userID)
	if err != nil {
		commonlog.Warnf("event=chat action=unread_total status=failed user_id=%s error=%v", userID, err)
		return 0
	}
	return total
}
