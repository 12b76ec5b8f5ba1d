package service

import (
	"context"
	"encoding/json"
	"strings"

	"unilink_server/server/chat/domain"
	commonlog "unilink_server/server/common/log"
)

// Conversations builds the inbox view: every conversation the user is in,
// decorated with the other participant's profile, live presence, the last
// message, and the redis unread count.
func (s *ChatService) Conversations(ctx context.Context, userID string) ([]domain.ConversationView, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []domain.ConversationView{}, nil
	}

	others := make([]string, 0, len(convs))
	lookup := make([]string, 0, len(convs)+1)
	for _, conv := range convs {
		for _, p := range conv.Participants {
			if p != userID {
				others = append(others, p)
				lookup = append(lookup, p)
			}
		}
	}
	lookup = append(lookup, userID)

	summaries, err := s.store.UserSummaries(ctx, lookup)
	if err != nil {
		return nil, err
	}
	online, err := s.presence.OnlineSubset(ctx, others)
	if err != nil {
		commonlog.Warnf("event=chat_list action=online_subset status=failed user_id=%s error=%v", userID, err)
		online = nil
	}
	onlineSet := map[string]struct{}{}
	for _, id := range online {
		onlineSet[id] = struct{}{}
	}

	views := make([]domain.ConversationView, 0, len(convs))
	for _, conv := range convs {
		other := userID
		for _, p := range conv.Participants {
			if p != userID {
				other = p
			}
		}
		summary, ok := summaries[other]
		if !ok {
			summary = domain.UserSummary{ID: other}
		}
		_, isOnline := onlineSet[other]

		unread, err := s.unread.PerConversation(ctx, userID, conv.ID)
		if err != nil {
			commonlog.Warnf("event=chat_list action=unread_read status=failed user_id=%s conversation_id=%s error=%v", userID, conv.ID, err)
			unread = conv.UnreadCount[userID]
		}

		view := domain.ConversationView{
			ID:            conv.ID,
			Participant:   domain.ParticipantView{UserSummary: summary, IsOnline: isOnline},
			LastMessageAt: conv.LastMessageAt,
			UnreadCount:   unread,
		}
		if conv.LastMessageID != "" {
			if msg, err := s.store.GetMessage(ctx, conv.LastMessageID); err == nil {
				sender, ok := summaries[msg.SenderID]
				if !ok {
					sender = domain.UserSummary{ID: msg.SenderID}
				}
				snap := msg.Snapshot(sender)
				view.LastMessage = &snap
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// Messages returns one page of a conversation's history, oldest first. The
// first page is served from the hot cache when populated; a durable read
// backfills the cache on a miss.
func (s *ChatService) Messages(ctx context.Context, userID, conversationID string, page, limit int) ([]domain.MessageSnapshot, int64, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, 0, errConversationRequired
	}
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrConversationUnknown
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	if page == 1 {
		if snaps, ok := s.cachedPage(ctx, conversationID, limit); ok {
			return snaps, 1, nil
		}
	}

	msgs, total, err := s.store.ListMessages(ctx, conversationID, page, limit)
	if err != nil {
		return nil, 0, err
	}

	senderIDs := make([]string, 0, 2)
	seen := map[string]struct{}{}
	for _, m := range msgs {
		if _, dup := seen[m.SenderID]; !dup {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	summaries, err := s.store.UserSummaries(ctx, senderIDs)
	if err != nil {
		return nil, 0, err
	}

	// store pages newest-first; clients render oldest-first
	snaps := make([]domain.MessageSnapshot, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		sender, ok := summaries[msgs[i].SenderID]
		if !ok {
			sender = domain.UserSummary{ID: msgs[i].SenderID}
		}
		snaps = append(snaps, msgs[i].Snapshot(sender))
	}

	if page == 1 && len(snaps) > 0 {
		fill := make([]any, len(snaps))
		for i, snap := range snaps {
			fill[i] = snap
		}
		if err := s.cache.Fill(ctx, conversationID, fill); err != nil {
			commonlog.Warnf("event=chat_messages action=cache_fill status=failed conversation_id=%s error=%v", conversationID, err)
		}
	}

	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return snaps, pages, nil
}

func (s *ChatService) cachedPage(ctx context.Context, conversationID string, limit int) ([]domain.MessageSnapshot, bool) {
	raw, err := s.cache.Read(ctx, conversationID, limit)
	if err != nil {
		commonlog.Warnf("event=chat_messages action=cache_read status=failed conversation_id=%s error=%v", conversationID, err)
		return nil, false
	}
	if len(raw) == 0 {
		return nil, false
	}
	snaps := make([]domain.MessageSnapshot, 0, len(raw))
	for _, entry := range raw {
		var snap domain.MessageSnapshot
		if err := json.Unmarshal(entry, &snap); err != nil {
			commonlog.Warnf("event=chat_messages action=cache_decode status=failed conversation_id=%s error=%v", conversationID, err)
			return nil, false
		}
		snaps = append(snaps, snap)
	}
	return snaps, true
}
