package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"unilink_server/server/chat/domain"
)

// memStore is an in-memory stand-in for the durable document store.
type memStore struct {
	mu                sync.Mutex
	users             map[string]domain.User
	convs             map[string]*domain.Conversation
	msgs              []domain.Message
	listMessagesCalls int
}

func newMemStore(users ...domain.User) *memStore {
	s := &memStore{
		users: map[string]domain.User{},
		convs: map[string]*domain.Conversation{},
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) GetOrCreateConversation(ctx context.Context, userA, userB string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	participants := []string{userA, userB}
	sort.Strings(participants)
	for _, conv := range s.convs {
		if conv.Participants[0] == participants[0] && conv.Participants[1] == participants[1] {
			return *conv, nil
		}
	}
	conv := &domain.Conversation{
		ID:           fmt.Sprintf("conv%d", len(s.convs)+1),
		Participants: participants,
		UnreadCount:  map[string]int64{},
		CreatedAt:    time.Now().UTC(),
	}
	s.convs[conv.ID] = conv
	return *conv, nil
}

func (s *memStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return false, nil
	}
	for _, p := range conv.Participants {
		if p == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Conversation
	for _, conv := range s.convs {
		for _, p := range conv.Participants {
			if p == userID {
				out = append(out, *conv)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *memStore) AppendMessage(ctx context.Context, conversationID, senderID, recipientID, content string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := domain.Message{
		ID:             fmt.Sprintf("m%d", len(s.msgs)+1),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	s.msgs = append(s.msgs, msg)
	if conv, ok := s.convs[conversationID]; ok {
		conv.LastMessageID = msg.ID
		conv.LastMessageAt = msg.CreatedAt
		conv.UnreadCount[recipientID]++
	}
	return msg, nil
}

func (s *memStore) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listMessagesCalls++
	var all []domain.Message
	for _, msg := range s.msgs {
		if msg.ConversationID == conversationID {
			all = append(all, msg)
		}
	}
	total := int64(len(all))
	// newest first, like the durable store
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (s *memStore) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.msgs {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return domain.Message{}, fmt.Errorf("message %s not found", messageID)
}

func (s *memStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range s.msgs {
		if s.msgs[i].ConversationID == conversationID && s.msgs[i].SenderID != readerID && !s.msgs[i].Read {
			s.msgs[i].Read = true
			s.msgs[i].ReadAt = &now
		}
	}
	if conv, ok := s.convs[conversationID]; ok {
		conv.UnreadCount[readerID] = 0
	}
	return nil
}

func (s *memStore) UserSummary(ctx context.Context, userID string) (domain.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.UserSummary{}, fmt.Errorf("user %s not found", userID)
	}
	return user.Summary(), nil
}

func (s *memStore) UserSummaries(ctx context.Context, userIDs []string) (map[string]domain.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]domain.UserSummary{}
	for _, id := range userIDs {
		if user, ok := s.users[id]; ok {
			out[id] = user.Summary()
		}
	}
	return out, nil
}

func (s *memStore) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return user.Friends, nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// memNotifier records published notification events.
type memNotifier struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (n *memNotifier) Publish(ctx context.Context, event domain.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *memNotifier) published() []domain.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.NotificationEvent(nil), n.events...)
}

// chanWire streams written frames to a channel, decoded to generic maps the
// way a client would see them.
type chanWire struct {
	frames chan map[string]any
}

func newChanWire() *chanWire {
	return &chanWire{frames: make(chan map[string]any, 32)}
}

func (w *chanWire) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	w.frames <- frame
	return nil
}

func (w *chanWire) SetWriteDeadline(time.Time) error { return nil }
func (w *chanWire) Close() error                     { return nil }
