package domain

import "time"

// UserSummary is the display slice of a user embedded in outbound payloads.
type UserSummary struct {
	ID          string `bson:"_id" json:"id"`
	FirstName   string `bson:"first_name" json:"firstName"`
	LastName    string `bson:"last_name" json:"lastName"`
	PicturePath string `bson:"picture_path" json:"picturePath"`
}

// User is the durable profile document. Only the fields the realtime layer
// needs are mapped; the profile service owns the rest.
type User struct {
	ID          string   `bson:"_id" json:"id"`
	FirstName   string   `bson:"first_name" json:"firstName"`
	LastName    string   `bson:"last_name" json:"lastName"`
	PicturePath string   `bson:"picture_path" json:"picturePath"`
	Friends     []string `bson:"friends" json:"friends"`
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, PicturePath: u.PicturePath}
}

// Conversation is a durable thread between exactly two participants.
// UnreadCount mirrors the redis counters for reconciliation; redis is the
// fast path.
type Conversation struct {
	ID            string           `bson:"_id" json:"id"`
	Participants  []string         `bson:"participants" json:"participants"`
	LastMessageID string           `bson:"last_message_id,omitempty" json:"lastMessageId,omitempty"`
	LastMessageAt time.Time        `bson:"last_message_at,omitempty" json:"lastMessageAt,omitempty"`
	UnreadCount   map[string]int64 `bson:"unread_count,omitempty" json:"-"`
	CreatedAt     time.Time        `bson:"created_at" json:"createdAt"`
}

type Message struct {
	ID             string     `bson:"_id" json:"id"`
	ConversationID string     `bson:"conversation_id" json:"conversationId"`
	SenderID       string     `bson:"sender_id" json:"senderId"`
	Content        string     `bson:"content" json:"content"`
	CreatedAt      time.Time  `bson:"created_at" json:"createdAt"`
	Read           bool       `bson:"read" json:"read"`
	ReadAt         *time.Time `bson:"read_at,omitempty" json:"readAt,omitempty"`
}

// MessageSnapshot is the cached/broadcast form of a message with the sender
// summary resolved.
type MessageSnapshot struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Sender         UserSummary `json:"sender"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
	Read           bool        `json:"read"`
}

func (m Message) Snapshot(sender UserSummary) MessageSnapshot {
	return MessageSnapshot{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         sender,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		Read:           m.Read,
	}
}

// ConversationView decorates a conversation for the list endpoint with live
// presence and unread state.
type ConversationView struct {
	ID            string           `json:"id"`
	Participant   ParticipantView  `json:"participant"`
	LastMessage   *MessageSnapshot `json:"lastMessage,omitempty"`
	LastMessageAt time.Time        `json:"lastMessageAt,omitempty"`
	UnreadCount   int64            `json:"unreadCount"`
}

type ParticipantView struct {
	UserSummary
	IsOnline bool `json:"isOnline"`
}
