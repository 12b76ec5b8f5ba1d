package domain

// Inbound action payloads (client -> server).

type SendMessagePayload struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type UsersStatusPayload struct {
	UserIDs []string `json:"userIds"`
}

// Bus event payloads (instance -> instance). Duplicates are possible;
// consumers key dedup on message ids client-side.

type MessageNewEvent struct {
	ConversationID string          `json:"conversationId"`
	RecipientID    string          `json:"recipientId"`
	Message        MessageSnapshot `json:"message"`
}

type TypingEvent struct {
	ConversationID string       `json:"conversationId"`
	UserID         string       `json:"userId"`
	User           *UserSummary `json:"user,omitempty"`
}

type ReadReceiptEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Total          int64  `json:"total"`
}

// NotificationEvent is handed to the notification fabric when a message is
// sent. The notification service owns preference filtering and grouping.
type NotificationEvent struct {
	Type         string         `json:"type"`
	UserID       string         `json:"userId"`
	ActorID      string         `json:"actorId"`
	ActorName    string         `json:"actorName"`
	ActorPicture string         `json:"actorPicture,omitempty"`
	RelatedID    string         `json:"relatedId,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
