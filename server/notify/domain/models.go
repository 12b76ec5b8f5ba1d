package domain

import "time"

// Notification is the durable per-user notification document. Grouped kinds
// reuse one document inside the grouping window and bump GroupCount.
type Notification struct {
	ID           string         `bson:"_id" json:"id"`
	UserID       string         `bson:"user_id" json:"userId"`
	Type         string         `bson:"type" json:"type"`
	ActorID      string         `bson:"actor_id" json:"actorId"`
	ActorName    string         `bson:"actor_name" json:"actorName"`
	ActorPicture string         `bson:"actor_picture,omitempty" json:"actorPicture,omitempty"`
	Message      string         `bson:"message" json:"message"`
	RelatedID    string         `bson:"related_id,omitempty" json:"relatedId,omitempty"`
	Priority     string         `bson:"priority,omitempty" json:"priority,omitempty"`
	Metadata     map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	GroupCount   int            `bson:"group_count" json:"groupCount"`
	Read         bool           `bson:"read" json:"read"`
	ReadAt       *time.Time     `bson:"read_at,omitempty" json:"readAt,omitempty"`
	CreatedAt    time.Time      `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `bson:"updated_at" json:"updatedAt"`
	ExpiresAt    time.Time      `bson:"expires_at" json:"-"`
}

// Preferences holds a user's per-kind opt-outs. Everything defaults to on;
// a missing document means all kinds enabled.
type Preferences struct {
	UserID       string    `bson:"_id" json:"userId"`
	Message      bool      `bson:"message" json:"message"`
	Like         bool      `bson:"like" json:"like"`
	Comment      bool      `bson:"comment" json:"comment"`
	FriendAccept bool      `bson:"friend_accept" json:"friendAccept"`
	ProfileView  bool      `bson:"profile_view" json:"profileView"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updatedAt"`
}

func DefaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:       userID,
		Message:      true,
		Like:         true,
		Comment:      true,
		FriendAccept: true,
		ProfileView:  true,
		UpdatedAt:    time.Now().UTC(),
	}
}

// Enabled reports whether the given notification kind is switched on.
// Unknown kinds are delivered; opt-outs only exist for known ones.
func (p Preferences) Enabled(kind string) bool {
	switch kind {
	case "message":
		return p.Message
	case "like":
		return p.Like
	case "comment":
		return p.Comment
	case "friend-accept":
		return p.FriendAccept
	case "profile-view":
		return p.ProfileView
	default:
		return true
	}
}

// Event is the wire form arriving from the notification exchange.
type Event struct {
	Type         string         `json:"type"`
	UserID       string         `json:"userId"`
	ActorID      string         `json:"actorId"`
	ActorName    string         `json:"actorName"`
	ActorPicture string         `json:"actorPicture,omitempty"`
	RelatedID    string         `json:"relatedId,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
