package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"unilink_server/server/chat/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the durable document-store collaborator for the chat service:
// conversations, messages, and the user profiles embedded in payloads.
type Store struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
	users         *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
		users:         db.Collection("users"),
	}
}

// GetOrCreateConversation resolves the thread between two participants,
// creating it on first contact. The participant pair is stored sorted so
// (a,b) and (b,a) land on the same document.
func (s *Store) GetOrCreateConversation(ctx context.Context, userA, userB string) (domain.Conversation, error) {
	participants := []string{userA, userB}
	sort.Strings(participants)

	filter := bson.M{"participants": participants}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          primitive.NewObjectID().Hex(),
		"participants": participants,
		"created_at":   time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var conv domain.Conversation
	if err := s.conversations.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("get or create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	count, err := s.conversations.CountDocuments(ctx, bson.M{"_id": conversationID, "participants": userID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cursor, err := s.conversations.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []domain.Conversation
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// AppendMessage persists the message and advances the conversation's last
// message pointer plus the recipient's durable unread mirror.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, recipientID, content string) (domain.Message, error) {
	msg := domain.Message{
		ID:             primitive.NewObjectID().Hex(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	_, err := s.conversations.UpdateOne(ctx, bson.M{"_id": conversationID}, bson.M{
		"$set": bson.M{"last_message_id": msg.ID, "last_message_at": msg.CreatedAt},
		"$inc": bson.M{"unread_count." + recipientID: 1},
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	return msg, nil
}

// ListMessages returns one page newest-first plus the total count.
func (s *Store) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var items []domain.Message
	if err := cursor.All(ctx, &items); err != nil {
		return nil, 0, err
	}
	total, err := s.messages.CountDocuments(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	var msg domain.Message
	err := s.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Message{}, ErrNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// MarkConversationRead flips every unread message from other senders and
// zeroes the reader's durable unread mirror.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, readerID string) error {
	now := time.Now().UTC()
	_, err := s.messages.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "sender_id": bson.M{"$ne": readerID}, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": now}},
	)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	_, err = s.conversations.UpdateOne(ctx, bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"unread_count." + readerID: 0}})
	if err != nil {
		return fmt.Errorf("zero unread mirror: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var user domain.User
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (s *Store) UserSummary(ctx context.Context, userID string) (domain.UserSummary, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return domain.UserSummary{}, err
	}
	return user.Summary(), nil
}

func (s *Store) UserSummaries(ctx context.Context, userIDs []string) (map[string]domain.UserSummary, error) {
	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := map[string]domain.UserSummary{}
	var user domain.User
	for cursor.Next(ctx) {
		if err := cursor.Decode(&user); err != nil {
			return nil, err
		}
		out[user.ID] = user.Summary()
	}
	return out, cursor.Err()
}

func (s *Store) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	user, err := s.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user.Friends, nil
}
