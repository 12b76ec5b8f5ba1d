package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"unilink_server/server/notify/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the durable side of the notification service: notification
// documents plus per-user preferences.
type Store struct {
	notifications *mongo.Collection
	preferences   *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		notifications: db.Collection("notifications"),
		preferences:   db.Collection("notification_preferences"),
	}
}

const notificationRetention = 90 * 24 * time.Hour

// Create inserts a fresh notification with the retention expiry stamped.
func (s *Store) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	now := time.Now().UTC()
	n.ID = primitive.NewObjectID().Hex()
	n.GroupCount = 1
	n.CreatedAt = now
	n.UpdatedAt = now
	n.ExpiresAt = now.Add(notificationRetention)
	if _, err := s.notifications.InsertOne(ctx, n); err != nil {
		return domain.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// Get returns the user's notification or ErrNotFound; the user filter keeps
// one user from touching another's documents.
func (s *Store) Get(ctx context.Context, userID, notificationID string) (domain.Notification, error) {
	var n domain.Notification
	err := s.notifications.FindOne(ctx, bson.M{"_id": notificationID, "user_id": userID}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Notification{}, ErrNotFound
	}
	if err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// BumpGroup increments the group counter, rewrites the message, and brings
// the notification back to the top of the list.
func (s *Store) BumpGroup(ctx context.Context, notificationID, message string) (domain.Notification, error) {
	now := time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var n domain.Notification
	err := s.notifications.FindOneAndUpdate(ctx,
		bson.M{"_id": notificationID},
		bson.M{
			"$inc": bson.M{"group_count": 1},
			"$set": bson.M{"message": message, "updated_at": now, "created_at": now},
		}, opts).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Notification{}, ErrNotFound
	}
	if err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// List returns one page of the user's notifications, newest first, plus the
// total count.
func (s *Store) List(ctx context.Context, userID string, page, limit int) ([]domain.Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := s.notifications.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var items []domain.Notification
	if err := cursor.All(ctx, &items); err != nil {
		return nil, 0, err
	}
	total, err := s.notifications.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.notifications.CountDocuments(ctx, bson.M{"user_id": userID, "read": false})
}

func (s *Store) MarkRead(ctx context.Context, userID, notificationID string) error {
	now := time.Now().UTC()
	res, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": notificationID, "user_id": userID},
		bson.M{"$set": bson.M{"read": true, "read_at": now}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.notifications.UpdateMany(ctx,
		bson.M{"user_id": userID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": now}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) Delete(ctx context.Context, userID, notificationID string) error {
	res, err := s.notifications.DeleteOne(ctx, bson.M{"_id": notificationID, "user_id": userID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPreferences returns the user's preferences, falling back to the
// all-enabled defaults when no document exists yet.
func (s *Store) GetPreferences(ctx context.Context, userID string) (domain.Preferences, error) {
	var prefs domain.Preferences
	err := s.preferences.FindOne(ctx, bson.M{"_id": userID}).Decode(&prefs)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.DefaultPreferences(userID), nil
	}
	if err != nil {
		return domain.Preferences{}, err
	}
	return prefs, nil
}

func (s *Store) SavePreferences(ctx context.Context, prefs domain.Preferences) error {
	prefs.UpdatedAt = time.Now().UTC()
	opts := options.Replace().SetUpsert(true)
	_, err := s.preferences.ReplaceOne(ctx, bson.M{"_id": prefs.UserID}, prefs, opts)
	return err
}
