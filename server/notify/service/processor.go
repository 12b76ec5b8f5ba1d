package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "unilink_server/server/common/log"
	"unilink_server/server/notify/domain"
	"unilink_server/server/realtime"
)

type notifyStore interface {
	Create(ctx context.Context, n domain.Notification) (domain.Notification, error)
	Get(ctx context.Context, userID, notificationID string) (domain.Notification, error)
	BumpGroup(ctx context.Context, notificationID, message string) (domain.Notification, error)
	List(ctx context.Context, userID string, page, limit int) ([]domain.Notification, int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, notificationID string) error
	GetPreferences(ctx context.Context, userID string) (domain.Preferences, error)
	SavePreferences(ctx context.Context, prefs domain.Preferences) error
}

// NotifyService turns raw notification events into durable, grouped,
// preference-filtered notifications and fans them out.
type NotifyService struct {
	store       notifyStore
	rdb         *redis.Client
	bus         *realtime.EventBus
	hub         *realtime.Hub
	groupWindow time.Duration
}

func NewNotifyService(store notifyStore, rdb *redis.Client, bus *realtime.EventBus, hub *realtime.Hub, groupWindow time.Duration) *NotifyService {
	if groupWindow <= 0 {
		groupWindow = 10 * time.Minute
	}
	return &NotifyService{store: store, rdb: rdb, bus: bus, hub: hub, groupWindow: groupWindow}
}

func groupKey(userID, kind, relatedID string) string {
	return "notifgroup:" + userID + ":" + kind + ":" + relatedID
}

func groupable(kind string) bool {
	return kind == "like" || kind == "profile-view"
}

func renderMessage(event domain.Event) string {
	actor := strings.TrimSpace(event.ActorName)
	if actor == "" {
		actor = "Someone"
	}
	switch event.Type {
	case "message":
		return actor + " sent you a message"
	case "like":
		return actor + " liked your post"
	case "comment":
		return actor + " commented on your post"
	case "friend-accept":
		return actor + " accepted your friend request"
	case "profile-view":
		return actor + " viewed your profile"
	default:
		return actor + " sent you a notification"
	}
}

func renderGroupedMessage(event domain.Event, others int) string {
	actor := strings.TrimSpace(event.ActorName)
	if actor == "" {
		actor = "Someone"
	}
	switch event.Type {
	case "like":
		return fmt.Sprintf("%s and %d others liked your post", actor, others)
	case "profile-view":
		return fmt.Sprintf("%s and %d others viewed your profile", actor, others)
	default:
		return renderMessage(event)
	}
}

// Process handles one event off the queue. Malformed or preference-disabled
// events are dropped without error; only infrastructure failures surface so
// the consumer can decide on redelivery.
func (s *NotifyService) Process(ctx context.Context, body []byte) error {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		commonlog.Warnf("event=notify_process action=decode status=dropped error=%v", err)
		return nil
	}
	if event.Type == "" || event.UserID == "" {
		commonlog.Warnf("event=notify_process action=validate status=dropped type=%q user_id=%q", event.Type, event.UserID)
		return nil
	}

	prefs, err := s.store.GetPreferences(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	if !prefs.Enabled(event.Type) {
		commonlog.Infof("event=notify_process action=preference status=skipped type=%s user_id=%s", event.Type, event.UserID)
		return nil
	}

	if groupable(event.Type) {
		return s.processGrouped(ctx, event)
	}
	return s.create(ctx, event)
}

func (s *NotifyService) create(ctx context.Context, event domain.Event) error {
	n, err := s.store.Create(ctx, domain.Notification{
		UserID:       event.UserID,
		Type:         event.Type,
		ActorID:      event.ActorID,
		ActorName:    event.ActorName,
		ActorPicture: event.ActorPicture,
		Message:      renderMessage(event),
		RelatedID:    event.RelatedID,
		Priority:     event.Priority,
		Metadata:     event.Metadata,
	})
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, realtime.ChannelNotificationNew, n)
	return nil
}

// processGrouped folds repeats of the same kind against the same entity
// into one notification inside the grouping window. The window key holds
// the grouped notification's id.
func (s *NotifyService) processGrouped(ctx context.Context, event domain.Event) error {
	key := groupKey(event.UserID, event.Type, event.RelatedID)
	set, err := s.rdb.SetNX(ctx, key, "pending", s.groupWindow).Result()
	if err != nil {
		return fmt.Errorf("group window: %w", err)
	}
	if set {
		n, err := s.createGroupAnchor(ctx, event)
		if err != nil {
			_ = s.rdb.Del(ctx, key).Err()
			return err
		}
		// overwrite the placeholder, preserving the window
		if err := s.rdb.Set(ctx, key, n.ID, redis.KeepTTL).Err(); err != nil {
			commonlog.Warnf("event=notify_process action=group_anchor status=failed key=%s error=%v", key, err)
		}
		return nil
	}

	id, err := s.rdb.Get(ctx, key).Result()
	if err != nil || id == "" || id == "pending" {
		// window key without a usable anchor; fall back to a fresh one
		n, createErr := s.createGroupAnchor(ctx, event)
		if createErr != nil {
			return createErr
		}
		_ = s.rdb.Set(ctx, key, n.ID, s.groupWindow).Err()
		return nil
	}

	existing, err := s.store.Get(ctx, event.UserID, id)
	if err != nil {
		// anchor deleted under the window; start over
		_ = s.rdb.Del(ctx, key).Err()
		return s.processGrouped(ctx, event)
	}
	updated, err := s.store.BumpGroup(ctx, existing.ID, renderGroupedMessage(event, existing.GroupCount))
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, realtime.ChannelNotificationUpdated, updated)
	return nil
}

func (s *NotifyService) createGroupAnchor(ctx context.Context, event domain.Event) (domain.Notification, error) {
	n, err := s.store.Create(ctx, domain.Notification{
		UserID:       event.UserID,
		Type:         event.Type,
		ActorID:      event.ActorID,
		ActorName:    event.ActorName,
		ActorPicture: event.ActorPicture,
		Message:      renderMessage(event),
		RelatedID:    event.RelatedID,
		Priority:     event.Priority,
		Metadata:     event.Metadata,
	})
	if err != nil {
		return domain.Notification{}, err
	}
	s.bus.Publish(ctx, realtime.ChannelNotificationNew, n)
	return n, nil
}
