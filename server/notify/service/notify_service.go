package service

import (
	"context"

	"unilink_server/server/notify/domain"
)

// REST-facing operations. Thin wrappers over the store; the interesting
// work lives in the processor.

func (s *NotifyService) List(ctx context.Context, userID string, page, limit int) ([]domain.Notification, int64, error) {
	return s.store.List(ctx, userID, page, limit)
}

func (s *NotifyService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}

func (s *NotifyService) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkRead(ctx, userID, notificationID)
}

func (s *NotifyService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}

func (s *NotifyService) Delete(ctx context.Context, userID, notificationID string) error {
	return s.store.Delete(ctx, userID, notificationID)
}

func (s *NotifyService) Preferences(ctx context.Context, userID string) (domain.Preferences, error) {
	return s.store.GetPreferences(ctx, userID)
}

func (s *NotifyService) UpdatePreferences(ctx context.Context, prefs domain.Preferences) error {
	return s.store.SavePreferences(ctx, prefs)
}
