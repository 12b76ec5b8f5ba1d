package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"unilink_server/server/notify/domain"
	"unilink_server/server/realtime"
)

// memNotifyStore is an in-memory stand-in for the durable notification store.
type memNotifyStore struct {
	mu            sync.Mutex
	notifications map[string]*domain.Notification
	prefs         map[string]domain.Preferences
	seq           int
}

func newMemNotifyStore() *memNotifyStore {
	return &memNotifyStore{
		notifications: map[string]*domain.Notification{},
		prefs:         map[string]domain.Preferences{},
	}
}

func (s *memNotifyStore) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Now().UTC()
	n.ID = fmt.Sprintf("n%d", s.seq)
	n.GroupCount = 1
	n.CreatedAt = now
	n.UpdatedAt = now
	n.ExpiresAt = now.Add(90 * 24 * time.Hour)
	s.notifications[n.ID] = &n
	return n, nil
}

func (s *memNotifyStore) Get(ctx context.Context, userID, notificationID string) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[notificationID]
	if !ok || n.UserID != userID {
		return domain.Notification{}, fmt.Errorf("notification %s not found", notificationID)
	}
	return *n, nil
}

func (s *memNotifyStore) BumpGroup(ctx context.Context, notificationID, message string) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[notificationID]
	if !ok {
		return domain.Notification{}, fmt.Errorf("notification %s not found", notificationID)
	}
	n.GroupCount++
	n.Message = message
	n.UpdatedAt = time.Now().UTC()
	return *n, nil
}

func (s *memNotifyStore) List(ctx context.Context, userID string, page, limit int) ([]domain.Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out, int64(len(out)), nil
}

func (s *memNotifyStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *memNotifyStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[notificationID]
	if !ok || n.UserID != userID {
		return fmt.Errorf("notification %s not found", notificationID)
	}
	n.Read = true
	return nil
}

func (s *memNotifyStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			updated++
		}
	}
	return updated, nil
}

func (s *memNotifyStore) Delete(ctx context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[notificationID]
	if !ok || n.UserID != userID {
		return fmt.Errorf("notification %s not found", notificationID)
	}
	delete(s.notifications, notificationID)
	return nil
}

func (s *memNotifyStore) GetPreferences(ctx context.Context, userID string) (domain.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prefs, ok := s.prefs[userID]; ok {
		return prefs, nil
	}
	return domain.DefaultPreferences(userID), nil
}

func (s *memNotifyStore) SavePreferences(ctx context.Context, prefs domain.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.UserID] = prefs
	return nil
}

func (s *memNotifyStore) all(userID string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out
}

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

type notifyFixture struct {
	svc   *NotifyService
	store *memNotifyStore
	hub   *realtime.Hub
	mr    *miniredis.Miniredis
}

func newNotifyFixture(t *testing.T) *notifyFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemNotifyStore()
	hub := realtime.NewHub()
	bus := realtime.NewEventBus(rdb)

	svc := NewNotifyService(store, rdb, bus, hub, 10*time.Minute)
	svc.RegisterBusHandlers(bus)
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(bus.Stop)

	return &notifyFixture{svc: svc, store: store, hub: hub, mr: mr}
}

func event(t *testing.T, e domain.Event) []byte {
	t.Helper()
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return raw
}

func waitFrame(t *testing.T, w *chanWire, frameType string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-w.frames:
			if frame["type"] == frameType {
				return frame
			}
		case <-deadline:
			t.Fatalf("frame %q not delivered", frameType)
		}
	}
}

func TestProcessCreatesNotification(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()

	err := f.svc.Process(ctx, event(t, domain.Event{
		Type: "message", UserID: "bob", ActorID: "alice", ActorName: "Alice Kim",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	all := f.store.all("bob")
	if len(all) != 1 {
		t.Fatalf("notifications = %d; want 1", len(all))
	}
	if all[0].Message != "Alice Kim sent you a message" {
		t.Fatalf("message = %q", all[0].Message)
	}
	if all[0].GroupCount != 1 {
		t.Fatalf("group count = %d; want 1", all[0].GroupCount)
	}
}

func TestProcessDropsMalformed(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()

	if err := f.svc.Process(ctx, []byte("{not json")); err != nil {
		t.Fatalf("malformed event returned error: %v", err)
	}
	if err := f.svc.Process(ctx, event(t, domain.Event{Type: "message"})); err != nil {
		t.Fatalf("event without user returned error: %v", err)
	}
	if len(f.store.all("bob")) != 0 {
		t.Fatal("dropped events were persisted")
	}
}

func TestProcessRespectsPreferences(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()

	prefs := domain.DefaultPreferences("bob")
	prefs.Like = false
	if err := f.store.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("save prefs: %v", err)
	}

	err := f.svc.Process(ctx, event(t, domain.Event{
		Type: "like", UserID: "bob", ActorID: "alice", ActorName: "Alice Kim", RelatedID: "post1",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.store.all("bob")) != 0 {
		t.Fatal("disabled kind was persisted")
	}
}

func TestProcessGroupsWithinWindow(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()

	first := domain.Event{Type: "like", UserID: "bob", ActorID: "alice", ActorName: "Alice Kim", RelatedID: "post1"}
	second := domain.Event{Type: "like", UserID: "bob", ActorID: "carol", ActorName: "Carol Park", RelatedID: "post1"}

	if err := f.svc.Process(ctx, event(t, first)); err != nil {
		t.Fatalf("process first: %v", err)
	}
	if err := f.svc.Process(ctx, event(t, second)); err != nil {
		t.Fatalf("process second: %v", err)
	}

	all := f.store.all("bob")
	if len(all) != 1 {
		t.Fatalf("notifications = %d; want 1 grouped", len(all))
	}
	if all[0].GroupCount != 2 {
		t.Fatalf("group count = %d; want 2", all[0].GroupCount)
	}
	if !strings.Contains(all[0].Message, "1 others liked your post") {
		t.Fatalf("message = %q; want grouped form", all[0].Message)
	}
}

func TestProcessGroupWindowExpires(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()

	like := domain.Event{Type: "like", UserID: "bob", ActorID: "alice", ActorName: "Alice Kim", RelatedID: "post1"}
	if err := f.svc.Process(ctx, event(t, like)); err != nil {
		t.Fatalf("process first: %v", err)
	}

	f.mr.FastForward(11 * time.Minute)

	if err := f.svc.Process(ctx, event(t, like)); err != nil {
		t.Fatalf("process after window: %v", err)
	}
	if len(f.store.all("bob")) != 2 {
		t.Fatalf("notifications = %d; want 2 after window expiry", len(f.store.all("bob")))
	}
}

func TestProcessDoesNotGroupAcrossEntities(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()

	a := domain.Event{Type: "like", UserID: "bob", ActorID: "alice", ActorName: "Alice Kim", RelatedID: "post1"}
	b := domain.Event{Type: "like", UserID: "bob", ActorID: "alice", ActorName: "Alice Kim", RelatedID: "post2"}

	if err := f.svc.Process(ctx, event(t, a)); err != nil {
		t.Fatalf("process a: %v", err)
	}
	if err := f.svc.Process(ctx, event(t, b)); err != nil {
		t.Fatalf("process b: %v", err)
	}
	if len(f.store.all("bob")) != 2 {
		t.Fatalf("notifications = %d; want 2", len(f.store.all("bob")))
	}
}

func TestProcessDeliversToConnectedUser(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()

	wire := newChanWire()
	conn := realtime.NewConn("c1", "bob", wire)
	f.hub.Join(realtime.UserRoom("bob"), conn)

	err := f.svc.Process(ctx, event(t, domain.Event{
		Type: "friend-accept", UserID: "bob", ActorID: "alice", ActorName: "Alice Kim",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	frame := waitFrame(t, wire, "notification:new")
	n, _ := frame["notification"].(map[string]any)
	if n == nil || n["message"] != "Alice Kim accepted your friend request" {
		t.Fatalf("frame = %v", frame)
	}
	badge := waitFrame(t, wire, "notification:unread-count")
	if badge["count"] != float64(1) {
		t.Fatalf("badge = %v; want 1", badge)
	}
}

func TestGroupedUpdateDelivered(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()

	wire := newChanWire()
	conn := realtime.NewConn("c1", "bob", wire)
	f.hub.Join(realtime.UserRoom("bob"), conn)

	like := domain.Event{Type: "like", UserID: "bob", ActorID: "alice", ActorName: "Alice Kim", RelatedID: "post1"}
	if err := f.svc.Process(ctx, event(t, like)); err != nil {
		t.Fatalf("process first: %v", err)
	}
	waitFrame(t, wire, "notification:new")

	like.ActorID, like.ActorName = "carol", "Carol Park"
	if err := f.svc.Process(ctx, event(t, like)); err != nil {
		t.Fatalf("process second: %v", err)
	}
	frame := waitFrame(t, wire, "notification:updated")
	n, _ := frame["notification"].(map[string]any)
	if n == nil || n["groupCount"] != float64(2) {
		t.Fatalf("frame = %v; want group count 2", frame)
	}
}
