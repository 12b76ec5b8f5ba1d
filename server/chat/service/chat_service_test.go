package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"unilink_server/server/chat/domain"
	"unilink_server/server/realtime"
)

type chatFixture struct {
	svc      *ChatService
	store    *memStore
	notifier *memNotifier
	hub      *realtime.Hub
	presence *realtime.PresenceTracker
	unread   *realtime.UnreadCounter
	mr       *miniredis.Miniredis
}

func newChatFixture(t *testing.T, users ...domain.User) *chatFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemStore(users...)
	notifier := &memNotifier{}
	hub := realtime.NewHub()
	presence := realtime.NewPresenceTracker(rdb, "chat")
	unread := realtime.NewUnreadCounter(rdb)
	bus := realtime.NewEventBus(rdb)

	svc := NewChatService(store, realtime.NewMessageCache(rdb), unread, presence, bus, hub, notifier)
	svc.RegisterBusHandlers(bus)
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(bus.Stop)

	return &chatFixture{svc: svc, store: store, notifier: notifier, hub: hub, presence: presence, unread: unread, mr: mr}
}

func testUsers() []domain.User {
	return []domain.User{
		{ID: "alice", FirstName: "Alice", LastName: "Kim", Friends: []string{"bob"}},
		{ID: "bob", FirstName: "Bob", LastName: "Lee", Friends: []string{"alice"}},
	}
}

// waitFrame drains the wire until a frame of the wanted type arrives.
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

func TestSendMessageDelivery(t *testing.T) {
	f := newChatFixture(t, testUsers()...)
	ctx := context.Background()

	conv, err := f.store.GetOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	aliceWire, bobWire := newChanWire(), newChanWire()
	alice := realtime.NewConn("c1", "alice", aliceWire)
	bob := realtime.NewConn("c2", "bob", bobWire)
	f.hub.Join(realtime.UserRoom("alice"), alice)
	f.hub.Join(realtime.UserRoom("bob"), bob)
	f.hub.Join(conv.ID, alice)
	f.hub.Join(conv.ID, bob)

	snap, err := f.svc.SendMessage(ctx, "alice", "bob", "  hello bob  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if snap.Content != "hello bob" {
		t.Fatalf("content = %q; want trimmed", snap.Content)
	}
	if snap.Sender.FirstName != "Alice" {
		t.Fatalf("sender = %+v; want alice summary", snap.Sender)
	}

	frame := waitFrame(t, bobWire, "message:new")
	msg, _ := frame["message"].(map[string]any)
	if msg == nil || msg["content"] != "hello bob" {
		t.Fatalf("message frame = %v", frame)
	}
	waitFrame(t, aliceWire, "message:new")

	badge := waitFrame(t, bobWire, "unread:total")
	if badge["count"] != float64(1) {
		t.Fatalf("unread badge = %v; want 1", badge)
	}

	total, _ := f.unread.Total(ctx, "bob")
	if total != 1 {
		t.Fatalf("bob total = %d; want 1", total)
	}

	events := f.notifier.published()
	if len(events) != 1 || events[0].Type != "message" || events[0].UserID != "bob" {
		t.Fatalf("notifier events = %+v; want one message event for bob", events)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatFixture(t, testUsers()...)
	ctx := context.Background()

	if _, err := f.svc.SendMessage(ctx, "alice", "bob", "   "); err == nil {
		t.Fatal("blank content accepted")
	}
	if _, err := f.svc.SendMessage(ctx, "alice", "", "hi"); err == nil {
		t.Fatal("blank recipient accepted")
	}
	if f.store.messageCount() != 0 {
		t.Fatalf("messages persisted = %d; want 0", f.store.messageCount())
	}
}

func TestMarkReadFlow(t *testing.T) {
	f := newChatFixture(t, testUsers()...)
	ctx := context.Background()

	if _, err := f.svc.SendMessage(ctx, "alice", "bob", "one"); err != nil {
		t.Fatalf("send one: %v", err)
	}
	snap, err := f.svc.SendMessage(ctx, "alice", "bob", "two")
	if err != nil {
		t.Fatalf("send two: %v", err)
	}
	convID := snap.ConversationID

	bobWire := newChanWire()
	bob := realtime.NewConn("c1", "bob", bobWire)
	f.hub.Join(realtime.UserRoom("bob"), bob)
	f.hub.Join(convID, bob)

	total, err := f.svc.MarkRead(ctx, "bob", convID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if total != 0 {
		t.Fatalf("total after read = %d; want 0", total)
	}

	receipt := waitFrame(t, bobWire, "message:read")
	if receipt["conversationId"] != convID || receipt["userId"] != "bob" {
		t.Fatalf("receipt = %v", receipt)
	}
	badge := waitFrame(t, bobWire, "unread:total")
	if badge["count"] != float64(0) {
		t.Fatalf("badge = %v; want 0", badge)
	}

	perConv, _ := f.unread.PerConversation(ctx, "bob", convID)
	if perConv != 0 {
		t.Fatalf("per conversation = %d; want 0", perConv)
	}
}

func TestMarkReadUnknownConversation(t *testing.T) {
	f := newChatFixture(t, testUsers()...)

	if _, err := f.svc.MarkRead(context.Background(), "bob", "nope"); err != ErrConversationUnknown {
		t.Fatalf("err = %v; want ErrConversationUnknown", err)
	}
}

func TestMessagesServedFromCache(t *testing.T) {
	f := newChatFixture(t, testUsers()...)
	ctx := context.Background()

	if _, err := f.svc.SendMessage(ctx, "alice", "bob", "one"); err != nil {
		t.Fatalf("send one: %v", err)
	}
	snap, err := f.svc.SendMessage(ctx, "alice", "bob", "two")
	if err != nil {
		t.Fatalf("send two: %v", err)
	}
	convID := snap.ConversationID

	msgs, pages, err := f.svc.Messages(ctx, "bob", convID, 1, 50)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "one" || msgs[1].Content != "two" {
		t.Fatalf("messages = %+v; want [one two]", msgs)
	}
	if pages != 1 {
		t.Fatalf("pages = %d; want 1", pages)
	}
	if calls := f.store.listMessagesCalls; calls != 0 {
		t.Fatalf("durable reads = %d; want 0 (cache hit)", calls)
	}
}

func TestMessagesFallbackRepopulatesCache(t *testing.T) {
	f := newChatFixture(t, testUsers()...)
	ctx := context.Background()

	snap, err := f.svc.SendMessage(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	convID := snap.ConversationID

	// expire the hot window; the next read must hit the durable store
	f.mr.FastForward(2 * time.Hour)

	msgs, _, err := f.svc.Messages(ctx, "bob", convID, 1, 50)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("messages = %+v; want [hello]", msgs)
	}
	if f.store.listMessagesCalls != 1 {
		t.Fatalf("durable reads = %d; want 1", f.store.listMessagesCalls)
	}

	// the fallback refilled the cache, so a second read stays hot
	if _, _, err := f.svc.Messages(ctx, "bob", convID, 1, 50); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if f.store.listMessagesCalls != 1 {
		t.Fatalf("durable reads after refill = %d; want 1", f.store.listMessagesCalls)
	}
}

func TestMessagesRejectsOutsider(t *testing.T) {
	f := newChatFixture(t, append(testUsers(), domain.User{ID: "mallory"})...)
	ctx := context.Background()

	snap, err := f.svc.SendMessage(ctx, "alice", "bob", "secret")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, _, err := f.svc.Messages(ctx, "mallory", snap.ConversationID, 1, 50); err != ErrConversationUnknown {
		t.Fatalf("err = %v; want ErrConversationUnknown", err)
	}
}

func TestTypingFanOut(t *testing.T) {
	f := newChatFixture(t, testUsers()...)
	ctx := context.Background()

	conv, err := f.store.GetOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	bobWire := newChanWire()
	bob := realtime.NewConn("c1", "bob", bobWire)
	f.hub.Join(conv.ID, bob)

	if err := f.svc.Typing(ctx, "alice", conv.ID, true); err != nil {
		t.Fatalf("typing start: %v", err)
	}
	frame := waitFrame(t, bobWire, "typing:start")
	user, _ := frame["user"].(map[string]any)
	if frame["userId"] != "alice" || user == nil || user["firstName"] != "Alice" {
		t.Fatalf("typing frame = %v", frame)
	}

	typing, _ := f.presence.ListTyping(ctx, conv.ID)
	if len(typing) != 1 || typing[0] != "alice" {
		t.Fatalf("typing set = %v; want [alice]", typing)
	}

	if err := f.svc.Typing(ctx, "alice", conv.ID, false); err != nil {
		t.Fatalf("typing stop: %v", err)
	}
	waitFrame(t, bobWire, "typing:stop")
	typing, _ = f.presence.ListTyping(ctx, conv.ID)
	if len(typing) != 0 {
		t.Fatalf("typing set after stop = %v; want none", typing)
	}
}

func TestConversationsView(t *testing.T) {
	f := newChatFixture(t, testUsers()...)
	ctx := context.Background()

	snap, err := f.svc.SendMessage(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := f.presence.MarkOnline(ctx, "alice"); err != nil {
		t.Fatalf("mark online: %v", err)
	}

	views, err := f.svc.Conversations(ctx, "bob")
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("views = %d; want 1", len(views))
	}
	view := views[0]
	if view.Participant.ID != "alice" || !view.Participant.IsOnline {
		t.Fatalf("participant = %+v; want alice online", view.Participant)
	}
	if view.UnreadCount != 1 {
		t.Fatalf("unread = %d; want 1", view.UnreadCount)
	}
	if view.LastMessage == nil || view.LastMessage.ID != snap.ID {
		t.Fatalf("last message = %+v; want %s", view.LastMessage, snap.ID)
	}
}

func TestOnConnectPrimesConnection(t *testing.T) {
	f := newChatFixture(t, testUsers()...)
	ctx := context.Background()

	if err := f.presence.MarkOnline(ctx, "bob"); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if err := f.unread.Increment(ctx, "alice", "conv1"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	wire := newChanWire()
	conn := realtime.NewConn("c1", "alice", wire)
	f.svc.onConnect(ctx, conn)

	friends := waitFrame(t, wire, "friends:online")
	ids, _ := friends["userIds"].([]any)
	if len(ids) != 1 || ids[0] != "bob" {
		t.Fatalf("friends frame = %v; want bob online", friends)
	}
	badge := waitFrame(t, wire, "unread:total")
	if badge["count"] != float64(1) {
		t.Fatalf("badge = %v; want 1", badge)
	}
}
