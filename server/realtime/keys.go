package realtime

// Redis key layout shared by every process instance. Key shapes follow the
// original deployment so a rolling upgrade can read existing state.

func sessionUserKey(service, userID string) string {
	return "socket:" + service + ":user:" + userID
}

func sessionConnPrefix(service string) string {
	return "socket:" + service + ":id:"
}

func sessionConnKey(service, connID string) string {
	return sessionConnPrefix(service) + connID
}

func onlineSetKey(service string) string {
	return "online:" + service + ":users"
}

func presenceKey(service, userID string) string {
	return "presence:" + service + ":" + userID
}

func typingKey(conversationID string) string {
	return "typing:" + conversationID
}

func messageCacheKey(conversationID string) string {
	return "messages:" + conversationID
}

func unreadKey(userID, conversationID string) string {
	return "unread:" + userID + ":" + conversationID
}

func unreadTotalKey(userID string) string {
	return "unread:" + userID + ":total"
}

// Bus channels, one per event kind. Conversation/user targeting travels in
// the payload; subscribers filter against their locally connected rooms.
const (
	ChannelMessageNew          = "channel:message:new"
	ChannelTypingStart         = "channel:typing:start"
	ChannelTypingStop          = "channel:typing:stop"
	ChannelUserOnline          = "channel:user:online"
	ChannelUserOffline         = "channel:user:offline"
	ChannelMessageRead         = "channel:message:read"
	ChannelNotificationNew     = "channel:notification:new"
	ChannelNotificationUpdated = "channel:notification:updated"
)
