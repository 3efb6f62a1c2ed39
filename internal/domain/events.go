package domain

// EventKind names a real-time event pushed to a connected client.
type EventKind string

const (
	EventMessageCreated EventKind = "message-created"
	EventMessageUpdated EventKind = "message-updated"
	EventMessageDeleted EventKind = "message-deleted"
	EventPresence       EventKind = "presence"

	// Replies to frames sent by the client itself.
	EventAck   EventKind = "ack"
	EventError EventKind = "error"
)

// Event is the JSON envelope written to WebSocket clients.
type Event struct {
	Type        EventKind `json:"type"`
	Message     *Message  `json:"message,omitempty"`
	MessageID   string    `json:"messageId,omitempty"`
	OnlineUsers []int64   `json:"onlineUsers,omitempty"`
	Request     string    `json:"request,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func MessageCreated(m *Message) Event {
	return Event{Type: EventMessageCreated, Message: m}
}

func MessageUpdated(m *Message) Event {
	return Event{Type: EventMessageUpdated, Message: m}
}

func MessageDeleted(id string) Event {
	return Event{Type: EventMessageDeleted, MessageID: id}
}

func Presence(online []int64) Event {
	return Event{Type: EventPresence, OnlineUsers: online}
}
