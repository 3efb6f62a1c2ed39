package ws

import (
	"log/slog"

	"dmchat/internal/domain"
)

// Hub ties the registry to the dispatcher and owns the connect/disconnect
// edges of a session, announcing presence changes to everyone online.
type Hub struct {
	registry   *Registry
	dispatcher *Dispatcher
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	registry := NewRegistry()
	return &Hub{
		registry:   registry,
		dispatcher: NewDispatcher(registry, log),
		log:        log,
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Dispatcher() *Dispatcher { return h.dispatcher }

// OnConnect registers conn and sends it the current presence list. When this
// is the user's first connection, every online user gets the new list.
func (h *Hub) OnConnect(userID int64, conn Connection) {
	if h.registry.Register(userID, conn) {
		h.log.Info("User online", "user_id", userID)
		h.dispatcher.Broadcast(domain.Presence(h.registry.OnlineUsers()))
		return
	}
	if err := conn.Send(domain.Presence(h.registry.OnlineUsers())); err != nil {
		h.log.Warn("Failed to send presence", "user_id", userID, "connection_id", conn.ID(), "error", err)
	}
}

// OnDisconnect unregisters conn and, when it was the user's last one,
// broadcasts the shrunken presence list.
func (h *Hub) OnDisconnect(userID int64, conn Connection) {
	if h.registry.Unregister(userID, conn) {
		h.log.Info("User offline", "user_id", userID)
		h.dispatcher.Broadcast(domain.Presence(h.registry.OnlineUsers()))
	}
}

// Deliver forwards to the dispatcher so the hub can serve as the service notifier.
func (h *Hub) Deliver(userID int64, ev domain.Event) {
	h.dispatcher.Deliver(userID, ev)
}

func (h *Hub) OnlineUsers() []int64 {
	return h.registry.OnlineUsers()
}
