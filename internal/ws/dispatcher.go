package ws

import (
	"log/slog"

	"dmchat/internal/domain"
)

// Dispatcher pushes events to every live connection of a user.
// Delivery is best effort: offline users are skipped silently and a failing
// connection is logged without affecting the others.
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
}

func NewDispatcher(registry *Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: log}
}

// Deliver never blocks and never retries.
func (d *Dispatcher) Deliver(userID int64, ev domain.Event) {
	for _, conn := range d.registry.Lookup(userID) {
		if err := conn.Send(ev); err != nil {
			d.log.Warn("Dropping event for connection",
				"user_id", userID,
				"connection_id", conn.ID(),
				"event", ev.Type,
				"error", err)
		}
	}
}

// Broadcast delivers ev to every online user.
func (d *Dispatcher) Broadcast(ev domain.Event) {
	for _, userID := range d.registry.OnlineUsers() {
		d.Deliver(userID, ev)
	}
}
