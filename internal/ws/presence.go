package ws

import (
	"context"

	"github.com/rs/zerolog"

	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
)

// PresenceTracker turns registry transitions into user_status_change
// broadcasts. Callers must invoke OnConnectionChange at most once per true
// online/offline edge; the registry's Register/Unregister results give them
// exactly that.
type PresenceTracker struct {
	registry  *Registry
	publisher rabbitmq.Publisher
	log       *zerolog.Logger
}

// NewPresenceTracker constructs a PresenceTracker.
func NewPresenceTracker(registry *Registry, publisher rabbitmq.Publisher, logger *zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{registry: registry, publisher: publisher, log: logger}
}

// OnConnectionChange broadcasts the transition to every other connected
// client. Write failures drop the dead connection and never block the rest
// of the broadcast.
func (t *PresenceTracker) OnConnectionChange(userID int, online bool) {
	status := StatusOffline
	if online {
		status = StatusOnline
	}

	observability.IncPresenceTransition(status)
	_ = rabbitmq.PublishEvent(context.Background(), t.publisher, "messaging.presence", observability.EventEnvelope{
		EventType: "presence",
		EventName: status,
		Payload:   map[string]interface{}{"user_id": userID, "status": status},
	})

	event := Event{Type: EventUserStatus, UserID: userID, Status: status}
	for _, entry := range t.registry.ConnectionsExcept(userID) {
		if err := entry.Conn.WriteEvent(event); err != nil {
			t.log.Warn().Err(err).Str("conn_id", entry.ID).Int("user_id", entry.UserID).Msg("presence write failed, dropping connection")
			t.Drop(entry)
		}
	}
}

// Drop closes and unregisters a connection, cascading the offline
// transition if it was the user's last one.
func (t *PresenceTracker) Drop(entry Entry) {
	_ = entry.Conn.Close()
	if userID, wentOffline := t.registry.Unregister(entry.ID); wentOffline {
		t.OnConnectionChange(userID, false)
	}
}
