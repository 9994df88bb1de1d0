package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/users"
)

var (
	// ErrEmptyContent rejects whitespace-only messages before persistence.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrSelfMessage rejects messages addressed to the sender.
	ErrSelfMessage = errors.New("cannot message yourself")
	// ErrSenderOffline rejects realtime sends from users with no registered connection.
	ErrSenderOffline = errors.New("sender has no registered connection")
	// ErrUnknownReceiver rejects sends to users the directory cannot resolve.
	ErrUnknownReceiver = errors.New("receiver does not exist")
)

// PersistenceError wraps a conversation-store failure. When it is returned
// nothing was delivered: a message that could not be stored is never fanned
// out.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persist message: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SendRequest carries one outgoing message through the router.
type SendRequest struct {
	SenderID   int
	ReceiverID int
	ListingID  *int
	Content    string
	// TempID is the client-generated placeholder id, echoed back on the
	// sender ack so clients reconcile optimistic messages by id.
	TempID string
	// RequireLive enforces that the sender holds a registered connection.
	// The HTTP fallback path authenticates via middleware instead and
	// leaves this false.
	RequireLive bool
	// Transport labels metrics and events: "ws" or "http".
	Transport string
}

// Router validates, persists and fans out messages and typing signals.
type Router struct {
	registry      *Registry
	presence      *PresenceTracker
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	directory     users.Directory
	publisher     rabbitmq.Publisher
	log           *zerolog.Logger
}

// NewRouter constructs a Router.
func NewRouter(
	registry *Registry,
	presence *PresenceTracker,
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	directory users.Directory,
	publisher rabbitmq.Publisher,
	logger *zerolog.Logger,
) *Router {
	return &Router{
		registry:      registry,
		presence:      presence,
		conversations: conversations,
		messages:      messages,
		directory:     directory,
		publisher:     publisher,
		log:           logger,
	}
}

// Send validates the request, persists the message, then fans it out to the
// receiver's live connections and acks the sender's. Delivery over the
// socket is at-most-once, best-effort: an offline receiver still gets the
// durable write and sees the message on the next history fetch.
func (rt *Router) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}
	if req.ReceiverID == req.SenderID {
		return models.Message{}, ErrSelfMessage
	}
	if req.RequireLive && !rt.registry.IsOnline(req.SenderID) {
		return models.Message{}, ErrSenderOffline
	}

	if _, err := rt.directory.GetUser(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return models.Message{}, ErrUnknownReceiver
		}
		return models.Message{}, fmt.Errorf("resolve receiver: %w", err)
	}

	conv, err := rt.conversations.GetOrCreate(ctx, req.SenderID, req.ReceiverID, req.ListingID)
	if err != nil {
		return models.Message{}, &PersistenceError{Err: err}
	}

	msg, err := rt.messages.Create(ctx, conv.ID, req.SenderID, content)
	if err != nil {
		return models.Message{}, &PersistenceError{Err: err}
	}

	observability.IncMessageSent(req.Transport)
	_ = rabbitmq.PublishEvent(ctx, rt.publisher, "messaging.messages", observability.EventEnvelope{
		EventType: "message",
		EventName: "message_sent",
		Payload: map[string]interface{}{
			"message_id":      msg.ID,
			"conversation_id": msg.ConversationID,
			"sender_id":       msg.SenderID,
			"receiver_id":     req.ReceiverID,
			"transport":       req.Transport,
		},
	})

	rt.fanOut(req.ReceiverID, Event{Type: EventReceiveMessage, Message: &msg})
	rt.fanOut(req.SenderID, Event{Type: EventMessageSent, Message: &msg, TempID: req.TempID})

	return msg, nil
}

// NotifyTyping relays an ephemeral typing signal to the receiver's live
// connections. Nothing is persisted or queued; an offline receiver simply
// never sees it.
func (rt *Router) NotifyTyping(senderID, receiverID int) error {
	if !rt.registry.IsOnline(senderID) {
		return ErrSenderOffline
	}
	observability.IncWSEvent(EventUserTyping)
	rt.fanOut(receiverID, Event{Type: EventUserTyping, UserID: senderID})
	return nil
}

// fanOut writes the event to every live connection of the user. A failed
// write drops that connection only; the user's other connections still get
// the event.
func (rt *Router) fanOut(userID int, event Event) {
	for _, entry := range rt.registry.ConnectionsFor(userID) {
		if err := entry.Conn.WriteEvent(event); err != nil {
			rt.log.Warn().Err(err).Str("conn_id", entry.ID).Int("user_id", userID).Str("event", event.Type).Msg("fan-out write failed, dropping connection")
			rt.presence.Drop(entry)
		}
	}
}
