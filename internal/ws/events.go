package ws

import "messaging-service/internal/models"

// Client -> server event types.
const (
	EventAuthenticate = "authenticate"
	EventSendMessage  = "send_message"
	EventTyping       = "typing"
)

// Server -> client event types.
const (
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventUserTyping     = "user_typing"
	EventUserStatus     = "user_status_change"
	EventError          = "error"
)

// Presence statuses carried by user_status_change.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Error codes carried by error events.
const (
	CodeValidation   = "validation_error"
	CodeUnauthorized = "unauthorized"
	CodePersistence  = "persistence_error"
	CodeInternal     = "internal_error"
)

// Inbound is the envelope read from a client connection.
type Inbound struct {
	Type       string `json:"type"`
	ReceiverID int    `json:"receiver_id,omitempty"`
	ListingID  *int   `json:"listing_id,omitempty"`
	Content    string `json:"content,omitempty"`
	TempID     string `json:"temp_id,omitempty"`
}

// Event is the envelope written to client connections.
type Event struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message,omitempty"`
	TempID  string          `json:"temp_id,omitempty"`
	UserID  int             `json:"user_id,omitempty"`
	Status  string          `json:"status,omitempty"`
	Code    string          `json:"code,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}
