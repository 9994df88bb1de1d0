// Package chatclient is the Go SDK for the messaging service realtime API.
// It maintains one Session per open conversation view: ordered messages
// with optimistic send reconciliation, peer typing state and presence.
package chatclient

import "time"

// Message mirrors the server message payload.
type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Envelope read from the server.
type Event struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
	TempID  string   `json:"temp_id,omitempty"`
	UserID  int      `json:"user_id,omitempty"`
	Status  string   `json:"status,omitempty"`
	Code    string   `json:"code,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

// Envelope written to the server.
type Outgoing struct {
	Type       string `json:"type"`
	ReceiverID int    `json:"receiver_id,omitempty"`
	ListingID  *int   `json:"listing_id,omitempty"`
	Content    string `json:"content,omitempty"`
	TempID     string `json:"temp_id,omitempty"`
}

// Event types, matching the server contract.
const (
	eventAuthenticate   = "authenticate"
	eventSendMessage    = "send_message"
	eventTyping         = "typing"
	eventReceiveMessage = "receive_message"
	eventMessageSent    = "message_sent"
	eventUserTyping     = "user_typing"
	eventUserStatus     = "user_status_change"
	eventError          = "error"

	statusOnline = "online"
)
