package models

import "time"

// Conversation pairs exactly two users, optionally scoped to a listing.
// Participants are stored normalized with UserA < UserB so the pair is
// unique regardless of who started the conversation.
type Conversation struct {
	ID        int       `db:"id" json:"id"`
	UserA     int       `db:"user_a" json:"user_a"`
	UserB     int       `db:"user_b" json:"user_b"`
	ListingID *int      `db:"listing_id" json:"listing_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Peer returns the other participant from the perspective of userID.
func (c Conversation) Peer(userID int) int {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// ConversationSummary is the API view of a conversation for one user.
type ConversationSummary struct {
	ConversationID int       `json:"conversation_id"`
	PeerID         int       `json:"peer_id"`
	PeerName       string    `json:"peer_name,omitempty"`
	ListingID      *int      `json:"listing_id,omitempty"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	UnreadCount    int       `json:"unread_count"`
	CreatedAt      time.Time `json:"created_at"`
}
