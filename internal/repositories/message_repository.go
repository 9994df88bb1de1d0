package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// MessageRepository defines interactions for durable messages.
type MessageRepository interface {
	Create(ctx context.Context, conversationID, senderID int, content string) (models.Message, error)
	HistoryBetween(ctx context.Context, userID, peerID int) ([]models.Message, error)
	MarkReadBetween(ctx context.Context, readerID, peerID int) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create stores a message and returns the server-assigned id and timestamp.
func (r *MessageRepo) Create(ctx context.Context, conversationID, senderID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3)
        RETURNING id, conversation_id, sender_id, content, is_read, created_at`, conversationID, senderID, content).
		StructScan(&msg)
	return msg, err
}

// HistoryBetween returns every message between the two users across all of
// their conversations, ordered by created_at with ties broken by id.
func (r *MessageRepo) HistoryBetween(ctx context.Context, userID, peerID int) ([]models.Message, error) {
	userA, userB := userID, peerID
	if userA > userB {
		userA, userB = userB, userA
	}
	query := `SELECT m.id, m.conversation_id, m.sender_id, m.content, m.is_read, m.created_at
        FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE c.user_a = $1 AND c.user_b = $2
        ORDER BY m.created_at ASC, m.id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, userA, userB)
	return msgs, err
}

// MarkReadBetween flips is_read on every message the peer sent to the reader
// and reports how many rows changed.
func (r *MessageRepo) MarkReadBetween(ctx context.Context, readerID, peerID int) (int64, error) {
	userA, userB := readerID, peerID
	if userA > userB {
		userA, userB = userB, userA
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE
        WHERE sender_id = $1 AND is_read = FALSE AND conversation_id IN (
            SELECT id FROM conversations WHERE user_a = $2 AND user_b = $3
        )`, peerID, userA, userB)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
