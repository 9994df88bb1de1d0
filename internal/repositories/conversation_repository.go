package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, userID, peerID int, listingID *int) (models.Conversation, error)
	ListSummaries(ctx context.Context, userID int) ([]models.ConversationSummary, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const selectConversation = `SELECT id, user_a, user_b, listing_id, created_at FROM conversations
    WHERE user_a=$1 AND user_b=$2 AND listing_id IS NOT DISTINCT FROM $3`

// GetOrCreate returns the conversation for the unordered user pair and
// optional listing, creating it if missing. Safe under concurrent creation:
// a unique-violation loser re-selects the winner's row.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, userID, peerID int, listingID *int) (models.Conversation, error) {
	if userID == peerID {
		return models.Conversation{}, errors.New("cannot create conversation with self")
	}
	userA, userB := userID, peerID
	if userA > userB {
		userA, userB = userB, userA
	}

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, selectConversation, userA, userB, listingID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	err = r.db.QueryRowxContext(ctx, `INSERT INTO conversations (user_a, user_b, listing_id) VALUES ($1, $2, $3)
        RETURNING id, user_a, user_b, listing_id, created_at`, userA, userB, listingID).StructScan(&conv)
	if err == nil {
		return conv, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if selErr := r.db.GetContext(ctx, &conv, selectConversation, userA, userB, listingID); selErr == nil {
			return conv, nil
		}
	}
	return models.Conversation{}, err
}

// ListSummaries returns one summary per conversation the user participates
// in, newest activity first, with the latest message and unread count.
func (r *ConversationRepo) ListSummaries(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.user_a, c.user_b, c.listing_id, c.created_at,
            m.id, m.sender_id, m.content, m.is_read, m.created_at,
            (SELECT COUNT(*) FROM messages u WHERE u.conversation_id = c.id AND u.sender_id <> $1 AND u.is_read = FALSE) AS unread
        FROM conversations c
        LEFT JOIN LATERAL (
            SELECT id, sender_id, content, is_read, created_at FROM messages
            WHERE conversation_id = c.id
            ORDER BY created_at DESC, id DESC LIMIT 1
        ) m ON TRUE
        WHERE c.user_a = $1 OR c.user_b = $1
        ORDER BY COALESCE(m.created_at, c.created_at) DESC`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var (
			conv      models.Conversation
			msgID     sql.NullInt64
			senderID  sql.NullInt64
			content   sql.NullString
			isRead    sql.NullBool
			createdAt sql.NullTime
			unread    int
		)
		if err := rows.Scan(&conv.ID, &conv.UserA, &conv.UserB, &conv.ListingID, &conv.CreatedAt,
			&msgID, &senderID, &content, &isRead, &createdAt, &unread); err != nil {
			return nil, err
		}

		summary := models.ConversationSummary{
			ConversationID: conv.ID,
			PeerID:         conv.Peer(userID),
			ListingID:      conv.ListingID,
			UnreadCount:    unread,
			CreatedAt:      conv.CreatedAt,
		}
		if msgID.Valid {
			summary.LastMessage = &models.Message{
				ID:             int(msgID.Int64),
				ConversationID: conv.ID,
				SenderID:       int(senderID.Int64),
				Content:        content.String,
				IsRead:         isRead.Bool,
				CreatedAt:      createdAt.Time,
			}
		}
		result = append(result, summary)
	}
	return result, rows.Err()
}
