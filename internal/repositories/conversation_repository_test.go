package repositories

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

var (
	selectConversationPattern = regexp.QuoteMeta("SELECT id, user_a, user_b, listing_id, created_at FROM conversations")
	insertConversationPattern = regexp.QuoteMeta("INSERT INTO conversations (user_a, user_b, listing_id)")
)

func newConversationRepoFixture(t *testing.T) (*ConversationRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewConversationRepo(sqlx.NewDb(db, "sqlmock")), mock
}

func conversationRow(id int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_a", "user_b", "listing_id", "created_at"}).
		AddRow(id, 1, 2, nil, time.Now())
}

func TestGetOrCreateReturnsExistingConversation(t *testing.T) {
	repo, mock := newConversationRepoFixture(t)

	// The pair is normalized, so calling with (2, 1) must query (1, 2).
	mock.ExpectQuery(selectConversationPattern).WithArgs(1, 2, nil).WillReturnRows(conversationRow(5))

	conv, err := repo.GetOrCreate(context.Background(), 2, 1, nil)
	require.NoError(t, err)
	require.Equal(t, 5, conv.ID)
	require.Equal(t, 1, conv.UserA)
	require.Equal(t, 2, conv.UserB)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateInsertsWhenMissing(t *testing.T) {
	repo, mock := newConversationRepoFixture(t)

	listingID := 42
	mock.ExpectQuery(selectConversationPattern).WithArgs(1, 2, &listingID).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(insertConversationPattern).WithArgs(1, 2, &listingID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_a", "user_b", "listing_id", "created_at"}).
			AddRow(6, 1, 2, listingID, time.Now()))

	conv, err := repo.GetOrCreate(context.Background(), 1, 2, &listingID)
	require.NoError(t, err)
	require.Equal(t, 6, conv.ID)
	require.NotNil(t, conv.ListingID)
	require.Equal(t, 42, *conv.ListingID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateUniqueViolationReselectsWinner(t *testing.T) {
	repo, mock := newConversationRepoFixture(t)

	// A concurrent creator won between the miss and the insert; the loser
	// must converge on the winner's row instead of failing.
	mock.ExpectQuery(selectConversationPattern).WithArgs(1, 2, nil).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(insertConversationPattern).WithArgs(1, 2, nil).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(selectConversationPattern).WithArgs(1, 2, nil).WillReturnRows(conversationRow(5))

	conv, err := repo.GetOrCreate(context.Background(), 1, 2, nil)
	require.NoError(t, err)
	require.Equal(t, 5, conv.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateOtherInsertErrorsPropagate(t *testing.T) {
	repo, mock := newConversationRepoFixture(t)

	mock.ExpectQuery(selectConversationPattern).WithArgs(1, 2, nil).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(insertConversationPattern).WithArgs(1, 2, nil).
		WillReturnError(&pq.Error{Code: "53300", Message: "too many connections"})

	_, err := repo.GetOrCreate(context.Background(), 1, 2, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateRejectsSelfPair(t *testing.T) {
	repo, mock := newConversationRepoFixture(t)

	_, err := repo.GetOrCreate(context.Background(), 1, 1, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
