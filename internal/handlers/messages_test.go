package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/users"
	"messaging-service/internal/ws"
)

type handlerFixture struct {
	engine        *gin.Engine
	conversations *mocks.ConversationRepositoryMock
	messages      *mocks.MessageRepositoryMock
	directory     *mocks.DirectoryMock
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()
	publisher := rabbitmq.NewPublisher(&logger, "", "")

	f := &handlerFixture{
		conversations: new(mocks.ConversationRepositoryMock),
		messages:      new(mocks.MessageRepositoryMock),
		directory:     new(mocks.DirectoryMock),
	}
	registry := ws.NewRegistry()
	presence := ws.NewPresenceTracker(registry, publisher, &logger)
	router := ws.NewRouter(registry, presence, f.conversations, f.messages, f.directory, publisher, &logger)
	handler := NewMessagesHandler(f.conversations, f.messages, f.directory, router, &logger)

	f.engine = gin.New()
	f.engine.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	f.engine.GET("/api/messages", handler.ListConversations)
	f.engine.GET("/api/messages/:user_id", handler.GetHistory)
	f.engine.POST("/api/messages", handler.PostMessage)
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestListConversations(t *testing.T) {
	f := newHandlerFixture(t)

	last := models.Message{ID: 9, ConversationID: 5, SenderID: 2, Content: "still interested?", CreatedAt: time.Now().UTC()}
	summaries := []models.ConversationSummary{
		{ConversationID: 5, PeerID: 2, LastMessage: &last, UnreadCount: 3},
		{ConversationID: 6, PeerID: 4, UnreadCount: 0},
	}
	f.conversations.On("ListSummaries", mock.Anything, 1).Return(summaries, nil).Once()
	f.directory.On("BulkUsers", mock.Anything, []int{2, 4}).Return([]models.User{
		{ID: 2, Name: "Boris"},
		{ID: 4, Name: "Dina"},
	}, nil).Once()

	rec := f.do(t, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 2)
	require.Equal(t, "Boris", resp.Conversations[0].PeerName)
	require.Equal(t, 3, resp.Conversations[0].UnreadCount)
	require.Equal(t, "Dina", resp.Conversations[1].PeerName)
	f.conversations.AssertExpectations(t)
	f.directory.AssertExpectations(t)
}

func TestListConversationsEmpty(t *testing.T) {
	f := newHandlerFixture(t)

	f.conversations.On("ListSummaries", mock.Anything, 1).Return(nil, nil).Once()
	f.directory.On("BulkUsers", mock.Anything, []int{}).Return(nil, nil).Once()

	rec := f.do(t, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"conversations":[]}`, rec.Body.String())
}

func TestListConversationsRepositoryError(t *testing.T) {
	f := newHandlerFixture(t)

	f.conversations.On("ListSummaries", mock.Anything, 1).Return(nil, assert.AnError).Once()

	rec := f.do(t, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListConversationsDirectoryError(t *testing.T) {
	f := newHandlerFixture(t)

	f.conversations.On("ListSummaries", mock.Anything, 1).Return([]models.ConversationSummary{
		{ConversationID: 5, PeerID: 2},
	}, nil).Once()
	f.directory.On("BulkUsers", mock.Anything, []int{2}).Return(nil, assert.AnError).Once()

	rec := f.do(t, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetHistoryMarksMessagesRead(t *testing.T) {
	f := newHandlerFixture(t)

	history := []models.Message{
		{ID: 1, ConversationID: 5, SenderID: 2, Content: "hi", IsRead: false},
		{ID: 2, ConversationID: 5, SenderID: 1, Content: "hello", IsRead: true},
	}
	f.messages.On("HistoryBetween", mock.Anything, 1, 2).Return(history, nil).Once()
	f.messages.On("MarkReadBetween", mock.Anything, 1, 2).Return(int64(1), nil).Once()

	rec := f.do(t, http.MethodGet, "/api/messages/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	require.Equal(t, 1, resp.Messages[0].ID)
	f.messages.AssertExpectations(t)
}

func TestGetHistoryMarkReadFailureStillReturnsHistory(t *testing.T) {
	f := newHandlerFixture(t)

	f.messages.On("HistoryBetween", mock.Anything, 1, 2).Return([]models.Message{{ID: 1}}, nil).Once()
	f.messages.On("MarkReadBetween", mock.Anything, 1, 2).Return(int64(0), assert.AnError).Once()

	rec := f.do(t, http.MethodGet, "/api/messages/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetHistoryEmptyIsNotNull(t *testing.T) {
	f := newHandlerFixture(t)

	f.messages.On("HistoryBetween", mock.Anything, 1, 2).Return(nil, nil).Once()
	f.messages.On("MarkReadBetween", mock.Anything, 1, 2).Return(int64(0), nil).Once()

	rec := f.do(t, http.MethodGet, "/api/messages/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestGetHistoryInvalidUserID(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/messages/abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageStoresAndReturnsMessage(t *testing.T) {
	f := newHandlerFixture(t)

	stored := models.Message{ID: 7, ConversationID: 5, SenderID: 1, Content: "hi"}
	f.directory.On("GetUser", mock.Anything, 2).Return(models.User{ID: 2}, nil).Once()
	f.conversations.On("GetOrCreate", mock.Anything, 1, 2, (*int)(nil)).Return(models.Conversation{ID: 5, UserA: 1, UserB: 2}, nil).Once()
	f.messages.On("Create", mock.Anything, 5, 1, "hi").Return(stored, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": 2, "content": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 7, resp.ID)
	f.messages.AssertExpectations(t)
}

func TestPostMessageWithListing(t *testing.T) {
	f := newHandlerFixture(t)

	listingID := 42
	stored := models.Message{ID: 7, ConversationID: 5, SenderID: 1, Content: "hi"}
	f.directory.On("GetUser", mock.Anything, 2).Return(models.User{ID: 2}, nil).Once()
	f.conversations.On("GetOrCreate", mock.Anything, 1, 2, &listingID).Return(models.Conversation{ID: 5, UserA: 1, UserB: 2}, nil).Once()
	f.messages.On("Create", mock.Anything, 5, 1, "hi").Return(stored, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": 2, "listing_id": 42, "content": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	f.conversations.AssertExpectations(t)
}

func TestPostMessageMissingFields(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": 2})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageWhitespaceContent(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": 2, "content": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageSelf(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": 1, "content": "hi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageUnknownReceiver(t *testing.T) {
	f := newHandlerFixture(t)

	f.directory.On("GetUser", mock.Anything, 99).Return(models.User{}, users.ErrUserNotFound).Once()

	rec := f.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": 99, "content": "hi"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageStoreFailure(t *testing.T) {
	f := newHandlerFixture(t)

	f.directory.On("GetUser", mock.Anything, 2).Return(models.User{ID: 2}, nil).Once()
	f.conversations.On("GetOrCreate", mock.Anything, 1, 2, (*int)(nil)).Return(models.Conversation{ID: 5, UserA: 1, UserB: 2}, nil).Once()
	f.messages.On("Create", mock.Anything, 5, 1, "hi").Return(models.Message{}, assert.AnError).Once()

	rec := f.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": 2, "content": "hi"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPostMessageDirectoryUnavailable(t *testing.T) {
	f := newHandlerFixture(t)

	f.directory.On("GetUser", mock.Anything, 2).Return(models.User{}, assert.AnError).Once()

	rec := f.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": 2, "content": "hi"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}
