package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/users"
	"messaging-service/internal/ws"
)

// MessagesHandler serves the conversation and history endpoints plus the
// HTTP fallback send path.
type MessagesHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	directory     users.Directory
	router        *ws.Router
	log           *zerolog.Logger
}

// NewMessagesHandler builds a MessagesHandler.
func NewMessagesHandler(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	directory users.Directory,
	router *ws.Router,
	logger *zerolog.Logger,
) *MessagesHandler {
	return &MessagesHandler{
		conversations: conversations,
		messages:      messages,
		directory:     directory,
		router:        router,
		log:           logger,
	}
}

// ListConversations returns the caller's conversations with peer info,
// latest message and unread count.
func (h *MessagesHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")

	summaries, err := h.conversations.ListSummaries(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	peerIDs := make([]int, 0, len(summaries))
	seen := map[int]struct{}{}
	for _, s := range summaries {
		if _, ok := seen[s.PeerID]; !ok {
			seen[s.PeerID] = struct{}{}
			peerIDs = append(peerIDs, s.PeerID)
		}
	}

	peers, err := h.directory.BulkUsers(c.Request.Context(), peerIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load user info"})
		return
	}
	nameByID := map[int]string{}
	for _, u := range peers {
		nameByID[u.ID] = u.Name
	}

	for i := range summaries {
		summaries[i].PeerName = nameByID[summaries[i].PeerID]
	}

	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetHistory returns the ordered message history between the caller and the
// peer, marking the peer's messages read as a side effect.
func (h *MessagesHandler) GetHistory(c *gin.Context) {
	peerID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	userID := c.GetInt("userID")

	msgs, err := h.messages.HistoryBetween(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	if _, err := h.messages.MarkReadBetween(c.Request.Context(), userID, peerID); err != nil {
		// History was already loaded; unread counts just stay stale until
		// the next fetch.
		h.log.Warn().Err(err).Int("user_id", userID).Int("peer_id", peerID).Msg("mark read failed")
	}

	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage is the fallback send path for clients without a live realtime
// connection. Same validation, persistence and fan-out contract as the
// send_message socket event.
func (h *MessagesHandler) PostMessage(c *gin.Context) {
	var req struct {
		ReceiverID int    `json:"receiver_id" binding:"required"`
		ListingID  *int   `json:"listing_id"`
		Content    string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.router.Send(c.Request.Context(), ws.SendRequest{
		SenderID:   userID,
		ReceiverID: req.ReceiverID,
		ListingID:  req.ListingID,
		Content:    req.Content,
		Transport:  "http",
	})
	if err != nil {
		status, message := sendErrorStatus(err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func sendErrorStatus(err error) (int, string) {
	var persistence *ws.PersistenceError
	switch {
	case errors.Is(err, ws.ErrEmptyContent):
		return http.StatusBadRequest, "message content is empty"
	case errors.Is(err, ws.ErrSelfMessage):
		return http.StatusBadRequest, "cannot message yourself"
	case errors.Is(err, ws.ErrUnknownReceiver):
		return http.StatusNotFound, "receiver not found"
	case errors.As(err, &persistence):
		return http.StatusInternalServerError, "failed to store message"
	default:
		return http.StatusBadGateway, "failed to resolve receiver"
	}
}
