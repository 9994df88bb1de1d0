package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/auth"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
)

// authenticateTimeout bounds how long a connection may sit between the
// transport handshake and the authenticate announce event.
const authenticateTimeout = 10 * time.Second

// Handler upgrades HTTP connections and bridges them to the registry,
// presence tracker and router.
type Handler struct {
	registry  *Registry
	presence  *PresenceTracker
	router    *Router
	verifier  auth.Verifier
	publisher rabbitmq.Publisher
	log       *zerolog.Logger
}

// NewHandler constructs a websocket Handler.
func NewHandler(
	registry *Registry,
	presence *PresenceTracker,
	router *Router,
	verifier auth.Verifier,
	publisher rabbitmq.Publisher,
	logger *zerolog.Logger,
) *Handler {
	return &Handler{
		registry:  registry,
		presence:  presence,
		router:    router,
		verifier:  verifier,
		publisher: publisher,
		log:       logger,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, upgrades the connection and runs the
// read loop. A failed handshake never registers the connection.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	identity, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := connInfo{
		userID:    identity.UserID,
		deviceID:  c.GetHeader("X-Device-Id"),
		ip:        c.ClientIP(),
		requestID: c.GetHeader("X-Request-Id"),
	}

	go h.serve(newSocketConn(conn), conn, info)
}

type connInfo struct {
	userID    int
	deviceID  string
	ip        string
	requestID string
}

// serve waits for the authenticate announce, registers the connection and
// dispatches inbound events until the transport closes.
func (h *Handler) serve(sock *socketConn, raw *websocket.Conn, info connInfo) {
	// The announce must arrive promptly; until it does the user is not
	// registered and receives no fan-out.
	_ = raw.SetReadDeadline(time.Now().Add(authenticateTimeout))
	var first Inbound
	if err := raw.ReadJSON(&first); err != nil || first.Type != EventAuthenticate {
		h.log.Warn().Err(err).Int("user_id", info.userID).Msg("connection closed before authenticate")
		_ = sock.Close()
		return
	}
	_ = raw.SetReadDeadline(time.Time{})

	connID, wentOnline := h.registry.Register(info.userID, sock)
	connectedAt := time.Now()

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(context.Background(), "ws_connect", connID, info, 0, "")

	if wentOnline {
		h.presence.OnConnectionChange(info.userID, true)
	}

	var closeReason string
	defer func() {
		userID, wentOffline := h.registry.Unregister(connID)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(context.Background(), "ws_disconnect", connID, info, time.Since(connectedAt), closeReason)
		_ = sock.Close()
		if wentOffline {
			h.presence.OnConnectionChange(userID, false)
		}
	}()

	for {
		var inbound Inbound
		if err := raw.ReadJSON(&inbound); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		h.dispatch(sock, info.userID, inbound)
	}
}

func (h *Handler) dispatch(sock *socketConn, userID int, inbound Inbound) {
	switch inbound.Type {
	case EventAuthenticate:
		// Already registered; a repeated announce is harmless.
	case EventSendMessage:
		_, err := h.router.Send(context.Background(), SendRequest{
			SenderID:    userID,
			ReceiverID:  inbound.ReceiverID,
			ListingID:   inbound.ListingID,
			Content:     inbound.Content,
			TempID:      inbound.TempID,
			RequireLive: true,
			Transport:   "ws",
		})
		if err != nil {
			h.writeError(sock, err, inbound.TempID)
		}
	case EventTyping:
		if err := h.router.NotifyTyping(userID, inbound.ReceiverID); err != nil {
			h.writeError(sock, err, "")
		}
	default:
		_ = sock.WriteEvent(Event{Type: EventError, Code: CodeValidation, Detail: "unknown event type"})
	}
}

// writeError reports a failure to the sender only; it is never fanned out.
func (h *Handler) writeError(sock *socketConn, err error, tempID string) {
	_ = sock.WriteEvent(Event{
		Type:   EventError,
		Code:   codeFor(err),
		Detail: err.Error(),
		TempID: tempID,
	})
}

func codeFor(err error) string {
	var persistence *PersistenceError
	switch {
	case errors.Is(err, ErrEmptyContent), errors.Is(err, ErrSelfMessage), errors.Is(err, ErrUnknownReceiver):
		return CodeValidation
	case errors.Is(err, ErrSenderOffline):
		return CodeUnauthorized
	case errors.As(err, &persistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}

func (h *Handler) publishLifecycle(ctx context.Context, name, connID string, info connInfo, duration time.Duration, reason string) {
	_ = rabbitmq.PublishEvent(ctx, h.publisher, "messaging.ws", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       name,
				"conn_id":     connID,
				"duration_ms": duration.Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.userID,
				"device_id": info.deviceID,
				"ip":        info.ip,
			},
		},
	})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
