package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client owns one realtime connection and the sessions attached to it.
type Client struct {
	baseURL    string
	token      string
	selfID     int
	httpClient *http.Client
	log        *zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	sessions map[int]*Session

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the messaging service, authenticates the socket and
// starts the read loop. baseURL is the HTTP origin, e.g. "http://host:8083".
func Dial(ctx context.Context, baseURL, token string, selfID int, logger *zerolog.Logger) (*Client, error) {
	wsURL := strings.Replace(strings.TrimRight(baseURL, "/"), "http", "ws", 1) + "/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		selfID:     selfID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger,
		conn:       conn,
		sessions:   make(map[int]*Session),
		done:       make(chan struct{}),
	}

	if err := c.write(Outgoing{Type: eventAuthenticate}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// OpenConversation builds and opens a session for the peer. At most one
// session per peer is kept; opening the same peer twice returns the
// existing session.
func (c *Client) OpenConversation(ctx context.Context, peerID int, opts ...Option) (*Session, error) {
	c.mu.Lock()
	if existing, ok := c.sessions[peerID]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	session := NewSession(c.selfID, c.write, c.fetchHistory, opts...)
	if err := session.Open(ctx, peerID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.sessions[peerID]; ok {
		// A concurrent open won the race while history was loading.
		c.mu.Unlock()
		session.Close()
		return existing, nil
	}
	c.sessions[peerID] = session
	c.mu.Unlock()
	return session, nil
}

// CloseConversation closes and detaches the session for the peer.
func (c *Client) CloseConversation(peerID int) {
	c.mu.Lock()
	session, ok := c.sessions[peerID]
	delete(c.sessions, peerID)
	c.mu.Unlock()
	if ok {
		session.Close()
	}
}

// Close tears down the realtime connection. Safe to call more than once
// and concurrently with the read loop exiting. Sessions become inert.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}

// Done is closed when the read loop exits (disconnect or Close).
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	defer c.closeOnce.Do(func() { close(c.done) })

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.log.Debug().Err(err).Msg("chatclient read loop closed")
			return
		}
		c.mu.Lock()
		sessions := make([]*Session, 0, len(c.sessions))
		for _, s := range c.sessions {
			sessions = append(sessions, s)
		}
		c.mu.Unlock()
		// Every session sees every event; each filters by its own peer.
		for _, s := range sessions {
			s.HandleEvent(ev)
		}
	}
}

func (c *Client) write(out Outgoing) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(out)
}

func (c *Client) fetchHistory(ctx context.Context, peerID int) ([]Message, error) {
	endpoint := fmt.Sprintf("%s/api/messages/%d", c.baseURL, peerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request returned status %d", resp.StatusCode)
	}

	var payload struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return payload.Messages, nil
}
