package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTypingExpiry is how long a typing indicator survives without a
// fresh signal. The server never sends "stopped typing"; expiry is owned
// here, on the receiving client.
const DefaultTypingExpiry = 3 * time.Second

var (
	ErrSessionNotActive = errors.New("session is not active")
	ErrSessionBusy      = errors.New("session already has a conversation open")
	ErrEmptyContent     = errors.New("message content is empty")
)

// State is the lifecycle of one conversation view.
type State int

const (
	StateIdle State = iota
	StateLoadingHistory
	StateActive
)

func (s State) String() string {
	switch s {
	case StateLoadingHistory:
		return "loadingHistory"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// Delivery is the client-side fate of one message.
type Delivery int

const (
	// DeliveryConfirmed means the server assigned the message its durable
	// id and timestamp.
	DeliveryConfirmed Delivery = iota
	// DeliveryPending means the optimistic copy is still awaiting the
	// server echo. Without one it stays pending indefinitely.
	DeliveryPending
	// DeliveryFailed means the send was rejected; the user must retry
	// manually.
	DeliveryFailed
)

// LocalMessage is one rendered list entry: either a confirmed server
// message or an optimistic placeholder identified by TempID.
type LocalMessage struct {
	TempID   string
	Delivery Delivery
	Message  Message
}

// SendFunc delivers an outgoing envelope to the server.
type SendFunc func(Outgoing) error

// HistoryFunc fetches the ordered message history with a peer.
type HistoryFunc func(ctx context.Context, peerID int) ([]Message, error)

// Session is the state machine behind one open conversation view.
// All methods are safe for concurrent use; HandleEvent is typically called
// from the transport read loop while the UI goroutine sends.
type Session struct {
	selfID       int
	typingExpiry time.Duration
	send         SendFunc
	history      HistoryFunc
	onChange     func()

	mu          sync.Mutex
	state       State
	peerID      int
	messages    []LocalMessage
	peerTyping  bool
	typingTimer *time.Timer
	presence    map[int]bool
}

// Option configures a Session.
type Option func(*Session)

// WithTypingExpiry overrides the typing indicator expiry.
func WithTypingExpiry(d time.Duration) Option {
	return func(s *Session) { s.typingExpiry = d }
}

// WithOnChange registers a callback fired after every state mutation, for
// UIs that re-render on change. Called without the session lock held.
func WithOnChange(fn func()) Option {
	return func(s *Session) { s.onChange = fn }
}

// NewSession builds an idle session for the given local user.
func NewSession(selfID int, send SendFunc, history HistoryFunc, opts ...Option) *Session {
	s := &Session{
		selfID:       selfID,
		typingExpiry: DefaultTypingExpiry,
		send:         send,
		history:      history,
		presence:     make(map[int]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open selects a conversation: idle -> loadingHistory -> active. A failed
// history fetch returns the session to idle.
func (s *Session) Open(ctx context.Context, peerID int) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.state = StateLoadingHistory
	s.peerID = peerID
	s.mu.Unlock()
	s.notify()

	msgs, err := s.history(ctx, peerID)

	s.mu.Lock()
	if s.state != StateLoadingHistory {
		// Closed while the fetch was in flight.
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	if err != nil {
		s.state = StateIdle
		s.peerID = 0
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.messages = make([]LocalMessage, 0, len(msgs))
	for _, m := range msgs {
		s.messages = append(s.messages, LocalMessage{Delivery: DeliveryConfirmed, Message: m})
	}
	s.state = StateActive
	s.mu.Unlock()
	s.notify()
	return nil
}

// Close deselects the conversation and returns to idle.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateIdle
	s.peerID = 0
	s.messages = nil
	s.peerTyping = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()
	s.notify()
}

// Send renders an optimistic pending message and ships it to the server.
// It returns the temp id identifying the placeholder. A transport failure
// marks the message failed immediately.
func (s *Session) Send(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return "", ErrSessionNotActive
	}
	peerID := s.peerID
	tempID := uuid.NewString()
	s.messages = append(s.messages, LocalMessage{
		TempID:   tempID,
		Delivery: DeliveryPending,
		Message: Message{
			SenderID:  s.selfID,
			Content:   content,
			CreatedAt: time.Now(),
		},
	})
	s.mu.Unlock()
	s.notify()

	err := s.send(Outgoing{
		Type:       eventSendMessage,
		ReceiverID: peerID,
		Content:    content,
		TempID:     tempID,
	})
	if err != nil {
		s.markFailed(tempID)
		return tempID, err
	}
	return tempID, nil
}

// Retry re-sends a failed message, flipping it back to pending.
func (s *Session) Retry(tempID string) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	peerID := s.peerID
	var content string
	found := false
	for i := range s.messages {
		if s.messages[i].TempID == tempID && s.messages[i].Delivery == DeliveryFailed {
			s.messages[i].Delivery = DeliveryPending
			content = s.messages[i].Message.Content
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return errors.New("no failed message with that id")
	}
	s.notify()

	err := s.send(Outgoing{
		Type:       eventSendMessage,
		ReceiverID: peerID,
		Content:    content,
		TempID:     tempID,
	})
	if err != nil {
		s.markFailed(tempID)
	}
	return err
}

// Typing pings the peer that the local user is typing. Fire and forget.
func (s *Session) Typing() error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	peerID := s.peerID
	s.mu.Unlock()

	return s.send(Outgoing{Type: eventTyping, ReceiverID: peerID})
}

// HandleEvent feeds one server event into the state machine.
func (s *Session) HandleEvent(ev Event) {
	switch ev.Type {
	case eventReceiveMessage:
		s.handleReceive(ev)
	case eventMessageSent:
		s.handleSentAck(ev)
	case eventUserTyping:
		s.handleTyping(ev)
	case eventUserStatus:
		s.handleStatus(ev)
	case eventError:
		if ev.TempID != "" {
			s.markFailed(ev.TempID)
		}
	}
}

func (s *Session) handleReceive(ev Event) {
	if ev.Message == nil {
		return
	}
	s.mu.Lock()
	if s.state != StateActive || ev.Message.SenderID != s.peerID {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, LocalMessage{Delivery: DeliveryConfirmed, Message: *ev.Message})
	// A message from the peer supersedes their typing indicator.
	s.peerTyping = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()
	s.notify()
}

// handleSentAck reconciles the authoritative server copy against the
// optimistic placeholder by temp id: replace, never duplicate.
func (s *Session) handleSentAck(ev Event) {
	if ev.Message == nil {
		return
	}
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	replaced := false
	if ev.TempID != "" {
		for i := range s.messages {
			if s.messages[i].TempID == ev.TempID {
				s.messages[i].Message = *ev.Message
				s.messages[i].Delivery = DeliveryConfirmed
				replaced = true
				break
			}
		}
	}
	if !replaced && ev.Message.SenderID == s.selfID {
		// Echo of a send made from another tab or device.
		s.messages = append(s.messages, LocalMessage{Delivery: DeliveryConfirmed, Message: *ev.Message})
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleTyping(ev Event) {
	s.mu.Lock()
	if s.state != StateActive || ev.UserID != s.peerID {
		s.mu.Unlock()
		return
	}
	s.peerTyping = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.typingExpiry, s.expireTyping)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) expireTyping() {
	s.mu.Lock()
	s.peerTyping = false
	s.typingTimer = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleStatus(ev Event) {
	s.mu.Lock()
	s.presence[ev.UserID] = ev.Status == statusOnline
	s.mu.Unlock()
	s.notify()
}

func (s *Session) markFailed(tempID string) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].TempID == tempID {
			s.messages[i].Delivery = DeliveryFailed
			break
		}
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerID returns the selected peer, zero when idle.
func (s *Session) PeerID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Messages returns a copy of the rendered message list in order.
func (s *Session) Messages() []LocalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LocalMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// PeerTyping reports whether the peer's typing indicator is live.
func (s *Session) PeerTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerTyping
}

// UserOnline reports the last known presence of a user.
func (s *Session) UserOnline(userID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[userID]
}
