package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is a subscriber's position in the connection lifecycle
type State string

const (
	StateConnected    State = "connected"
	StateSubscribed   State = "subscribed"
	StateIdle         State = "idle"
	StateDisconnected State = "disconnected"
)

// Subscriber is one WebSocket connection. The hub and the read pump enqueue
// through trySend; only the write pump touches the socket for writes.
type Subscriber struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	mutex        sync.Mutex
	closed       bool
	state        State
	subscription Subscription
	lastActivity time.Time
	connectedAt  time.Time
}

func newSubscriber(id string, conn *websocket.Conn, queue int) *Subscriber {
	now := time.Now()
	return &Subscriber{
		ID:           id,
		conn:         conn,
		send:         make(chan []byte, queue),
		state:        StateConnected,
		lastActivity: now,
		connectedAt:  now,
	}
}

// trySend enqueues without blocking. false means the subscriber is closed
// or its queue is full.
func (s *Subscriber) trySend(payload []byte) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// close stops the write pump; safe to call more than once
func (s *Subscriber) close() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.state = StateDisconnected
	close(s.send)
	return true
}

func (s *Subscriber) touch() {
	s.mutex.Lock()
	s.lastActivity = time.Now()
	s.mutex.Unlock()
}

func (s *Subscriber) subscribe(sub Subscription) {
	s.mutex.Lock()
	s.subscription = sub
	s.state = StateSubscribed
	s.mutex.Unlock()
}

func (s *Subscriber) unsubscribe() {
	s.mutex.Lock()
	s.subscription = Subscription{}
	s.state = StateIdle
	s.mutex.Unlock()
}

// wants reports whether a broadcast should reach this subscriber. Results
// honour the subscription; idle subscribers get no results.
func (s *Subscriber) wants(out outbound) bool {
	if out.kind != TypeResult {
		return true
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	switch s.state {
	case StateIdle, StateDisconnected:
		return false
	case StateSubscribed:
		return s.subscription.matches(out.symbol, out.topScore)
	default:
		return true
	}
}

// SubscriberInfo is a read-only view for status endpoints
type SubscriberInfo struct {
	ID           string       `json:"id"`
	State        State        `json:"state"`
	Subscription Subscription `json:"subscription"`
	LastActivity time.Time    `json:"last_activity"`
	ConnectedAt  time.Time    `json:"connected_at"`
	QueueDepth   int          `json:"queue_depth"`
}

func (s *Subscriber) info() SubscriberInfo {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return SubscriberInfo{
		ID:           s.ID,
		State:        s.state,
		Subscription: s.subscription,
		LastActivity: s.lastActivity,
		ConnectedAt:  s.connectedAt,
		QueueDepth:   len(s.send),
	}
}
