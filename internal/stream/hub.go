package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spreadrun/internal/filters"
	"github.com/sawpanic/spreadrun/internal/metrics"
)

// HubConfig sizes queues and connection timers
type HubConfig struct {
	SendQueue      int
	BroadcastQueue int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultHubConfig returns the documented defaults
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendQueue:      256,
		BroadcastQueue: 1024,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// outbound is an encoded broadcast plus the routing facts subscribers
// filter on
type outbound struct {
	kind     MessageType
	symbol   string
	topScore float64
	payload  []byte
}

// Hub fans messages out to WebSocket subscribers. Registration, removal and
// broadcast all flow through channels into a single dispatcher goroutine.
type Hub struct {
	config   HubConfig
	metrics  *metrics.Registry
	filters  *filters.Manager
	upgrader websocket.Upgrader

	subscribers map[string]*Subscriber
	mutex       sync.RWMutex

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan outbound
	evictAll   chan string
	done       chan struct{}
}

// NewHub creates a hub; fm may be nil to disable filter messages
func NewHub(cfg HubConfig, fm *filters.Manager, m *metrics.Registry) *Hub {
	def := DefaultHubConfig()
	if cfg.SendQueue < 1 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.BroadcastQueue < 1 {
		cfg.BroadcastQueue = def.BroadcastQueue
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	return &Hub{
		config:  cfg,
		metrics: m,
		filters: fm,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subscribers: make(map[string]*Subscriber),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber, 64),
		broadcast:   make(chan outbound, cfg.BroadcastQueue),
		evictAll:    make(chan string),
		done:        make(chan struct{}),
	}
}

// Run dispatches until ctx is done, then disconnects every subscriber
func (h *Hub) Run(ctx context.Context) {
	var changes <-chan filters.Change
	if h.filters != nil {
		changes = h.filters.Watch()
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll("shutdown")
			return
		case sub := <-h.register:
			h.add(sub)
		case sub := <-h.unregister:
			h.remove(sub, "")
		case out := <-h.broadcast:
			h.dispatch(out)
		case reason := <-h.evictAll:
			h.closeAll(reason)
		case change := <-changes:
			if payload, err := encode(TypeFilterChange, change.ID, change); err == nil {
				h.dispatch(outbound{kind: TypeFilterChange, payload: payload})
			}
		}
	}
}

func (h *Hub) add(sub *Subscriber) {
	h.mutex.Lock()
	h.subscribers[sub.ID] = sub
	h.mutex.Unlock()
	h.metrics.SubscriberConnected()

	welcome, err := encode(TypeStatus, "", StatusData{
		Status:  "connected",
		Message: "Connected to spread scanner stream",
		Data:    map[string]interface{}{"subscriber_id": sub.ID},
	})
	if err == nil {
		h.sendTo(sub, TypeStatus, welcome)
	}
	log.Info().Str("subscriber_id", sub.ID).Msg("Subscriber connected")
}

// remove drops sub from the registry. reason is non-empty for evictions.
func (h *Hub) remove(sub *Subscriber, reason string) {
	h.mutex.Lock()
	_, ok := h.subscribers[sub.ID]
	delete(h.subscribers, sub.ID)
	h.mutex.Unlock()

	sub.close()
	if !ok {
		return
	}
	h.metrics.SubscriberDisconnected()
	if reason != "" {
		h.metrics.RecordEviction(reason)
	}
	log.Info().Str("subscriber_id", sub.ID).Str("reason", reason).Msg("Subscriber disconnected")
}

func (h *Hub) closeAll(reason string) {
	h.mutex.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mutex.RUnlock()
	for _, s := range subs {
		h.remove(s, reason)
	}
}

// dispatch never blocks: a subscriber whose queue is full is evicted
func (h *Hub) dispatch(out outbound) {
	h.mutex.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mutex.RUnlock()

	for _, s := range subs {
		if !s.wants(out) {
			continue
		}
		h.sendTo(s, out.kind, out.payload)
	}
}

func (h *Hub) sendTo(sub *Subscriber, kind MessageType, payload []byte) {
	if sub.trySend(payload) {
		h.metrics.RecordMessage(string(kind))
		return
	}
	h.remove(sub, "slow_consumer")
}

// enqueue hands a broadcast to the dispatcher, dropping it when the
// dispatcher is saturated so producers never block
func (h *Hub) enqueue(out outbound) error {
	select {
	case h.broadcast <- out:
		return nil
	default:
		log.Warn().Str("type", string(out.kind)).Msg("Broadcast queue full, message dropped")
		return ErrBroadcastFull
	}
}

// Broadcast sends an arbitrary message to every subscriber
func (h *Hub) Broadcast(t MessageType, data interface{}) error {
	payload, err := encode(t, "", data)
	if err != nil {
		return err
	}
	return h.enqueue(outbound{kind: t, payload: payload})
}

// BroadcastMessage lets other packages publish without importing MessageType
func (h *Hub) BroadcastMessage(msgType string, data interface{}) error {
	return h.Broadcast(MessageType(msgType), data)
}

// PublishResult broadcasts a scan update, routed by symbol and top score
func (h *Hub) PublishResult(update ScanUpdate) error {
	payload, err := encode(TypeResult, update.ScanID, update)
	if err != nil {
		return err
	}
	var top float64
	if len(update.Spreads) > 0 {
		top = update.Spreads[0].Score
	}
	return h.enqueue(outbound{kind: TypeResult, symbol: update.Symbol, topScore: top, payload: payload})
}

// PublishStatus broadcasts a status message
func (h *Hub) PublishStatus(status, message string, data map[string]interface{}) error {
	return h.Broadcast(TypeStatus, StatusData{Status: status, Message: message, Data: data})
}

// PublishError broadcasts a symbol-scoped error
func (h *Hub) PublishError(symbol string, err error) error {
	return h.Broadcast(TypeError, ErrorData{Error: err.Error(), Symbol: symbol})
}

// DisconnectAll evicts every subscriber while keeping the hub running
func (h *Hub) DisconnectAll(reason string) {
	select {
	case h.evictAll <- reason:
	case <-h.done:
	}
}

func (h *Hub) drop(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
		sub.close()
	}
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

// Subscribers lists connected subscribers
func (h *Hub) Subscribers() []SubscriberInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	out := make([]SubscriberInfo, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		out = append(out, s.info())
	}
	return out
}

// ServeWS upgrades the request and starts the subscriber's pumps
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(h.config.MaxMessageSize)

	sub := newSubscriber(uuid.New().String(), conn, h.config.SendQueue)
	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go h.writePump(sub)
	go h.readPump(sub)
}

func (h *Hub) writePump(sub *Subscriber) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.drop(sub)
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(sub)
				return
			}
		}
	}
}

func (h *Hub) readPump(sub *Subscriber) {
	defer h.drop(sub)

	_ = sub.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		sub.touch()
		return sub.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("subscriber_id", sub.ID).Msg("Subscriber read failed")
			}
			return
		}
		sub.touch()
		_ = sub.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
		h.handleInbound(sub, raw)
	}
}

func (h *Hub) reply(sub *Subscriber, t MessageType, id string, data interface{}) {
	payload, err := encode(t, id, data)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("Failed to encode reply")
		return
	}
	h.sendTo(sub, t, payload)
}

func (h *Hub) replyError(sub *Subscriber, id string, err error) {
	h.reply(sub, TypeError, id, ErrorData{Error: err.Error()})
}

var errFiltersDisabled = errors.New("filter management is not enabled")

func (h *Hub) handleInbound(sub *Subscriber, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		h.replyError(sub, "", errors.New("malformed message"))
		return
	}

	switch msg.Type {
	case TypePing:
		h.reply(sub, TypePong, msg.ID, nil)

	case TypeSubscribe:
		var s Subscription
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &s); err != nil {
				h.replyError(sub, msg.ID, errors.New("invalid subscription"))
				return
			}
		}
		sub.subscribe(s)
		h.reply(sub, TypeAck, msg.ID, AckData{Request: TypeSubscribe, Data: s})

	case TypeUnsubscribe:
		sub.unsubscribe()
		h.reply(sub, TypeAck, msg.ID, AckData{Request: TypeUnsubscribe})

	case TypeFilterUpdate:
		h.handleFilterUpdate(sub, msg)

	case TypeFilterConfig:
		if h.filters == nil {
			h.replyError(sub, msg.ID, errFiltersDisabled)
			return
		}
		h.reply(sub, TypeFilterConfig, msg.ID, h.filters.Current())

	case TypeFilterHistory:
		if h.filters == nil {
			h.replyError(sub, msg.ID, errFiltersDisabled)
			return
		}
		h.reply(sub, TypeFilterHistory, msg.ID, h.filters.History(20))

	default:
		h.replyError(sub, msg.ID, errors.New("unsupported message type: "+string(msg.Type)))
	}
}

func (h *Hub) handleFilterUpdate(sub *Subscriber, msg Message) {
	if h.filters == nil {
		h.replyError(sub, msg.ID, errFiltersDisabled)
		return
	}
	var req FilterUpdateData
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.replyError(sub, msg.ID, errors.New("invalid filter update"))
		return
	}

	source := "ws:" + sub.ID
	var change filters.Change
	var err error
	switch req.Type {
	case filters.ChangeUpdate:
		if req.Filters == nil {
			err = errors.New("filter update requires filters")
			break
		}
		change, err = h.filters.Update(*req.Filters, source)
	case filters.ChangePreset:
		change, err = h.filters.ApplyPreset(req.PresetName, source)
	case filters.ChangeReset:
		change, err = h.filters.Reset(source)
	default:
		err = errors.New("unknown filter update type: " + string(req.Type))
	}
	if err != nil {
		h.replyError(sub, msg.ID, err)
		return
	}
	h.reply(sub, TypeAck, msg.ID, AckData{Request: TypeFilterUpdate, Data: change.Current})
}
