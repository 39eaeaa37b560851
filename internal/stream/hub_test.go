package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spreadrun/internal/filters"
	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/models"
)

func newTestManager(t *testing.T) *filters.Manager {
	t.Helper()
	m, err := filters.NewManager(filters.NewPresetStore(), "moderate")
	require.NoError(t, err)
	return m
}

func startHub(t *testing.T, fm *filters.Manager) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(HubConfig{SendQueue: 16, PingInterval: time.Second}, fm, metrics.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := Decode(raw)
	require.NoError(t, err)
	return msg
}

// readUntil skips frames until one of type t arrives
func readUntil(t *testing.T, conn *websocket.Conn, mt MessageType) Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := readMessage(t, conn)
		if msg.Type == mt {
			return msg
		}
	}
	t.Fatalf("no %s message received", mt)
	return Message{}
}

func send(t *testing.T, conn *websocket.Conn, mt MessageType, id string, data interface{}) {
	t.Helper()
	payload, err := encode(mt, id, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func scoredUpdate(symbol string, score float64) ScanUpdate {
	return ScanUpdate{
		ScanID:     symbol + "-scan",
		Symbol:     symbol,
		UpdateType: UpdateNew,
		Spreads:    []models.VerticalSpread{{Symbol: symbol, Score: score}},
	}
}

func TestHubReportsFullBroadcastQueue(t *testing.T) {
	hub := NewHub(HubConfig{BroadcastQueue: 1}, nil, nil)

	require.NoError(t, hub.PublishResult(scoredUpdate("AAPL", 50)))
	assert.ErrorIs(t, hub.PublishResult(scoredUpdate("AAPL", 60)), ErrBroadcastFull)
	assert.ErrorIs(t, hub.PublishStatus("scan_complete", "", nil), ErrBroadcastFull)
}

func TestHubWelcomesSubscriber(t *testing.T) {
	hub, server := startHub(t, nil)
	conn := dial(t, server)

	msg := readMessage(t, conn)
	require.Equal(t, TypeStatus, msg.Type)

	var status StatusData
	require.NoError(t, json.Unmarshal(msg.Data, &status))
	assert.Equal(t, "connected", status.Status)
	assert.NotEmpty(t, status.Data["subscriber_id"])

	assert.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHubPingPong(t *testing.T) {
	_, server := startHub(t, nil)
	conn := dial(t, server)

	send(t, conn, TypePing, "p1", nil)
	msg := readUntil(t, conn, TypePong)
	assert.Equal(t, "p1", msg.ID)
}

func TestHubRoutesResultsBySubscription(t *testing.T) {
	hub, server := startHub(t, nil)
	conn := dial(t, server)
	readUntil(t, conn, TypeStatus)

	minScore := 50.0
	send(t, conn, TypeSubscribe, "s1", Subscription{Symbols: []string{"AAPL"}, MinScore: &minScore})
	ack := readUntil(t, conn, TypeAck)
	assert.Equal(t, "s1", ack.ID)

	require.NoError(t, hub.PublishResult(scoredUpdate("MSFT", 90)))
	require.NoError(t, hub.PublishResult(scoredUpdate("AAPL", 10)))
	require.NoError(t, hub.PublishResult(scoredUpdate("AAPL", 75)))

	msg := readUntil(t, conn, TypeResult)
	var update ScanUpdate
	require.NoError(t, json.Unmarshal(msg.Data, &update))
	assert.Equal(t, "AAPL", update.Symbol)
	assert.Equal(t, 75.0, update.Spreads[0].Score)
}

func TestHubUnsubscribeStopsResults(t *testing.T) {
	hub, server := startHub(t, nil)
	conn := dial(t, server)
	readUntil(t, conn, TypeStatus)

	send(t, conn, TypeUnsubscribe, "u1", nil)
	readUntil(t, conn, TypeAck)

	require.NoError(t, hub.PublishResult(scoredUpdate("AAPL", 80)))
	require.NoError(t, hub.PublishStatus("scan_complete", "", nil))

	// the status arrives, the result before it never does
	msg := readMessage(t, conn)
	assert.Equal(t, TypeStatus, msg.Type)
}

func TestHubFilterUpdateBroadcastsChange(t *testing.T) {
	fm := newTestManager(t)
	_, server := startHub(t, fm)
	conn := dial(t, server)
	readUntil(t, conn, TypeStatus)

	send(t, conn, TypeFilterUpdate, "f1", FilterUpdateData{Type: filters.ChangePreset, PresetName: "aggressive"})

	seen := map[MessageType]bool{}
	for len(seen) < 2 {
		msg := readMessage(t, conn)
		if msg.Type == TypeAck || msg.Type == TypeFilterChange {
			seen[msg.Type] = true
		}
	}

	aggressive, err := fm.Presets().Get("aggressive")
	require.NoError(t, err)
	assert.Equal(t, aggressive.Filters, fm.Current())

	send(t, conn, TypeFilterHistory, "h1", nil)
	msg := readUntil(t, conn, TypeFilterHistory)
	var history []filters.Change
	require.NoError(t, json.Unmarshal(msg.Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, filters.ChangePreset, history[0].Kind)
}

func TestHubRejectsBadFilterUpdate(t *testing.T) {
	_, server := startHub(t, newTestManager(t))
	conn := dial(t, server)
	readUntil(t, conn, TypeStatus)

	send(t, conn, TypeFilterUpdate, "f2", FilterUpdateData{Type: filters.ChangePreset, PresetName: "nope"})
	msg := readUntil(t, conn, TypeError)
	assert.Equal(t, "f2", msg.ID)
}

func TestHubEvictsSlowConsumer(t *testing.T) {
	hub := NewHub(HubConfig{SendQueue: 2}, nil, metrics.NewRegistry())
	sub := newSubscriber("slow", nil, 2)
	hub.add(sub) // welcome takes one slot
	require.Equal(t, 1, hub.SubscriberCount())

	hub.dispatch(outbound{kind: TypeStatus, payload: []byte(`{}`)})
	assert.Equal(t, 1, hub.SubscriberCount())

	hub.dispatch(outbound{kind: TypeStatus, payload: []byte(`{}`)})
	assert.Equal(t, 0, hub.SubscriberCount())
	assert.False(t, sub.trySend([]byte(`{}`)))

	drained := 0
	for range sub.send {
		drained++
	}
	assert.Equal(t, 2, drained)
}

func TestHubSlowConsumerDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(HubConfig{SendQueue: 1}, nil, nil)
	slow := newSubscriber("slow", nil, 1)
	fast := newSubscriber("fast", nil, 8)
	hub.add(slow)
	hub.add(fast)

	hub.dispatch(outbound{kind: TypeStatus, payload: []byte(`{}`)})

	assert.Equal(t, 1, hub.SubscriberCount())
	assert.Len(t, fast.send, 2)
}

func TestSubscriberWants(t *testing.T) {
	result := outbound{kind: TypeResult, symbol: "AAPL", topScore: 60}
	status := outbound{kind: TypeStatus}

	sub := newSubscriber("a", nil, 1)
	assert.True(t, sub.wants(result))

	min := 70.0
	sub.subscribe(Subscription{MinScore: &min})
	assert.False(t, sub.wants(result))
	assert.True(t, sub.wants(status))

	sub.subscribe(Subscription{Symbols: []string{"AAPL"}})
	assert.True(t, sub.wants(result))

	sub.unsubscribe()
	assert.False(t, sub.wants(result))
	assert.True(t, sub.wants(status))
}

func TestHubShutdownClosesSubscribers(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()
	conn := dial(t, server)
	readUntil(t, conn, TypeStatus)

	cancel()
	<-done
	assert.Equal(t, 0, hub.SubscriberCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
