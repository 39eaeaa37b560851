package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ClientState is the reconnecting client's lifecycle
type ClientState string

const (
	ClientDisconnected ClientState = "disconnected"
	ClientConnecting   ClientState = "connecting"
	ClientConnected    ClientState = "connected"
	ClientReconnecting ClientState = "reconnecting"
	ClientClosed       ClientState = "closed"
)

var ErrClientNotConnected = errors.New("stream client not connected")

// ClientConfig sets the endpoint and the reconnect backoff bounds
type ClientConfig struct {
	URL              string
	Headers          http.Header
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	HandshakeTimeout time.Duration
	Buffer           int
}

// DefaultClientConfig backs off from 1s up to 1m
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		HandshakeTimeout: 10 * time.Second,
		Buffer:           256,
	}
}

// nextBackoff doubles the delay up to max
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}

// Client consumes the scanner stream, reconnecting with exponential backoff
// and replaying its subscription after every reconnect.
type Client struct {
	config ClientConfig
	dialer *websocket.Dialer

	mutex        sync.Mutex
	writeMutex   sync.Mutex
	conn         *websocket.Conn
	state        ClientState
	subscription *Subscription
	backoff      time.Duration
	connects     int

	messages chan Message
}

// NewClient creates a client; call Run to connect
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig(cfg.URL)
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = def.MaxBackoff
		if cfg.MaxBackoff < cfg.InitialBackoff {
			cfg.MaxBackoff = cfg.InitialBackoff
		}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.Buffer < 1 {
		cfg.Buffer = def.Buffer
	}
	return &Client{
		config:   cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		state:    ClientDisconnected,
		backoff:  cfg.InitialBackoff,
		messages: make(chan Message, cfg.Buffer),
	}
}

// Messages delivers every decoded server message. It is closed when Run returns.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// State returns the current lifecycle state
func (c *Client) State() ClientState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Connects counts successful connections, including the first
func (c *Client) Connects() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.connects
}

func (c *Client) setState(s ClientState) {
	c.mutex.Lock()
	c.state = s
	c.mutex.Unlock()
}

// Run connects and keeps reconnecting until ctx is done
func (c *Client) Run(ctx context.Context) error {
	defer func() {
		c.setState(ClientClosed)
		close(c.messages)
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.setState(ClientConnecting)

		conn, _, err := c.dialer.DialContext(ctx, c.config.URL, c.config.Headers)
		if err != nil {
			delay := c.failed()
			log.Warn().Err(err).Str("url", c.config.URL).Dur("retry_in", delay).Msg("Stream connect failed")
			if !c.wait(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		c.connected(conn)
		if err := c.resubscribe(); err != nil {
			log.Warn().Err(err).Msg("Resubscribe failed")
		}

		c.readLoop(ctx, conn)

		c.mutex.Lock()
		c.conn = nil
		c.mutex.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := c.failed()
		log.Info().Dur("retry_in", delay).Msg("Stream disconnected, reconnecting")
		if !c.wait(ctx, delay) {
			return ctx.Err()
		}
	}
}

// failed moves to reconnecting and returns the delay before the next attempt
func (c *Client) failed() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.state = ClientReconnecting
	delay := c.backoff
	c.backoff = nextBackoff(c.backoff, c.config.MaxBackoff)
	return delay
}

func (c *Client) connected(conn *websocket.Conn) {
	c.mutex.Lock()
	c.conn = conn
	c.state = ClientConnected
	c.backoff = c.config.InitialBackoff
	c.connects++
	c.mutex.Unlock()
	log.Info().Str("url", c.config.URL).Msg("Stream connected")
}

func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := Decode(raw)
		if err != nil {
			log.Debug().Err(err).Msg("Dropping undecodable stream message")
			continue
		}
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) send(t MessageType, data interface{}) error {
	c.mutex.Lock()
	conn := c.conn
	c.mutex.Unlock()
	if conn == nil {
		return ErrClientNotConnected
	}

	payload, err := encode(t, "", data)
	if err != nil {
		return err
	}
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) resubscribe() error {
	c.mutex.Lock()
	sub := c.subscription
	c.mutex.Unlock()
	if sub == nil {
		return nil
	}
	return c.send(TypeSubscribe, *sub)
}

// Subscribe records the subscription and sends it when connected. It is
// replayed automatically after reconnects.
func (c *Client) Subscribe(sub Subscription) error {
	c.mutex.Lock()
	c.subscription = &sub
	c.mutex.Unlock()

	err := c.send(TypeSubscribe, sub)
	if errors.Is(err, ErrClientNotConnected) {
		return nil
	}
	return err
}

// Unsubscribe clears the subscription
func (c *Client) Unsubscribe() error {
	c.mutex.Lock()
	c.subscription = nil
	c.mutex.Unlock()

	err := c.send(TypeUnsubscribe, nil)
	if errors.Is(err, ErrClientNotConnected) {
		return nil
	}
	return err
}

// Ping sends an application-level ping
func (c *Client) Ping() error {
	return c.send(TypePing, nil)
}
