package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	outgoingBuffer = 64
)

var ErrClosed = errors.New("signaling connection closed")

// Conn is the endpoint's WebSocket connection to the coordinator.
type Conn struct {
	conn     *websocket.Conn
	incoming chan Envelope
	outgoing chan Envelope
	done     chan struct{}
	once     sync.Once
	logger   *zap.Logger
}

// WebSocketURL turns a coordinator base URL (http, https, ws or wss) into its /ws endpoint with the token attached.
func WebSocketURL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the coordinator and starts the read and write pumps.
func Dial(ctx context.Context, serverURL, token string, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wsURL, err := WebSocketURL(serverURL, token)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Conn{
		conn:     ws,
		incoming: make(chan Envelope, outgoingBuffer),
		outgoing: make(chan Envelope, outgoingBuffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Send queues an event for the coordinator.
func (c *Conn) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- Envelope{Event: event, Data: data}:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the events received from the coordinator. It closes when the socket does.
func (c *Conn) Incoming() <-chan Envelope { return c.incoming }

// Close sends a close frame and stops both pumps.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Conn) readPump() {
	defer func() {
		close(c.incoming)
		c.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("signaling read", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warn("signaling write", zap.String("event", env.Event), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
