package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 256
	maxMessageSize = 1 << 20 // SDP blobs can be large
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS middleware and the token
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one WebSocket connection. Its ID doubles as the transport id.
type Client struct {
	ID          string
	UserID      string
	ConnectedAt time.Time
	hub         *Hub
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator func(token string) (userID string, err error)

// ServeWs upgrades the request and runs the client loop until the socket closes.
// The token is read from the token query parameter or the Authorization header.
func ServeWs(hub *Hub, dispatcher *Dispatcher, validate TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(hub, conn, userID, logger)
		hub.Register(client)
		go client.writePump()
		client.readPump(dispatcher)
	}
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		ID:          id,
		UserID:      userID,
		ConnectedAt: time.Now(),
		hub:         hub,
		conn:        conn,
		send:        make(chan WSMessage, sendBufferSize),
		logger:      logger.With(zap.String("client_id", id), zap.String("user_id", userID)),
	}
}

func (c *Client) readPump(d *Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		d.Disconnect(context.Background(), c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		d.Handle(ctx, c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
