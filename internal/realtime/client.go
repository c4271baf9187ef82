package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/response"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the REST surface
	},
}

// EventSubscribed is the first message on every connection.
const EventSubscribed = "subscribed"

// topics maps watchable collections to the action a caller needs. An empty
// action only requires a valid token.
var topics = map[string]authz.Action{
	models.CollectionSessions:         "",
	models.CollectionSessionUpvotes:   "",
	models.CollectionFeedback:         "",
	models.CollectionRegistrations:    authz.ActionViewRegistrations,
	models.CollectionSpeakerProposals: authz.ActionReviewProposal,
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Authorizer is the part of authz.Guard the endpoint needs.
type Authorizer interface {
	Check(ctx context.Context, id authz.Identity, action authz.Action) (models.UserProfile, error)
}

// Client represents a single WebSocket connection on a topic.
type Client struct {
	ID     string
	Topic  Topic
	UserID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
// Query: collection (required), id (optional), token.
func ServeWs(hub *Hub, guard Authorizer, validate func(token string) (authz.Identity, error), logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		topic := Topic{Collection: c.Query("collection"), ID: c.Query("id")}
		token := c.Query("token")
		if topic.Collection == "" || token == "" {
			response.BadRequest(c, "collection and token required")
			return
		}
		action, ok := topics[topic.Collection]
		if !ok {
			response.BadRequest(c, "collection cannot be watched")
			return
		}
		id, err := validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		if action != "" {
			if _, err := guard.Check(c.Request.Context(), id, action); err != nil {
				if apperr.IsForbidden(err) {
					response.Forbidden(c, err.Error())
					return
				}
				logger.Error("websocket authorization failed", zap.Error(err))
				response.Internal(c, "authorization failed")
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			Topic:  topic,
			UserID: id.UID,
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, sendBuffer),
			logger: logger,
		}
		ack, _ := json.Marshal(map[string]string{"topic": topic.Key()})
		client.send <- WSMessage{Event: EventSubscribed, Data: ack}
		if err := hub.Register(client); err != nil {
			logger.Error("websocket subscribe failed", zap.Error(err), zap.String("topic", topic.Key()))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump()
	}
}

// readPump only services control frames; clients have nothing to say.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
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
