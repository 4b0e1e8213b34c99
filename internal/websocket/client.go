package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"collab-relay/internal/services"
	"collab-relay/pkg/logger"
	"collab-relay/pkg/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Messenger is the application layer a client calls into for inbound
// frames.
type Messenger interface {
	CanJoin(ctx context.Context, userID string, key protocol.RoomKey) (bool, error)
	SendMessage(ctx context.Context, senderID string, key protocol.RoomKey, content, clientID string) (protocol.Event, error)
}

type Client struct {
	id        string
	userID    string
	hub       *Hub
	conn      *websocket.Conn
	messenger Messenger
	send      chan []byte

	registered chan struct{}
	evicted    atomic.Bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, messenger Messenger) *Client {
	return &Client{
		id:         uuid.NewString(),
		userID:     userID,
		hub:        hub,
		conn:       conn,
		messenger:  messenger,
		send:       make(chan []byte, hub.cfg.SendBuffer),
		registered: make(chan struct{}),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pongWait := c.hub.cfg.PongWait
	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			break
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reply(protocol.Envelope{Type: protocol.MessageTypeError, Error: "malformed frame"})
			continue
		}
		c.handle(context.Background(), env)
	}
}

func (c *Client) handle(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.MessageTypeJoinRoom:
		c.join(ctx, env.RoomKey)

	case protocol.MessageTypeLeaveRoom:
		c.hub.rooms.Leave(c.id, env.RoomKey)

	case protocol.MessageTypeSendMessage:
		if _, err := c.messenger.SendMessage(ctx, c.userID, env.RoomKey, env.Content, env.ClientID); err != nil {
			logger.WithFields(logger.Fields{
				"user_id":  c.userID,
				"room_key": env.RoomKey.String(),
			}).Warnf("send_message rejected: %v", err)
			c.reply(protocol.Envelope{
				Type:     protocol.MessageTypeError,
				RoomKey:  env.RoomKey,
				ClientID: env.ClientID,
				Error:    errorText(err),
			})
		}

	default:
		c.reply(protocol.Envelope{Type: protocol.MessageTypeError, Error: "unknown message type"})
	}
}

func (c *Client) join(ctx context.Context, key protocol.RoomKey) {
	ok, err := c.messenger.CanJoin(ctx, c.userID, key)
	if err != nil || !ok {
		if err == nil {
			err = services.ErrForbidden
		}
		c.reply(protocol.Envelope{Type: protocol.MessageTypeError, RoomKey: key, Error: errorText(err)})
		return
	}

	joined, live := c.hub.join(c, key)
	if !live {
		logger.Debug("Join of %s by departed client %s ignored", key, c.id)
		return
	}
	if joined && c.hub.metrics != nil {
		c.hub.metrics.RoomJoins.Inc()
	}
	c.reply(protocol.Envelope{Type: protocol.MessageTypeRoomJoined, RoomKey: key})
}

// errorText keeps internal failures out of frames sent to the browser.
func errorText(err error) string {
	switch {
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrInvalidContent),
		errors.Is(err, services.ErrInvalidRoom),
		errors.Is(err, services.ErrClientIDConflict):
		return err.Error()
	}
	return "internal error"
}

func (c *Client) reply(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Error("Error marshaling reply: %v", err)
		return
	}
	if err := c.hub.Send(c.id, data); err != nil {
		logger.Debug("Reply to %s dropped: %v", c.id, err)
	}
}

func (c *Client) WritePump() {
	writeWait := c.hub.cfg.WriteWait
	ticker := time.NewTicker(c.hub.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
