package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/lightspeed-party/globals"
	"github.com/tcriess/lightspeed-party/types"
)

const (
	ActionPlay     = "play"
	ActionStop     = "stop"
	ActionPause    = "pause"
	ActionNewTrack = "new_track"
	ActionJoin     = "join"
	ActionLeave    = "leave"
	ActionSync     = "sync"
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	user *types.User

	// room id this client is currently subscribed to
	roomMu sync.RWMutex
	room   string

	doneChan chan struct{}

	// WaitGroup which keeps track of running read/write loops and write
	// access to Send. If the WaitGroup is done, it is safe to close all
	// channels.
	sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, user *types.User, doneChan chan struct{}) *Client {
	// a reconnecting user resumes the subscription to their room
	room := user.ListeningTo
	if user.Hosting() {
		room = user.PlayingTo
	}
	return &Client{
		hub:      hub,
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		user:     user,
		room:     room,
		doneChan: doneChan,
	}
}

func (c *Client) Room() string {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()
	return c.room
}

func (c *Client) setRoom(roomId string) {
	c.roomMu.Lock()
	c.room = roomId
	c.roomMu.Unlock()
}

// send queues a message for this client unless it was unregistered in
// the meantime.
func (c *Client) send(data []byte) {
	c.hub.RLock()
	if _, ok := c.hub.clients[c]; ok {
		c.Add(1)
		c.Send <- data
		c.Done()
	}
	c.hub.RUnlock()
}

func (c *Client) sendEvent(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal ws payload", "error", err)
		return
	}
	raw, err := json.Marshal(types.WebsocketMessage{Event: event, Data: data})
	if err != nil {
		globals.AppLogger.Error("could not marshal ws message", "error", err)
		return
	}
	c.send(raw)
}

func (c *Client) sendError(err error) {
	c.sendEvent("error", map[string]string{"message": err.Error()})
}

// ReadLoop pumps messages from the websocket connection to the session
// engine.
//
// The application runs ReadLoop in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection
// by executing all reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		close(c.doneChan)
		c.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Debug("ws closed unexpectedly", "user", c.user.Id, "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			globals.AppLogger.Debug("could not unmarshal ws message", "error", err)
			return
		}
		actionMap := make(map[string]interface{})
		if len(message.Data) > 0 {
			if err := json.Unmarshal(message.Data, &actionMap); err != nil {
				globals.AppLogger.Debug("could not unmarshal ws action data", "error", err)
				return
			}
		}
		action := types.ActionMessage{}
		if err := mapstructure.WeakDecode(actionMap, &action); err != nil {
			globals.AppLogger.Debug("could not decode ws action", "error", err)
			return
		}
		action.Action = message.Event

		c.handleAction(action)
	}
}

func (c *Client) handleAction(action types.ActionMessage) {
	ctx := context.Background()
	session := c.hub.session

	switch action.Action {
	case ActionPlay:
		roomId, playing, err := session.StartBroadcast(ctx, c.user.Id, action.DeviceId, action.RoomId)
		if err != nil {
			c.sendError(err)
			return
		}
		c.setRoom(roomId)
		c.sendEvent("hosting", map[string]interface{}{"room_id": roomId, "playing": playing})

	case ActionStop:
		stopped, err := session.StopBroadcast(ctx, c.user.Id)
		if err != nil {
			c.sendError(err)
			return
		}
		c.setRoom("")
		c.sendEvent("stopped", map[string]interface{}{"stopped": stopped})

	case ActionPause:
		if err := session.PauseBroadcast(ctx, c.user.Id); err != nil {
			c.sendError(err)
		}

	case ActionNewTrack:
		if _, err := session.ChangeTrack(ctx, c.user.Id, action.Uri, action.PositionMs); err != nil {
			c.sendError(err)
		}

	case ActionJoin:
		playing, err := session.JoinRoom(ctx, c.user.Id, action.RoomId, action.DeviceId)
		if err != nil {
			c.sendError(err)
			return
		}
		c.setRoom(action.RoomId)
		c.sendEvent("joined", map[string]interface{}{"room_id": action.RoomId, "playing": playing})

	case ActionLeave:
		if err := session.LeaveRoom(ctx, c.user.Id); err != nil {
			c.sendError(err)
			return
		}
		c.setRoom("")
		c.sendEvent("left", map[string]interface{}{})

	case ActionSync:
		playing, err := session.Resync(ctx, c.user.Id)
		if err != nil {
			c.sendError(err)
			return
		}
		c.sendEvent("synced", map[string]interface{}{"playing": playing})

	default:
		c.sendError(errors.New("unknown action " + action.Action))
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection
// by executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Done()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
