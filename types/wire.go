package types

import "encoding/json"

type omit *struct{}

// JSON-serialized WebsocketMessage is what is actually sent via the
// websocket connection.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WireEvent wraps an Event for the wire, the event name moves into the
// envelope and is omitted from the payload.
type WireEvent struct {
	*Event
	Name omit `json:"name,omitempty"`
}

func (e WireEvent) MarshalJSON() ([]byte, error) {
	type localWireEvent WireEvent
	data, err := json.Marshal(localWireEvent(e))
	if err != nil {
		return nil, err
	}
	m := WebsocketMessage{
		Event: e.Event.Name,
		Data:  data,
	}
	return json.Marshal(m)
}

// ActionMessage is an inbound client request on the websocket.
type ActionMessage struct {
	Action     string `json:"action" mapstructure:"action"`
	RoomId     string `json:"room_id" mapstructure:"room_id"`
	Uri        string `json:"uri" mapstructure:"uri"`
	PositionMs int    `json:"position_ms" mapstructure:"position_ms"`
	DeviceId   string `json:"device_id" mapstructure:"device_id"`
}

// ConnectedMessage is sent once right after the websocket is accepted.
type ConnectedMessage struct {
	Action      string `json:"action"`
	UserId      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}
