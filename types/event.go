package types

import "time"

const (
	EventTypeListeners = "listeners"
	EventTypeChanged   = "changed"
	EventTypePaused    = "paused"
	EventTypeClosed    = "closed"
)

// Event is a room-scoped notification delivered to all subscribers of
// the room. Delivery is fire-and-forget from the session engine's
// point of view.
type Event struct {
	Name    string    `json:"name"`
	RoomId  string    `json:"room_id"`
	Number  int       `json:"number"` // current (non-paused) listener count
	Playing *Playback `json:"playing,omitempty"`
	Created time.Time `json:"created"`
}

func NewListenersEvent(roomId string, number int) *Event {
	return &Event{
		Name:    EventTypeListeners,
		RoomId:  roomId,
		Number:  number,
		Created: time.Now(),
	}
}

func NewChangedEvent(roomId string, number int, playing *Playback) *Event {
	return &Event{
		Name:    EventTypeChanged,
		RoomId:  roomId,
		Number:  number,
		Playing: playing,
		Created: time.Now(),
	}
}

func NewPausedEvent(roomId string) *Event {
	return &Event{
		Name:    EventTypePaused,
		RoomId:  roomId,
		Created: time.Now(),
	}
}

func NewClosedEvent(roomId string) *Event {
	return &Event{
		Name:    EventTypeClosed,
		RoomId:  roomId,
		Created: time.Now(),
	}
}
