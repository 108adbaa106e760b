package types

// Room is derived from its host's user record, it is never stored as an
// independent row. The listener set is computed at read time from the
// users whose ListeningTo points at the room (see persistence), so the
// room can never disagree with the listeners' own pointers.
type Room struct {
	Id     string `json:"id"`
	HostId string `json:"host_id"`
	Host   *User  `json:"host,omitempty"`
}
