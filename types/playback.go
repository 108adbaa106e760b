package types

// Playback is a point-in-time snapshot of what a device is playing.
type Playback struct {
	Uri        string `json:"uri"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Id         string `json:"id"`
	PositionMs int    `json:"position_ms"`
	IsPlaying  bool   `json:"is_playing"`
}

// Empty reports whether there is nothing to sync to. A paused host or a
// snapshot without a track uri is a soft empty result, not an error.
func (p *Playback) Empty() bool {
	return p == nil || p.Uri == "" || !p.IsPlaying
}
