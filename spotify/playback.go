package spotify

import (
	"context"
	"net/http"
	"strings"

	"github.com/tcriess/lightspeed-party/types"
)

// Profile is the part of the user profile the engine cares about.
type Profile struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type trackInfo struct {
	Uri  string `json:"uri"`
	Name string `json:"name"`
	Type string `json:"type"`
	Id   string `json:"id"`
}

type currentlyPlayingResponse struct {
	ProgressMs int        `json:"progress_ms"`
	IsPlaying  bool       `json:"is_playing"`
	Item       *trackInfo `json:"item"`
}

// PlayOptions is the body of a play request.
type PlayOptions struct {
	Uris       []string `json:"uris,omitempty"`
	PositionMs int      `json:"position_ms,omitempty"`
}

// Me fetches the profile of the token's user.
func (c *Client) Me(ctx context.Context, token string) (*Profile, error) {
	var profile Profile
	if err := c.request(ctx, token, http.MethodGet, "/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// CurrentPlayback returns a snapshot of what the user's active device is
// playing, or nil if nothing is playing (204 from the API).
func (c *Client) CurrentPlayback(ctx context.Context, token string) (*types.Playback, error) {
	var resp currentlyPlayingResponse
	if err := c.request(ctx, token, http.MethodGet, "/me/player/currently-playing", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Item == nil {
		return nil, nil
	}
	c.trackCache.Add(resp.Item.Uri, *resp.Item)
	return &types.Playback{
		Uri:        resp.Item.Uri,
		Name:       resp.Item.Name,
		Type:       resp.Item.Type,
		Id:         resp.Item.Id,
		PositionMs: resp.ProgressMs,
		IsPlaying:  resp.IsPlaying,
	}, nil
}

// Play starts playback of the given uris, optionally on a specific
// device and from a position. An empty uris slice resumes whatever is
// paused on the device.
func (c *Client) Play(ctx context.Context, token, deviceId string, uris []string, positionMs int) error {
	path := "/me/player/play"
	if deviceId != "" {
		path = buildURL(path, map[string]string{"device_id": deviceId})
	}
	// the API wants a JSON body even for a bare resume
	opts := &PlayOptions{Uris: uris, PositionMs: positionMs}
	return c.request(ctx, token, http.MethodPut, path, opts, nil)
}

// Pause pauses playback on the user's active device.
func (c *Client) Pause(ctx context.Context, token string) error {
	return c.request(ctx, token, http.MethodPut, "/me/player/pause", nil, nil)
}

// Transfer makes deviceId the active playback device. With play=false
// the current playback state (playing or paused) is kept.
func (c *Client) Transfer(ctx context.Context, token, deviceId string, play bool) error {
	body := map[string]interface{}{
		"device_ids": []string{deviceId},
		"play":       play,
	}
	return c.request(ctx, token, http.MethodPut, "/me/player", body, nil)
}

// TrackMetadata resolves uri to track metadata, via the in-process cache
// when the uri has been seen before.
func (c *Client) TrackMetadata(ctx context.Context, token, uri string) (*types.Playback, error) {
	if cached, ok := c.trackCache.Get(uri); ok {
		info := cached.(trackInfo)
		return &types.Playback{Uri: info.Uri, Name: info.Name, Type: info.Type, Id: info.Id}, nil
	}
	id := uri
	if idx := strings.LastIndex(uri, ":"); idx >= 0 {
		id = uri[idx+1:]
	}
	var info trackInfo
	if err := c.request(ctx, token, http.MethodGet, "/tracks/"+id, nil, &info); err != nil {
		return nil, err
	}
	if info.Uri == "" {
		info.Uri = uri
	}
	c.trackCache.Add(uri, info)
	return &types.Playback{Uri: info.Uri, Name: info.Name, Type: info.Type, Id: info.Id}, nil
}
