package party

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/spotify"
	"github.com/tcriess/lightspeed-party/types"
)

// fakePersister is an in-memory Persister for the state machine tests.
// It hands out copies, mutations only stick via UpdateUser, like the
// real backends.
type fakePersister struct {
	mu      sync.Mutex
	users   map[string]*types.User
	updates int

	// beforeUpdate runs once right before the next UpdateUser commits,
	// outside the store mutex, to interleave a concurrent transition
	beforeUpdate func(user *types.User)
}

func newFakePersister() *fakePersister {
	return &fakePersister{users: make(map[string]*types.User)}
}

func (p *fakePersister) put(user *types.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := *user
	p.users[user.Id] = &u
}

func (p *fakePersister) GetUser(id string) (*types.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[id]
	if !ok {
		return nil, nil
	}
	u := *user
	return &u, nil
}

func (p *fakePersister) AddOrUpdateUser(id, displayName string, cred types.Credential) (*types.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[id]
	if !ok {
		user = &types.User{Id: id}
		p.users[id] = user
	}
	user.DisplayName = displayName
	user.AccessToken = cred.AccessToken
	user.RefreshToken = cred.RefreshToken
	user.ExpiresAt = cred.ExpiresAt
	u := *user
	return &u, nil
}

func (p *fakePersister) UpdateUser(user *types.User) error {
	p.mu.Lock()
	hook := p.beforeUpdate
	p.beforeUpdate = nil
	p.mu.Unlock()
	if hook != nil {
		hook(user)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u := *user
	p.users[user.Id] = &u
	p.updates++
	return nil
}

func (p *fakePersister) UpdateCredential(userId string, cred types.Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[userId]
	if !ok {
		return fmt.Errorf("no such user %s", userId)
	}
	user.AccessToken = cred.AccessToken
	user.RefreshToken = cred.RefreshToken
	user.ExpiresAt = cred.ExpiresAt
	return nil
}

func (p *fakePersister) GetRoom(roomId string) (*types.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, user := range p.users {
		if user.PlayingTo == roomId && roomId != "" {
			u := *user
			return &types.Room{Id: roomId, HostId: user.Id, Host: &u}, nil
		}
	}
	return nil, nil
}

func (p *fakePersister) listeners(roomId string, includePaused bool) []*types.User {
	listeners := make([]*types.User, 0)
	for _, user := range p.users {
		if user.ListeningTo != roomId {
			continue
		}
		if !includePaused && user.Paused {
			continue
		}
		u := *user
		listeners = append(listeners, &u)
	}
	return listeners
}

func (p *fakePersister) GetListeners(roomId string) ([]*types.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listeners(roomId, false), nil
}

func (p *fakePersister) AllListeners(roomId string) ([]*types.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listeners(roomId, true), nil
}

func (p *fakePersister) AddRoom(host *types.User) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	roomId := uuid.NewString()
	host.PlayingTo = roomId
	host.ListeningTo = ""
	host.Paused = false
	u := *host
	p.users[host.Id] = &u
	return roomId, nil
}

func (p *fakePersister) CloseRoom(roomId string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, user := range p.users {
		if user.ListeningTo == roomId {
			user.ListeningTo = ""
		}
		if user.PlayingTo == roomId {
			user.PlayingTo = ""
		}
	}
	return nil
}

func (p *fakePersister) PauseRoom(roomId string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, user := range p.users {
		if user.PlayingTo == roomId {
			user.Paused = true
		}
	}
	return nil
}

func (p *fakePersister) Users() ([]*types.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := make([]*types.User, 0, len(p.users))
	for _, user := range p.users {
		u := *user
		users = append(users, &u)
	}
	return users, nil
}

func (p *fakePersister) Close() error { return nil }

// recordingNotifier collects the published events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []*types.Event
}

func (n *recordingNotifier) Publish(roomId string, event *types.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) byName(name string) []*types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	res := make([]*types.Event, 0)
	for _, ev := range n.events {
		if ev.Name == name {
			res = append(res, ev)
		}
	}
	return res
}

// fakeAPI emulates the playback API and the accounts token endpoint,
// keyed by bearer token.
type fakeAPI struct {
	mu        sync.Mutex
	srv       *httptest.Server
	playFails map[string]int // bearer token -> remaining play failures, -1 fails forever
	playCalls map[string]int
	pauses    map[string]int
	transfers map[string]int
	refreshes int
	snapshot  *types.Playback // what the host is currently playing

	// optional gates to hold a token refresh mid-flight, set before the
	// first request
	refreshStarted chan struct{}
	refreshRelease chan struct{}
}

func newFakeAPI() *fakeAPI {
	api := &fakeAPI{
		playFails: make(map[string]int),
		playCalls: make(map[string]int),
		pauses:    make(map[string]int),
		transfers: make(map[string]int),
	}
	api.srv = httptest.NewServer(http.HandlerFunc(api.handle))
	return api
}

func (a *fakeAPI) token(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (a *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/token" {
		// gated outside the mutex so a held refresh does not block the
		// playback endpoints
		if a.refreshStarted != nil {
			a.refreshStarted <- struct{}{}
		}
		if a.refreshRelease != nil {
			<-a.refreshRelease
		}
		a.mu.Lock()
		a.refreshes++
		a.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "refreshed-access",
			"refresh_token": "refreshed-refresh",
			"expires_in":    3600,
		})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case r.URL.Path == "/me/player/currently-playing":
		if a.snapshot == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"progress_ms": a.snapshot.PositionMs,
			"is_playing":  a.snapshot.IsPlaying,
			"item": map[string]interface{}{
				"uri":  a.snapshot.Uri,
				"name": a.snapshot.Name,
				"type": a.snapshot.Type,
				"id":   a.snapshot.Id,
			},
		})

	case r.URL.Path == "/me/player/play":
		token := a.token(r)
		a.playCalls[token]++
		if remaining, ok := a.playFails[token]; ok && remaining != 0 {
			if remaining > 0 {
				a.playFails[token] = remaining - 1
			}
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"status":404,"message":"Device not found"}}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case r.URL.Path == "/me/player/pause":
		a.pauses[a.token(r)]++
		w.WriteHeader(http.StatusNoContent)

	case r.URL.Path == "/me/player":
		a.transfers[a.token(r)]++
		w.WriteHeader(http.StatusNoContent)

	case strings.HasPrefix(r.URL.Path, "/tracks/"):
		id := strings.TrimPrefix(r.URL.Path, "/tracks/")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"uri":  "spotify:track:" + id,
			"name": "Track " + id,
			"type": "track",
			"id":   id,
		})

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf(`{"error":{"status":404,"message":"no such endpoint %s"}}`, r.URL.Path)))
	}
}

func (a *fakeAPI) close() { a.srv.Close() }

func (a *fakeAPI) setSnapshot(p *types.Playback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = p
}

func (a *fakeAPI) transferCount(token string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transfers[token]
}

func (a *fakeAPI) pauseCount(token string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pauses[token]
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.PlayerConfig.CommandAttempts = 3
	cfg.PlayerConfig.RetryDelaySeconds = 1
	cfg.PlayerConfig.RefreshMarginSeconds = 60
	cfg.PlayerConfig.FanOutWidth = 4
	return cfg
}

func testSetup(api *fakeAPI) (*Session, *fakePersister, *recordingNotifier, *spotify.Client) {
	cfg := testConfig()
	client := spotify.NewClient(cfg)
	client.APIURL = api.srv.URL
	client.AccountsURL = api.srv.URL
	persister := newFakePersister()
	notifier := &recordingNotifier{}
	session := NewSession(cfg, persister, client, notifier)
	return session, persister, notifier, client
}

func testUser(id, token string) *types.User {
	return &types.User{
		Id:           id,
		DisplayName:  id,
		AccessToken:  token,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
}
