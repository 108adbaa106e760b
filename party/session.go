package party

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/globals"
	"github.com/tcriess/lightspeed-party/persistence"
	"github.com/tcriess/lightspeed-party/spotify"
	"github.com/tcriess/lightspeed-party/types"
)

// Notifier delivers room-scoped events to the real-time transport.
// Delivery is fire-and-forget.
type Notifier interface {
	Publish(roomId string, event *types.Event)
}

// Session is the room session state machine. All state-transition
// mutations for one user are serialized via a per-user mutex, fan-out
// across listeners still runs in parallel. No lock is held across an
// outbound call of another user's transition.
type Session struct {
	persister persistence.Persister
	client    *spotify.Client
	tokens    *Tokens
	exec      *Executor
	notifier  Notifier
	width     int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSession(cfg *config.Config, persister persistence.Persister, client *spotify.Client, notifier Notifier) *Session {
	tokens := NewTokens(cfg, client, persister)
	return &Session{
		persister: persister,
		client:    client,
		tokens:    tokens,
		exec:      NewExecutor(cfg, client, tokens),
		notifier:  notifier,
		width:     cfg.PlayerConfig.Width(),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Session) userLock(userId string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userId]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userId] = lock
	}
	return lock
}

func (s *Session) getUser(userId string) (*types.User, error) {
	user, err := s.persister.GetUser(userId)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: unknown user %s", types.ErrAuthentication, userId)
	}
	return user, nil
}

func (s *Session) listenerCount(roomId string) int {
	listeners, err := s.persister.GetListeners(roomId)
	if err != nil {
		globals.AppLogger.Error("could not count listeners", "room", roomId, "error", err)
		return 0
	}
	return len(listeners)
}

// emitListenerChange publishes a listeners event iff the count actually
// changed between the before and after snapshots of a transition.
func (s *Session) emitListenerChange(roomId string, before, after int) {
	if roomId == "" || before == after {
		return
	}
	s.notifier.Publish(roomId, types.NewListenersEvent(roomId, after))
}

// StartBroadcast opens (or resumes) a room hosted by userId and starts
// playback on deviceId. A roomHint matching a room still hosted by this
// user is reused, any other prior hosting or listening state is
// cleared first. Returns the room id and, when available, a snapshot of
// what the host is now playing.
func (s *Session) StartBroadcast(ctx context.Context, userId, deviceId, roomHint string) (string, *types.Playback, error) {
	if deviceId == "" {
		return "", nil, fmt.Errorf("%w: device_id is required", types.ErrValidation)
	}
	lock := s.userLock(userId)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.getUser(userId)
	if err != nil {
		return "", nil, err
	}

	resume := user.Hosting() && user.PlayingTo == roomHint
	if user.Hosting() && !resume {
		// cascading close of the previously hosted room
		if err := s.closeRoom(context.WithoutCancel(ctx), user); err != nil {
			return "", nil, err
		}
	}
	oldRoom := user.ListeningTo
	oldBefore := 0
	if oldRoom != "" {
		oldBefore = s.listenerCount(oldRoom)
	}
	user.DeviceId = deviceId

	err = s.exec.Execute(ctx, user, func(ctx context.Context, token string) error {
		return s.client.Transfer(ctx, token, deviceId, true)
	})
	if err != nil {
		return "", nil, err
	}

	var roomId string
	if resume {
		roomId = roomHint
		user.ListeningTo = ""
		user.Paused = false
		if err := s.persister.UpdateUser(user); err != nil {
			return "", nil, err
		}
	} else {
		roomId, err = s.persister.AddRoom(user)
		if err != nil {
			return "", nil, err
		}
	}

	if oldRoom != "" && oldRoom != roomId {
		// the room the new host stopped listening to
		s.emitListenerChange(oldRoom, oldBefore, s.listenerCount(oldRoom))
	}
	playing := s.currentlyPlaying(ctx, user)
	s.notifier.Publish(roomId, types.NewListenersEvent(roomId, s.listenerCount(roomId)))
	globals.AppLogger.Info("broadcast started", "user", userId, "room", roomId, "resumed", resume)
	return roomId, playing, nil
}

// StopBroadcast closes the room hosted by userId. Calling it on a
// non-hosting user is a no-op returning false.
func (s *Session) StopBroadcast(ctx context.Context, userId string) (bool, error) {
	lock := s.userLock(userId)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.getUser(userId)
	if err != nil {
		return false, err
	}
	if !user.Hosting() {
		return false, nil
	}
	if err := s.closeRoom(context.WithoutCancel(ctx), user); err != nil {
		return false, err
	}
	return true, nil
}

// closeRoom pauses the host and every current listener (best-effort,
// independently), clears all room pointers and emits a single closed
// event. Runs to completion once started, callers pass a detached
// context.
func (s *Session) closeRoom(ctx context.Context, host *types.User) error {
	roomId := host.PlayingTo

	if err := s.exec.Execute(ctx, host, func(ctx context.Context, token string) error {
		return s.client.Pause(ctx, token)
	}); err != nil {
		globals.AppLogger.Debug("could not pause host on close", "user", host.Id, "error", err)
	}

	listeners, err := s.persister.GetListeners(roomId)
	if err != nil {
		return err
	}
	s.exec.FanOut(ctx, listeners, s.width, func(ctx context.Context, token string) error {
		return s.client.Pause(ctx, token)
	})

	if err := s.persister.CloseRoom(roomId); err != nil {
		return err
	}
	host.PlayingTo = ""
	s.notifier.Publish(roomId, types.NewClosedEvent(roomId))
	globals.AppLogger.Info("room closed", "room", roomId, "host", host.Id)
	return nil
}

// PauseBroadcast pauses playback for the host and every current
// listener while keeping the room open, so listeners can resume without
// rejoining. Only the host is marked paused.
func (s *Session) PauseBroadcast(ctx context.Context, userId string) error {
	lock := s.userLock(userId)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.getUser(userId)
	if err != nil {
		return err
	}
	if !user.Hosting() {
		return fmt.Errorf("%w: user %s is not hosting", types.ErrValidation, userId)
	}
	roomId := user.PlayingTo
	ctx = context.WithoutCancel(ctx)

	if err := s.exec.Execute(ctx, user, func(ctx context.Context, token string) error {
		return s.client.Pause(ctx, token)
	}); err != nil {
		globals.AppLogger.Debug("could not pause host", "user", userId, "error", err)
	}

	listeners, err := s.persister.GetListeners(roomId)
	if err != nil {
		return err
	}
	s.exec.FanOut(ctx, listeners, s.width, func(ctx context.Context, token string) error {
		return s.client.Pause(ctx, token)
	})

	if err := s.persister.PauseRoom(roomId); err != nil {
		return err
	}
	user.Paused = true
	s.notifier.Publish(roomId, types.NewPausedEvent(roomId))
	globals.AppLogger.Info("broadcast paused", "room", roomId, "host", userId)
	return nil
}

// ChangeTrack starts playback of uri on the host's device and fans the
// same command out to every current listener. The host-side change is
// authoritative, listener failures only lower the reported count.
func (s *Session) ChangeTrack(ctx context.Context, userId, uri string, positionMs int) (*Result, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: uri is required", types.ErrValidation)
	}
	lock := s.userLock(userId)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.getUser(userId)
	if err != nil {
		return nil, err
	}
	if !user.Hosting() {
		return nil, fmt.Errorf("%w: user %s is not hosting", types.ErrValidation, userId)
	}
	roomId := user.PlayingTo

	err = s.exec.Execute(ctx, user, func(ctx context.Context, token string) error {
		return s.client.Play(ctx, token, "", []string{uri}, positionMs)
	})
	if err != nil {
		return nil, err
	}
	if user.Paused {
		// the host is audibly playing again
		user.Paused = false
		if err := s.persister.UpdateUser(user); err != nil {
			return nil, err
		}
	}

	// snapshot the listener set once, then replicate concurrently
	listeners, err := s.persister.GetListeners(roomId)
	if err != nil {
		return nil, err
	}
	res := s.exec.FanOut(context.WithoutCancel(ctx), listeners, s.width, func(ctx context.Context, token string) error {
		return s.client.Play(ctx, token, "", []string{uri}, positionMs)
	})

	playing := s.trackMetadata(ctx, user, uri, positionMs)
	s.notifier.Publish(roomId, types.NewChangedEvent(roomId, len(res.Succeeded), playing))
	globals.AppLogger.Info("track changed", "room", roomId, "uri", uri, "delivered", len(res.Succeeded), "failed", len(res.Failed))
	return res, nil
}

// JoinRoom makes userId a listener of roomId and immediately aligns
// their device with the host's current playback. A nil snapshot means
// the host currently has nothing playing, the listener stays joined but
// idle.
func (s *Session) JoinRoom(ctx context.Context, userId, roomId, deviceId string) (*types.Playback, error) {
	if roomId == "" {
		return nil, fmt.Errorf("%w: room_id is required", types.ErrValidation)
	}
	if deviceId == "" {
		return nil, fmt.Errorf("%w: device_id is required", types.ErrValidation)
	}
	lock := s.userLock(userId)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.getUser(userId)
	if err != nil {
		return nil, err
	}
	room, err := s.persister.GetRoom(roomId)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("%w: room %s", types.ErrNotFound, roomId)
	}
	if room.HostId == userId {
		return nil, fmt.Errorf("%w: cannot listen to own room", types.ErrAuthorization)
	}

	if user.Hosting() {
		if err := s.closeRoom(context.WithoutCancel(ctx), user); err != nil {
			return nil, err
		}
	}
	oldRoom := user.ListeningTo
	oldBefore := 0
	if oldRoom != "" && oldRoom != roomId {
		oldBefore = s.listenerCount(oldRoom)
	}
	before := s.listenerCount(roomId)
	user.ListeningTo = roomId
	user.PlayingTo = ""
	user.Paused = false
	user.DeviceId = deviceId
	if err := s.persister.UpdateUser(user); err != nil {
		return nil, err
	}
	if oldRoom != "" && oldRoom != roomId {
		s.emitListenerChange(oldRoom, oldBefore, s.listenerCount(oldRoom))
	}

	// the room can close between the existence check and the commit
	// (the close sweep runs under the host's lock, not ours), in which
	// case the sweep never saw this membership
	room, err = s.persister.GetRoom(roomId)
	if err != nil {
		return nil, err
	}
	if room == nil {
		user.ListeningTo = ""
		if err := s.persister.UpdateUser(user); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: room %s", types.ErrNotFound, roomId)
	}

	s.emitListenerChange(roomId, before, s.listenerCount(roomId))
	globals.AppLogger.Info("user joined room", "user", userId, "room", roomId)

	return s.sync(ctx, user, room)
}

// LeaveRoom detaches userId from whatever they are doing: listeners get
// their own playback paused and the pointer cleared, hosts delegate to
// the close cascade. A no-op for idle users.
func (s *Session) LeaveRoom(ctx context.Context, userId string) error {
	lock := s.userLock(userId)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.getUser(userId)
	if err != nil {
		return err
	}
	if user.Hosting() {
		return s.closeRoom(context.WithoutCancel(ctx), user)
	}
	if !user.Listening() {
		return nil
	}
	roomId := user.ListeningTo
	before := s.listenerCount(roomId)
	if err := s.exec.Execute(ctx, user, func(ctx context.Context, token string) error {
		return s.client.Pause(ctx, token)
	}); err != nil {
		globals.AppLogger.Debug("could not pause leaving listener", "user", userId, "error", err)
	}
	user.ListeningTo = ""
	if err := s.persister.UpdateUser(user); err != nil {
		return err
	}
	s.emitListenerChange(roomId, before, s.listenerCount(roomId))
	globals.AppLogger.Info("user left room", "user", userId, "room", roomId)
	return nil
}

// Disconnect handles loss of the real-time connection. The paused
// overlay suppresses the user from fan-out without discarding the room
// association, so a reconnect resumes silently. Deliberately not
// equivalent to LeaveRoom.
func (s *Session) Disconnect(userId string) {
	lock := s.userLock(userId)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.getUser(userId)
	if err != nil {
		globals.AppLogger.Debug("disconnect for unknown user", "user", userId, "error", err)
		return
	}
	roomId := user.ListeningTo
	before := 0
	if roomId != "" {
		before = s.listenerCount(roomId)
	}
	user.Paused = true
	user.LastSeen = time.Now()
	if err := s.persister.UpdateUser(user); err != nil {
		globals.AppLogger.Error("could not persist disconnect", "user", userId, "error", err)
		return
	}
	if roomId != "" {
		s.emitListenerChange(roomId, before, s.listenerCount(roomId))
	}
	globals.AppLogger.Debug("user disconnected", "user", userId)
}

// Reconnect lifts the paused overlay after the real-time connection is
// re-established.
func (s *Session) Reconnect(userId string) {
	lock := s.userLock(userId)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.persister.GetUser(userId)
	if err != nil || user == nil {
		return
	}
	if !user.Paused {
		return
	}
	roomId := user.ListeningTo
	before := 0
	if roomId != "" {
		before = s.listenerCount(roomId)
	}
	user.Paused = false
	user.LastSeen = time.Now()
	if err := s.persister.UpdateUser(user); err != nil {
		globals.AppLogger.Error("could not persist reconnect", "user", userId, "error", err)
		return
	}
	if roomId != "" {
		s.emitListenerChange(roomId, before, s.listenerCount(roomId))
	}
	globals.AppLogger.Debug("user reconnected", "user", userId)
}

// Resync re-aligns a listener's device with the host's current
// playback, one-shot. Position drift after the alignment is expected
// and not compensated for.
func (s *Session) Resync(ctx context.Context, userId string) (*types.Playback, error) {
	lock := s.userLock(userId)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.getUser(userId)
	if err != nil {
		return nil, err
	}
	if !user.Listening() {
		return nil, fmt.Errorf("%w: user %s is not listening", types.ErrValidation, userId)
	}
	room, err := s.persister.GetRoom(user.ListeningTo)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("%w: room %s", types.ErrNotFound, user.ListeningTo)
	}
	return s.sync(ctx, user, room)
}

// sync fetches the host's snapshot and plays it on the listener's
// device. A host that is not currently playing yields nil, nil.
func (s *Session) sync(ctx context.Context, user *types.User, room *types.Room) (*types.Playback, error) {
	hostToken, err := s.tokens.Fresh(ctx, room.Host)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.client.CurrentPlayback(ctx, hostToken)
	if err != nil {
		return nil, err
	}
	if snapshot.Empty() {
		return nil, nil
	}
	err = s.exec.Execute(ctx, user, func(ctx context.Context, token string) error {
		return s.client.Play(ctx, token, user.DeviceId, []string{snapshot.Uri}, snapshot.PositionMs)
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// currentlyPlaying is a best-effort snapshot of the host's playback,
// nil when unavailable.
func (s *Session) currentlyPlaying(ctx context.Context, host *types.User) *types.Playback {
	token, err := s.tokens.Fresh(ctx, host)
	if err != nil {
		return nil
	}
	playing, err := s.client.CurrentPlayback(ctx, token)
	if err != nil {
		globals.AppLogger.Debug("could not fetch current playback", "user", host.Id, "error", err)
		return nil
	}
	return playing
}

// trackMetadata resolves the metadata for a changed event, best-effort.
func (s *Session) trackMetadata(ctx context.Context, host *types.User, uri string, positionMs int) *types.Playback {
	token, err := s.tokens.Fresh(ctx, host)
	if err != nil {
		return &types.Playback{Uri: uri, PositionMs: positionMs, IsPlaying: true}
	}
	meta, err := s.client.TrackMetadata(ctx, token, uri)
	if err != nil {
		globals.AppLogger.Debug("could not resolve track metadata", "uri", uri, "error", err)
		return &types.Playback{Uri: uri, PositionMs: positionMs, IsPlaying: true}
	}
	meta.PositionMs = positionMs
	meta.IsPlaying = true
	return meta
}
