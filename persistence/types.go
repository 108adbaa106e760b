package persistence

import (
	"fmt"

	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/types"
)

// Persister is the CRUD surface the session engine depends on. Rooms
// are not rows of their own: a room exists iff some user's PlayingTo
// equals its id, and the listener set is a query over the users'
// ListeningTo pointers.
type Persister interface {
	// GetUser returns nil, nil when the user is unknown.
	GetUser(id string) (*types.User, error)
	// AddOrUpdateUser upserts identity and credential, leaving any
	// existing room association untouched.
	AddOrUpdateUser(id, displayName string, cred types.Credential) (*types.User, error)
	UpdateUser(user *types.User) error
	// UpdateCredential replaces only the stored token fields. Token
	// refreshes run outside the user's transition lock, so they must
	// not write room or presence state back.
	UpdateCredential(userId string, cred types.Credential) error
	// GetRoom resolves a room via its host, nil, nil when no user is
	// hosting under that id.
	GetRoom(roomId string) (*types.Room, error)
	// GetListeners returns the room's current listeners, excluding
	// paused ones.
	GetListeners(roomId string) ([]*types.User, error)
	// AllListeners also includes paused members (close cascade).
	AllListeners(roomId string) ([]*types.User, error)
	// AddRoom mints a room id and marks host as playing to it.
	AddRoom(host *types.User) (string, error)
	// CloseRoom clears the host's PlayingTo and every member's
	// ListeningTo.
	CloseRoom(roomId string) error
	// PauseRoom marks the host paused, membership stays intact.
	PauseRoom(roomId string) error
	Users() ([]*types.User, error)
	Close() error
}

// NewPersister creates the persister selected by the configuration.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite", "postgres":
		return NewGormPersister(cfg)
	case "":
		return nil, fmt.Errorf("no persistence configured")
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}
