package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/types"
	"github.com/tidwall/buntdb"
)

type BuntDBPersist struct {
	db *buntdb.DB
}

// storedUser is the full on-disk representation, the credential fields
// are json:"-" on types.User so they never leak onto the wire.
type storedUser struct {
	Id           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    int64     `json:"expires_at"`
	ListeningTo  string    `json:"listening_to"`
	PlayingTo    string    `json:"playing_to"`
	Paused       bool      `json:"paused"`
	DeviceId     string    `json:"device_id"`
	LastSeen     time.Time `json:"last_seen"`
}

func toStored(user *types.User) storedUser {
	return storedUser(*user)
}

func fromStored(s storedUser) *types.User {
	user := types.User(s)
	return &user
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	db, err := buntdb.Open(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("listening", "user:*", buntdb.IndexJSON("listening_to"))
	if err != nil && !errors.Is(err, buntdb.ErrIndexExists) {
		db.Close()
		return nil, err
	}
	err = db.CreateIndex("playing", "user:*", buntdb.IndexJSON("playing_to"))
	if err != nil && !errors.Is(err, buntdb.ErrIndexExists) {
		db.Close()
		return nil, err
	}
	return &BuntDBPersist{db: db}, nil
}

func (p *BuntDBPersist) storeUser(tx *buntdb.Tx, user *types.User) error {
	u, err := json.Marshal(toStored(user))
	if err != nil {
		return err
	}
	_, _, err = tx.Set("user:"+user.Id, string(u), nil)
	return err
}

func (p *BuntDBPersist) GetUser(id string) (*types.User, error) {
	if id == "" {
		return nil, fmt.Errorf("no user id")
	}
	var user *types.User
	err := p.db.View(func(tx *buntdb.Tx) error {
		u, err := tx.Get("user:" + id)
		if err != nil {
			return err
		}
		var s storedUser
		if err := json.Unmarshal([]byte(u), &s); err != nil {
			return err
		}
		user = fromStored(s)
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (p *BuntDBPersist) AddOrUpdateUser(id, displayName string, cred types.Credential) (*types.User, error) {
	user, err := p.GetUser(id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &types.User{Id: id}
	}
	user.DisplayName = displayName
	user.AccessToken = cred.AccessToken
	user.RefreshToken = cred.RefreshToken
	user.ExpiresAt = cred.ExpiresAt
	user.LastSeen = time.Now()
	err = p.db.Update(func(tx *buntdb.Tx) error {
		return p.storeUser(tx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (p *BuntDBPersist) UpdateUser(user *types.User) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		return p.storeUser(tx, user)
	})
}

func (p *BuntDBPersist) UpdateCredential(userId string, cred types.Credential) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		u, err := tx.Get("user:" + userId)
		if err != nil {
			return err
		}
		var s storedUser
		if err := json.Unmarshal([]byte(u), &s); err != nil {
			return err
		}
		s.AccessToken = cred.AccessToken
		s.RefreshToken = cred.RefreshToken
		s.ExpiresAt = cred.ExpiresAt
		return p.storeUser(tx, fromStored(s))
	})
}

func (p *BuntDBPersist) GetRoom(roomId string) (*types.Room, error) {
	if roomId == "" {
		return nil, nil
	}
	var room *types.Room
	err := p.db.View(func(tx *buntdb.Tx) error {
		pivot := fmt.Sprintf(`{"playing_to":%q}`, roomId)
		var innerErr error
		err := tx.AscendEqual("playing", pivot, func(key, value string) bool {
			var s storedUser
			if innerErr = json.Unmarshal([]byte(value), &s); innerErr != nil {
				return false
			}
			host := fromStored(s)
			room = &types.Room{Id: roomId, HostId: host.Id, Host: host}
			return false // a room has exactly one host
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (p *BuntDBPersist) listeners(roomId string, includePaused bool) ([]*types.User, error) {
	listeners := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		pivot := fmt.Sprintf(`{"listening_to":%q}`, roomId)
		var innerErr error
		err := tx.AscendEqual("listening", pivot, func(key, value string) bool {
			var s storedUser
			if innerErr = json.Unmarshal([]byte(value), &s); innerErr != nil {
				return false
			}
			if includePaused || !s.Paused {
				listeners = append(listeners, fromStored(s))
			}
			return true
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return listeners, nil
}

func (p *BuntDBPersist) GetListeners(roomId string) ([]*types.User, error) {
	return p.listeners(roomId, false)
}

func (p *BuntDBPersist) AllListeners(roomId string) ([]*types.User, error) {
	return p.listeners(roomId, true)
}

func (p *BuntDBPersist) AddRoom(host *types.User) (string, error) {
	roomId := uuid.NewString()
	host.PlayingTo = roomId
	host.ListeningTo = ""
	host.Paused = false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return p.storeUser(tx, host)
	})
	if err != nil {
		return "", err
	}
	return roomId, nil
}

func (p *BuntDBPersist) CloseRoom(roomId string) error {
	// members and host are collected inside the same update transaction
	// so the sweep sees one consistent snapshot of the room
	return p.db.Update(func(tx *buntdb.Tx) error {
		stale := make([]*types.User, 0)
		var innerErr error
		collect := func(clear func(*types.User)) func(key, value string) bool {
			return func(key, value string) bool {
				var s storedUser
				if innerErr = json.Unmarshal([]byte(value), &s); innerErr != nil {
					return false
				}
				user := fromStored(s)
				clear(user)
				stale = append(stale, user)
				return true
			}
		}
		err := tx.AscendEqual("listening", fmt.Sprintf(`{"listening_to":%q}`, roomId),
			collect(func(u *types.User) { u.ListeningTo = "" }))
		if err != nil {
			return err
		}
		if innerErr != nil {
			return innerErr
		}
		err = tx.AscendEqual("playing", fmt.Sprintf(`{"playing_to":%q}`, roomId),
			collect(func(u *types.User) { u.PlayingTo = "" }))
		if err != nil {
			return err
		}
		if innerErr != nil {
			return innerErr
		}
		// writes deferred until after the scans, the tx forbids
		// mutation while iterating
		for _, user := range stale {
			if err := p.storeUser(tx, user); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *BuntDBPersist) PauseRoom(roomId string) error {
	room, err := p.GetRoom(roomId)
	if err != nil {
		return err
	}
	if room == nil {
		return nil
	}
	room.Host.Paused = true
	return p.UpdateUser(room.Host)
}

func (p *BuntDBPersist) Users() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.AscendKeys("user:*", func(key, value string) bool {
			var s storedUser
			if innerErr = json.Unmarshal([]byte(value), &s); innerErr != nil {
				return false
			}
			users = append(users, fromStored(s))
			return true
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
