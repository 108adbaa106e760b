package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.Migrator().AutoMigrate(&types.User{}); err != nil {
		return nil, err
	}
	return db, nil
}

func (p *GormPersist) GetUser(id string) (*types.User, error) {
	user := types.User{Id: id}
	err := p.db.First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *GormPersist) AddOrUpdateUser(id, displayName string, cred types.Credential) (*types.User, error) {
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
	err = p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(user).Error
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (p *GormPersist) UpdateUser(user *types.User) error {
	// Save writes the full mutable field set including zero values
	return p.db.Save(user).Error
}

func (p *GormPersist) UpdateCredential(userId string, cred types.Credential) error {
	return p.db.Model(&types.User{}).Where("id = ?", userId).Updates(map[string]interface{}{
		"access_token":  cred.AccessToken,
		"refresh_token": cred.RefreshToken,
		"expires_at":    cred.ExpiresAt,
	}).Error
}

func (p *GormPersist) GetRoom(roomId string) (*types.Room, error) {
	if roomId == "" {
		return nil, nil
	}
	var host types.User
	err := p.db.Where("playing_to = ?", roomId).First(&host).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.Room{Id: roomId, HostId: host.Id, Host: &host}, nil
}

func (p *GormPersist) GetListeners(roomId string) ([]*types.User, error) {
	listeners := make([]*types.User, 0)
	err := p.db.Where("listening_to = ? AND paused = ?", roomId, false).Find(&listeners).Error
	return listeners, err
}

func (p *GormPersist) AllListeners(roomId string) ([]*types.User, error) {
	listeners := make([]*types.User, 0)
	err := p.db.Where("listening_to = ?", roomId).Find(&listeners).Error
	return listeners, err
}

func (p *GormPersist) AddRoom(host *types.User) (string, error) {
	roomId := uuid.NewString()
	host.PlayingTo = roomId
	host.ListeningTo = ""
	host.Paused = false
	if err := p.db.Save(host).Error; err != nil {
		return "", err
	}
	return roomId, nil
}

func (p *GormPersist) CloseRoom(roomId string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&types.User{}).Where("listening_to = ?", roomId).Update("listening_to", "").Error
		if err != nil {
			return err
		}
		return tx.Model(&types.User{}).Where("playing_to = ?", roomId).Update("playing_to", "").Error
	})
}

func (p *GormPersist) PauseRoom(roomId string) error {
	return p.db.Model(&types.User{}).Where("playing_to = ?", roomId).Update("paused", true).Error
}

func (p *GormPersist) Users() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.Find(&users).Error
	return users, err
}

func (p *GormPersist) Close() error {
	return nil
}
