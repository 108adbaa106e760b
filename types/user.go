package types

import "time"

// User is the record kept per authenticated Spotify account. A user is
// created on the first successful OAuth callback and updated in place
// afterwards, it is never deleted by the session engine.
type User struct {
	Id           string    `json:"id" gorm:"primaryKey"` // Spotify user id, unique!
	DisplayName  string    `json:"display_name"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    int64     `json:"-" gorm:"column:expires_at"` // unix seconds
	ListeningTo  string    `json:"listening_to" gorm:"index"`  // room id, empty if not listening
	PlayingTo    string    `json:"playing_to" gorm:"index"`    // room id, set iff hosting
	Paused       bool      `json:"paused"`
	DeviceId     string    `json:"-"`
	LastSeen     time.Time `json:"last_seen"`
}

func (u *User) Hosting() bool {
	return u.PlayingTo != ""
}

func (u *User) Listening() bool {
	return u.ListeningTo != ""
}

func (u *User) Idle() bool {
	return !u.Hosting() && !u.Listening()
}

// Credential is the auth bundle exchanged with the Spotify accounts
// service. ExpiresAt is absolute (unix seconds), not a relative TTL.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}
