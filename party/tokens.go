package party

import (
	"context"
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/globals"
	"github.com/tcriess/lightspeed-party/persistence"
	"github.com/tcriess/lightspeed-party/spotify"
	"github.com/tcriess/lightspeed-party/types"
)

// Tokens keeps per-user credentials fresh. Fresh runs immediately
// before every outbound command, never cached across requests, so a
// command cannot go out with a token about to expire mid-flight.
type Tokens struct {
	client    *spotify.Client
	persister persistence.Persister
	margin    time.Duration
}

func NewTokens(cfg *config.Config, client *spotify.Client, persister persistence.Persister) *Tokens {
	return &Tokens{
		client:    client,
		persister: persister,
		margin:    cfg.PlayerConfig.RefreshMargin(),
	}
}

// Fresh returns a usable access token for user, refreshing and
// persisting the credential first when it is within the margin of
// expiry. Only the token fields are replaced, identity and room state
// stay untouched. A failed refresh means the session is invalid.
func (t *Tokens) Fresh(ctx context.Context, user *types.User) (string, error) {
	if user.AccessToken == "" || user.RefreshToken == "" {
		return "", fmt.Errorf("%w: user %s has no credential", types.ErrAuthentication, user.Id)
	}
	expiry := time.Unix(user.ExpiresAt, 0)
	if time.Until(expiry) > t.margin {
		return user.AccessToken, nil
	}
	globals.AppLogger.Debug("refreshing credential", "user", user.Id)
	cred, err := t.client.Refresh(ctx, user.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: refresh failed: %s", types.ErrAuthentication, err)
	}
	user.AccessToken = cred.AccessToken
	user.RefreshToken = cred.RefreshToken
	user.ExpiresAt = cred.ExpiresAt
	// the refresh runs outside the user's transition lock on a
	// possibly stale copy, so only the token fields may be written back
	if err := t.persister.UpdateCredential(user.Id, *cred); err != nil {
		return "", fmt.Errorf("could not persist refreshed credential: %w", err)
	}
	return user.AccessToken, nil
}
