package party

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/globals"
	"github.com/tcriess/lightspeed-party/spotify"
	"github.com/tcriess/lightspeed-party/types"
)

// Command is one playback operation against the external API, run with
// a freshly checked token.
type Command func(ctx context.Context, token string) error

// Executor dispatches playback commands with device-transfer recovery:
// a response meaning "no active device" triggers a transfer to the
// user's last known device (without resuming) and a bounded retry of
// the original command.
type Executor struct {
	client   *spotify.Client
	tokens   *Tokens
	attempts int
	delay    time.Duration
}

func NewExecutor(cfg *config.Config, client *spotify.Client, tokens *Tokens) *Executor {
	return &Executor{
		client:   client,
		tokens:   tokens,
		attempts: cfg.PlayerConfig.Attempts(),
		delay:    cfg.PlayerConfig.RetryDelay(),
	}
}

// Execute runs cmd for user. Authentication failures and unrecoverable
// API errors propagate as-is, exhausting the transfer retries yields
// ErrDeviceUnavailable.
func (e *Executor) Execute(ctx context.Context, user *types.User, cmd Command) error {
	var lastErr error
	for attempt := 0; attempt < e.attempts; attempt++ {
		if attempt > 0 {
			// let the device activation settle before retrying
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.delay):
			}
		}
		token, err := e.tokens.Fresh(ctx, user)
		if err != nil {
			return err
		}
		err = cmd(ctx, token)
		if err == nil {
			return nil
		}
		var apiErr *spotify.APIError
		if !errors.As(err, &apiErr) || !apiErr.NoActiveDevice() {
			return err
		}
		lastErr = err
		if attempt == e.attempts-1 {
			// out of retries, a transfer would go unused
			break
		}
		if user.DeviceId == "" {
			// nothing to transfer to
			break
		}
		globals.AppLogger.Debug("no active device, transferring", "user", user.Id, "device", user.DeviceId, "attempt", attempt+1)
		if terr := e.client.Transfer(ctx, token, user.DeviceId, false); terr != nil {
			globals.AppLogger.Debug("device transfer failed", "user", user.Id, "error", terr)
		}
	}
	return fmt.Errorf("%w: %s", types.ErrDeviceUnavailable, lastErr)
}
