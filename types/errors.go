package types

import "errors"

// Error taxonomy of the session engine. Callers match with errors.Is,
// the external API additionally surfaces *spotify.APIError for
// unrecoverable non-2xx responses.
var (
	ErrAuthentication    = errors.New("authentication required")
	ErrAuthorization     = errors.New("operation not allowed")
	ErrValidation        = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrDeviceUnavailable = errors.New("playback device unavailable")
)
