package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/globals"
)

const (
	defaultAccountsURL = "https://accounts.spotify.com"
	defaultAPIURL      = "https://api.spotify.com/v1"

	trackCacheSize = 512
)

// Client talks to the Spotify accounts service and Web API. AccountsURL
// and APIURL are variable so tests can point the client at httptest
// servers.
type Client struct {
	httpClient   *http.Client
	clientId     string
	clientSecret string

	AccountsURL string
	APIURL      string

	trackCache *lru.Cache // uri -> trackInfo
}

func NewClient(cfg *config.Config) *Client {
	cache, _ := lru.New(trackCacheSize)
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		clientId:     cfg.SpotifyConfig.ClientId,
		clientSecret: cfg.SpotifyConfig.ClientSecret,
		AccountsURL:  defaultAccountsURL,
		APIURL:       defaultAPIURL,
		trackCache:   cache,
	}
}

// APIError is an unrecoverable non-2xx response from the Web API.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify api error %d: %s", e.Status, e.Message)
}

// NoActiveDevice reports whether the error means the account has no
// active playback device. The API signals this inconsistently as 401,
// 403 or 404 depending on the endpoint.
func (e *APIError) NoActiveDevice() bool {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

type apiErrorResponse struct {
	ErrorInfo struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// request performs one authenticated call against the Web API. A 429
// response is waited out for the duration of the Retry-After header and
// the call is repeated, there is no attempt cap on this path (the
// context is the only way out). 204 yields an empty result.
func (c *Client) request(ctx context.Context, token, method, path string, body, result interface{}) error {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not marshal request body: %w", err)
		}
	}

	for {
		var bodyReader io.Reader
		if jsonBody != nil {
			bodyReader = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.APIURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("could not create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("could not read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp)
			globals.AppLogger.Warn("rate limited", "path", path, "retry_after", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		if resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if resp.StatusCode >= 400 {
			var apiErr apiErrorResponse
			if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.ErrorInfo.Status != 0 {
				return &APIError{Status: apiErr.ErrorInfo.Status, Message: apiErr.ErrorInfo.Message}
			}
			return &APIError{Status: resp.StatusCode, Message: string(respBody)}
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("could not parse response: %w", err)
			}
		}
		return nil
	}
}

func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// buildURL appends query parameters to an API path.
func buildURL(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}
	u, _ := url.Parse(path)
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
