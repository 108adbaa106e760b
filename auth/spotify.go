package auth

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/folkengine/goname"
	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/globals"
	"github.com/tcriess/lightspeed-party/persistence"
	"github.com/tcriess/lightspeed-party/spotify"
	"github.com/tcriess/lightspeed-party/types"
)

const (
	stateCookie = "lsparty_state"
	userCookie  = "lsparty_user"

	// playback control needs the full player scope set
	oauthScope = "streaming user-read-email user-read-private user-read-playback-state user-modify-playback-state"
)

// Service runs the Spotify OAuth flow. A user record is created on the
// first successful callback and updated in place on every following
// login, existing room state is never touched by a login.
type Service struct {
	cfg       *config.Config
	client    *spotify.Client
	persister persistence.Persister
}

func NewService(cfg *config.Config, client *spotify.Client, persister persistence.Persister) *Service {
	return &Service{cfg: cfg, client: client, persister: persister}
}

func stateToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// LoginHandler redirects to the Spotify authorization page.
func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state := stateToken()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
	})
	query := url.Values{}
	query.Set("client_id", s.cfg.SpotifyConfig.ClientId)
	query.Set("response_type", "code")
	query.Set("redirect_uri", s.cfg.SpotifyConfig.RedirectUrl)
	query.Set("state", state)
	query.Set("scope", oauthScope)
	http.Redirect(w, r, s.client.AccountsURL+"/authorize?"+query.Encode(), http.StatusTemporaryRedirect)
}

// CallbackHandler finishes the flow: state check, code exchange,
// profile fetch, user upsert, session cookie.
func (s *Service) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, "authorization failed: "+errMsg, http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	cred, err := s.client.Exchange(r.Context(), code, s.cfg.SpotifyConfig.RedirectUrl)
	if err != nil {
		globals.AppLogger.Error("could not exchange code", "error", err)
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	profile, err := s.client.Me(r.Context(), cred.AccessToken)
	if err != nil {
		globals.AppLogger.Error("could not fetch profile", "error", err)
		http.Error(w, "profile fetch failed", http.StatusBadGateway)
		return
	}
	displayName := profile.DisplayName
	if displayName == "" {
		displayName = goname.New(goname.FantasyMap).FirstLast() + " (guest)"
	}
	user, err := s.persister.AddOrUpdateUser(profile.Id, displayName, *cred)
	if err != nil {
		globals.AppLogger.Error("could not store user", "error", err)
		http.Error(w, "could not store user", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     userCookie,
		Value:    user.Id,
		Path:     "/",
		HttpOnly: true,
	})
	globals.AppLogger.Info("user logged in", "user", user.Id)
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// CurrentUser resolves the request's session cookie to a user, nil when
// unauthenticated.
func (s *Service) CurrentUser(r *http.Request) (*types.User, error) {
	cookie, err := r.Cookie(userCookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return s.persister.GetUser(cookie.Value)
}
