package session

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soratobu/lark-front/internal/cookie"
	"github.com/soratobu/lark-front/internal/log"
)

// User is the profile snapshot cached in the session. It is derived data:
// always re-fetchable from Lark given a valid access token.
type User struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	OpenID    string `json:"open_id"`
}

// Session holds the per-browser authentication state. It lives entirely in
// cookies; the server rebuilds it from the request on every use and treats
// it as untrusted input.
type Session struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	User         User
}

// Authenticated reports whether the session carries a non-blank access
// token. This is a presence check only; staleness is the token refresher's
// concern.
func (s *Session) Authenticated() bool {
	return s != nil && strings.TrimSpace(s.AccessToken) != ""
}

// Store is the narrow session persistence interface. The shipped
// implementation is cookie-backed; the interface exists so a server-side
// store can replace it without touching the token lifecycle logic.
type Store interface {
	Load(r *http.Request) *Session
	Save(w http.ResponseWriter, s *Session)
	Clear(w http.ResponseWriter)
}

// CookieStore persists sessions as a set of HttpOnly cookies. Between
// requests the browser owns the data exclusively; concurrent requests from
// the same browser may race on Save and the last writer wins.
type CookieStore struct{}

// NewCookieStore creates the cookie-backed session store
func NewCookieStore() *CookieStore {
	return &CookieStore{}
}

// Load rebuilds a Session from request cookies. Missing cookies yield an
// empty session rather than an error; the caller decides what absence
// means. A token without a timestamp is treated as freshly issued, matching
// how it would have been written.
func (cs *CookieStore) Load(r *http.Request) *Session {
	s := &Session{}
	s.AccessToken, _ = cookie.Get(r, cookie.TokenCookie)
	s.RefreshToken, _ = cookie.Get(r, cookie.RefreshCookie)

	if raw, err := cookie.Get(r, cookie.TimestampCookie); err == nil && raw != "" {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.IssuedAt = time.UnixMilli(millis)
		}
	}
	if s.IssuedAt.IsZero() && s.AccessToken != "" {
		s.IssuedAt = time.Now()
	}

	if raw, err := cookie.Get(r, cookie.UserCookie); err == nil && raw != "" {
		decoded, err := url.QueryUnescape(raw)
		if err != nil {
			decoded = raw
		}
		if err := json.Unmarshal([]byte(decoded), &s.User); err != nil {
			log.LogDebug("Ignoring malformed user cookie: %v", err)
		}
	}
	return s
}

// Save writes the session cookies. The access token and its issued-at
// timestamp are always written together; a timestamp alone must never be
// trusted. The refresh token cookie is only touched when a refresh token is
// present, so a rotation that omits it keeps the previous one.
func (cs *CookieStore) Save(w http.ResponseWriter, s *Session) {
	cookie.Set(w, cookie.TokenCookie, s.AccessToken, cookie.TokenTTL)
	cookie.Set(w, cookie.TimestampCookie, strconv.FormatInt(s.IssuedAt.UnixMilli(), 10), cookie.TimestampTTL)

	if s.RefreshToken != "" {
		cookie.Set(w, cookie.RefreshCookie, s.RefreshToken, cookie.RefreshTTL)
	}

	userJSON, err := json.Marshal(s.User)
	if err != nil {
		log.LogError("Failed to marshal user profile for cookie: %v", err)
		return
	}
	// JSON is not cookie-safe (quotes, commas); URL-escape it.
	cookie.Set(w, cookie.UserCookie, url.QueryEscape(string(userJSON)), cookie.UserTTL)
}

// Clear destroys the session by overwriting every session cookie with an
// empty value and a past expiry
func (cs *CookieStore) Clear(w http.ResponseWriter) {
	cookie.ClearSession(w)
}
