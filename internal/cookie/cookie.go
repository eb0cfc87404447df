package cookie

import (
	"net/http"
	"time"

	"github.com/soratobu/lark-front/internal/envutil"
	"github.com/soratobu/lark-front/internal/log"
)

// Cookie names used in lark-front
const (
	StateCookie     = "oauth_state"
	TokenCookie     = "lark_token"
	RefreshCookie   = "lark_refresh"
	TimestampCookie = "lark_token_timestamp"
	UserCookie      = "lark_user"
)

// Cookie lifetimes. The state cookie only needs to survive the redirect
// round trip to the identity provider.
const (
	StateTTL     = 10 * time.Minute
	TokenTTL     = 7 * 24 * time.Hour
	RefreshTTL   = 30 * 24 * time.Hour
	TimestampTTL = 30 * 24 * time.Hour
	UserTTL      = 7 * 24 * time.Hour
)

// SetState sets the anti-CSRF state cookie. The login flow can originate
// from inside the Lark host app on a different origin, so production uses
// SameSite=None (which requires Secure). Development over plain HTTP falls
// back to Lax.
func SetState(w http.ResponseWriter, value string) {
	sameSite := http.SameSiteNoneMode
	secure := true
	if envutil.IsDev() {
		sameSite = http.SameSiteLaxMode
		secure = false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		MaxAge:   int(StateTTL.Seconds()),
	})

	log.LogTraceWithFields("cookie", "State cookie set", map[string]any{
		"maxAge": StateTTL.String(),
		"secure": secure,
	})
}

// Set sets a session cookie with the standard security attributes.
func Set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// Clear removes a cookie by overwriting it with an empty value and a past
// expiry.
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// ClearState removes the anti-CSRF state cookie
func ClearState(w http.ResponseWriter) {
	Clear(w, StateCookie)
}

// ClearSession removes all session cookies
func ClearSession(w http.ResponseWriter) {
	Clear(w, TokenCookie)
	Clear(w, RefreshCookie)
	Clear(w, TimestampCookie)
	Clear(w, UserCookie)
	log.LogTraceWithFields("cookie", "Session cookies cleared", nil)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetState retrieves the anti-CSRF state cookie value
func GetState(r *http.Request) (string, error) {
	return Get(r, StateCookie)
}
