package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/soratobu/lark-front/internal/auth"
	"github.com/soratobu/lark-front/internal/cookie"
	"github.com/soratobu/lark-front/internal/crypto"
	"github.com/soratobu/lark-front/internal/envutil"
	jsonwriter "github.com/soratobu/lark-front/internal/json"
	"github.com/soratobu/lark-front/internal/lark"
	"github.com/soratobu/lark-front/internal/log"
	"github.com/soratobu/lark-front/internal/session"
)

// LarkAPI is the slice of the Lark client the handlers need. The concrete
// client is injected at construction so tests can swap in a fake.
type LarkAPI interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*lark.TokenData, error)
	ExchangeCodeSilent(ctx context.Context, code string) (*lark.TokenData, error)
	UserInfo(ctx context.Context, accessToken string) (*lark.UserInfo, error)
	RefreshAccessToken(ctx context.Context, accessToken, refreshToken string) (*lark.TokenData, error)
}

// AuthHandlers provides the authentication HTTP handlers with dependency
// injection
type AuthHandlers struct {
	larkClient          LarkAPI
	sessions            session.Store
	skipStateValidation bool
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(larkClient LarkAPI, sessions session.Store, skipStateValidation bool) *AuthHandlers {
	return &AuthHandlers{
		larkClient:          larkClient,
		sessions:            sessions,
		skipStateValidation: skipStateValidation,
	}
}

// GenerateStateHandler issues a fresh anti-CSRF state token. The value is
// returned in the body for the client-side authorize redirect and stored in
// a short-lived HttpOnly cookie for the callback to check against. Any
// previous unconsumed state cookie is overwritten.
func (h *AuthHandlers) GenerateStateHandler(w http.ResponseWriter, r *http.Request) {
	state, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogError("Failed to generate state token: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to generate state")
		return
	}

	cookie.SetState(w, state)
	_ = jsonwriter.Write(w, map[string]string{"state": state})
}

// CallbackHandler completes the redirect-based OAuth flow: validates the
// state parameter against the issued cookie, exchanges the authorization
// code for tokens, establishes the session cookies, and redirects home.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		jsonwriter.WriteBadRequest(w, auth.ErrMissingCode.Error())
		return
	}

	if h.skipStateValidation {
		log.LogWarn("State validation skipped by development override")
	} else if err := h.validateState(w, r, state); err != nil {
		return
	}

	data, err := h.larkClient.ExchangeCode(r.Context(), code)
	if err != nil {
		log.LogErrorWithFields("auth", "Code exchange failed", map[string]any{
			"error": err.Error(),
		})
		// Authorization codes are single-use; no retry can succeed
		if lark.IsUnavailable(err) {
			jsonwriter.WriteError(w, http.StatusInternalServerError, auth.ErrUpstreamUnavailable.Error())
		} else {
			jsonwriter.WriteError(w, http.StatusInternalServerError, auth.ErrUpstreamAuth.Error())
		}
		return
	}

	h.establishSession(w, data)

	log.LogInfoWithFields("auth", "User authenticated via callback", map[string]any{
		"open_id": data.OpenID,
	})

	http.Redirect(w, r, "/", http.StatusFound)
}

// validateState enforces the anti-CSRF state contract. The state cookie is
// single-use: once present it is cleared no matter how the comparison turns
// out, so replaying the same callback URL fails on the missing cookie.
func (h *AuthHandlers) validateState(w http.ResponseWriter, r *http.Request, state string) error {
	if state == "" {
		log.LogError("State parameter missing from callback URL")
		jsonwriter.WriteErrorDebug(w, http.StatusBadRequest, auth.ErrMissingState.Error(), h.stateDebug(r, state))
		return auth.ErrMissingState
	}

	savedState, err := cookie.GetState(r)
	if err != nil || savedState == "" {
		log.LogError("OAuth state cookie not found")
		jsonwriter.WriteErrorDebug(w, http.StatusBadRequest, auth.ErrMissingStateCookie.Error()+"; please try logging in again", h.stateDebug(r, state))
		return auth.ErrMissingStateCookie
	}

	cookie.ClearState(w)

	if !crypto.SecureCompare(state, savedState) {
		log.LogError("State mismatch, possible CSRF attempt")
		jsonwriter.WriteErrorDebug(w, http.StatusBadRequest, auth.ErrStateMismatch.Error(), h.stateDebug(r, state))
		return auth.ErrStateMismatch
	}

	return nil
}

// stateDebug builds the verbose debug payload for state validation
// failures. Development only: state values are CSRF-relevant secrets and
// must never leak from production responses.
func (h *AuthHandlers) stateDebug(r *http.Request, state string) any {
	if !envutil.IsDev() {
		return nil
	}
	savedState, _ := cookie.GetState(r)
	cookieNames := make([]string, 0, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookieNames = append(cookieNames, c.Name)
	}
	return map[string]any{
		"receivedState":    state,
		"savedState":       savedState,
		"availableCookies": cookieNames,
	}
}

// silentAuthRequest is the body posted by client-side code running inside
// the Lark host app
type silentAuthRequest struct {
	Code string `json:"code"`
}

// SilentAuthHandler completes the in-app silent flow. No redirect happens
// in this path, so there is no redirect-based CSRF vector and no state
// check; the code itself is still validated against the Lark API.
func (h *AuthHandlers) SilentAuthHandler(w http.ResponseWriter, r *http.Request) {
	var req silentAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Code) == "" {
		jsonwriter.WriteBadRequest(w, auth.ErrMissingCode.Error())
		return
	}

	data, err := h.larkClient.ExchangeCodeSilent(r.Context(), req.Code)
	if err != nil {
		log.LogErrorWithFields("auth", "Silent exchange failed", map[string]any{
			"error": err.Error(),
		})
		switch {
		case errors.Is(err, lark.ErrMissingAccessToken):
			jsonwriter.WriteUnauthorized(w, auth.ErrUpstreamAuth.Error())
		case lark.IsUnavailable(err):
			jsonwriter.WriteError(w, http.StatusInternalServerError, auth.ErrUpstreamUnavailable.Error())
		default:
			jsonwriter.WriteError(w, http.StatusInternalServerError, auth.ErrUpstreamAuth.Error())
		}
		return
	}

	user := h.establishSession(w, data)

	log.LogInfoWithFields("auth", "User authenticated silently", map[string]any{
		"open_id": data.OpenID,
	})

	_ = jsonwriter.Write(w, map[string]any{
		"success": true,
		"user":    user,
	})
}

// establishSession writes the full session cookie set from a token payload.
// Tokens and the issued-at timestamp are written atomically as one set.
func (h *AuthHandlers) establishSession(w http.ResponseWriter, data *lark.TokenData) session.User {
	user := session.User{
		Name:      data.Name,
		AvatarURL: data.AvatarURL,
		OpenID:    data.OpenID,
	}
	h.sessions.Save(w, &session.Session{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		IssuedAt:     time.Now(),
		User:         user,
	})
	return user
}

// LogoutHandler destroys the session. POST answers with a JSON message for
// XHR callers; GET redirects to the login page for plain links.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)

	if r.Method == http.MethodGet {
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}
	_ = jsonwriter.Write(w, map[string]string{"message": "logged out"})
}

// UserInfoHandler fetches the user's profile from Lark through the token
// refresher, transparently refreshing a stale token and retrying once on a
// mid-call expiry.
func (h *AuthHandlers) UserInfoHandler(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)
	refresher := auth.NewRefresher(h.larkClient, sess)

	var profile *lark.UserInfo
	err := refresher.Do(r.Context(), func(ctx context.Context, token string) error {
		info, err := h.larkClient.UserInfo(ctx, token)
		if err != nil {
			return err
		}
		profile = info
		return nil
	})

	// Rotated tokens must reach the browser even on failure, or the next
	// request pays for another refresh
	if refresher.Rotated() {
		h.sessions.Save(w, sess)
	}

	if err != nil {
		log.LogErrorWithFields("auth", "User info fetch failed", map[string]any{
			"error": err.Error(),
		})
		// Raw upstream error bodies stay out of production responses
		msg := "failed to fetch user info"
		switch {
		case errors.Is(err, auth.ErrNoValidToken):
			msg = auth.ErrNoValidToken.Error()
		case errors.Is(err, auth.ErrRetryExhausted):
			msg = auth.ErrRetryExhausted.Error()
		}
		if envutil.IsDev() {
			msg = err.Error()
		}
		_ = jsonwriter.WriteResponse(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   msg,
		})
		return
	}

	_ = jsonwriter.Write(w, map[string]any{
		"success": true,
		"data":    profile,
	})
}
