package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soratobu/lark-front/internal/auth"
	"github.com/soratobu/lark-front/internal/cookie"
	"github.com/soratobu/lark-front/internal/lark"
	"github.com/soratobu/lark-front/internal/session"
)

// fakeLarkAPI implements LarkAPI with canned responses and call counters
type fakeLarkAPI struct {
	exchangeData   *lark.TokenData
	exchangeErr    error
	exchangeCalls  int
	silentData     *lark.TokenData
	silentErr      error
	silentCalls    int
	userInfoData   *lark.UserInfo
	userInfoErrs   []error // consumed one per call; nil entry means success
	userInfoCalls  int
	refreshData    *lark.TokenData
	refreshErr     error
	refreshCalls   int
}

func (f *fakeLarkAPI) AuthCodeURL(state string) string {
	return "https://open.example.com/authorize?state=" + state
}

func (f *fakeLarkAPI) ExchangeCode(ctx context.Context, code string) (*lark.TokenData, error) {
	f.exchangeCalls++
	return f.exchangeData, f.exchangeErr
}

func (f *fakeLarkAPI) ExchangeCodeSilent(ctx context.Context, code string) (*lark.TokenData, error) {
	f.silentCalls++
	return f.silentData, f.silentErr
}

func (f *fakeLarkAPI) UserInfo(ctx context.Context, accessToken string) (*lark.UserInfo, error) {
	f.userInfoCalls++
	if len(f.userInfoErrs) > 0 {
		err := f.userInfoErrs[0]
		f.userInfoErrs = f.userInfoErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.userInfoData, nil
}

func (f *fakeLarkAPI) RefreshAccessToken(ctx context.Context, accessToken, refreshToken string) (*lark.TokenData, error) {
	f.refreshCalls++
	return f.refreshData, f.refreshErr
}

var tokenData = &lark.TokenData{
	AccessToken:  "at-1",
	RefreshToken: "rt-1",
	Name:         "Ada",
	AvatarURL:    "https://x/a.png",
	OpenID:       "ou_1",
}

func newHandlers(api *fakeLarkAPI) *AuthHandlers {
	return NewAuthHandlers(api, session.NewCookieStore(), false)
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestGenerateStateHandler(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "development")

	h := newHandlers(&fakeLarkAPI{})
	rr := httptest.NewRecorder()
	h.GenerateStateHandler(rr, httptest.NewRequest("GET", "/api/auth/generate-state", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	state, _ := body["state"].(string)
	require.NotEmpty(t, state)

	c := cookieByName(rr.Result().Cookies(), cookie.StateCookie)
	require.NotNil(t, c)
	assert.Equal(t, state, c.Value, "cookie and body must carry the same state")
	assert.True(t, c.HttpOnly)
}

func callbackRequest(code, state, stateCookie string) *http.Request {
	q := url.Values{}
	if code != "" {
		q.Set("code", code)
	}
	if state != "" {
		q.Set("state", state)
	}
	req := httptest.NewRequest("GET", "/api/auth/callback?"+q.Encode(), nil)
	if stateCookie != "" {
		req.AddCookie(&http.Cookie{Name: cookie.StateCookie, Value: stateCookie})
	}
	return req
}

func TestCallbackHappyPath(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "development")

	api := &fakeLarkAPI{exchangeData: tokenData}
	h := newHandlers(api)

	rr := httptest.NewRecorder()
	h.CallbackHandler(rr, callbackRequest("the-code", "abc", "abc"))

	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
	assert.Equal(t, 1, api.exchangeCalls)

	cookies := rr.Result().Cookies()
	tok := cookieByName(cookies, cookie.TokenCookie)
	require.NotNil(t, tok)
	assert.Equal(t, "at-1", tok.Value)
	assert.NotNil(t, cookieByName(cookies, cookie.RefreshCookie))
	assert.NotNil(t, cookieByName(cookies, cookie.TimestampCookie))
	assert.NotNil(t, cookieByName(cookies, cookie.UserCookie))

	// The state cookie is consumed
	state := cookieByName(cookies, cookie.StateCookie)
	require.NotNil(t, state)
	assert.Empty(t, state.Value)
	assert.Negative(t, state.MaxAge)
}

func TestCallbackValidation(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "production")

	tests := []struct {
		name        string
		code        string
		state       string
		stateCookie string
		wantMsg     string
	}{
		{"missing code", "", "abc", "abc", auth.ErrMissingCode.Error()},
		{"missing state param", "the-code", "", "abc", auth.ErrMissingState.Error()},
		{"missing state cookie", "the-code", "abc", "", auth.ErrMissingStateCookie.Error()},
		{"state mismatch", "the-code", "abc", "xyz", auth.ErrStateMismatch.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeLarkAPI{exchangeData: tokenData}
			h := newHandlers(api)

			rr := httptest.NewRecorder()
			h.CallbackHandler(rr, callbackRequest(tt.code, tt.state, tt.stateCookie))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantMsg)
			assert.Zero(t, api.exchangeCalls, "no exchange on a rejected callback")
			// No debug payload outside development
			assert.NotContains(t, rr.Body.String(), "receivedState")
		})
	}
}

func TestCallbackReplayFailsOnConsumedState(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "development")

	api := &fakeLarkAPI{exchangeData: tokenData}
	h := newHandlers(api)

	rr := httptest.NewRecorder()
	h.CallbackHandler(rr, callbackRequest("the-code", "abc", "abc"))
	require.Equal(t, http.StatusFound, rr.Code)

	// Replay the same callback without the state cookie the browser no
	// longer has
	rr = httptest.NewRecorder()
	h.CallbackHandler(rr, callbackRequest("the-code", "abc", ""))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), auth.ErrMissingStateCookie.Error())
	assert.Equal(t, 1, api.exchangeCalls)
}

func TestCallbackStateCookieConsumedOnMismatch(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "production")

	h := newHandlers(&fakeLarkAPI{})
	rr := httptest.NewRecorder()
	h.CallbackHandler(rr, callbackRequest("the-code", "attacker", "issued"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	c := cookieByName(rr.Result().Cookies(), cookie.StateCookie)
	require.NotNil(t, c, "state cookie must be cleared even on mismatch")
	assert.Empty(t, c.Value)
	assert.Negative(t, c.MaxAge)
}

func TestCallbackSkipStateValidation(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "development")

	api := &fakeLarkAPI{exchangeData: tokenData}
	h := NewAuthHandlers(api, session.NewCookieStore(), true)

	rr := httptest.NewRecorder()
	h.CallbackHandler(rr, callbackRequest("the-code", "", ""))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, 1, api.exchangeCalls)
}

func TestCallbackExchangeFailures(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "production")

	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"provider rejection", &lark.APIError{Code: 20003, Msg: "invalid code"}, auth.ErrUpstreamAuth.Error()},
		{"provider unreachable", &url.Error{Op: "Post", URL: "https://open.example.com", Err: context.DeadlineExceeded}, auth.ErrUpstreamUnavailable.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeLarkAPI{exchangeErr: tt.err}
			h := newHandlers(api)

			rr := httptest.NewRecorder()
			h.CallbackHandler(rr, callbackRequest("the-code", "abc", "abc"))

			assert.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantMsg)
			assert.Equal(t, 1, api.exchangeCalls, "single-use codes are never re-exchanged")
		})
	}
}

func TestSilentAuthHappyPath(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "development")

	api := &fakeLarkAPI{silentData: tokenData}
	h := newHandlers(api)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/auth/silent", strings.NewReader(`{"code":"in-app-code"}`))
	h.SilentAuthHandler(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	user, _ := body["user"].(map[string]any)
	require.NotNil(t, user)
	assert.Equal(t, "Ada", user["name"])

	assert.NotNil(t, cookieByName(rr.Result().Cookies(), cookie.TokenCookie))
	assert.Equal(t, 1, api.silentCalls)
}

func TestSilentAuthBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"missing code", `{}`},
		{"blank code", `{"code":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeLarkAPI{silentData: tokenData}
			h := newHandlers(api)

			rr := httptest.NewRecorder()
			h.SilentAuthHandler(rr, httptest.NewRequest("POST", "/api/auth/silent", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Zero(t, api.silentCalls)
		})
	}
}

func TestSilentAuthFailures(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "production")

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"missing token in payload", lark.ErrMissingAccessToken, http.StatusUnauthorized},
		{"provider unreachable", &url.Error{Op: "Post", URL: "x", Err: context.DeadlineExceeded}, http.StatusInternalServerError},
		{"provider rejection", &lark.APIError{Code: 20003, Msg: "bad"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlers(&fakeLarkAPI{silentErr: tt.err})

			rr := httptest.NewRecorder()
			h.SilentAuthHandler(rr, httptest.NewRequest("POST", "/api/auth/silent", strings.NewReader(`{"code":"c"}`)))

			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestLogoutPost(t *testing.T) {
	h := newHandlers(&fakeLarkAPI{})
	rr := httptest.NewRecorder()
	h.LogoutHandler(rr, httptest.NewRequest("POST", "/api/auth/logout", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"message": "logged out"}, decodeBody(t, rr))

	for _, name := range []string{cookie.TokenCookie, cookie.RefreshCookie, cookie.TimestampCookie, cookie.UserCookie} {
		c := cookieByName(rr.Result().Cookies(), name)
		require.NotNil(t, c, "expected %s cleared", name)
		assert.Negative(t, c.MaxAge)
	}
}

func TestLogoutGetRedirects(t *testing.T) {
	h := newHandlers(&fakeLarkAPI{})
	rr := httptest.NewRecorder()
	h.LogoutHandler(rr, httptest.NewRequest("GET", "/api/auth/logout", nil))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, LoginPath, rr.Header().Get("Location"))
}

func sessionRequest(accessToken, refreshToken string, issuedAt time.Time) *http.Request {
	req := httptest.NewRequest("GET", "/api/lark/user-info", nil)
	if accessToken != "" {
		req.AddCookie(&http.Cookie{Name: cookie.TokenCookie, Value: accessToken})
	}
	if refreshToken != "" {
		req.AddCookie(&http.Cookie{Name: cookie.RefreshCookie, Value: refreshToken})
	}
	if !issuedAt.IsZero() {
		req.AddCookie(&http.Cookie{
			Name:  cookie.TimestampCookie,
			Value: millis(issuedAt),
		})
	}
	return req
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func TestUserInfoFreshToken(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "development")

	api := &fakeLarkAPI{userInfoData: &lark.UserInfo{Name: "Ada", OpenID: "ou_1"}}
	h := newHandlers(api)

	rr := httptest.NewRecorder()
	h.UserInfoHandler(rr, sessionRequest("at", "rt", time.Now()))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, api.userInfoCalls)
	assert.Zero(t, api.refreshCalls)
	assert.Nil(t, cookieByName(rr.Result().Cookies(), cookie.TokenCookie),
		"no cookie write-back when nothing rotated")
}

func TestUserInfoStaleTokenRefreshes(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "development")

	api := &fakeLarkAPI{
		userInfoData: &lark.UserInfo{Name: "Ada"},
		refreshData:  &lark.TokenData{AccessToken: "new-at", RefreshToken: "new-rt"},
	}
	h := newHandlers(api)

	rr := httptest.NewRecorder()
	h.UserInfoHandler(rr, sessionRequest("old-at", "rt", time.Now().Add(-2*time.Hour)))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, api.refreshCalls)

	tok := cookieByName(rr.Result().Cookies(), cookie.TokenCookie)
	require.NotNil(t, tok, "rotated tokens must be written back")
	assert.Equal(t, "new-at", tok.Value)
}

func TestUserInfoRetriesOnMidCallExpiry(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "development")

	api := &fakeLarkAPI{
		userInfoErrs: []error{&lark.APIError{Code: lark.CodeAccessTokenExpired, Msg: "expired"}, nil},
		userInfoData: &lark.UserInfo{Name: "Ada"},
		refreshData:  &lark.TokenData{AccessToken: "new-at", RefreshToken: "new-rt"},
	}
	h := newHandlers(api)

	rr := httptest.NewRecorder()
	h.UserInfoHandler(rr, sessionRequest("at", "rt", time.Now()))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, api.userInfoCalls)
	assert.Equal(t, 1, api.refreshCalls)
	require.NotNil(t, cookieByName(rr.Result().Cookies(), cookie.TokenCookie))
}

func TestUserInfoRetryExhausted(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "production")

	expired := &lark.APIError{Code: lark.CodeAccessTokenExpired, Msg: "expired"}
	api := &fakeLarkAPI{
		userInfoErrs: []error{expired, expired},
		refreshData:  &lark.TokenData{AccessToken: "new-at", RefreshToken: "new-rt"},
	}
	h := newHandlers(api)

	rr := httptest.NewRecorder()
	h.UserInfoHandler(rr, sessionRequest("at", "rt", time.Now()))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, auth.ErrRetryExhausted.Error(), body["error"])
	assert.Equal(t, 2, api.userInfoCalls)
	assert.Equal(t, 1, api.refreshCalls)

	// The rotated token still reaches the browser despite the failure
	tok := cookieByName(rr.Result().Cookies(), cookie.TokenCookie)
	require.NotNil(t, tok)
	assert.Equal(t, "new-at", tok.Value)
}

func TestUserInfoNoSession(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "production")

	api := &fakeLarkAPI{}
	h := newHandlers(api)

	rr := httptest.NewRecorder()
	h.UserInfoHandler(rr, httptest.NewRequest("GET", "/api/lark/user-info", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, auth.ErrNoValidToken.Error(), body["error"])
	assert.Zero(t, api.userInfoCalls)
	assert.Zero(t, api.refreshCalls)
}

func TestUserInfoErrorDetailHiddenInProduction(t *testing.T) {
	t.Setenv("LARK_FRONT_ENV", "production")

	api := &fakeLarkAPI{userInfoErrs: []error{errors.New("secret upstream detail")}}
	h := newHandlers(api)

	rr := httptest.NewRecorder()
	h.UserInfoHandler(rr, sessionRequest("at", "rt", time.Now()))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret upstream detail")
}
