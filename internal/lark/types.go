package lark

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Lark API error codes we care about
const (
	// CodeAccessTokenExpired is returned by the Lark API when the user
	// access token has expired and must be refreshed.
	CodeAccessTokenExpired = 99991677
)

// ErrMissingAccessToken is returned when the provider accepted the request
// but the token payload has no access token in it.
var ErrMissingAccessToken = errors.New("token response missing access_token")

// APIError represents a non-zero code in the Lark response envelope
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api error %d: %s", e.Code, e.Msg)
}

// IsTokenExpired reports whether err is the Lark "access token expired"
// error. The token refresher uses this to decide on a forced refresh.
func IsTokenExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeAccessTokenExpired
}

// IsUnavailable reports whether err is a transport-level failure (timeout,
// connection refused, cancelled context) rather than a provider rejection.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// envelope is the standard Lark API response wrapper
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// TokenData is the payload of a successful code exchange or token refresh.
// The authen/v1 endpoints return the user profile alongside the tokens,
// which saves a user_info round trip on login.
type TokenData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Name         string `json:"name"`
	AvatarURL    string `json:"avatar_url"`
	OpenID       string `json:"open_id"`
	UnionID      string `json:"union_id,omitempty"`
	TenantKey    string `json:"tenant_key,omitempty"`
}

// UserInfo is the payload of the authen/v1/user_info endpoint
type UserInfo struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	OpenID    string `json:"open_id"`
	UnionID   string `json:"union_id,omitempty"`
	Email     string `json:"email,omitempty"`
	TenantKey string `json:"tenant_key,omitempty"`
}
