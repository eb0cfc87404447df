package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soratobu/lark-front/internal/lark"
	"github.com/soratobu/lark-front/internal/log"
	"github.com/soratobu/lark-front/internal/session"
)

// StalenessThreshold is how long an access token is trusted without
// re-validation. Lark user access tokens live for 2 hours; refreshing at 90
// minutes keeps a comfortable margin.
const StalenessThreshold = 90 * time.Minute

// RefreshClient is the slice of the Lark client the refresher needs
type RefreshClient interface {
	RefreshAccessToken(ctx context.Context, accessToken, refreshToken string) (*lark.TokenData, error)
}

// Refresher manages the access token lifecycle for one request. It is built
// fresh from the session cookies, mutates the session in place when tokens
// rotate, and is discarded when the request ends. The handler must persist
// the session before responding whenever Rotated reports true, or the next
// request will refresh again for nothing.
type Refresher struct {
	client  RefreshClient
	session *session.Session
	rotated bool
}

// NewRefresher creates a refresher bound to the given session
func NewRefresher(client RefreshClient, sess *session.Session) *Refresher {
	return &Refresher{
		client:  client,
		session: sess,
	}
}

// Rotated reports whether the token pair was replaced and the session needs
// to be written back
func (r *Refresher) Rotated() bool {
	return r.rotated
}

// ValidToken returns an access token believed to be usable. A present,
// non-blank token younger than the staleness threshold is returned as is;
// otherwise the refresh token is exchanged for a new pair. ErrNoValidToken
// means the session cannot be silently renewed.
func (r *Refresher) ValidToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(r.session.AccessToken) != "" && time.Since(r.session.IssuedAt) < StalenessThreshold {
		return r.session.AccessToken, nil
	}

	if strings.TrimSpace(r.session.RefreshToken) == "" {
		return "", ErrNoValidToken
	}

	log.LogDebugWithFields("auth", "Refreshing access token", map[string]any{
		"open_id": r.session.User.OpenID,
	})

	data, err := r.client.RefreshAccessToken(ctx, r.session.AccessToken, r.session.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoValidToken, err)
	}

	r.session.AccessToken = data.AccessToken
	r.session.RefreshToken = data.RefreshToken
	r.session.IssuedAt = time.Now()
	r.rotated = true

	return r.session.AccessToken, nil
}

// Do runs a unit of work with a currently valid token. If the work fails
// with the provider's "token expired" code, the cached issued-at is reset so
// ValidToken falls through to a refresh, and the work runs exactly once
// more. Token expiry can race between the validity check and use, which is
// why one retry exists; more would loop forever against a permanently
// invalid token.
func (r *Refresher) Do(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	token, err := r.ValidToken(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, token)
	if err == nil {
		return nil
	}
	if !lark.IsTokenExpired(err) {
		return err
	}

	log.LogDebugWithFields("auth", "Token expired mid-call, forcing refresh", map[string]any{
		"open_id": r.session.User.OpenID,
	})

	// Force the staleness check to fail so ValidToken refreshes
	r.session.IssuedAt = time.Time{}

	token, err = r.ValidToken(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, token)
	if err == nil {
		return nil
	}
	if lark.IsTokenExpired(err) {
		return fmt.Errorf("%w: %v", ErrRetryExhausted, err)
	}
	return err
}
