package lark

import (
	"context"

	"github.com/soratobu/lark-front/internal/log"
	"golang.org/x/oauth2"
)

// exchangeStrategy is one way of turning an authorization code into tokens.
// The silent flow tries an ordered list of strategies; the first success
// short-circuits. These are independent transports, not retries of the same
// request: an authorization code consumed by a failed authen call may still
// be redeemable through the passport endpoint.
type exchangeStrategy interface {
	name() string
	exchange(ctx context.Context, code string) (*TokenData, error)
}

// authenExchange calls the authen/v1 access_token endpoint directly
type authenExchange struct {
	client *Client
}

func (s *authenExchange) name() string { return "authen" }

func (s *authenExchange) exchange(ctx context.Context, code string) (*TokenData, error) {
	return s.client.ExchangeCode(ctx, code)
}

// passportExchange goes through Lark's standard-OAuth2 passport token
// endpoint, then fills the profile with a user_info call.
type passportExchange struct {
	client *Client
}

func (s *passportExchange) name() string { return "passport" }

func (s *passportExchange) exchange(ctx context.Context, code string) (*TokenData, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client.httpClient)
	token, err := s.client.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}

	info, err := s.client.UserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return &TokenData{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Name:         info.Name,
		AvatarURL:    info.AvatarURL,
		OpenID:       info.OpenID,
		UnionID:      info.UnionID,
		TenantKey:    info.TenantKey,
	}, nil
}

// ExchangeCodeSilent exchanges a code posted from inside the Lark host app.
// It tries the authen endpoint first and falls back to the passport
// endpoint; the last error is returned when every strategy fails.
func (c *Client) ExchangeCodeSilent(ctx context.Context, code string) (*TokenData, error) {
	strategies := []exchangeStrategy{
		&authenExchange{client: c},
		&passportExchange{client: c},
	}

	var lastErr error
	for _, strategy := range strategies {
		data, err := strategy.exchange(ctx, code)
		if err == nil {
			return data, nil
		}
		log.LogDebugWithFields("lark", "Silent exchange strategy failed", map[string]any{
			"strategy": strategy.name(),
			"error":    err.Error(),
		})
		lastErr = err
	}
	return nil, lastErr
}
