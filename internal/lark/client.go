package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/soratobu/lark-front/internal/log"
	"golang.org/x/oauth2"
)

const (
	accessTokenPath   = "/open-apis/authen/v1/access_token"
	refreshTokenPath  = "/open-apis/authen/v1/refresh_access_token"
	userInfoPath      = "/open-apis/authen/v1/user_info"
	authorizePath     = "/open-apis/authen/v1/authorize"
	passportTokenPath = "/suite/passport/oauth/token"
)

// Client calls the Lark open platform API on behalf of one app. It is
// explicitly constructed and passed into handlers; there is no process-wide
// client instance.
type Client struct {
	appID           string
	appSecret       string
	baseURL         string
	passportBaseURL string
	httpClient      *http.Client
	oauthConfig     oauth2.Config
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the HTTP timeout for all provider calls
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client (mock transports in tests)
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBaseURL overrides the Lark API base URL (Feishu deployments, tests)
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithPassportBaseURL overrides the passport (standard OAuth2) base URL
func WithPassportBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.passportBaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// NewClient creates a Lark API client for the given app credentials.
func NewClient(appID, appSecret, redirectURI string, opts ...Option) *Client {
	c := &Client{
		appID:     appID,
		appSecret: appSecret,
		baseURL:   "https://open.larksuite.com",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.passportBaseURL == "" {
		c.passportBaseURL = derivePassportBaseURL(c.baseURL)
	}

	c.oauthConfig = oauth2.Config{
		ClientID:     appID,
		ClientSecret: appSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.baseURL + authorizePath,
			TokenURL:  c.passportBaseURL + passportTokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return c
}

// derivePassportBaseURL maps an open platform host to its passport host,
// e.g. open.larksuite.com -> passport.larksuite.com.
func derivePassportBaseURL(baseURL string) string {
	if strings.Contains(baseURL, "open.") {
		return strings.Replace(baseURL, "open.", "passport.", 1)
	}
	return baseURL
}

// AuthCodeURL builds the interactive authorization URL for the given state.
// Lark's authorize endpoint reads app_id rather than the standard client_id,
// so both are included.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauthConfig.AuthCodeURL(state, oauth2.SetAuthURLParam("app_id", c.appID))
}

// ExchangeCode exchanges an authorization code for tokens via the authen/v1
// endpoint. Authorization codes are single-use; this call is never retried.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenData, error) {
	body := map[string]string{
		"grant_type": "authorization_code",
		"code":       code,
	}
	var data TokenData
	if err := c.post(ctx, accessTokenPath, "", body, &data); err != nil {
		return nil, err
	}
	if data.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	return &data, nil
}

// RefreshAccessToken exchanges a refresh token for a new token pair. The
// current access token is sent as bearer auth; Lark tolerates it being stale.
func (c *Client) RefreshAccessToken(ctx context.Context, accessToken, refreshToken string) (*TokenData, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	var data TokenData
	if err := c.post(ctx, refreshTokenPath, accessToken, body, &data); err != nil {
		return nil, err
	}
	if data.AccessToken == "" || data.RefreshToken == "" {
		return nil, ErrMissingAccessToken
	}
	return &data, nil
}

// UserInfo fetches the authenticated user's profile
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+userInfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	var info UserInfo
	if err := c.do(req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// post sends a JSON body to a Lark authen endpoint and decodes the data
// payload into out
func (c *Client) post(ctx context.Context, path, accessToken string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return c.do(req, out)
}

// do executes the request and unwraps the {code, msg, data} envelope
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	var raw struct {
		envelope
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decoding response from %s: %w", req.URL.Path, err)
	}

	if raw.Code != 0 {
		log.LogDebugWithFields("lark", "API returned error code", map[string]any{
			"path": req.URL.Path,
			"code": raw.Code,
		})
		return &APIError{Code: raw.Code, Msg: raw.Msg}
	}

	if out != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, out); err != nil {
			return fmt.Errorf("decoding data from %s: %w", req.URL.Path, err)
		}
	}
	return nil
}
