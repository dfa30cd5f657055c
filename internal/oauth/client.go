// Package oauth implements the client-credentials flow against the vendor
// token authority, with an in-memory token cache and single-flight refresh.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	// defaultTimeout bounds the token round trip when the caller supplies
	// no deadline of its own.
	defaultTimeout = 15 * time.Second
	// expiryMargin is subtracted from the authority's expires_in so a
	// token is never presented moments before it lapses.
	expiryMargin = 60 * time.Second
	// defaultExpiresIn covers 2xx responses that omit expires_in.
	defaultExpiresIn = 3600

	maxErrorBody = 8 << 10
)

// Credentials identifies one token authority registration.
type Credentials struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scope         string
}

func (c Credentials) cacheKey() string {
	return c.TokenEndpoint + "|" + c.ClientID + "|" + c.Scope
}

// Endpoint builds the vendor token endpoint for a tenant.
func Endpoint(authority, tenantID string) string {
	return fmt.Sprintf("https://%s/%s/oauth2/v2.0/token", authority, tenantID)
}

// AccessToken is a minted bearer credential. Not persisted; scoped to the
// issuing client's cache.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be presented.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// Client mints and caches access tokens keyed by
// (tokenEndpoint, clientID, scope). Concurrent callers asking for the same
// key during a refresh share one in-flight request instead of stampeding
// the authority.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	margin     time.Duration
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]AccessToken
	group singleflight.Group
}

// NewClient creates a token client. A nil httpClient gets a bounded-timeout
// default.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger.With("component", "OAuthClient"),
		margin:     expiryMargin,
		now:        time.Now,
		cache:      make(map[string]AccessToken),
	}
}

// Token returns a cached access token while it remains valid, minting a
// new one otherwise. The cache is written only after a response has fully
// parsed, so cancellation leaves no partial state behind.
func (c *Client) Token(ctx context.Context, creds Credentials) (AccessToken, error) {
	key := creds.cacheKey()

	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()
	if ok && cached.Valid(c.now()) {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have refreshed while we queued.
		c.mu.Lock()
		cached, ok := c.cache[key]
		c.mu.Unlock()
		if ok && cached.Valid(c.now()) {
			return cached, nil
		}

		// The refresh is shared by every waiter on this key, so it must
		// not die with the first caller's context. Detach from the
		// caller's cancellation but keep the round trip bounded.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer cancel()

		token, err := c.fetch(fetchCtx, creds)
		if err != nil {
			return AccessToken{}, err
		}

		c.mu.Lock()
		c.cache[key] = token
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return AccessToken{}, err
	}
	return v.(AccessToken), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) fetch(ctx context.Context, creds Credentials) (AccessToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"scope":         {creds.Scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return AccessToken{}, push.WrapError(push.ErrKindTransportFailure, "build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AccessToken{}, push.WrapError(push.ErrKindTransportFailure, "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return AccessToken{}, push.WrapError(push.ErrKindTransportFailure, "read token response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Token authority rejected request",
			"status", resp.StatusCode, "client_id", creds.ClientID)
		return AccessToken{}, &push.Error{
			Kind:       push.ErrKindAuthFailure,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return AccessToken{}, push.WrapError(push.ErrKindMalformedTokenResponse, "token response is not valid JSON", err)
	}
	if parsed.AccessToken == "" {
		return AccessToken{}, push.NewError(push.ErrKindMalformedTokenResponse, "token response has no access_token")
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	token := AccessToken{
		Value:     parsed.AccessToken,
		ExpiresAt: c.now().Add(time.Duration(expiresIn)*time.Second - c.margin),
	}
	c.logger.Debug("Minted access token", "client_id", creds.ClientID, "expires_at", token.ExpiresAt)
	return token, nil
}

// Source binds credentials to the client for consumers that only need a
// bearer string.
func (c *Client) Source(creds Credentials) TokenSource {
	return TokenSource{client: c, creds: creds}
}

// TokenSource yields bearer values for one credential set.
type TokenSource struct {
	client *Client
	creds  Credentials
}

// Bearer returns a currently valid access token value.
func (s TokenSource) Bearer(ctx context.Context) (string, error) {
	token, err := s.client.Token(ctx, s.creds)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}
