package oauth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/oauth"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCreds(endpoint string) oauth.Credentials {
	return oauth.Credentials{
		TokenEndpoint: endpoint,
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		Scope:         "https://wns.windows.com/.default",
	}
}

func TestTokenCaching(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostFormValue("grant_type"))
		assert.Equal(t, "client-1", r.PostFormValue("client_id"))
		assert.Equal(t, "secret-1", r.PostFormValue("client_secret"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "tok-abc", "token_type": "Bearer", "expires_in": 3600}`))
	}))
	defer server.Close()

	client := oauth.NewClient(server.Client(), newTestLogger())
	creds := testCreds(server.URL)
	ctx := context.Background()

	first, err := client.Token(ctx, creds)
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", first.Value)
	assert.True(t, first.Valid(time.Now()))

	// Second call within the token's lifetime must hit the cache.
	second, err := client.Token(ctx, creds)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), requests.Load())

	// A different scope is a different cache entry.
	other := creds
	other.Scope = "other-scope"
	_, err = client.Token(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests.Load())
}

func TestTokenRefreshAfterExpiry(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		// expires_in of 60s collapses to an immediately stale token once
		// the safety margin is subtracted.
		_, _ = w.Write([]byte(`{"access_token": "tok-short", "expires_in": 60}`))
	}))
	defer server.Close()

	client := oauth.NewClient(server.Client(), newTestLogger())
	creds := testCreds(server.URL)
	ctx := context.Background()

	_, err := client.Token(ctx, creds)
	require.NoError(t, err)
	_, err = client.Token(ctx, creds)
	require.NoError(t, err)

	assert.Equal(t, int64(2), requests.Load(), "stale token must be refetched")
}

func TestTokenAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid_client"}`))
	}))
	defer server.Close()

	client := oauth.NewClient(server.Client(), newTestLogger())
	_, err := client.Token(context.Background(), testCreds(server.URL))

	require.Error(t, err)
	assert.True(t, push.IsKind(err, push.ErrKindAuthFailure))
	assert.Equal(t, http.StatusUnauthorized, push.StatusOf(err))
	assert.Contains(t, err.Error(), "invalid_client")
}

func TestTokenMalformedResponses(t *testing.T) {
	t.Run("Not JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>definitely not json</html>`))
		}))
		defer server.Close()

		client := oauth.NewClient(server.Client(), newTestLogger())
		_, err := client.Token(context.Background(), testCreds(server.URL))
		assert.True(t, push.IsKind(err, push.ErrKindMalformedTokenResponse))
	})

	t.Run("Missing access_token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"token_type": "Bearer", "expires_in": 3600}`))
		}))
		defer server.Close()

		client := oauth.NewClient(server.Client(), newTestLogger())
		_, err := client.Token(context.Background(), testCreds(server.URL))
		assert.True(t, push.IsKind(err, push.ErrKindMalformedTokenResponse))
	})

	t.Run("Failure is not cached", func(t *testing.T) {
		var requests atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"access_token": "tok-recovered", "expires_in": 3600}`))
		}))
		defer server.Close()

		client := oauth.NewClient(server.Client(), newTestLogger())
		creds := testCreds(server.URL)

		_, err := client.Token(context.Background(), creds)
		require.Error(t, err)

		token, err := client.Token(context.Background(), creds)
		require.NoError(t, err)
		assert.Equal(t, "tok-recovered", token.Value)
	})
}

func TestTokenSingleFlight(t *testing.T) {
	var requests atomic.Int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"access_token": "tok-shared", "expires_in": 3600}`))
	}))
	defer server.Close()

	client := oauth.NewClient(server.Client(), newTestLogger())
	creds := testCreds(server.URL)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Token(context.Background(), creds)
		}(i)
	}

	// Give the goroutines time to pile up behind the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, requests.Load(), int64(2), "concurrent callers must share a refresh")
}

func TestTokenRefreshSurvivesCallerCancellation(t *testing.T) {
	var requests atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			close(started)
		}
		<-release
		_, _ = w.Write([]byte(`{"access_token": "tok-detached", "expires_in": 3600}`))
	}))
	defer server.Close()

	client := oauth.NewClient(server.Client(), newTestLogger())
	creds := testCreds(server.URL)

	// The first caller starts the refresh, then cancels while the request
	// is in flight.
	firstCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = client.Token(firstCtx, creds)
	}()

	<-started
	cancel()

	// A waiter that joined the same flight still gets a token: the shared
	// fetch is detached from the first caller's context.
	var waiterToken oauth.AccessToken
	var waiterErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		waiterToken, waiterErr = client.Token(context.Background(), creds)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, waiterErr)
	assert.Equal(t, "tok-detached", waiterToken.Value)
}

func TestEndpoint(t *testing.T) {
	got := oauth.Endpoint("login.microsoftonline.com", "tenant-123")
	assert.Equal(t, "https://login.microsoftonline.com/tenant-123/oauth2/v2.0/token", got)
}

func TestSourceBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "tok-bearer", "expires_in": 3600}`))
	}))
	defer server.Close()

	client := oauth.NewClient(server.Client(), newTestLogger())
	source := client.Source(testCreds(server.URL))

	bearer, err := source.Bearer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-bearer", bearer)
}
