// Package wns delivers raw push payloads over the vendor channel protocol,
// authenticated with OAuth2 client-credentials bearer tokens.
package wns

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-service/internal/results"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	defaultTimeout = 15 * time.Second
	maxResponse    = 8 << 10
)

// TokenSource supplies a currently valid bearer token. The oauth package's
// TokenSource satisfies this; tests substitute a stub.
type TokenSource interface {
	Bearer(ctx context.Context) (string, error)
}

type Dispatcher struct {
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a raw-channel dispatcher. A nil httpClient gets a
// bounded-timeout default.
func NewDispatcher(tokens TokenSource, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Dispatcher{
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger.With("component", "WNSDispatcher"),
	}
}

// rawPayload is the opaque byte payload delivered to the channel. The
// vendor does not interpret it; the receiving app does.
type rawPayload struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

// Dispatch sends one raw notification, one shot. Credential failures and
// transport outcomes are both classified into the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, sub push.DeviceSubscription, msg push.Message) push.Result {
	token, err := d.tokens.Bearer(ctx)
	if err != nil {
		d.logger.Error("Bearer token unavailable", "device_id", sub.DeviceID, "err", err)
		return results.FromError(sub.DeviceID, sub.Endpoint, err)
	}

	payload, err := json.Marshal(rawPayload{Title: msg.Title, Body: msg.Body})
	if err != nil {
		return results.FromError(sub.DeviceID, sub.Endpoint,
			push.WrapError(push.ErrKindUnknown, "marshal payload", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return results.FromError(sub.DeviceID, sub.Endpoint,
			push.WrapError(push.ErrKindInvalidSubscription, "build channel request", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-WNS-Type", "wns/raw")
	req.Header.Set("X-WNS-RequestForStatus", "true")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("Raw send transport error", "device_id", sub.DeviceID, "err", err)
		return results.TransportError(sub.DeviceID, sub.Endpoint, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponse))

	res := results.Classify(sub.DeviceID, sub.Endpoint, resp.StatusCode, resp.Header, body)
	if !res.Success {
		d.logger.Warn("Channel rejected notification",
			"device_id", sub.DeviceID, "status", res.StatusCode, "kind", res.ErrorKind)
	}
	return res
}
