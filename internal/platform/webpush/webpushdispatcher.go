// Package webpush delivers notifications over the standards-based Web Push
// protocol, authenticated with per-send VAPID JWTs.
package webpush

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tinywideclouds/go-push-service/internal/results"
	"github.com/tinywideclouds/go-push-service/internal/vapid"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	defaultTimeout = 15 * time.Second
	maxResponse    = 8 << 10
)

type Dispatcher struct {
	subject    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a Web Push dispatcher. The subject is the VAPID
// `sub` claim, a mailto: or https: contact URI for the push authority.
func NewDispatcher(subject string, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Dispatcher{
		subject:    subject,
		httpClient: httpClient,
		logger:     logger.With("component", "WebPushDispatcher"),
	}
}

// Dispatch sends one VAPID-authenticated push, one shot. The subscription
// carries only the private key; the public half is re-derived here, and a
// fresh JWT is minted per send — never cached, never reused across
// audiences.
//
// When the subscription has client encryption secrets and the message a
// body, the payload travels encrypted (RFC 8291). Otherwise an empty-body
// wake-up push is sent, which is valid per the Web Push spec.
func (d *Dispatcher) Dispatch(ctx context.Context, sub push.DeviceSubscription, msg push.Message) push.Result {
	key, err := vapid.ParsePrivateKey(sub.PrivateKeyB64)
	if err != nil {
		d.logger.Error("Subscription key unusable", "device_id", sub.DeviceID, "err", err)
		return results.FromError(sub.DeviceID, sub.Endpoint, err)
	}
	publicKeyB64 := base64.RawURLEncoding.EncodeToString(vapid.DerivePublicKey(key))

	audience, err := vapid.Audience(sub.Endpoint)
	if err != nil {
		return results.FromError(sub.DeviceID, sub.Endpoint, err)
	}
	jwt, err := vapid.SignJWT(audience, d.subject, key)
	if err != nil {
		d.logger.Error("VAPID signing failed", "device_id", sub.DeviceID, "err", err)
		return results.FromError(sub.DeviceID, sub.Endpoint, err)
	}

	var body []byte
	var encrypted *EncryptedMessage
	if msg.Body != "" && sub.P256dh != "" && sub.Auth != "" {
		payload, merr := json.Marshal(map[string]string{"title": msg.Title, "body": msg.Body})
		if merr != nil {
			return results.FromError(sub.DeviceID, sub.Endpoint,
				push.WrapError(push.ErrKindUnknown, "marshal payload", merr))
		}
		encrypted, err = Encrypt(payload, sub.P256dh, sub.Auth)
		if err != nil {
			d.logger.Error("Payload encryption failed", "device_id", sub.DeviceID, "err", err)
			return results.FromError(sub.DeviceID, sub.Endpoint, err)
		}
		body = encrypted.Ciphertext
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return results.FromError(sub.DeviceID, sub.Endpoint,
			push.WrapError(push.ErrKindInvalidSubscription, "build push request", err))
	}
	req.Header.Set("Authorization", fmt.Sprintf("vapid t=%s, k=%s", jwt, publicKeyB64))
	req.Header.Set("TTL", strconv.Itoa(msg.TTL))
	if msg.Urgency != "" {
		req.Header.Set("Urgency", string(msg.Urgency))
	}
	if encrypted != nil {
		req.Header.Set("Content-Encoding", "aes128gcm")
		req.Header.Set("Crypto-Key", fmt.Sprintf("dh=%s; p256ecdsa=%s",
			base64.RawURLEncoding.EncodeToString(encrypted.EphemeralPublicKey), publicKeyB64))
		req.Header.Set("Encryption", "salt="+base64.RawURLEncoding.EncodeToString(encrypted.Salt))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("Web Push transport error", "device_id", sub.DeviceID, "err", err)
		return results.TransportError(sub.DeviceID, sub.Endpoint, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponse))

	res := results.Classify(sub.DeviceID, sub.Endpoint, resp.StatusCode, resp.Header, respBody)
	if !res.Success {
		d.logger.Warn("Push authority rejected notification",
			"device_id", sub.DeviceID, "status", res.StatusCode, "kind", res.ErrorKind)
	}
	return res
}
