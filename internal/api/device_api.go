// Package api exposes the HTTP surface: device registration for both
// protocols, sends, listing, and removal.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-service/internal/vapid"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// MessageSender is what the API needs from the sender orchestration.
type MessageSender interface {
	Send(ctx context.Context, deviceID string, msg push.Message) (push.Result, error)
	SendAll(ctx context.Context, msg push.Message) ([]push.Result, error)
}

type DeviceAPI struct {
	Store  dispatch.DeviceStore
	Sender MessageSender
	Logger *slog.Logger
}

func NewDeviceAPI(store dispatch.DeviceStore, sender MessageSender, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Store:  store,
		Sender: sender,
		Logger: logger,
	}
}

// --- Registration: raw channel ---

type RegisterRequest struct {
	DeviceID   string `json:"deviceId"`
	ChannelURI string `json:"channelUri"`
	UserID     string `json:"userId"`
}

type RegisterResponse struct {
	Success      bool      `json:"success"`
	DeviceID     string    `json:"deviceId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Register handles POST /register. The protocol is classified from the
// channel URI; raw channels carry no local credential material.
func (api *DeviceAPI) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DeviceID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing deviceId")
		return
	}

	sub := push.DeviceSubscription{
		DeviceID:     req.DeviceID,
		UserID:       req.UserID,
		Endpoint:     req.ChannelURI,
		Kind:         push.Classify(req.ChannelURI),
		RegisteredAt: time.Now().UTC(),
	}
	if err := api.Store.Register(r.Context(), sub); err != nil {
		api.writeStoreError(w, "register device", err)
		return
	}
	api.Logger.Info("Device registered", "device_id", req.DeviceID, "kind", sub.Kind)

	writeJSON(w, http.StatusOK, RegisterResponse{
		Success:      true,
		DeviceID:     sub.DeviceID,
		RegisteredAt: sub.RegisteredAt,
	})
}

// --- Registration: Web Push VAPID ---

type SubscribeRequest struct {
	DeviceID   string `json:"deviceId"`
	ChannelURI string `json:"channelUri"`
	PrivateKey string `json:"privateKey"`
	P256dh     string `json:"p256dh,omitempty"`
	Auth       string `json:"auth,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

type SubscribeResponse struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"deviceId"`
	Type     string `json:"type"`
}

// Subscribe handles POST /subscribe. The private key is checked up front
// so a subscription that can never sign is rejected at registration, not
// discovered on the first send.
func (api *DeviceAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DeviceID == "" || req.PrivateKey == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing deviceId or privateKey")
		return
	}
	if _, err := vapid.ParsePrivateKey(req.PrivateKey); err != nil {
		api.Logger.Warn("Subscribe rejected: unusable key", "device_id", req.DeviceID, "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := push.DeviceSubscription{
		DeviceID:      req.DeviceID,
		UserID:        req.UserID,
		Endpoint:      req.ChannelURI,
		Kind:          push.ProtocolWebPushVapid,
		PrivateKeyB64: req.PrivateKey,
		P256dh:        req.P256dh,
		Auth:          req.Auth,
		RegisteredAt:  time.Now().UTC(),
	}
	if err := api.Store.Register(r.Context(), sub); err != nil {
		api.writeStoreError(w, "subscribe device", err)
		return
	}
	api.Logger.Info("Web Push subscription registered", "device_id", req.DeviceID)

	writeJSON(w, http.StatusOK, SubscribeResponse{Success: true, DeviceID: sub.DeviceID, Type: "vapid"})
}

// --- Sending ---

// Send handles POST /send: one device, one classified result. An unknown
// device is a 404; a failed delivery is a 200 with the failure in the body,
// so callers can tell "no such device" from "delivery rejected".
func (api *DeviceAPI) Send(w http.ResponseWriter, r *http.Request) {
	var req push.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DeviceID == "" || req.Message == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing deviceId or message")
		return
	}

	res, err := api.Sender.Send(r.Context(), req.DeviceID, req.PushMessage())
	if err != nil {
		if push.IsKind(err, push.ErrKindNotFound) {
			response.WriteJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		api.Logger.Error("Send failed before dispatch", "device_id", req.DeviceID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type SendAllResponse struct {
	Results []push.Result `json:"results"`
}

// SendAll handles POST /send/all: fan-out to every registered device,
// continuing past per-device failures.
func (api *DeviceAPI) SendAll(w http.ResponseWriter, r *http.Request) {
	var req push.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Message == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing message")
		return
	}

	results, err := api.Sender.SendAll(r.Context(), req.PushMessage())
	if err != nil {
		api.Logger.Error("Fan-out failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "fan-out failed")
		return
	}
	writeJSON(w, http.StatusOK, SendAllResponse{Results: results})
}

// --- Listing and removal ---

// ListDevices handles GET /devices. Summaries only: endpoints are
// capability URLs and key material is secret, so neither leaves the store.
func (api *DeviceAPI) ListDevices(w http.ResponseWriter, r *http.Request) {
	summaries, err := api.Store.List(r.Context())
	if err != nil {
		api.Logger.Error("List devices failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

type RemoveResponse struct {
	Success bool `json:"success"`
}

// RemoveDevice handles DELETE /devices/{id}.
func (api *DeviceAPI) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if deviceID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device id")
		return
	}

	removed, err := api.Store.Remove(r.Context(), deviceID)
	if err != nil {
		api.Logger.Error("Remove device failed", "device_id", deviceID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to remove device")
		return
	}
	if !removed {
		response.WriteJSONError(w, http.StatusNotFound, "device not registered")
		return
	}
	api.Logger.Info("Device removed", "device_id", deviceID)
	writeJSON(w, http.StatusOK, RemoveResponse{Success: true})
}

// --- Helpers ---

func (api *DeviceAPI) writeStoreError(w http.ResponseWriter, op string, err error) {
	var typed *push.Error
	if errors.As(err, &typed) && typed.Kind == push.ErrKindInvalidSubscription {
		response.WriteJSONError(w, http.StatusBadRequest, typed.Error())
		return
	}
	api.Logger.Error("Store operation failed", "op", op, "err", err)
	response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
