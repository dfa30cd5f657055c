// Package push contains the public domain models for the push dispatch
// service: device subscriptions, messages, delivery results, endpoint
// classification, and the typed error taxonomy shared by every component.
package push

import "time"

// ProtocolKind identifies the delivery protocol used for a subscription.
type ProtocolKind string

const (
	// ProtocolUnknown means the protocol must be derived from the endpoint.
	ProtocolUnknown ProtocolKind = ""
	// ProtocolVendorRaw is the OAuth2-authenticated raw channel protocol.
	ProtocolVendorRaw ProtocolKind = "raw"
	// ProtocolWebPushVapid is standards-based Web Push with VAPID auth.
	ProtocolWebPushVapid ProtocolKind = "vapid"
)

// Urgency is the Web Push urgency hint. It is ignored on the raw path.
type Urgency string

const (
	UrgencyVeryLow Urgency = "very-low"
	UrgencyLow     Urgency = "low"
	UrgencyNormal  Urgency = "normal"
	UrgencyHigh    Urgency = "high"
)

// DefaultTTL is applied when a message carries no TTL of its own.
const DefaultTTL = 3600

// DeviceSubscription is a registered delivery target, keyed by DeviceID.
// Re-registration under the same DeviceID overwrites the previous record.
type DeviceSubscription struct {
	DeviceID string       `json:"deviceId"`
	UserID   string       `json:"userId,omitempty"`
	Endpoint string       `json:"endpoint"`
	Kind     ProtocolKind `json:"kind"`

	// VAPID credential material, present only for ProtocolWebPushVapid.
	// The private key never leaves the process; the matching public key is
	// re-derived from it at send time.
	PrivateKeyB64 string `json:"-"`
	P256dh        string `json:"-"`
	Auth          string `json:"-"`

	RegisteredAt time.Time `json:"registeredAt"`
}

// Summary strips the subscription down to what GET /devices may expose.
// Endpoints are capability URLs, so they stay out along with key material.
func (s DeviceSubscription) Summary() DeviceSummary {
	return DeviceSummary{
		DeviceID:     s.DeviceID,
		UserID:       s.UserID,
		Kind:         s.Kind,
		RegisteredAt: s.RegisteredAt,
	}
}

// DeviceSummary is the secret-free listing view of a subscription.
type DeviceSummary struct {
	DeviceID     string       `json:"deviceId"`
	UserID       string       `json:"userId,omitempty"`
	Kind         ProtocolKind `json:"kind"`
	RegisteredAt time.Time    `json:"registeredAt"`
}

// Message is the send-time value object handed to a dispatcher.
type Message struct {
	Title   string  `json:"title,omitempty"`
	Body    string  `json:"body"`
	TTL     int     `json:"ttl,omitempty"`
	Urgency Urgency `json:"urgency,omitempty"`
}

// SendRequest is the wire form of a send, accepted both by POST /send and
// by the asynchronous ingestion pipeline.
type SendRequest struct {
	DeviceID string  `json:"deviceId"`
	Message  string  `json:"message"`
	Title    string  `json:"title,omitempty"`
	TTL      int     `json:"ttl,omitempty"`
	Urgency  Urgency `json:"urgency,omitempty"`
}

// PushMessage converts the request into the dispatcher value object.
func (r SendRequest) PushMessage() Message {
	return Message{
		Title:   r.Title,
		Body:    r.Message,
		TTL:     r.TTL,
		Urgency: r.Urgency,
	}
}

// Result is the classified outcome of a single delivery attempt. Transport
// failures are captured here rather than returned as errors so fan-out
// callers can keep going.
type Result struct {
	Success    bool      `json:"success"`
	StatusCode int       `json:"statusCode,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
	Message    string    `json:"message,omitempty"`
	SentAt     time.Time `json:"sentAt"`
	DeviceID   string    `json:"deviceId,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	ReceiptID  string    `json:"receiptId"`

	// Informational vendor status headers, surfaced when present.
	DeviceConnectionStatus string `json:"deviceConnectionStatus,omitempty"`
	NotificationStatus     string `json:"notificationStatus,omitempty"`
}
