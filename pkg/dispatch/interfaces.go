// Package dispatch defines the public contracts between the service core
// and its pluggable parts: protocol dispatchers and device stores.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Dispatcher sends one message to one subscription over a specific
// protocol. The attempt is one-shot: every outcome, including transport
// and credential failures, is classified into the returned Result so bulk
// callers can continue past individual failures. Retry is a caller concern.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub push.DeviceSubscription, msg push.Message) push.Result
}

// DeviceStore is the device registry contract. Implementations must be
// safe under concurrent access.
type DeviceStore interface {
	// Register inserts or overwrites the subscription keyed by DeviceID.
	// An empty or non-absolute endpoint fails with an invalid-subscription
	// error; protocol-specific fields are not otherwise validated here.
	Register(ctx context.Context, sub push.DeviceSubscription) error

	// Lookup returns the stored record, or a not-found error.
	Lookup(ctx context.Context, deviceID string) (push.DeviceSubscription, error)

	// List returns secret-free summaries of every registered device.
	List(ctx context.Context) ([]push.DeviceSummary, error)

	// Remove deletes a record, reporting whether one existed.
	Remove(ctx context.Context, deviceID string) (bool, error)
}
