// Package sender orchestrates a delivery: registry lookup, protocol
// selection, credential issuance via the protocol dispatcher, and the
// classified result handed back to the caller.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-service/internal/results"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type Sender struct {
	store       dispatch.DeviceStore
	dispatchers map[push.ProtocolKind]dispatch.Dispatcher
	logger      *slog.Logger
}

func New(store dispatch.DeviceStore, dispatchers map[push.ProtocolKind]dispatch.Dispatcher, logger *slog.Logger) *Sender {
	return &Sender{
		store:       store,
		dispatchers: dispatchers,
		logger:      logger.With("component", "Sender"),
	}
}

// Send delivers one message to one device. A lookup miss is returned as an
// error so the HTTP layer can answer 404; every outcome past that point is
// classified into the Result. No retry is performed here.
func (s *Sender) Send(ctx context.Context, deviceID string, msg push.Message) (push.Result, error) {
	sub, err := s.store.Lookup(ctx, deviceID)
	if err != nil {
		return push.Result{}, err
	}

	kind := sub.Kind
	if kind == push.ProtocolUnknown {
		kind = push.Classify(sub.Endpoint)
	}
	d, ok := s.dispatchers[kind]
	if !ok {
		return push.Result{}, push.NewError(push.ErrKindUnknown,
			fmt.Sprintf("no dispatcher configured for protocol %q", kind))
	}

	if msg.TTL <= 0 {
		msg.TTL = push.DefaultTTL
	}

	res := d.Dispatch(ctx, sub, msg)
	if res.Success {
		s.logger.Info("Notification dispatched", "device_id", deviceID, "protocol", kind, "status", res.StatusCode)
	} else {
		s.logger.Warn("Notification failed", "device_id", deviceID, "protocol", kind,
			"status", res.StatusCode, "kind", res.ErrorKind)
	}
	return res, nil
}

// SendAll fans the message out to every registered device, continuing past
// individual failures and returning the per-device results.
func (s *Sender) SendAll(ctx context.Context, msg push.Message) ([]push.Result, error) {
	summaries, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	out := make([]push.Result, 0, len(summaries))
	for _, summary := range summaries {
		res, err := s.Send(ctx, summary.DeviceID, msg)
		if err != nil {
			// The device vanished between List and Lookup, or the
			// protocol has no dispatcher. Record and keep going.
			res = results.FromError(summary.DeviceID, "", err)
		}
		out = append(out, res)
	}
	return out, nil
}
