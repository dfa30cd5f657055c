package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// NewProcessor builds the per-message dispatch logic for the async path.
//
// Outcome handling mirrors the synchronous path but adds broker semantics:
// transport failures and rate limiting return an error so the message is
// nacked and redelivered; an expired or gone subscription self-heals by
// removing the device; everything else is final and acked.
func NewProcessor(
	sender api.MessageSender,
	store dispatch.DeviceStore,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[push.SendRequest] {

	return func(ctx context.Context, original messagepipeline.Message, req *push.SendRequest) error {
		procLogger := logger.With(
			"device_id", req.DeviceID,
			"broker_msg_id", original.ID,
		)

		res, err := sender.Send(ctx, req.DeviceID, req.PushMessage())
		if err != nil {
			if push.IsKind(err, push.ErrKindNotFound) {
				procLogger.Info("Device unknown; dropping notification.")
				return nil
			}
			procLogger.Error("Send failed before dispatch", "err", err)
			return err // Retryable
		}

		if res.Success {
			procLogger.Info("Notification dispatched", "receipt_id", res.ReceiptID, "status", res.StatusCode)
			return nil
		}

		switch res.ErrorKind {
		case push.ErrKindInvalidSubscription:
			// Endpoint is dead (404/410). Clean up so we stop sending.
			procLogger.Info("Subscription expired; removing device.")
			if _, err := store.Remove(ctx, req.DeviceID); err != nil {
				procLogger.Warn("Failed to remove expired device", "err", err)
			}
			return nil
		case push.ErrKindTransportFailure, push.ErrKindRateLimited:
			procLogger.Warn("Delivery failed transiently", "status", res.StatusCode, "kind", res.ErrorKind)
			return errRetryable(res)
		default:
			procLogger.Error("Delivery rejected", "status", res.StatusCode, "kind", res.ErrorKind, "msg", res.Message)
			return nil
		}
	}
}

func errRetryable(res push.Result) error {
	return &push.Error{
		Kind:       res.ErrorKind,
		StatusCode: res.StatusCode,
		Message:    res.Message,
	}
}
