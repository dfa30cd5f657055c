// Package pipeline contains the asynchronous send path: messages consumed
// from the broker are transformed into send requests and dispatched
// through the same sender the HTTP surface uses.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// SendRequestTransformer unmarshals and validates a raw broker payload
// into a push.SendRequest. A malformed payload is skipped so the
// streaming service can route it to the DLQ instead of looping on it.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.SendRequest, bool, error) {
	var req push.SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("unmarshal send request from message %s: %w", msg.ID, err)
	}
	if req.DeviceID == "" || req.Message == "" {
		return nil, true, fmt.Errorf("send request in message %s is missing deviceId or message", msg.ID)
	}
	return &req, false, nil
}
