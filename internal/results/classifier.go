// Package results maps transport outcomes onto the structured push.Result
// every caller receives. Nothing here retries or throws: a failed delivery
// is data, not control flow.
package results

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Vendor response headers carrying delivery diagnostics.
const (
	headerDeviceConnectionStatus = "X-WNS-DeviceConnectionStatus"
	headerNotificationStatus     = "X-WNS-NotificationStatus"
	headerErrorDescription       = "X-WNS-Error-Description"
)

// Classify turns an HTTP response into a Result. 2xx is success; failures
// get an error kind derived from the status code and a message sourced
// from the authority's error header or body.
func Classify(deviceID, endpoint string, status int, header http.Header, body []byte) push.Result {
	res := push.Result{
		StatusCode: status,
		SentAt:     time.Now().UTC(),
		DeviceID:   deviceID,
		Endpoint:   endpoint,
		ReceiptID:  uuid.NewString(),

		DeviceConnectionStatus: header.Get(headerDeviceConnectionStatus),
		NotificationStatus:     header.Get(headerNotificationStatus),
	}

	if status >= 200 && status < 300 {
		res.Success = true
		return res
	}

	res.ErrorKind = kindForStatus(status)
	res.Message = failureMessage(header, body)
	return res
}

// TransportError classifies a request that never produced a response.
// Timeouts and cancellations are transport failures, not crashes.
func TransportError(deviceID, endpoint string, err error) push.Result {
	message := "transport error"
	if err != nil {
		message = err.Error()
	}
	if errors.Is(err, context.Canceled) {
		message = "send canceled: " + message
	} else if errors.Is(err, context.DeadlineExceeded) {
		message = "send timed out: " + message
	}
	return push.Result{
		ErrorKind: push.ErrKindTransportFailure,
		Message:   message,
		SentAt:    time.Now().UTC(),
		DeviceID:  deviceID,
		Endpoint:  endpoint,
		ReceiptID: uuid.NewString(),
	}
}

// FromError classifies a typed failure raised before the request left the
// process (key derivation, signing, token minting, encryption).
func FromError(deviceID, endpoint string, err error) push.Result {
	return push.Result{
		StatusCode: push.StatusOf(err),
		ErrorKind:  push.KindOf(err),
		Message:    err.Error(),
		SentAt:     time.Now().UTC(),
		DeviceID:   deviceID,
		Endpoint:   endpoint,
		ReceiptID:  uuid.NewString(),
	}
}

func kindForStatus(status int) push.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return push.ErrKindAuthFailure
	case status == http.StatusNotFound || status == http.StatusGone:
		return push.ErrKindInvalidSubscription
	case status == http.StatusTooManyRequests:
		return push.ErrKindRateLimited
	case status >= 500:
		return push.ErrKindTransportFailure
	default:
		return push.ErrKindUnknown
	}
}

func failureMessage(header http.Header, body []byte) string {
	if desc := header.Get(headerErrorDescription); desc != "" {
		return desc
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return "push authority returned no error detail"
}
