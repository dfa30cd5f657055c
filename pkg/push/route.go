package push

import (
	"fmt"
	"net/url"
	"strings"
)

// webPushHost and webPushPathPrefix identify the vendor's Web-Push-style
// notification namespace. Channels outside it are raw channels.
const (
	webPushHost       = "notify.windows.com"
	webPushPathPrefix = "/w/"
)

// Classify selects the delivery protocol for an endpoint. It is
// deterministic and total: endpoints under the vendor's web-push namespace
// classify as ProtocolWebPushVapid, everything else — including anything
// ambiguous or unparseable — as ProtocolVendorRaw, letting the downstream
// send fail with a transport error rather than silently dropping.
func Classify(endpoint string) ProtocolKind {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ProtocolVendorRaw
	}
	host := strings.ToLower(u.Hostname())
	if strings.HasSuffix(host, webPushHost) && strings.HasPrefix(u.Path, webPushPathPrefix) {
		return ProtocolWebPushVapid
	}
	return ProtocolVendorRaw
}

// ValidateEndpoint rejects empty or non-absolute channel URIs with an
// invalid-subscription error.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return NewError(ErrKindInvalidSubscription, "endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return WrapError(ErrKindInvalidSubscription, "endpoint is not a well-formed URI", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return NewError(ErrKindInvalidSubscription, fmt.Sprintf("endpoint %q is not an absolute URI", endpoint))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewError(ErrKindInvalidSubscription, fmt.Sprintf("endpoint scheme %q is not supported", u.Scheme))
	}
	return nil
}
