package vapid

import (
	"crypto/ecdsa"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// TokenLifetime is how far ahead the `exp` claim is set. Push authorities
// reject anything over 24h; 12h is the conventional value.
const TokenLifetime = 12 * time.Hour

// SignJWT mints a fresh ES256 VAPID token bound to (audience, subject).
// Tokens are ephemeral and must not be reused across distinct
// (audience, subject) pairs; callers sign one per send.
func SignJWT(audience, subject string, key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", push.NewError(push.ErrKindSigning, "no private key to sign with")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"aud": audience,
		"exp": time.Now().Add(TokenLifetime).Unix(),
		"sub": subject,
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", push.WrapError(push.ErrKindSigning, "sign VAPID token", err)
	}
	return signed, nil
}

// Audience derives the `aud` claim from a delivery endpoint: scheme and
// host only. It must match the endpoint's origin exactly or the push
// authority rejects the token.
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", push.WrapError(push.ErrKindInvalidSubscription, "endpoint is not a well-formed URI", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", push.NewError(push.ErrKindInvalidSubscription, "endpoint has no origin to derive an audience from")
	}
	return u.Scheme + "://" + u.Host, nil
}
