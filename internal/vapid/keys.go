// Package vapid owns the elliptic-curve key material and JWT issuance for
// Web Push VAPID authentication (ES256 over P-256).
package vapid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// uncompressedPointLen is 0x04 || X[32] || Y[32].
const uncompressedPointLen = 65

// KeyPair holds one VAPID signing identity. The private key is PKCS#8 DER;
// the public key is the uncompressed P-256 point. Private material is never
// placed in an outbound request — only the public key travels, base64url
// without padding.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// PublicKeyB64 returns the unpadded base64url form used in the
// `Authorization: vapid ... k=` parameter.
func (kp KeyPair) PublicKeyB64() string {
	return base64.RawURLEncoding.EncodeToString(kp.PublicKey)
}

// PrivateKeyB64 returns the unpadded base64url PKCS#8 private key.
func (kp KeyPair) PrivateKeyB64() string {
	return base64.RawURLEncoding.EncodeToString(kp.PrivateKey)
}

// GenerateKeyPair creates a fresh P-256 pair.
func GenerateKeyPair() (KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return KeyPair{}, push.WrapError(push.ErrKindKeyGeneration, "generate P-256 key", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return KeyPair{}, push.WrapError(push.ErrKindKeyGeneration, "encode private key", err)
	}
	return KeyPair{
		PublicKey:  DerivePublicKey(key),
		PrivateKey: der,
	}, nil
}

// ImportKeyPair decodes previously generated material. The public key may
// be the raw uncompressed point or SPKI-encoded.
func ImportKeyPair(publicKeyB64, privateKeyB64 string) (KeyPair, error) {
	pub, err := decodeBase64(publicKeyB64)
	if err != nil {
		return KeyPair{}, push.WrapError(push.ErrKindInvalidKeyEncoding, "public key is not valid base64", err)
	}
	point, err := normalizePublicKey(pub)
	if err != nil {
		return KeyPair{}, err
	}

	key, err := ParsePrivateKey(privateKeyB64)
	if err != nil {
		return KeyPair{}, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return KeyPair{}, push.WrapError(push.ErrKindInvalidKeyEncoding, "re-encode private key", err)
	}
	return KeyPair{PublicKey: point, PrivateKey: der}, nil
}

// ParsePrivateKey loads stored private key material. PKCS#8 is the
// canonical encoding; SEC 1 and the bare 32-byte scalar are accepted as
// compatibility forms since both circulate in subscription payloads.
func ParsePrivateKey(privateKeyB64 string) (*ecdsa.PrivateKey, error) {
	raw, err := decodeBase64(privateKeyB64)
	if err != nil {
		return nil, push.WrapError(push.ErrKindInvalidKeyEncoding, "private key is not valid base64", err)
	}

	if key, err := x509.ParsePKCS8PrivateKey(raw); err == nil {
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, push.NewError(push.ErrKindKeyDerivation, "private key is not an EC key")
		}
		if ec.Curve != elliptic.P256() {
			return nil, push.NewError(push.ErrKindKeyDerivation, "private key is not on P-256")
		}
		return ec, nil
	}
	if key, err := x509.ParseECPrivateKey(raw); err == nil {
		if key.Curve != elliptic.P256() {
			return nil, push.NewError(push.ErrKindKeyDerivation, "private key is not on P-256")
		}
		return key, nil
	}
	if len(raw) == 32 {
		return privateKeyFromScalar(raw), nil
	}
	return nil, push.NewError(push.ErrKindKeyDerivation,
		fmt.Sprintf("private key cannot be parsed as PKCS#8 or EC (%d bytes)", len(raw)))
}

// DerivePublicKey returns the 65-byte uncompressed point for a private key.
// The registry stores only private material, so the public half of the
// `k=` parameter is always re-derived at send time.
func DerivePublicKey(key *ecdsa.PrivateKey) []byte {
	return elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
}

func privateKeyFromScalar(raw []byte) *ecdsa.PrivateKey {
	key := &ecdsa.PrivateKey{D: new(big.Int).SetBytes(raw)}
	key.PublicKey.Curve = elliptic.P256()
	key.PublicKey.X, key.PublicKey.Y = key.PublicKey.Curve.ScalarBaseMult(raw)
	return key
}

func normalizePublicKey(raw []byte) ([]byte, error) {
	if len(raw) == uncompressedPointLen && raw[0] == 0x04 {
		return raw, nil
	}
	key, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, push.NewError(push.ErrKindInvalidKeyEncoding,
			fmt.Sprintf("public key is neither a %d-byte uncompressed point nor SPKI", uncompressedPointLen))
	}
	ec, ok := key.(*ecdsa.PublicKey)
	if !ok || ec.Curve != elliptic.P256() {
		return nil, push.NewError(push.ErrKindInvalidKeyEncoding, "public key is not a P-256 EC key")
	}
	return elliptic.Marshal(elliptic.P256(), ec.X, ec.Y), nil
}

// decodeBase64 accepts both base64url and standard alphabets, padded or
// not. Subscription payloads arrive in all four.
func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("string is not valid base64")
}
