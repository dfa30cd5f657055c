package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	saltLen  = 16
	cekLen   = 16
	nonceLen = 12
	// aes128gcm record header: salt(16) || rs(4) || idlen(1) || keyid(65).
	recordHeaderLen = 86
)

// EncryptedMessage is the output of the RFC 8291 scheme. Ciphertext is the
// complete aes128gcm record (header included); Salt and EphemeralPublicKey
// are exposed separately for the Encryption and Crypto-Key headers.
type EncryptedMessage struct {
	Ciphertext         []byte
	Salt               []byte
	EphemeralPublicKey []byte
}

// Encrypt performs Web Push message encryption per RFC 8291: ECDH over
// P-256 against the client's p256dh key, HKDF-SHA256 key derivation mixed
// with the client's auth secret, then AES-128-GCM.
func Encrypt(plaintext []byte, p256dhB64, authB64 string) (*EncryptedMessage, error) {
	clientPubBytes, err := base64.RawURLEncoding.DecodeString(p256dhB64)
	if err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "decode p256dh", err)
	}
	authSecret, err := base64.RawURLEncoding.DecodeString(authB64)
	if err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "decode auth secret", err)
	}

	clientPub, err := ecdh.P256().NewPublicKey(clientPubBytes)
	if err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "parse client public key", err)
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, push.WrapError(push.ErrKindKeyGeneration, "generate ephemeral key", err)
	}
	ephemeralPub := ephemeral.PublicKey().Bytes()

	sharedSecret, err := ephemeral.ECDH(clientPub)
	if err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "ECDH agreement", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "generate salt", err)
	}

	// IKM = HKDF(auth_secret, ecdh_secret, "WebPush: info" || client || server)
	prkInfo := append([]byte("WebPush: info\x00"), clientPub.Bytes()...)
	prkInfo = append(prkInfo, ephemeralPub...)
	prk := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, authSecret, prkInfo), prk); err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "derive PRK", err)
	}

	cek := make([]byte, cekLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, prk, salt, []byte("Content-Encoding: aes128gcm\x00")), cek); err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "derive CEK", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, prk, salt, []byte("Content-Encoding: nonce\x00")), nonce); err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "derive nonce", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "init cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, push.WrapError(push.ErrKindEncryptionFailure, "init GCM", err)
	}

	// 0x02 marks the final (only) record.
	padded := append(append([]byte{}, plaintext...), 0x02)
	sealed := gcm.Seal(nil, nonce, padded, nil)

	record := make([]byte, 0, recordHeaderLen+len(sealed))
	record = append(record, salt...)
	record = binary.BigEndian.AppendUint32(record, uint32(len(sealed)+recordHeaderLen))
	record = append(record, byte(len(ephemeralPub)))
	record = append(record, ephemeralPub...)
	record = append(record, sealed...)

	return &EncryptedMessage{
		Ciphertext:         record,
		Salt:               salt,
		EphemeralPublicKey: ephemeralPub,
	}, nil
}
