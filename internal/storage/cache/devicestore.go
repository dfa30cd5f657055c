// Package cache adds a Redis read-aside layer in front of any DeviceStore.
package cache

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// CacheClient is the subset of Redis commands the decorator needs.
type CacheClient interface {
	// Get decodes the cached value into dest, or returns an error on miss.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedDeviceStore decorates a DeviceStore with read-aside caching of
// lookups and invalidate-on-write semantics, so a removed device stops
// receiving pushes immediately even when the cache is warm.
type CachedDeviceStore struct {
	realStore dispatch.DeviceStore
	cache     CacheClient
	ttl       time.Duration
}

var _ dispatch.DeviceStore = (*CachedDeviceStore)(nil)

// cacheRecord is the stored representation. DeviceSubscription hides its key
// material from JSON, so caching the domain type directly would strip the
// VAPID credentials on the round trip; the record carries every field.
type cacheRecord struct {
	DeviceID      string    `json:"device_id"`
	UserID        string    `json:"user_id,omitempty"`
	Endpoint      string    `json:"endpoint"`
	Kind          string    `json:"kind"`
	PrivateKeyB64 string    `json:"private_key,omitempty"`
	P256dh        string    `json:"p256dh,omitempty"`
	Auth          string    `json:"auth,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
}

func toRecord(sub push.DeviceSubscription) cacheRecord {
	return cacheRecord{
		DeviceID:      sub.DeviceID,
		UserID:        sub.UserID,
		Endpoint:      sub.Endpoint,
		Kind:          string(sub.Kind),
		PrivateKeyB64: sub.PrivateKeyB64,
		P256dh:        sub.P256dh,
		Auth:          sub.Auth,
		RegisteredAt:  sub.RegisteredAt,
	}
}

func (r cacheRecord) toSubscription() push.DeviceSubscription {
	return push.DeviceSubscription{
		DeviceID:      r.DeviceID,
		UserID:        r.UserID,
		Endpoint:      r.Endpoint,
		Kind:          push.ProtocolKind(r.Kind),
		PrivateKeyB64: r.PrivateKeyB64,
		P256dh:        r.P256dh,
		Auth:          r.Auth,
		RegisteredAt:  r.RegisteredAt,
	}
}

func NewCachedDeviceStore(realStore dispatch.DeviceStore, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{realStore: realStore, cache: cache, ttl: ttl}
}

// Lookup serves from cache when it can. Cache population failures are
// ignored: caching is an optimization, not a transaction.
func (s *CachedDeviceStore) Lookup(ctx context.Context, deviceID string) (push.DeviceSubscription, error) {
	key := s.cacheKey(deviceID)

	var cached cacheRecord
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached.toSubscription(), nil
	}

	fresh, err := s.realStore.Lookup(ctx, deviceID)
	if err != nil {
		return push.DeviceSubscription{}, err
	}
	_ = s.cache.Set(ctx, key, toRecord(fresh), s.ttl)
	return fresh, nil
}

func (s *CachedDeviceStore) Register(ctx context.Context, sub push.DeviceSubscription) error {
	if err := s.realStore.Register(ctx, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, sub.DeviceID)
}

// Remove must clear the cache even though the backing delete succeeded,
// otherwise a stale entry keeps the device deliverable until TTL expiry.
func (s *CachedDeviceStore) Remove(ctx context.Context, deviceID string) (bool, error) {
	removed, err := s.realStore.Remove(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return removed, s.invalidate(ctx, deviceID)
}

// List always goes to the source of truth; listings are rare and must not
// show phantom devices.
func (s *CachedDeviceStore) List(ctx context.Context) ([]push.DeviceSummary, error) {
	return s.realStore.List(ctx)
}

func (s *CachedDeviceStore) invalidate(ctx context.Context, deviceID string) error {
	return s.cache.Del(ctx, s.cacheKey(deviceID))
}

func (s *CachedDeviceStore) cacheKey(deviceID string) string {
	return "push:devices:" + deviceID
}
