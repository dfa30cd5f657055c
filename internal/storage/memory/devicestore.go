// Package memory provides the in-process device registry. It is the
// default store and the reference implementation of the registry contract.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]push.DeviceSubscription
}

var _ dispatch.DeviceStore = (*DeviceStore)(nil)

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]push.DeviceSubscription)}
}

// Register validates the endpoint and upserts by DeviceID; the last write
// wins on re-registration.
func (s *DeviceStore) Register(_ context.Context, sub push.DeviceSubscription) error {
	if sub.DeviceID == "" {
		return push.NewError(push.ErrKindInvalidSubscription, "deviceId is required")
	}
	if err := push.ValidateEndpoint(sub.Endpoint); err != nil {
		return err
	}
	if sub.RegisteredAt.IsZero() {
		sub.RegisteredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[sub.DeviceID] = sub
	return nil
}

func (s *DeviceStore) Lookup(_ context.Context, deviceID string) (push.DeviceSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.devices[deviceID]
	if !ok {
		return push.DeviceSubscription{}, push.NewError(push.ErrKindNotFound,
			fmt.Sprintf("device %q is not registered", deviceID))
	}
	return sub, nil
}

// List returns summaries sorted by device id for stable output. Secret
// material never appears in a summary.
func (s *DeviceStore) List(_ context.Context) ([]push.DeviceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]push.DeviceSummary, 0, len(s.devices))
	for _, sub := range s.devices {
		summaries = append(summaries, sub.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].DeviceID < summaries[j].DeviceID })
	return summaries, nil
}

func (s *DeviceStore) Remove(_ context.Context, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.devices[deviceID]
	delete(s.devices, deviceID)
	return ok, nil
}
