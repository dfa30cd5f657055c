// Package firestore implements the device registry on Google Cloud
// Firestore, for deployments that need registrations to survive restarts.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const devicesCollection = "devices"

type DeviceStore struct {
	client *firestore.Client
}

var _ dispatch.DeviceStore = (*DeviceStore)(nil)

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

// deviceRecord is the stored representation. Key material lives alongside
// the endpoint; it is stripped when building summaries, never here.
type deviceRecord struct {
	DeviceID      string    `firestore:"device_id"`
	UserID        string    `firestore:"user_id,omitempty"`
	Endpoint      string    `firestore:"endpoint"`
	Kind          string    `firestore:"kind"`
	PrivateKeyB64 string    `firestore:"private_key,omitempty"`
	P256dh        string    `firestore:"p256dh,omitempty"`
	Auth          string    `firestore:"auth,omitempty"`
	RegisteredAt  time.Time `firestore:"registered_at"`
}

func toRecord(sub push.DeviceSubscription) deviceRecord {
	return deviceRecord{
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

func (r deviceRecord) toSubscription() push.DeviceSubscription {
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

// Register upserts by DeviceID. The device id is already unique, so it
// doubles as the document id.
func (s *DeviceStore) Register(ctx context.Context, sub push.DeviceSubscription) error {
	if sub.DeviceID == "" {
		return push.NewError(push.ErrKindInvalidSubscription, "deviceId is required")
	}
	if err := push.ValidateEndpoint(sub.Endpoint); err != nil {
		return err
	}
	if sub.RegisteredAt.IsZero() {
		sub.RegisteredAt = time.Now().UTC()
	}

	_, err := s.deviceRef(sub.DeviceID).Set(ctx, toRecord(sub))
	if err != nil {
		return fmt.Errorf("firestore set failed: %w", err)
	}
	return nil
}

func (s *DeviceStore) Lookup(ctx context.Context, deviceID string) (push.DeviceSubscription, error) {
	doc, err := s.deviceRef(deviceID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return push.DeviceSubscription{}, push.NewError(push.ErrKindNotFound,
			fmt.Sprintf("device %q is not registered", deviceID))
	}
	if err != nil {
		return push.DeviceSubscription{}, fmt.Errorf("firestore get failed: %w", err)
	}

	var record deviceRecord
	if err := doc.DataTo(&record); err != nil {
		return push.DeviceSubscription{}, fmt.Errorf("decode device record: %w", err)
	}
	return record.toSubscription(), nil
}

func (s *DeviceStore) List(ctx context.Context) ([]push.DeviceSummary, error) {
	iter := s.client.Collection(devicesCollection).OrderBy("device_id", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	summaries := make([]push.DeviceSummary, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Skip corrupt rows rather than failing the whole listing.
			continue
		}
		summaries = append(summaries, record.toSubscription().Summary())
	}
	return summaries, nil
}

func (s *DeviceStore) Remove(ctx context.Context, deviceID string) (bool, error) {
	ref := s.deviceRef(deviceID)
	if _, err := ref.Get(ctx); status.Code(err) == codes.NotFound {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("firestore get failed: %w", err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return false, fmt.Errorf("firestore delete failed: %w", err)
	}
	return true, nil
}

func (s *DeviceStore) deviceRef(deviceID string) *firestore.DocumentRef {
	return s.client.Collection(devicesCollection).Doc(deviceID)
}
