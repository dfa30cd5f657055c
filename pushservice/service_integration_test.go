//go:build integration

package pushservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"

	fsStore "github.com/tinywideclouds/go-push-service/internal/storage/firestore"
)

// --- Mocks ---

// mockDispatcher records deliveries and answers with a canned result.
type mockDispatcher struct {
	mu      sync.Mutex
	calls   int
	lastSub push.DeviceSubscription
	lastMsg push.Message
	result  push.Result
}

func newMockDispatcher(result push.Result) *mockDispatcher {
	return &mockDispatcher{result: result}
}

func (m *mockDispatcher) Dispatch(_ context.Context, sub push.DeviceSubscription, msg push.Message) push.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastSub = sub
	m.lastMsg = msg
	res := m.result
	res.DeviceID = sub.DeviceID
	return res
}

func (m *mockDispatcher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockDispatcher) LastSub() push.DeviceSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSub
}

// --- Test ---

func TestPushService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-push-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	// 2. Device Store (Firestore implementation)
	deviceStore := fsStore.NewDeviceStore(fsClient)

	t.Run("Full Lifecycle: Register -> Publish -> Dispatch", func(t *testing.T) {
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		rawDispatcher := newMockDispatcher(push.Result{Success: true, StatusCode: 200})
		webDispatcher := newMockDispatcher(push.Result{Success: true, StatusCode: 201})
		dispatchers := map[push.ProtocolKind]dispatch.Dispatcher{
			push.ProtocolVendorRaw:    rawDispatcher,
			push.ProtocolWebPushVapid: webDispatcher,
		}

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := pushservice.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			dispatchers,
			deviceStore,
			func(h http.Handler) http.Handler { return h }, // No-op Auth
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// Step A: Register a raw-channel device
		deviceID := "integ-device-1"
		require.NoError(t, deviceStore.Register(ctx, push.DeviceSubscription{
			DeviceID: deviceID,
			Endpoint: "https://client.wns.example/ch/1",
			Kind:     push.ProtocolVendorRaw,
		}))

		// Step B: Publish a send request; the pipeline looks the device up
		payload, _ := json.Marshal(push.SendRequest{DeviceID: deviceID, Message: "integration hello"})
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		// Assert: the raw dispatcher got the registered subscription
		require.Eventually(t, func() bool {
			return rawDispatcher.CallCount() == 1
		}, 10*time.Second, 100*time.Millisecond)

		assert.Equal(t, deviceID, rawDispatcher.LastSub().DeviceID)
		assert.Equal(t, "https://client.wns.example/ch/1", rawDispatcher.LastSub().Endpoint)
		assert.Zero(t, webDispatcher.CallCount())
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
