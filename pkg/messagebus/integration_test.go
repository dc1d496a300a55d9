//go:build integration

package messagebus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/tome-topics/pkg/helpers/emulators"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGooglePubsubPublisher_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const (
		projectID = "tome-topics-integration"
		topicID   = "tometopics-dev"
		subID     = "tometopics-dev-sub"
	)
	conn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID, map[string]string{topicID: subID}))
	logger := zerolog.New(zerolog.NewTestWriter(t))

	publisher, err := NewGooglePubsubPublisher(ctx, GooglePubsubPublisherConfig{
		ProjectID:       projectID,
		ClientOptions:   conn.ClientOptions,
		PublishSettings: GetDefaultPublishSettings(),
	}, logger)
	require.NoError(t, err)
	defer publisher.Stop()

	registry := NewRegistry(logger)
	b, err := NewBus(Config{Provider: ProviderGCP}, registry,
		NewResolver(types.TopicIdentifier{LogicalName: "tometopics", ResourceIdentifier: "projects/" + projectID + "/topics/" + topicID}),
		logger, NewGooglePushAdapter(publisher, nil, "", logger))
	require.NoError(t, err)

	ctx = WithCorrelationID(ctx, "cid-int-1")
	require.NoError(t, b.Publish(ctx, types.TopicDestination("tometopics"), &types.Message{Type: "topicRefreshed", Data: json.RawMessage(`{"id":"t1"}`)}))

	client, err := pubsub.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	defer client.Close()

	received := make(chan *pubsub.Message, 1)
	recvCtx, recvCancel := context.WithTimeout(ctx, 30*time.Second)
	defer recvCancel()
	go func() {
		_ = client.Subscription(subID).Receive(recvCtx, func(_ context.Context, m *pubsub.Message) {
			m.Ack()
			select {
			case received <- m:
			default:
			}
			recvCancel()
		})
	}()

	select {
	case m := <-received:
		assert.Equal(t, "topicRefreshed", m.Attributes["type"])
		assert.Equal(t, "cid-int-1", m.Attributes["cid"])

		var wm types.Message
		require.NoError(t, json.Unmarshal(m.Data, &wm))
		assert.Equal(t, "topicRefreshed", wm.Type)
		assert.Equal(t, "cid-int-1", wm.CorrelationID)
		assert.NotEmpty(t, wm.ID)
		assert.JSONEq(t, `{"id":"t1"}`, string(wm.Data))
	case <-time.After(30 * time.Second):
		t.Fatal("message was not delivered to the subscription")
	}
}

func TestRedisQueueAdapter_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn := emulators.SetupRedisContainer(t, ctx, emulators.GetDefaultRedisImageContainer())
	logger := zerolog.New(zerolog.NewTestWriter(t))

	a, err := NewRedisQueueAdapter(ctx, RedisQueueConfig{Addr: conn.EmulatorAddress, Queues: []string{"tometopics"}, NumWorkers: 2, PollTimeout: 200 * time.Millisecond}, logger)
	require.NoError(t, err)

	h := &recordingHandler{msgType: "practiceFinished"}
	registry := NewRegistry(logger)
	registry.MustRegister(h)

	b, err := NewBus(Config{Provider: ProviderRedis}, registry, NewResolver(), logger, a)
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	defer b.Close()

	require.NoError(t, b.Publish(ctx, types.QueueDestination("tometopics"), &types.Message{Type: "practiceFinished", Data: json.RawMessage(`{"topicId":"t1"}`)}))
	require.Eventually(t, func() bool { return h.invocations() == 1 }, 10*time.Second, 50*time.Millisecond)
}
