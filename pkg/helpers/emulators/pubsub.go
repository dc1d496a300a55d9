package emulators

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testPubsubEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testPubsubEmulatorPort  = "8085"
)

// PubsubConfig maps topic IDs to the subscription created on each.
type PubsubConfig struct {
	GCImageContainer
	TopicSubs map[string]string
}

func GetDefaultPubsubConfig(projectID string, topicSubs map[string]string) PubsubConfig {
	return PubsubConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage:    testPubsubEmulatorImage,
				EmulatorHTTPPort: testPubsubEmulatorPort,
			},
			ProjectID:       projectID,
			SetEnvVariables: true,
		},
		TopicSubs: topicSubs,
	}
}

// SetupPubsubEmulator starts the Pub/Sub emulator and creates the configured
// topics and subscriptions. The container is terminated on test cleanup.
func SetupPubsubEmulator(t *testing.T, ctx context.Context, cfg PubsubConfig) *EmulatorConnection {
	t.Helper()
	addr := startContainer(t, ctx, "Pub/Sub emulator", testcontainers.ContainerRequest{
		Image:      cfg.EmulatorImage,
		Cmd:        gcloudEmulatorCmd("pubsub", cfg.ProjectID, cfg.EmulatorHTTPPort),
		WaitingFor: wait.ForListeningPort(nat.Port(cfg.EmulatorHTTPPort)),
	}, cfg.EmulatorHTTPPort)

	if cfg.SetEnvVariables {
		t.Setenv("PUBSUB_EMULATOR_HOST", addr)
	}
	conn := googleConnection(addr)

	adminClient, err := pubsub.NewClient(ctx, cfg.ProjectID, conn.ClientOptions...)
	require.NoError(t, err)
	defer adminClient.Close()

	for topicID, subID := range cfg.TopicSubs {
		topic := adminClient.Topic(topicID)
		exists, err := topic.Exists(ctx)
		require.NoError(t, err)
		if !exists {
			topic, err = adminClient.CreateTopic(ctx, topicID)
			require.NoError(t, err, "Failed to create Pub/Sub topic")
		}

		sub := adminClient.Subscription(subID)
		exists, err = sub.Exists(ctx)
		require.NoError(t, err)
		if !exists {
			_, err = adminClient.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
			require.NoError(t, err, "Failed to create Pub/Sub subscription")
		}
	}
	return conn
}
