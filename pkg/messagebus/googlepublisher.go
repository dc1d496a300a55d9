package messagebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GooglePubsubPublisherConfig holds configuration for the Pub/Sub publisher.
type GooglePubsubPublisherConfig struct {
	ProjectID       string
	ClientOptions   []option.ClientOption
	PublishSettings pubsub.PublishSettings
}

// GetDefaultPublishSettings favours latency over batching: every publish waits
// for its server acknowledgement.
func GetDefaultPublishSettings() pubsub.PublishSettings {
	return pubsub.PublishSettings{
		DelayThreshold: 10 * time.Millisecond,
		CountThreshold: 100,
		ByteThreshold:  1e6,
		NumGoroutines:  10,
		Timeout:        60 * time.Second,
	}
}

// GooglePubsubPublisher implements TopicPublisher for Google Cloud Pub/Sub.
// Topic handles are created on first use and reused.
type GooglePubsubPublisher struct {
	client   *pubsub.Client
	settings pubsub.PublishSettings
	logger   zerolog.Logger
	ownsConn bool

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewGooglePubsubPublisher creates a client and a publisher on top of it.
func NewGooglePubsubPublisher(ctx context.Context, cfg GooglePubsubPublisherConfig, logger zerolog.Logger) (*GooglePubsubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, cfg.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	p := NewGooglePubsubPublisherWithClient(client, cfg.PublishSettings, logger)
	p.ownsConn = true
	logger.Info().Str("project_id", cfg.ProjectID).Msg("GooglePubsubPublisher initialized successfully")
	return p, nil
}

// NewGooglePubsubPublisherWithClient uses an existing client; Stop will not close it.
func NewGooglePubsubPublisherWithClient(client *pubsub.Client, settings pubsub.PublishSettings, logger zerolog.Logger) *GooglePubsubPublisher {
	return &GooglePubsubPublisher{
		client:   client,
		settings: settings,
		logger:   logger.With().Str("component", "GooglePubsubPublisher").Logger(),
		topics:   make(map[string]*pubsub.Topic),
	}
}

// topicIDFrom accepts a bare topic id or a full projects/<p>/topics/<t> name.
func topicIDFrom(resource string) (projectID, topicID string) {
	parts := strings.Split(resource, "/")
	if len(parts) == 4 && parts[0] == "projects" && parts[2] == "topics" {
		return parts[1], parts[3]
	}
	return "", resource
}

func (p *GooglePubsubPublisher) topic(resource string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.topics[resource]; ok {
		return t
	}
	projectID, topicID := topicIDFrom(resource)
	var t *pubsub.Topic
	if projectID != "" {
		t = p.client.TopicInProject(topicID, projectID)
	} else {
		t = p.client.Topic(topicID)
	}
	t.PublishSettings.DelayThreshold = p.settings.DelayThreshold
	t.PublishSettings.CountThreshold = p.settings.CountThreshold
	t.PublishSettings.ByteThreshold = p.settings.ByteThreshold
	t.PublishSettings.NumGoroutines = p.settings.NumGoroutines
	t.PublishSettings.Timeout = p.settings.Timeout
	p.topics[resource] = t
	return t
}

// Publish sends data and blocks until Pub/Sub acknowledges it.
func (p *GooglePubsubPublisher) Publish(ctx context.Context, resource string, data []byte, attributes map[string]string) (string, error) {
	if data == nil {
		return "", fmt.Errorf("cannot publish a nil payload")
	}
	t := p.topic(resource)
	result := t.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
	id, err := result.Get(ctx)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", t.ID()).Msg("Failed to publish message to Pub/Sub")
		return "", err
	}
	p.logger.Debug().Str("message_id", id).Str("topic", t.ID()).Msg("Message published successfully to Pub/Sub")
	return id, nil
}

// Stop flushes pending messages and closes the client if the publisher created it.
func (p *GooglePubsubPublisher) Stop() {
	p.logger.Info().Msg("Stopping GooglePubsubPublisher...")
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	if p.ownsConn && p.client != nil {
		if err := p.client.Close(); err != nil {
			p.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
		}
	}
}
