package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
)

// ProviderGCPPull pulls from a Pub/Sub subscription instead of receiving pushes.
const ProviderGCPPull = "gcp-pull"

// GooglePullConfig holds configuration for the Pub/Sub pull adapter.
type GooglePullConfig struct {
	SubscriptionID         string `yaml:"subscription_id"`
	MaxOutstandingMessages int    `yaml:"max_outstanding_messages"`
	NumGoroutines          int    `yaml:"num_goroutines"`

	// When CreateIfMissing is set, Start creates TopicID and the subscription
	// on it. Used against emulators and in fresh projects.
	CreateIfMissing    bool   `yaml:"create_if_missing"`
	TopicID            string `yaml:"topic_id"`
	AckDeadlineSeconds int    `yaml:"ack_deadline_seconds"`
}

// GooglePullAdapter receives from a Pub/Sub subscription. Messages are acked
// once the bus reports them processed or ignored and nacked otherwise, leaving
// redelivery and dead lettering to the subscription's policy. Queue
// destinations name the Pub/Sub topic published to.
type GooglePullAdapter struct {
	client       *pubsub.Client
	cfg          GooglePullConfig
	subscription *pubsub.Subscription
	publisher    TopicPublisher
	logger       zerolog.Logger

	handler  PullCallback
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewGooglePullAdapter uses an existing client; Close does not close it.
func NewGooglePullAdapter(client *pubsub.Client, publisher TopicPublisher, cfg GooglePullConfig, logger zerolog.Logger) *GooglePullAdapter {
	sub := client.Subscription(cfg.SubscriptionID)
	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}
	return &GooglePullAdapter{
		client:       client,
		cfg:          cfg,
		subscription: sub,
		publisher:    publisher,
		logger:       logger.With().Str("component", "GooglePullAdapter").Str("subscription_id", cfg.SubscriptionID).Logger(),
	}
}

func (a *GooglePullAdapter) Provider() string            { return ProviderGCPPull }
func (a *GooglePullAdapter) Kind() Kind                  { return KindPull }
func (a *GooglePullAdapter) Validator() RequestValidator { return trustedTransport{} }

func (a *GooglePullAdapter) SetMessageHandler(cb PullCallback) { a.handler = cb }

// Convert parses the message data, which is the logical message JSON.
func (a *GooglePullAdapter) Convert(_ context.Context, env *Envelope) (*types.Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(env.Body, &wm); err != nil {
		return nil, apperrors.WrapServerError(err, "parsing Pub/Sub message data")
	}
	if wm.Type == "" {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "message type is missing")
	}
	if wm.ID == "" {
		wm.ID = env.Header.Get(headerPubsubMessageID)
	}
	return wm.toMessage(), nil
}

// headerPubsubMessageID carries the server assigned id to Convert.
const headerPubsubMessageID = "X-Pubsub-Message-Id"

func (a *GooglePullAdapter) Publish(ctx context.Context, dest types.Destination, msg *types.Message) error {
	if a.publisher == nil {
		return apperrors.NewServerError("no Pub/Sub publisher configured")
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return apperrors.WrapServerError(err, "encoding message of type %s", msg.Type)
	}
	serverID, err := a.publisher.Publish(ctx, dest.Queue, data, map[string]string{"type": msg.Type, "cid": msg.CorrelationID})
	if err != nil {
		return apperrors.WrapServerError(err, "publishing message of type %s to %s", msg.Type, dest.Queue)
	}
	a.logger.Debug().Str("server_id", serverID).Str("type", msg.Type).Msg("Message published")
	return nil
}

// Start begins receiving in the background.
func (a *GooglePullAdapter) Start(ctx context.Context) error {
	if a.handler == nil {
		return errors.New("no message handler set on Pub/Sub pull adapter")
	}
	if a.cfg.CreateIfMissing {
		if err := a.ensureSubscription(ctx); err != nil {
			return err
		}
	}
	receiveCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	a.logger.Info().Msg("Starting Pub/Sub message consumption...")
	go func() {
		defer close(a.done)
		defer a.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")
		err := a.subscription.Receive(receiveCtx, a.receive)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

func (a *GooglePullAdapter) ensureSubscription(ctx context.Context) error {
	exists, err := a.subscription.Exists(ctx)
	if err != nil {
		return fmt.Errorf("checking subscription %s: %w", a.cfg.SubscriptionID, err)
	}
	if exists {
		return nil
	}
	if a.cfg.TopicID == "" {
		return fmt.Errorf("subscription %s does not exist and no topic_id is configured", a.cfg.SubscriptionID)
	}

	topic := a.client.Topic(a.cfg.TopicID)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("checking topic %s: %w", a.cfg.TopicID, err)
	}
	if !topicExists {
		if topic, err = a.client.CreateTopic(ctx, a.cfg.TopicID); err != nil {
			return fmt.Errorf("creating topic %s: %w", a.cfg.TopicID, err)
		}
		a.logger.Info().Str("topic_id", a.cfg.TopicID).Msg("Topic created")
	}

	subCfg := pubsub.SubscriptionConfig{Topic: topic}
	if a.cfg.AckDeadlineSeconds > 0 {
		subCfg.AckDeadline = time.Duration(a.cfg.AckDeadlineSeconds) * time.Second
	}
	sub, err := a.client.CreateSubscription(ctx, a.cfg.SubscriptionID, subCfg)
	if err != nil {
		return fmt.Errorf("creating subscription %s: %w", a.cfg.SubscriptionID, err)
	}
	sub.ReceiveSettings = a.subscription.ReceiveSettings
	a.subscription = sub
	a.logger.Info().Str("topic_id", a.cfg.TopicID).Msg("Subscription created")
	return nil
}

func (a *GooglePullAdapter) receive(ctx context.Context, msg *pubsub.Message) {
	env := NewEnvelope(msg.Data)
	env.Header.Set(headerPubsubMessageID, msg.ID)

	outcome, err := a.handler(ctx, env)
	switch {
	case err != nil:
		a.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to process message, nacking")
		msg.Nack()
	case outcome != nil && outcome.Status == types.StatusFailed:
		a.logger.Warn().Str("msg_id", msg.ID).Msg("Message processing reported failure, nacking")
		msg.Nack()
	default:
		msg.Ack()
	}
}

// Close stops receiving and waits for in-flight callbacks.
func (a *GooglePullAdapter) Close() error {
	a.stopOnce.Do(func() {
		if a.cancel == nil {
			return
		}
		a.logger.Info().Msg("Stopping Pub/Sub consumer...")
		a.cancel()
		select {
		case <-a.done:
		case <-time.After(30 * time.Second):
			a.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
		}
	})
	return nil
}
