package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/illmade-knight/tome-topics/pkg/api"
	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/messagebus"
	"github.com/illmade-knight/tome-topics/pkg/secrets"
	"github.com/illmade-knight/tome-topics/pkg/topics"
	"github.com/rs/zerolog"
)

// Components are the externally backed parts of the service. Build creates
// them from the configuration; tests inject their own.
type Components struct {
	Secrets        secrets.Getter
	GoogleVerifier auth.GoogleTokenVerifier
	// NewAdapters builds the messaging adapters once the secrets are known.
	NewAdapters func(ctx context.Context, googleVerifier auth.GoogleTokenVerifier, audience string) ([]messagebus.Adapter, error)
	Store       topics.Store
	// Flashcards is optional. When nil and an endpoint is configured, a
	// client signing tokens with the custom key is created.
	Flashcards topics.FlashcardsClient

	closers []func() error
}

// Service is a wired tome-topics instance.
type Service struct {
	cfg        *Config
	Controller *api.Controller
	Bus        *messagebus.Bus
	logger     zerolog.Logger
	closers    []func() error
}

// Build creates every cloud client the configuration asks for and wires the service.
func Build(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Service, error) {
	comps := &Components{}
	svc, err := func() (*Service, error) {
		if err := comps.connect(ctx, cfg, logger); err != nil {
			return nil, err
		}
		return New(ctx, cfg, comps, logger)
	}()
	if err != nil {
		for _, c := range comps.closers {
			_ = c()
		}
		return nil, err
	}
	return svc, nil
}

func (c *Components) connect(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	switch cfg.Hyperscaler {
	case HyperscalerGCP:
		sm, err := secrets.NewGoogleSecretManager(ctx, cfg.ProjectID, logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, sm.Close)
		c.Secrets = sm
	case HyperscalerAWS:
		sm, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion, cfg.Environment, logger)
		if err != nil {
			return err
		}
		c.Secrets = sm
	default:
		c.Secrets = secrets.Static(cfg.LocalSecrets)
	}

	if cfg.Hyperscaler != HyperscalerLocal {
		gv, err := auth.NewGoogleVerifier(ctx, logger)
		if err != nil {
			return fmt.Errorf("creating google token verifier: %w", err)
		}
		c.GoogleVerifier = gv
	}

	if cfg.ProjectID != "" {
		fs, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("firestore.NewClient: %w", err)
		}
		c.closers = append(c.closers, fs.Close)
		store, err := topics.NewFirestoreStore(fs, cfg.Firestore, logger)
		if err != nil {
			return err
		}
		c.Store = store
	} else {
		logger.Warn().Msg("GCP_PID not set, topics are kept in memory")
		c.Store = topics.NewInMemoryStore(logger)
	}

	c.NewAdapters = func(ctx context.Context, gv auth.GoogleTokenVerifier, audience string) ([]messagebus.Adapter, error) {
		return c.providerAdapters(ctx, cfg, gv, audience, logger)
	}
	return nil
}

// providerAdapters creates the adapter of the configured provider only.
func (c *Components) providerAdapters(ctx context.Context, cfg *Config, gv auth.GoogleTokenVerifier, audience string, logger zerolog.Logger) ([]messagebus.Adapter, error) {
	switch cfg.Bus.Provider {
	case messagebus.ProviderGCP:
		publisher, err := messagebus.NewGooglePubsubPublisher(ctx, messagebus.GooglePubsubPublisherConfig{
			ProjectID:       cfg.ProjectID,
			PublishSettings: messagebus.GetDefaultPublishSettings(),
		}, logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() error { publisher.Stop(); return nil })
		return []messagebus.Adapter{messagebus.NewGooglePushAdapter(publisher, gv, audience, logger)}, nil
	case messagebus.ProviderGCPPull:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		publisher := messagebus.NewGooglePubsubPublisherWithClient(client, messagebus.GetDefaultPublishSettings(), logger)
		c.closers = append(c.closers, func() error { publisher.Stop(); return nil })
		return []messagebus.Adapter{messagebus.NewGooglePullAdapter(client, publisher, cfg.Bus.GooglePull, logger)}, nil
	case messagebus.ProviderAWS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return []messagebus.Adapter{messagebus.NewSNSPushAdapter(sns.NewFromConfig(awsCfg), cfg.Bus.SNS, nil, logger)}, nil
	case messagebus.ProviderRedis:
		a, err := messagebus.NewRedisQueueAdapter(ctx, cfg.Bus.Redis, logger)
		if err != nil {
			return nil, err
		}
		return []messagebus.Adapter{a}, nil
	default:
		return nil, nil
	}
}

// New wires the service on already created components.
func New(ctx context.Context, cfg *Config, comps *Components, logger zerolog.Logger) (*Service, error) {
	if comps.Secrets == nil || comps.Store == nil {
		return nil, errors.New("service requires a secrets getter and a store")
	}

	values, err := secrets.LoadAll(ctx, comps.Secrets, SecretSigningKey, SecretExpectedAudience)
	if err != nil {
		return nil, err
	}
	custom, err := auth.NewCustomVerifier(cfg.CustomAuthProvider, values[SecretSigningKey])
	if err != nil {
		return nil, err
	}
	authn, err := auth.NewAuthenticator(auth.Config{
		CustomAuthProvider: cfg.CustomAuthProvider,
		ExpectedAudience:   values[SecretExpectedAudience],
		NoAuth:             cfg.NoAuth,
		MinAppVersion:      cfg.MinAppVersion,
	}, custom, comps.GoogleVerifier, logger)
	if err != nil {
		return nil, err
	}

	resolver, err := messagebus.LoadResolver(ctx, comps.Secrets, cfg.Bus.Topics)
	if err != nil {
		return nil, err
	}

	var adapters []messagebus.Adapter
	if comps.NewAdapters != nil {
		adapters, err = comps.NewAdapters(ctx, comps.GoogleVerifier, values[SecretExpectedAudience])
		if err != nil {
			return nil, err
		}
	}

	registry := messagebus.NewRegistry(logger)
	bus, err := messagebus.NewBus(cfg.Bus.Config, registry, resolver, logger, adapters...)
	if err != nil {
		return nil, err
	}

	flashcards := comps.Flashcards
	if flashcards == nil && cfg.Flashcards.Endpoint != "" {
		client, err := topics.NewHTTPFlashcardsClient(cfg.Flashcards, custom, nil, logger)
		if err != nil {
			return nil, err
		}
		flashcards = client
	}
	if err := topics.NewHandlers(comps.Store, flashcards, logger).Register(registry); err != nil {
		return nil, err
	}

	controller := api.NewController(api.Config{APIName: cfg.ServiceName, BasePath: cfg.BasePath}, authn, logger)
	topics.NewDelegates(comps.Store, bus, cfg.EventsDestination(), logger).Routes(controller)
	bus.Mount(controller)

	logger.Info().
		Str("hyperscaler", cfg.Hyperscaler).
		Str("provider", cfg.Bus.Provider).
		Strs("handled_events", registry.Types()).
		Msg("Service wired")

	return &Service{
		cfg:        cfg,
		Controller: controller,
		Bus:        bus,
		logger:     logger.With().Str("component", "Service").Logger(),
		closers:    comps.closers,
	}, nil
}

// Run starts the bus and serves HTTP until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Bus.Start(ctx); err != nil {
		return err
	}
	defer s.Close()
	return s.Controller.ListenAndServe(ctx, net.JoinHostPort("", s.cfg.Port))
}

// Close stops the bus and releases the cloud clients.
func (s *Service) Close() {
	if err := s.Bus.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close message bus")
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error().Err(err).Msg("Failed to close client")
		}
	}
	s.closers = nil
}
