package messagebus

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultEndpointPath is where push providers deliver when no path is configured.
const DefaultEndpointPath = "/events"

// Config selects the active provider of a deployment.
type Config struct {
	Provider     string `yaml:"provider"`
	EndpointPath string `yaml:"endpoint_path"`
}

// PushCallback is what the HTTP layer invokes for every delivery on the push endpoint.
type PushCallback func(ctx context.Context, env *Envelope) (*types.ProcessingOutcome, error)

// EndpointRegistrar is the HTTP layer the Bus mounts its push endpoint on.
type EndpointRegistrar interface {
	RegisterPushEndpoint(path string, cb PushCallback)
}

// Bus routes inbound deliveries from the active adapter to the handler
// registry and outbound publishes from the application to the active adapter.
type Bus struct {
	cfg      Config
	registry *Registry
	resolver *Resolver
	logger   zerolog.Logger

	// exactly one of push/pull is set when an adapter is active
	active Adapter
	push   PushAdapter
	pull   PullAdapter
}

// NewBus selects the adapter whose provider matches cfg.Provider. When none
// matches, the bus still serves but ignores inbound traffic and refuses to publish.
func NewBus(cfg Config, registry *Registry, resolver *Resolver, logger zerolog.Logger, adapters ...Adapter) (*Bus, error) {
	if registry == nil {
		return nil, apperrors.NewServerError("message bus requires a handler registry")
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = DefaultEndpointPath
	}
	b := &Bus{
		cfg:      cfg,
		registry: registry,
		resolver: resolver,
		logger:   logger.With().Str("component", "MessageBus").Logger(),
	}

	for _, a := range adapters {
		if a == nil || a.Provider() != cfg.Provider {
			continue
		}
		switch a.Kind() {
		case KindPush:
			p, ok := a.(PushAdapter)
			if !ok {
				return nil, apperrors.NewServerError("adapter %s declares push kind but does not implement PushAdapter", a.Provider())
			}
			b.push = p
		case KindPull:
			p, ok := a.(PullAdapter)
			if !ok {
				return nil, apperrors.NewServerError("adapter %s declares pull kind but does not implement PullAdapter", a.Provider())
			}
			b.pull = p
			p.SetMessageHandler(b.OnPull)
		default:
			return nil, apperrors.NewServerError("adapter %s has unknown kind %v", a.Provider(), a.Kind())
		}
		b.active = a
		break
	}

	if b.active == nil {
		b.logger.Warn().Str("provider", cfg.Provider).Msg("No messaging adapter available for provider, inbound messages will be ignored")
	} else {
		b.logger.Info().Str("provider", cfg.Provider).Str("kind", b.active.Kind().String()).Msg("Message bus initialized")
	}
	return b, nil
}

// Mount registers the push endpoint with the HTTP layer.
func (b *Bus) Mount(r EndpointRegistrar) {
	r.RegisterPushEndpoint(b.cfg.EndpointPath, b.OnPush)
	b.logger.Info().Str("path", b.cfg.EndpointPath).Msg("Push endpoint registered")
}

// EndpointPath is the path Mount registers.
func (b *Bus) EndpointPath() string { return b.cfg.EndpointPath }

// Registry returns the bus handler registry.
func (b *Bus) Registry() *Registry { return b.registry }

// RegisterHandler adds h to the registry. It fails once the bus has started.
func (b *Bus) RegisterHandler(h Handler) error {
	return b.registry.Register(h)
}

// OnPush handles one delivery on the push endpoint.
func (b *Bus) OnPush(ctx context.Context, env *Envelope) (*types.ProcessingOutcome, error) {
	if b.push == nil {
		b.logger.Debug().Msg("Push delivery received without an active push adapter, ignoring")
		return types.Ignored("no push adapter configured"), nil
	}

	validator := b.push.Validator()
	if !validator.IsRecognized(env) {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "request not recognized as a %s delivery", b.push.Provider())
	}
	authorized, err := validator.IsAuthorized(ctx, env)
	if err != nil {
		return nil, err
	}
	if !authorized {
		b.logger.Warn().Str("provider", b.push.Provider()).Msg("Unauthorized push delivery")
		return nil, apperrors.NewClientError(http.StatusUnauthorized, "Unauthorized")
	}

	if filter := b.push.Filter(env); filter != nil {
		return filter.Handle(ctx, env)
	}

	msg, err := b.push.Convert(ctx, env)
	if err != nil {
		return nil, err
	}
	return b.registry.Dispatch(ctx, msg)
}

// OnPull handles one envelope polled by the pull adapter. The transport is
// trusted so there is no authorization step.
func (b *Bus) OnPull(ctx context.Context, env *Envelope) (*types.ProcessingOutcome, error) {
	if b.pull == nil {
		return types.Ignored("no pull adapter configured"), nil
	}
	msg, err := b.pull.Convert(ctx, env)
	if err != nil {
		return nil, err
	}
	return b.registry.Dispatch(ctx, msg)
}

// Publish sends msg to dest through the active adapter. Topic destinations are
// resolved to provider identifiers before the adapter sees them.
func (b *Bus) Publish(ctx context.Context, dest types.Destination, msg *types.Message) error {
	if b.active == nil {
		return apperrors.NewServerError("no messaging adapter configured for provider %q", b.cfg.Provider)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	switch b.active.Kind() {
	case KindPush:
		if !dest.IsTopic() {
			return apperrors.NewClientError(http.StatusBadRequest, "provider %s requires a topic destination", b.active.Provider())
		}
		id, err := b.resolver.Resolve(dest.Topic)
		if err != nil {
			return err
		}
		dest = types.TopicDestination(id)
	case KindPull:
		if !dest.IsQueue() {
			return apperrors.NewClientError(http.StatusBadRequest, "provider %s requires a queue destination", b.active.Provider())
		}
	}

	out := *msg
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Timestamp == "" {
		out.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if out.CorrelationID == "" {
		if cid := CorrelationID(ctx); cid != "" {
			out.CorrelationID = cid
		} else {
			out.EnsureCorrelationID()
		}
	}

	if err := b.active.Publish(ctx, dest, &out); err != nil {
		b.logger.Error().Err(err).Str("type", out.Type).Str("cid", out.CorrelationID).Msg("Failed to publish message")
		return err
	}
	b.logger.Debug().Str("type", out.Type).Str("cid", out.CorrelationID).Str("topic", dest.Topic).Str("queue", dest.Queue).Msg("Message published")
	return nil
}

// Start seals the registry and starts polling when the active adapter pulls.
func (b *Bus) Start(ctx context.Context) error {
	b.registry.Seal()
	if b.pull != nil {
		if err := b.pull.Start(ctx); err != nil {
			return apperrors.WrapServerError(err, "starting %s pull adapter", b.pull.Provider())
		}
	}
	b.logger.Info().Strs("message_types", b.registry.Types()).Msg("Message bus started")
	return nil
}

// Close releases the pull adapter, if any.
func (b *Bus) Close() error {
	if b.pull != nil {
		return b.pull.Close()
	}
	return nil
}
