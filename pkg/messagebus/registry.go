package messagebus

import (
	"context"
	"fmt"

	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
)

// Handler processes every message of exactly one type.
type Handler interface {
	MessageType() string
	OnMessage(ctx context.Context, msg *types.Message) (*types.ProcessingOutcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	Type string
	Fn   func(ctx context.Context, msg *types.Message) (*types.ProcessingOutcome, error)
}

func (h HandlerFunc) MessageType() string { return h.Type }

func (h HandlerFunc) OnMessage(ctx context.Context, msg *types.Message) (*types.ProcessingOutcome, error) {
	return h.Fn(ctx, msg)
}

type correlationKey struct{}

// WithCorrelationID stores cid in ctx.
func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, correlationKey{}, cid)
}

// CorrelationID returns the correlation id of the message being processed.
func CorrelationID(ctx context.Context) string {
	cid, _ := ctx.Value(correlationKey{}).(string)
	return cid
}

// Registry maps message types to handlers. It is written only during startup;
// once sealed, lookups are plain map reads and need no locking.
type Registry struct {
	handlers map[string]Handler
	sealed   bool
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.With().Str("component", "HandlerRegistry").Logger(),
	}
}

// Register adds h. A second handler for the same type is a configuration error.
func (r *Registry) Register(h Handler) error {
	if r.sealed {
		return apperrors.NewServerError("handler registry is sealed, cannot register handler for %q", h.MessageType())
	}
	msgType := h.MessageType()
	if msgType == "" {
		return apperrors.NewServerError("handler %T declares no message type", h)
	}
	if existing, ok := r.handlers[msgType]; ok {
		return apperrors.NewServerError("duplicate handler for message type %q: %T is already registered", msgType, existing)
	}
	r.handlers[msgType] = h
	r.logger.Info().Str("message_type", msgType).Msg("Registered message handler")
	return nil
}

// MustRegister is Register for static startup code.
func (r *Registry) MustRegister(handlers ...Handler) {
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

// Seal forbids further registrations.
func (r *Registry) Seal() { r.sealed = true }

// Types returns the registered message types.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch routes msg to its handler. A type nobody handles is ignored, not an error.
func (r *Registry) Dispatch(ctx context.Context, msg *types.Message) (*types.ProcessingOutcome, error) {
	h, ok := r.handlers[msg.Type]
	if !ok {
		r.logger.Debug().Str("message_type", msg.Type).Msg("No handler registered, ignoring message")
		return types.Ignored(fmt.Sprintf("No handler found for message type %s", msg.Type)), nil
	}

	cid := msg.EnsureCorrelationID()
	log := r.logger.With().Str("cid", cid).Str("message_type", msg.Type).Str("msg_id", msg.ID).Logger()
	ctx = log.WithContext(WithCorrelationID(ctx, cid))

	outcome, err := h.OnMessage(ctx, msg)
	if err != nil {
		log.Error().Err(err).Msg("Message handler failed")
		return nil, err
	}
	if outcome == nil {
		outcome = types.Processed(nil)
	}
	log.Debug().Str("status", string(outcome.Status)).Msg("Message handled")
	return outcome, nil
}
