package messagebus

import (
	"context"
	"net/http"

	"github.com/illmade-knight/tome-topics/pkg/types"
)

// ====================================================================================
// This file defines the contracts every messaging provider adapter implements.
// An adapter is tagged with a Kind; the Bus switches on the tag once, when it is
// constructed, and keeps the specialized interface from then on.
// ====================================================================================

// Kind tells push providers (the provider calls our HTTP endpoint) apart from
// pull providers (we poll the provider).
type Kind int

const (
	KindPush Kind = iota
	KindPull
)

func (k Kind) String() string {
	switch k {
	case KindPush:
		return "push"
	case KindPull:
		return "pull"
	default:
		return "unknown"
	}
}

// Envelope is a single inbound delivery as received from the transport. For
// push providers it is the HTTP request, read once so that every stage can
// inspect it; for pull providers Header is empty.
type Envelope struct {
	Header http.Header
	Body   []byte
}

// NewEnvelope builds an Envelope from a raw payload.
func NewEnvelope(body []byte) *Envelope {
	return &Envelope{Header: http.Header{}, Body: body}
}

// RequestValidator authenticates inbound deliveries of one provider.
type RequestValidator interface {
	// IsRecognized is a cheap structural check telling whether the delivery
	// looks like it comes from this provider.
	IsRecognized(env *Envelope) bool
	// IsAuthorized performs the, possibly network bound, authentication. It
	// must only be called after IsRecognized returned true.
	IsAuthorized(ctx context.Context, env *Envelope) (bool, error)
}

// Adapter is the capability set shared by every provider.
type Adapter interface {
	// Provider names the provider, e.g. "gcp" or "aws". The Bus selects the
	// active adapter by this name.
	Provider() string
	Kind() Kind
	// Convert normalizes a provider envelope into a Message.
	Convert(ctx context.Context, env *Envelope) (*types.Message, error)
	Validator() RequestValidator
	// Publish sends msg to an already resolved destination.
	Publish(ctx context.Context, dest types.Destination, msg *types.Message) error
}

// RequestFilter handles provider handshake traffic that must never reach the
// handler registry.
type RequestFilter interface {
	Handle(ctx context.Context, env *Envelope) (*types.ProcessingOutcome, error)
}

// PushAdapter is an Adapter whose provider calls our HTTP endpoint.
type PushAdapter interface {
	Adapter
	// Filter returns a non nil RequestFilter when the delivery is handshake
	// traffic the adapter handles itself.
	Filter(env *Envelope) RequestFilter
}

// PullCallback receives every envelope a pull adapter polls. It is always the
// Bus; a pull adapter never invokes a handler directly.
type PullCallback func(ctx context.Context, env *Envelope) (*types.ProcessingOutcome, error)

// PullAdapter is an Adapter that polls its provider.
type PullAdapter interface {
	Adapter
	SetMessageHandler(cb PullCallback)
	// Start begins polling; it returns once the polling workers are running.
	Start(ctx context.Context) error
	// Close stops polling and releases the provider connection.
	Close() error
}
