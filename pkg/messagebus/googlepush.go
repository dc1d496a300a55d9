package messagebus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
)

// ProviderGCP is the provider name of the Pub/Sub push adapter.
const ProviderGCP = "gcp"

// pushRequest is the body of a Pub/Sub push subscription delivery.
type pushRequest struct {
	Message struct {
		Data        *string           `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// TopicPublisher sends an encoded message to a provider topic and returns the
// provider assigned message id.
type TopicPublisher interface {
	Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) (string, error)
}

// GooglePushAdapter receives Pub/Sub push deliveries and publishes to Pub/Sub topics.
type GooglePushAdapter struct {
	publisher TopicPublisher
	verifier  auth.GoogleTokenVerifier
	audience  string
	logger    zerolog.Logger
}

// NewGooglePushAdapter creates the adapter. Push deliveries must carry a Google
// signed ID token minted for audience.
func NewGooglePushAdapter(publisher TopicPublisher, verifier auth.GoogleTokenVerifier, audience string, logger zerolog.Logger) *GooglePushAdapter {
	return &GooglePushAdapter{
		publisher: publisher,
		verifier:  verifier,
		audience:  audience,
		logger:    logger.With().Str("component", "GooglePushAdapter").Logger(),
	}
}

func (a *GooglePushAdapter) Provider() string            { return ProviderGCP }
func (a *GooglePushAdapter) Kind() Kind                  { return KindPush }
func (a *GooglePushAdapter) Validator() RequestValidator { return a }

// Filter returns nil: Pub/Sub push has no handshake traffic.
func (a *GooglePushAdapter) Filter(*Envelope) RequestFilter { return nil }

// IsRecognized reports whether the body carries message.data.
func (a *GooglePushAdapter) IsRecognized(env *Envelope) bool {
	var req pushRequest
	if err := json.Unmarshal(env.Body, &req); err != nil {
		return false
	}
	return req.Message.Data != nil
}

// IsAuthorized verifies the bearer ID token Pub/Sub attaches to push requests.
func (a *GooglePushAdapter) IsAuthorized(ctx context.Context, env *Envelope) (bool, error) {
	header := env.Header.Get("Authorization")
	if header == "" {
		return false, apperrors.NewClientError(http.StatusUnauthorized, "No Authorization Header provided")
	}
	token, err := auth.ExtractBearer(header)
	if err != nil {
		return false, err
	}
	if a.verifier == nil {
		a.logger.Error().Msg("No token verifier configured, rejecting push delivery")
		return false, nil
	}
	identity := a.verifier.Verify(ctx, token, a.audience)
	if identity == nil || identity.Email == "" {
		return false, nil
	}
	a.logger.Debug().Str("email", identity.Email).Msg("Push delivery authorized")
	return true, nil
}

// Convert decodes the base64 JSON logical message inside message.data.
func (a *GooglePushAdapter) Convert(_ context.Context, env *Envelope) (*types.Message, error) {
	var req pushRequest
	if err := json.Unmarshal(env.Body, &req); err != nil {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "request body is not a Pub/Sub push message")
	}
	if req.Message.Data == nil {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "Pub/Sub push message carries no data")
	}
	decoded, err := base64.StdEncoding.DecodeString(*req.Message.Data)
	if err != nil {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "Pub/Sub message data is not valid base64")
	}

	var wm wireMessage
	if err := json.Unmarshal(decoded, &wm); err != nil {
		return nil, apperrors.WrapServerError(err, "parsing Pub/Sub message data of message %s", req.Message.MessageID)
	}
	if wm.Type == "" {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "message type is missing")
	}

	msg := wm.toMessage()
	if msg.ID == "" {
		msg.ID = req.Message.MessageID
	}
	if msg.Timestamp == "" {
		msg.Timestamp = req.Message.PublishTime
	}
	return msg, nil
}

// Publish encodes msg and sends it to the resolved topic.
func (a *GooglePushAdapter) Publish(ctx context.Context, dest types.Destination, msg *types.Message) error {
	if a.publisher == nil {
		return apperrors.NewServerError("no Pub/Sub publisher configured")
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return apperrors.WrapServerError(err, "encoding message of type %s", msg.Type)
	}
	serverID, err := a.publisher.Publish(ctx, dest.Topic, data, map[string]string{"type": msg.Type, "cid": msg.CorrelationID})
	if err != nil {
		return apperrors.WrapServerError(err, "publishing message of type %s to %s", msg.Type, dest.Topic)
	}
	a.logger.Debug().Str("server_id", serverID).Str("topic", dest.Topic).Msg("Published message to Pub/Sub")
	return nil
}
