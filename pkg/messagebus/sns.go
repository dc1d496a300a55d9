package messagebus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
)

// ProviderAWS is the provider name of the SNS push adapter.
const ProviderAWS = "aws"

const (
	HeaderSNSMessageType = "x-amz-sns-message-type"

	snsNotification             = "Notification"
	snsSubscriptionConfirmation = "SubscriptionConfirmation"
	snsUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// snsPayload is the JSON body of every SNS HTTP(S) delivery.
type snsPayload struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	Token            string `json:"Token,omitempty"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
}

func parseSNSPayload(body []byte) (*snsPayload, error) {
	var p snsPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// snsHost matches the regional SNS service endpoints. Other amazonaws.com
// hosts, S3 buckets among them, serve customer content.
var snsHost = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

// isSNSURL accepts only HTTPS URLs on an SNS service endpoint.
func isSNSURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Port() == "" && snsHost.MatchString(u.Hostname())
}

// isSNSCertURL accepts SNS endpoint URLs of PEM certificates.
func isSNSCertURL(raw string) bool {
	if !isSNSURL(raw) {
		return false
	}
	u, _ := url.Parse(raw)
	return u.RawQuery == "" && strings.HasSuffix(u.Path, ".pem")
}

// SNSPublishAPI is the part of *sns.Client the adapter uses.
type SNSPublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SNSConfig configures the SNS adapter.
type SNSConfig struct {
	// AllowedTopicArns restricts accepted deliveries to these topics. Empty
	// accepts any topic whose signature verifies.
	AllowedTopicArns []string `yaml:"allowed_topic_arns"`
}

// SNSPushAdapter receives SNS HTTP(S) deliveries and publishes to SNS topics.
type SNSPushAdapter struct {
	client   SNSPublishAPI
	verifier *snsVerifier
	http     HTTPDoer
	logger   zerolog.Logger
}

// NewSNSPushAdapter creates the adapter. httpClient downloads signing
// certificates and confirms subscriptions; nil uses http.DefaultClient.
func NewSNSPushAdapter(client SNSPublishAPI, cfg SNSConfig, httpClient HTTPDoer, logger zerolog.Logger) *SNSPushAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger = logger.With().Str("component", "SNSPushAdapter").Logger()
	return &SNSPushAdapter{
		client:   client,
		verifier: newSNSVerifier(httpClient, cfg.AllowedTopicArns, logger),
		http:     httpClient,
		logger:   logger,
	}
}

func (a *SNSPushAdapter) Provider() string            { return ProviderAWS }
func (a *SNSPushAdapter) Kind() Kind                  { return KindPush }
func (a *SNSPushAdapter) Validator() RequestValidator { return a }

// IsRecognized checks for the signature fields and a certificate URL on an
// SNS endpoint so that an arbitrary client cannot pose as SNS.
func (a *SNSPushAdapter) IsRecognized(env *Envelope) bool {
	p, err := parseSNSPayload(env.Body)
	if err != nil {
		return false
	}
	if p.Type == "" || p.Signature == "" || p.SigningCertURL == "" {
		return false
	}
	return isSNSCertURL(p.SigningCertURL)
}

// IsAuthorized verifies the message signature against the SNS signing certificate.
func (a *SNSPushAdapter) IsAuthorized(ctx context.Context, env *Envelope) (bool, error) {
	p, err := parseSNSPayload(env.Body)
	if err != nil {
		return false, nil
	}
	if err := a.verifier.verify(ctx, p); err != nil {
		a.logger.Warn().Err(err).Str("type", p.Type).Str("message_id", p.MessageID).Msg("SNS signature verification failed")
		return false, nil
	}
	a.logger.Debug().Str("type", p.Type).Str("message_id", p.MessageID).Msg("SNS message validated successfully")
	return true, nil
}

// Filter claims subscription handshake traffic. The signed body Type decides;
// a x-amz-sns-message-type header contradicting it is rejected.
func (a *SNSPushAdapter) Filter(env *Envelope) RequestFilter {
	p, err := parseSNSPayload(env.Body)
	if err != nil {
		return nil
	}
	if header := env.Header.Get(HeaderSNSMessageType); header != "" && header != p.Type {
		a.logger.Warn().Str("header_type", header).Str("body_type", p.Type).Msg("SNS message type header does not match body")
		return rejectFilter{err: apperrors.NewClientError(http.StatusBadRequest, "message type header %s does not match body type %s", header, p.Type)}
	}
	switch p.Type {
	case snsSubscriptionConfirmation, snsUnsubscribeConfirmation:
		return &snsConfirmationFilter{messageType: p.Type, http: a.http, logger: a.logger}
	default:
		return nil
	}
}

// rejectFilter claims a delivery only to fail it.
type rejectFilter struct{ err error }

func (f rejectFilter) Handle(context.Context, *Envelope) (*types.ProcessingOutcome, error) {
	return nil, f.err
}

// Convert unwraps the logical message nested in a Notification's Message field.
func (a *SNSPushAdapter) Convert(_ context.Context, env *Envelope) (*types.Message, error) {
	p, err := parseSNSPayload(env.Body)
	if err != nil {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "request body is not an SNS message")
	}
	if p.Type != snsNotification {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "unsupported message type: %s", p.Type)
	}

	var wm wireMessage
	if err := json.Unmarshal([]byte(p.Message), &wm); err != nil {
		a.logger.Info().Str("message_id", p.MessageID).Msg("SNS message is not valid JSON")
		return nil, apperrors.NewClientError(http.StatusBadRequest, "message is not valid JSON")
	}
	if wm.Type == "" {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "message type is missing")
	}

	msg := wm.toMessage()
	if msg.ID == "" {
		msg.ID = p.MessageID
	}
	if msg.Timestamp == "" {
		msg.Timestamp = p.Timestamp
	}
	return msg, nil
}

// Publish sends msg to the resolved topic ARN.
func (a *SNSPushAdapter) Publish(ctx context.Context, dest types.Destination, msg *types.Message) error {
	if a.client == nil {
		return apperrors.NewServerError("no SNS client configured")
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return apperrors.WrapServerError(err, "encoding message of type %s", msg.Type)
	}
	out, err := a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(dest.Topic),
		Message:  aws.String(string(data)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(msg.Type)},
		},
	})
	if err != nil {
		return apperrors.WrapServerError(err, "publishing message of type %s to %s", msg.Type, dest.Topic)
	}
	a.logger.Debug().Str("message_id", aws.ToString(out.MessageId)).Str("topic_arn", dest.Topic).Msg("Published message to SNS")
	return nil
}
