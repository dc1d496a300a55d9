package messagebus

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
)

// snsConfirmationFilter consumes SNS subscription handshakes.
type snsConfirmationFilter struct {
	messageType string
	http        HTTPDoer
	logger      zerolog.Logger
}

// Handle confirms a subscription by visiting its SubscribeURL. Unsubscribe
// confirmations are only acknowledged: visiting their SubscribeURL would
// subscribe the endpoint again.
func (f *snsConfirmationFilter) Handle(ctx context.Context, env *Envelope) (*types.ProcessingOutcome, error) {
	p, err := parseSNSPayload(env.Body)
	if err != nil {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "request body is not an SNS message")
	}
	log := f.logger.With().Str("type", f.messageType).Str("topic_arn", p.TopicArn).Logger()

	if f.messageType == snsUnsubscribeConfirmation {
		log.Info().Msg("SNS unsubscribe confirmation acknowledged")
		return types.Processed(fmt.Sprintf("unsubscribed from %s", p.TopicArn)), nil
	}

	if !isSNSURL(p.SubscribeURL) {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "SubscribeURL is missing or not an SNS URL")
	}

	log.Info().Str("subscribe_url", p.SubscribeURL).Msg("Confirming SNS subscription")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.SubscribeURL, nil)
	if err != nil {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "SubscribeURL is not a valid URL")
	}
	resp, err := f.http.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("Error confirming SNS subscription")
		return types.Failed(err.Error()), nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Msg("Failed to confirm SNS subscription")
		return types.Failed(fmt.Sprintf("subscription confirmation returned status %d", resp.StatusCode)), nil
	}
	log.Info().Msg("SNS subscription confirmed successfully")
	return types.Processed(fmt.Sprintf("subscribed to %s", p.TopicArn)), nil
}
