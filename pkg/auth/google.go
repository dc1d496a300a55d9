package auth

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// IDTokenValidator is satisfied by *idtoken.Validator.
type IDTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// GoogleVerifier verifies Google issued ID tokens against Google's public keys.
type GoogleVerifier struct {
	validator IDTokenValidator
	logger    zerolog.Logger
}

// NewGoogleVerifier creates a verifier backed by an idtoken.Validator.
func NewGoogleVerifier(ctx context.Context, logger zerolog.Logger, opts ...option.ClientOption) (*GoogleVerifier, error) {
	v, err := idtoken.NewValidator(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return NewGoogleVerifierWithValidator(v, logger), nil
}

// NewGoogleVerifierWithValidator uses an injected validator.
func NewGoogleVerifierWithValidator(v IDTokenValidator, logger zerolog.Logger) *GoogleVerifier {
	return &GoogleVerifier{
		validator: v,
		logger:    logger.With().Str("component", "GoogleVerifier").Logger(),
	}
}

// Verify returns the identity carried by token, or nil when the token does not
// verify, was issued for another audience, or has no email claim. A nil result
// means "not authenticated"; the caller decides whether that is fatal.
func (g *GoogleVerifier) Verify(ctx context.Context, token, audience string) *UserIdentity {
	payload, err := g.validator.Validate(ctx, token, audience)
	if err != nil {
		g.logger.Warn().Err(err).Str("audience", audience).Msg("Google ID token failed verification")
		return nil
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		g.logger.Warn().Str("subject", payload.Subject).Msg("Google ID token carries no email claim")
		return nil
	}

	userID := payload.Subject
	if userID == "" {
		userID = email
	}
	return &UserIdentity{Email: email, AuthProvider: ProviderGoogle, UserID: userID}
}
