package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/rs/zerolog"
)

const (
	HeaderCorrelationID = "x-correlation-id"
	HeaderAppVersion    = "x-app-version"

	SubcodeAppVersionNotCompatible = "app-version-not-compatible"
)

// Config holds the request validation properties of the service.
type Config struct {
	// CustomAuthProvider is the issuer name of tokens signed with the local key.
	CustomAuthProvider string
	// ExpectedAudience is checked on third party tokens.
	ExpectedAudience string
	// NoAuth disables authentication for every path.
	NoAuth bool
	// RequireCorrelationID rejects requests without an x-correlation-id header.
	RequireCorrelationID bool
	// MinAppVersion, when set, rejects clients reporting an older x-app-version.
	MinAppVersion string
}

// PathOptions relax validation for a single path.
type PathOptions struct {
	NoAuth bool
}

// GoogleTokenVerifier is the third party verification path.
type GoogleTokenVerifier interface {
	Verify(ctx context.Context, token, audience string) *UserIdentity
}

// Authenticator validates ordinary API requests.
type Authenticator struct {
	cfg        Config
	minVersion *version.Version
	custom     *CustomVerifier
	google     GoogleTokenVerifier
	logger     zerolog.Logger
}

// NewAuthenticator builds an Authenticator. custom may be nil when the service
// accepts no locally signed tokens; google may be nil when no third party
// provider is trusted.
func NewAuthenticator(cfg Config, custom *CustomVerifier, google GoogleTokenVerifier, logger zerolog.Logger) (*Authenticator, error) {
	a := &Authenticator{
		cfg:    cfg,
		custom: custom,
		google: google,
		logger: logger.With().Str("component", "Authenticator").Logger(),
	}
	if cfg.MinAppVersion != "" {
		v, err := version.NewVersion(cfg.MinAppVersion)
		if err != nil {
			return nil, err
		}
		a.minVersion = v
	}
	return a, nil
}

// RequiresIdentity reports whether a path with opts must be called by an
// authenticated user.
func (a *Authenticator) RequiresIdentity(opts PathOptions) bool {
	return !a.cfg.NoAuth && !opts.NoAuth
}

// ExpectedAudience returns the audience third party tokens must carry.
func (a *Authenticator) ExpectedAudience() string { return a.cfg.ExpectedAudience }

// Authenticate validates r and returns the caller identity. A nil identity with
// a nil error means no issuer was recognized or the third party rejected the
// token; paths that need an identity must enforce that themselves.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, opts PathOptions) (*UserIdentity, error) {
	cid := r.Header.Get(HeaderCorrelationID)
	log := a.logger.With().Str("cid", cid).Logger()

	if a.cfg.RequireCorrelationID && cid == "" {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "No Correlation ID was provided")
	}

	if err := a.checkAppVersion(r.Header.Get(HeaderAppVersion)); err != nil {
		return nil, err
	}

	if a.cfg.NoAuth || opts.NoAuth {
		return nil, nil
	}

	token, err := ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	claims, err := DecodeClaims(token)
	if err != nil {
		return nil, err
	}

	provider := ProviderOf(claims)
	log.Debug().Str("auth_provider", provider).Msg("Resolved auth provider")

	switch {
	case a.custom != nil && strings.EqualFold(provider, a.custom.Provider()):
		return a.custom.Verify(token)
	case strings.EqualFold(provider, ProviderGoogle) && a.google != nil:
		return a.google.Verify(ctx, token, a.cfg.ExpectedAudience), nil
	default:
		log.Debug().Str("auth_provider", provider).Msg("No auth provider could be determined, identity will be empty")
		return nil, nil
	}
}

func (a *Authenticator) checkAppVersion(reported string) error {
	if a.minVersion == nil || reported == "" {
		return nil
	}
	v, err := version.NewVersion(reported)
	if err != nil || v.LessThan(a.minVersion) {
		return apperrors.NewClientError(http.StatusPreconditionFailed, "The App Version is not compatible with this API").
			WithSubcode(SubcodeAppVersionNotCompatible)
	}
	return nil
}
