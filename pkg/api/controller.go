// Package api is the HTTP surface of the service: authenticated JSON paths
// backed by delegates, and the push endpoint messaging providers deliver to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/messagebus"
	"github.com/rs/zerolog"
)

// maxPushBody caps the body of a push delivery.
const maxPushBody = 10 << 20

// Delegate implements a single API path.
type Delegate interface {
	Do(ctx context.Context, r *http.Request, user *auth.UserIdentity) (any, error)
}

// DelegateFunc adapts a function to the Delegate interface.
type DelegateFunc func(ctx context.Context, r *http.Request, user *auth.UserIdentity) (any, error)

func (f DelegateFunc) Do(ctx context.Context, r *http.Request, user *auth.UserIdentity) (any, error) {
	return f(ctx, r, user)
}

// RequestAuthenticator is satisfied by *auth.Authenticator.
type RequestAuthenticator interface {
	Authenticate(ctx context.Context, r *http.Request, opts auth.PathOptions) (*auth.UserIdentity, error)
	RequiresIdentity(opts auth.PathOptions) bool
}

// Config holds the HTTP properties of the service.
type Config struct {
	APIName  string
	BasePath string
}

// Controller owns the router. Every path is registered under BasePath.
type Controller struct {
	cfg    Config
	authn  RequestAuthenticator
	logger zerolog.Logger
	root   *chi.Mux
	api    chi.Router
}

// NewController creates the router and registers the smoke endpoint.
func NewController(cfg Config, authn RequestAuthenticator, logger zerolog.Logger) *Controller {
	c := &Controller{
		cfg:    cfg,
		authn:  authn,
		logger: logger.With().Str("component", "APIController").Str("api", cfg.APIName).Logger(),
		root:   chi.NewRouter(),
	}
	c.root.Use(chimw.Recoverer)
	c.root.Use(c.correlation)
	c.root.Use(c.requestLogger)

	c.api = chi.NewRouter()
	c.api.Get("/", c.smoke)
	if cfg.BasePath == "" || cfg.BasePath == "/" {
		c.root.Mount("/", c.api)
	} else {
		c.root.Mount(cfg.BasePath, c.api)
	}
	return c
}

// Handler returns the root handler.
func (c *Controller) Handler() http.Handler { return c.root }

func (c *Controller) smoke(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"api": c.cfg.APIName, "running": true})
}

// Path registers d on method and path. Unless opts allow anonymous access,
// a request without a recognized identity is rejected with 401.
func (c *Controller) Path(method, path string, d Delegate, opts auth.PathOptions) {
	c.api.MethodFunc(method, path, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := zerolog.Ctx(ctx)

		user, err := c.authn.Authenticate(ctx, r, opts)
		if err != nil {
			log.Info().Err(err).Msg("Request rejected")
			apperrors.WriteHTTP(w, err)
			return
		}
		if user == nil && c.authn.RequiresIdentity(opts) {
			apperrors.WriteHTTP(w, apperrors.NewClientError(http.StatusUnauthorized, "Unauthorized"))
			return
		}

		result, err := d.Do(ctx, r, user)
		if err != nil {
			if !apperrors.IsClientError(err) {
				log.Error().Err(err).Msg("Delegate failed")
			}
			apperrors.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
	c.logger.Info().Str("method", method).Str("path", path).Msg("Registered path")
}

// RegisterPushEndpoint mounts the messaging push endpoint.
func (c *Controller) RegisterPushEndpoint(path string, cb messagebus.PushCallback) {
	c.api.Post(path, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
		if err != nil {
			apperrors.WriteHTTP(w, apperrors.NewClientError(http.StatusBadRequest, "cannot read request body"))
			return
		}
		env := &messagebus.Envelope{Header: r.Header.Clone(), Body: body}

		outcome, err := cb(r.Context(), env)
		if err != nil {
			if !apperrors.IsClientError(err) {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("Push delivery failed")
			}
			apperrors.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (c *Controller) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           c.root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info().Str("addr", addr).Str("base_path", c.cfg.BasePath).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	c.logger.Info().Msg("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		v = struct{}{}
	}
	_ = json.NewEncoder(w).Encode(v)
}
