package topics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/messagebus"
	"github.com/rs/zerolog"
)

// FlashcardTypes lists the flashcard types the flashcards service knows about.
type FlashcardTypes struct {
	Supported []string `json:"supported"`
	Generated []string `json:"generated"`
}

// FlashcardsClient reads from the Tome flashcards service.
type FlashcardsClient interface {
	Flashcards(ctx context.Context, topicID string) ([]Flashcard, error)
	FlashcardTypes(ctx context.Context) (*FlashcardTypes, error)
	LatestGeneration(ctx context.Context) (string, error)
}

// TokenIssuer signs service tokens. *auth.CustomVerifier satisfies it.
type TokenIssuer interface {
	Issue(user string, ttl time.Duration) (string, error)
}

// FlashcardsClientConfig configures the HTTP flashcards client.
type FlashcardsClientConfig struct {
	Endpoint string
	// ServiceUser is the user service tokens are issued for.
	ServiceUser string
	TokenTTL    time.Duration
	Timeout     time.Duration
}

// LoadFlashcardsClientConfigFromEnv reads TOME_FLASHCARDS_API_ENDPOINT.
func LoadFlashcardsClientConfigFromEnv(serviceUser string) FlashcardsClientConfig {
	return FlashcardsClientConfig{
		Endpoint:    os.Getenv("TOME_FLASHCARDS_API_ENDPOINT"),
		ServiceUser: serviceUser,
		TokenTTL:    5 * time.Minute,
		Timeout:     30 * time.Second,
	}
}

// HTTPFlashcardsClient calls the flashcards API with a service token.
type HTTPFlashcardsClient struct {
	cfg    FlashcardsClientConfig
	tokens TokenIssuer
	http   *http.Client
	logger zerolog.Logger
}

// NewHTTPFlashcardsClient creates a client. httpClient may be nil.
func NewHTTPFlashcardsClient(cfg FlashcardsClientConfig, tokens TokenIssuer, httpClient *http.Client, logger zerolog.Logger) (*HTTPFlashcardsClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("flashcards API endpoint cannot be empty")
	}
	if tokens == nil {
		return nil, errors.New("flashcards client needs a token issuer")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &HTTPFlashcardsClient{
		cfg:    cfg,
		tokens: tokens,
		http:   httpClient,
		logger: logger.With().Str("component", "FlashcardsClient").Logger(),
	}, nil
}

func (c *HTTPFlashcardsClient) Flashcards(ctx context.Context, topicID string) ([]Flashcard, error) {
	var resp struct {
		Flashcards []Flashcard `json:"flashcards"`
	}
	if err := c.get(ctx, "/flashcards?topicId="+url.QueryEscape(topicID), &resp); err != nil {
		return nil, err
	}
	return resp.Flashcards, nil
}

func (c *HTTPFlashcardsClient) FlashcardTypes(ctx context.Context) (*FlashcardTypes, error) {
	var resp FlashcardTypes
	if err := c.get(ctx, "/flashcardtypes", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPFlashcardsClient) LatestGeneration(ctx context.Context) (string, error) {
	var resp struct {
		LatestGeneration string `json:"latestGeneration"`
	}
	if err := c.get(ctx, "/generation/latest", &resp); err != nil {
		return "", err
	}
	return resp.LatestGeneration, nil
}

func (c *HTTPFlashcardsClient) get(ctx context.Context, path string, out any) error {
	token, err := c.tokens.Issue(c.cfg.ServiceUser, c.cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("issuing service token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if cid := messagebus.CorrelationID(ctx); cid != "" {
		req.Header.Set(auth.HeaderCorrelationID, cid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling flashcards API %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("flashcards API %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding flashcards API %s response: %w", path, err)
	}
	c.logger.Debug().Str("path", path).Msg("Flashcards API call succeeded")
	return nil
}
