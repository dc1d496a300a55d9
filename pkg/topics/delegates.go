package topics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/illmade-knight/tome-topics/pkg/api"
	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
)

// dateLayout is the YYYYMMDD format dates are stored in.
const dateLayout = "20060102"

// EventPublisher publishes events. *messagebus.Bus satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, dest types.Destination, msg *types.Message) error
}

// Delegates implements the topics API.
type Delegates struct {
	store     Store
	publisher EventPublisher
	events    types.Destination
	now       func() time.Time
	logger    zerolog.Logger
}

// NewDelegates creates the topics API. Events are published to events.
func NewDelegates(store Store, publisher EventPublisher, events types.Destination, logger zerolog.Logger) *Delegates {
	return &Delegates{
		store:     store,
		publisher: publisher,
		events:    events,
		now:       time.Now,
		logger:    logger.With().Str("component", "TopicsAPI").Logger(),
	}
}

// Routes registers the topics paths on c.
func (d *Delegates) Routes(c *api.Controller) {
	c.Path(http.MethodPost, "/topics", api.DelegateFunc(d.PostTopic), auth.PathOptions{})
	c.Path(http.MethodGet, "/topics", api.DelegateFunc(d.GetTopics), auth.PathOptions{})
	c.Path(http.MethodGet, "/topics/{topicId}", api.DelegateFunc(d.GetTopic), auth.PathOptions{})
	c.Path(http.MethodPut, "/topics/{topicId}", api.DelegateFunc(d.PutTopic), auth.PathOptions{})
	c.Path(http.MethodDelete, "/topics/{topicId}", api.DelegateFunc(d.DeleteTopic), auth.PathOptions{})
	c.Path(http.MethodPost, "/topics/{topicId}/refresh", api.DelegateFunc(d.RefreshTopic), auth.PathOptions{})
}

func emailOf(user *auth.UserIdentity) string {
	if user == nil {
		return ""
	}
	return user.Email
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return apperrors.NewClientError(http.StatusBadRequest, "request body is missing")
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return apperrors.NewClientError(http.StatusBadRequest, "request body is missing")
	}
	if err != nil {
		return apperrors.NewClientError(http.StatusBadRequest, "request body is not valid JSON: %v", err)
	}
	return nil
}

type postTopicRequest struct {
	Name    string `json:"name"`
	BlogURL string `json:"blogURL"`
}

// PostTopic creates a topic for the calling user.
func (d *Delegates) PostTopic(ctx context.Context, r *http.Request, user *auth.UserIdentity) (any, error) {
	var body postTopicRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "No name provided")
	}
	if body.BlogURL == "" {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "No Blog URL provided")
	}

	email := emailOf(user)
	existing, err := d.store.FindTopicByName(ctx, body.Name, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "Topic with name %s already exists. It was created by user %s.", body.Name, existing.User)
	}

	topic := &Topic{
		Name:      body.Name,
		BlogURL:   body.BlogURL,
		CreatedOn: d.now().UTC().Format(dateLayout),
		User:      email,
	}
	id, err := d.store.SaveTopic(ctx, topic)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("topic_id", id).Str("name", topic.Name).Msg("Topic created")
	return map[string]string{"id": id}, nil
}

// GetTopics lists the topics of the calling user.
func (d *Delegates) GetTopics(ctx context.Context, _ *http.Request, user *auth.UserIdentity) (any, error) {
	topics, err := d.store.FindTopicsByUser(ctx, emailOf(user))
	if err != nil {
		return nil, err
	}
	return map[string]any{"topics": topics}, nil
}

// GetTopic returns a single topic.
func (d *Delegates) GetTopic(ctx context.Context, r *http.Request, _ *auth.UserIdentity) (any, error) {
	topicID := chi.URLParam(r, "topicId")
	topic, err := d.store.FindTopicByID(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, apperrors.NewClientError(http.StatusNotFound, "Topic with id %s not found", topicID)
	}
	return topic, nil
}

// PutTopic applies a partial metadata update.
func (d *Delegates) PutTopic(ctx context.Context, r *http.Request, _ *auth.UserIdentity) (any, error) {
	topicID := chi.URLParam(r, "topicId")
	var metadata TopicMetadata
	if err := decodeBody(r, &metadata); err != nil {
		return nil, err
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	result, err := d.store.UpdateTopicMetadata(ctx, topicID, metadata)
	if err != nil {
		return nil, err
	}
	return map[string]int{"result": result}, nil
}

// DeleteTopic deletes a topic of the calling user and announces it.
func (d *Delegates) DeleteTopic(ctx context.Context, r *http.Request, user *auth.UserIdentity) (any, error) {
	topicID := chi.URLParam(r, "topicId")
	email := emailOf(user)

	topic, err := d.store.FindTopicByID(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, apperrors.NewClientError(http.StatusNotFound, "Topic with id %s not found for user %s", topicID, email)
	}

	deleted, err := d.store.DeleteTopicByID(ctx, topicID, email)
	if err != nil {
		return nil, err
	}
	if deleted > 0 {
		topic.ID = topicID
		if err := d.publish(ctx, EventTopicDeleted, topic, "Topic with id "+topicID+" deleted by user "+email); err != nil {
			return nil, err
		}
	}
	return map[string]int{"deletedCount": deleted}, nil
}

// RefreshTopic marks the flashcards of a topic as incomplete and asks for
// them to be generated again.
func (d *Delegates) RefreshTopic(ctx context.Context, r *http.Request, user *auth.UserIdentity) (any, error) {
	topicID := chi.URLParam(r, "topicId")

	topic, err := d.store.FindTopicByID(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "Topic with id %s could not be found.", topicID)
	}

	incomplete := false
	if _, err := d.store.UpdateTopicMetadata(ctx, topicID, TopicMetadata{FlashcardsGenerationComplete: &incomplete}); err != nil {
		return nil, err
	}

	topic.ID = topicID
	if err := d.publish(ctx, EventTopicRefreshed, topic, "Topic "+topicID+" refreshed by user "+emailOf(user)); err != nil {
		return nil, err
	}
	return map[string]bool{"refreshed": true}, nil
}

func (d *Delegates) publish(ctx context.Context, eventType string, topic *Topic, description string) error {
	msg, err := types.NewMessage(eventType, topic, description)
	if err != nil {
		return apperrors.WrapServerError(err, "encoding %s event", eventType)
	}
	if err := d.publisher.Publish(ctx, d.events, msg); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("topic_id", topic.ID).Str("event", eventType).Msg("Event published")
	return nil
}
