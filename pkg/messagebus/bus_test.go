package messagebus

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingRegistrar struct {
	paths map[string]PushCallback
}

func (r *recordingRegistrar) RegisterPushEndpoint(path string, cb PushCallback) {
	if r.paths == nil {
		r.paths = make(map[string]PushCallback)
	}
	r.paths[path] = cb
}

// newGoogleBus builds a bus on the Pub/Sub push adapter accepting "Bearer valid".
func newGoogleBus(t *testing.T, publisher TopicPublisher, handlers ...Handler) *Bus {
	t.Helper()
	verifier := new(MockTokenVerifier)
	verifier.On("Verify", mock.Anything, "valid", "aud").Return(&auth.UserIdentity{Email: "push@p.iam.gserviceaccount.com"})
	verifier.On("Verify", mock.Anything, mock.Anything, "aud").Return(nil)

	registry := NewRegistry(zerolog.Nop())
	for _, h := range handlers {
		require.NoError(t, registry.Register(h))
	}
	resolver := NewResolver(types.TopicIdentifier{LogicalName: "tometopics", ResourceIdentifier: "projects/p/topics/tometopics-dev"})

	b, err := NewBus(Config{Provider: ProviderGCP}, registry, resolver, zerolog.Nop(),
		NewSNSPushAdapter(nil, SNSConfig{}, newFakeHTTP(), zerolog.Nop()),
		NewGooglePushAdapter(publisher, verifier, "aud", zerolog.Nop()),
	)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	return b
}

func TestBus_EndToEndPushDelivery(t *testing.T) {
	h := &recordingHandler{msgType: "topicScraped"}
	b := newGoogleBus(t, nil, h)

	registrar := &recordingRegistrar{}
	b.Mount(registrar)
	cb, ok := registrar.paths["/events"]
	require.True(t, ok)

	payload := map[string]any{"topicId": "t-1", "numSections": 4}
	outcome, err := cb(context.Background(), pushEnvelope(t, map[string]any{"type": "topicScraped", "data": payload}, "Bearer valid"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessed, outcome.Status)

	require.Equal(t, 1, h.invocations())
	got := h.calls[0]
	assert.JSONEq(t, `{"topicId":"t-1","numSections":4}`, string(got.Data))
	assert.NotEmpty(t, got.CorrelationID)
	assert.Equal(t, got.CorrelationID, h.cids[0])
}

func TestBus_OnPush_Rejections(t *testing.T) {
	ctx := context.Background()
	h := &recordingHandler{msgType: "topicScraped"}
	b := newGoogleBus(t, nil, h)
	logical := map[string]any{"type": "topicScraped", "data": map[string]any{}}

	t.Run("missing authorization header is 401", func(t *testing.T) {
		_, err := b.OnPush(ctx, pushEnvelope(t, logical, ""))
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, apperrors.StatusCode(err))
	})

	t.Run("rejected token is 401", func(t *testing.T) {
		_, err := b.OnPush(ctx, pushEnvelope(t, logical, "Bearer forged"))
		assert.Equal(t, http.StatusUnauthorized, apperrors.StatusCode(err))
	})

	t.Run("unrecognized body is 400", func(t *testing.T) {
		env := NewEnvelope([]byte(`{"hello":"world"}`))
		env.Header.Set("Authorization", "Bearer valid")
		_, err := b.OnPush(ctx, env)
		assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
	})

	assert.Equal(t, 0, h.invocations())

	t.Run("unhandled type is ignored", func(t *testing.T) {
		outcome, err := b.OnPush(ctx, pushEnvelope(t, map[string]any{"type": "flashcardsCreated"}, "Bearer valid"))
		require.NoError(t, err)
		assert.Equal(t, types.StatusIgnored, outcome.Status)
	})
}

func TestBus_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("topic resolved and metadata filled", func(t *testing.T) {
		publisher := new(MockTopicPublisher)
		publisher.On("Publish", mock.Anything, "projects/p/topics/tometopics-dev", mock.Anything, mock.Anything).Return("id-1", nil)
		b := newGoogleBus(t, publisher)

		msg := &types.Message{Type: "topicRefreshed", Data: json.RawMessage(`{"topicId":"t-1"}`)}
		require.NoError(t, b.Publish(WithCorrelationID(ctx, "cid-from-request"), types.TopicDestination("tometopics"), msg))

		var wm wireMessage
		require.NoError(t, json.Unmarshal(publisher.Calls[0].Arguments.Get(2).([]byte), &wm))
		assert.Equal(t, "cid-from-request", wm.CID)
		assert.NotEmpty(t, wm.ID)
		assert.NotEmpty(t, wm.Timestamp)
		assert.Empty(t, msg.ID, "caller message is not mutated")
	})

	t.Run("unknown topic fails before any send", func(t *testing.T) {
		publisher := new(MockTopicPublisher)
		b := newGoogleBus(t, publisher)
		err := b.Publish(ctx, types.TopicDestination("nope"), &types.Message{Type: "x"})
		assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("push provider requires a topic", func(t *testing.T) {
		publisher := new(MockTopicPublisher)
		b := newGoogleBus(t, publisher)
		err := b.Publish(ctx, types.QueueDestination("q"), &types.Message{Type: "x"})
		assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid message", func(t *testing.T) {
		b := newGoogleBus(t, new(MockTopicPublisher))
		err := b.Publish(ctx, types.TopicDestination("tometopics"), &types.Message{})
		assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
	})
}

func TestBus_WithoutActiveAdapter(t *testing.T) {
	ctx := context.Background()
	b, err := NewBus(Config{Provider: "azure"}, NewRegistry(zerolog.Nop()), NewResolver(), zerolog.Nop(),
		NewGooglePushAdapter(nil, nil, "aud", zerolog.Nop()))
	require.NoError(t, err)

	outcome, err := b.OnPush(ctx, pushEnvelope(t, map[string]any{"type": "x"}, "Bearer valid"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusIgnored, outcome.Status)

	err = b.Publish(ctx, types.TopicDestination("tometopics"), &types.Message{Type: "x"})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperrors.StatusCode(err))
}

func TestBus_RegistrySealedOnStart(t *testing.T) {
	b := newGoogleBus(t, nil)
	assert.Error(t, b.RegisterHandler(&recordingHandler{msgType: "late"}))
}

func TestNewBus_RequiresRegistry(t *testing.T) {
	_, err := NewBus(Config{Provider: ProviderGCP}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}
