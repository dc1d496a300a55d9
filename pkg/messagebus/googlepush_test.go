package messagebus

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestGooglePushAdapter_Convert(t *testing.T) {
	ctx := context.Background()
	a := NewGooglePushAdapter(nil, nil, "aud", zerolog.Nop())

	t.Run("nested message mapped", func(t *testing.T) {
		env := pushEnvelope(t, map[string]any{
			"type": "T",
			"data": map[string]any{"topicId": "t1"},
			"cid":  "cid-1",
			"msg":  "topic scraped",
		}, "")
		msg, err := a.Convert(ctx, env)
		require.NoError(t, err)
		assert.Equal(t, "T", msg.Type)
		assert.JSONEq(t, `{"topicId":"t1"}`, string(msg.Data))
		assert.Equal(t, "cid-1", msg.CorrelationID)
		assert.Equal(t, "topic scraped", msg.Msg)
		assert.Equal(t, "pubsub-1", msg.ID, "provider message id used when the producer set none")
		assert.Equal(t, "2025-01-02T03:04:05Z", msg.Timestamp)
	})

	t.Run("missing data is a client error", func(t *testing.T) {
		_, err := a.Convert(ctx, NewEnvelope([]byte(`{"message":{}}`)))
		assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
	})

	t.Run("bad base64 is a client error", func(t *testing.T) {
		_, err := a.Convert(ctx, NewEnvelope([]byte(`{"message":{"data":"%%%"}}`)))
		assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
	})

	t.Run("unparseable inner payload is unrecoverable", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"message": map[string]any{"data": "bm90IGpzb24="}}) // "not json"
		_, err := a.Convert(ctx, NewEnvelope(body))
		require.Error(t, err)
		assert.False(t, apperrors.IsClientError(err))
		assert.Equal(t, http.StatusInternalServerError, apperrors.StatusCode(err))
	})

	t.Run("missing type is a client error", func(t *testing.T) {
		_, err := a.Convert(ctx, pushEnvelope(t, map[string]any{"data": 1}, ""))
		assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
	})
}

func TestGooglePushAdapter_Validator(t *testing.T) {
	ctx := context.Background()
	verifier := new(MockTokenVerifier)
	verifier.On("Verify", mock.Anything, "good", "aud").Return(&auth.UserIdentity{Email: "push@p.iam.gserviceaccount.com"})
	verifier.On("Verify", mock.Anything, "bad", "aud").Return(nil)
	a := NewGooglePushAdapter(nil, verifier, "aud", zerolog.Nop())
	v := a.Validator()

	assert.True(t, v.IsRecognized(pushEnvelope(t, map[string]any{"type": "T"}, "")))
	assert.False(t, v.IsRecognized(NewEnvelope([]byte(`{"Type":"Notification"}`))))
	assert.False(t, v.IsRecognized(NewEnvelope([]byte(`not json`))))

	ok, err := v.IsAuthorized(ctx, pushEnvelope(t, map[string]any{"type": "T"}, ""))
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apperrors.StatusCode(err))

	ok, err = v.IsAuthorized(ctx, pushEnvelope(t, map[string]any{"type": "T"}, "Bearer good"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.IsAuthorized(ctx, pushEnvelope(t, map[string]any{"type": "T"}, "Bearer bad"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Nil(t, a.Filter(pushEnvelope(t, map[string]any{"type": "T"}, "")))
}

func TestGooglePushAdapter_Publish(t *testing.T) {
	publisher := new(MockTopicPublisher)
	publisher.On("Publish", mock.Anything, "projects/p/topics/tometopics", mock.Anything, map[string]string{"type": "topicRefreshed", "cid": "cid-9"}).
		Return("server-1", nil)
	a := NewGooglePushAdapter(publisher, nil, "aud", zerolog.Nop())

	err := a.Publish(context.Background(), types.TopicDestination("projects/p/topics/tometopics"), &types.Message{
		Type:          "topicRefreshed",
		Data:          json.RawMessage(`{"topicId":"t1"}`),
		CorrelationID: "cid-9",
	})
	require.NoError(t, err)

	data := publisher.Calls[0].Arguments.Get(2).([]byte)
	var wm wireMessage
	require.NoError(t, json.Unmarshal(data, &wm))
	assert.Equal(t, "topicRefreshed", wm.Type)
	assert.Equal(t, "cid-9", wm.CID)
	assert.JSONEq(t, `{"topicId":"t1"}`, string(wm.Data))
}

// setupTestPubsub starts an in-memory Pub/Sub server with one topic.
func setupTestPubsub(t *testing.T, projectID, topicID string) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, projectID,
		option.WithEndpoint(srv.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	return srv, client
}

func TestGooglePubsubPublisher_Publish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, client := setupTestPubsub(t, "test-project", "tometopics")
	publisher := NewGooglePubsubPublisherWithClient(client, GetDefaultPublishSettings(), zerolog.Nop())
	defer publisher.Stop()

	id, err := publisher.Publish(ctx, "tometopics", []byte(`{"type":"a"}`), map[string]string{"type": "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// full resource names address the same topic
	_, err = publisher.Publish(ctx, "projects/test-project/topics/tometopics", []byte(`{"type":"b"}`), nil)
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"type":"a"}`, string(msgs[0].Data))
	assert.Equal(t, "a", msgs[0].Attributes["type"])
	assert.Equal(t, `{"type":"b"}`, string(msgs[1].Data))

	_, err = publisher.Publish(ctx, "does-not-exist", []byte(`{}`), nil)
	assert.Error(t, err)
}

func TestTopicIDFrom(t *testing.T) {
	p, id := topicIDFrom("projects/p1/topics/t1")
	assert.Equal(t, "p1", p)
	assert.Equal(t, "t1", id)

	p, id = topicIDFrom("t2")
	assert.Empty(t, p)
	assert.Equal(t, "t2", id)
}
