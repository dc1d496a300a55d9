package topics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/messagebus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFlashcardsClient(t *testing.T) {
	issuer, err := auth.NewCustomVerifier("toto", "test-signing-key")
	require.NoError(t, err)

	var seenAuth, seenCID, seenTopic string
	mux := http.NewServeMux()
	mux.HandleFunc("/flashcards", func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenCID = r.Header.Get(auth.HeaderCorrelationID)
		seenTopic = r.URL.Query().Get("topicId")
		_, _ = w.Write([]byte(`{"flashcards":[{"type":"options","topicId":"t-1","sectionCode":"s1","question":"?"}]}`))
	})
	mux.HandleFunc("/flashcardtypes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"supported":["options","timeline"],"generated":["options"]}`))
	})
	mux.HandleFunc("/generation/latest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"latestGeneration":"gen-3"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewHTTPFlashcardsClient(FlashcardsClientConfig{Endpoint: srv.URL + "/", ServiceUser: "tome-topics", Timeout: 5 * time.Second}, issuer, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx := messagebus.WithCorrelationID(context.Background(), "cid-42")

	flashcards, err := client.Flashcards(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, flashcards, 1)
	assert.Equal(t, Flashcard{Type: "options", TopicID: "t-1", SectionCode: "s1"}, flashcards[0])
	assert.Equal(t, "t-1", seenTopic)
	assert.Equal(t, "cid-42", seenCID)

	token, err := auth.ExtractBearer(seenAuth)
	require.NoError(t, err)
	identity, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "tome-topics", identity.Email)

	types, err := client.FlashcardTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"options"}, types.Generated)

	generation, err := client.LatestGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gen-3", generation)
}

func TestHTTPFlashcardsClient_Errors(t *testing.T) {
	issuer, err := auth.NewCustomVerifier("toto", "test-signing-key")
	require.NoError(t, err)

	_, err = NewHTTPFlashcardsClient(FlashcardsClientConfig{}, issuer, nil, zerolog.Nop())
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client, err := NewHTTPFlashcardsClient(FlashcardsClientConfig{Endpoint: srv.URL}, issuer, srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	_, err = client.LatestGeneration(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
