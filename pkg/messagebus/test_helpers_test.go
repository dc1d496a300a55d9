package messagebus

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ====================================================================================
// Mocks and builders shared by the tests of this package.
// ====================================================================================

// --- MockTopicPublisher ---

type MockTopicPublisher struct {
	mock.Mock
}

func (m *MockTopicPublisher) Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) (string, error) {
	args := m.Called(ctx, topic, data, attributes)
	return args.String(0), args.Error(1)
}

// --- MockTokenVerifier ---

type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Verify(ctx context.Context, token, audience string) *auth.UserIdentity {
	args := m.Called(ctx, token, audience)
	identity, _ := args.Get(0).(*auth.UserIdentity)
	return identity
}

// --- MockSNSPublishAPI ---

type MockSNSPublishAPI struct {
	mock.Mock
}

func (m *MockSNSPublishAPI) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

// --- recordingHandler ---

// recordingHandler records every message it is invoked with.
type recordingHandler struct {
	msgType string
	mu      sync.Mutex
	calls   []*types.Message
	cids    []string
	err     error
}

func (h *recordingHandler) MessageType() string { return h.msgType }

func (h *recordingHandler) OnMessage(ctx context.Context, msg *types.Message) (*types.ProcessingOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, msg)
	h.cids = append(h.cids, CorrelationID(ctx))
	if h.err != nil {
		return nil, h.err
	}
	return types.Processed(map[string]string{"handled": msg.Type}), nil
}

func (h *recordingHandler) invocations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// --- fakeHTTP ---

// fakeHTTP serves canned responses by URL and records requested URLs.
type fakeHTTP struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	requested []string
}

type fakeResponse struct {
	status int
	body   []byte
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{responses: make(map[string]fakeResponse)}
}

func (f *fakeHTTP) serve(url string, status int, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = fakeResponse{status: status, body: body}
}

func (f *fakeHTTP) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := req.URL.String()
	f.requested = append(f.requested, url)
	r, ok := f.responses[url]
	if !ok {
		r = fakeResponse{status: http.StatusNotFound}
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewReader(r.body)),
		Header:     http.Header{},
		Request:    req,
	}, nil
}

func (f *fakeHTTP) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requested...)
}

// --- builders ---

// pushEnvelope wraps a logical message the way a Pub/Sub push subscription delivers it.
func pushEnvelope(t *testing.T, logical any, authHeader string) *Envelope {
	t.Helper()
	inner, err := json.Marshal(logical)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":        base64.StdEncoding.EncodeToString(inner),
			"messageId":   "pubsub-1",
			"publishTime": "2025-01-02T03:04:05Z",
		},
		"subscription": "projects/p/subscriptions/s",
	})
	require.NoError(t, err)
	env := NewEnvelope(body)
	if authHeader != "" {
		env.Header.Set("Authorization", authHeader)
	}
	return env
}
