package topics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/stretchr/testify/mock"
)

// --- MockStore ---

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveTopic(ctx context.Context, topic *Topic) (string, error) {
	args := m.Called(ctx, topic)
	return args.String(0), args.Error(1)
}

func (m *MockStore) FindTopicByID(ctx context.Context, id string) (*Topic, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*Topic)
	return t, args.Error(1)
}

func (m *MockStore) FindTopicByName(ctx context.Context, name, user string) (*Topic, error) {
	args := m.Called(ctx, name, user)
	t, _ := args.Get(0).(*Topic)
	return t, args.Error(1)
}

func (m *MockStore) FindTopicsByUser(ctx context.Context, user string) ([]*Topic, error) {
	args := m.Called(ctx, user)
	t, _ := args.Get(0).([]*Topic)
	return t, args.Error(1)
}

func (m *MockStore) DeleteTopicByID(ctx context.Context, id, user string) (int, error) {
	args := m.Called(ctx, id, user)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) UpdateTopicMetadata(ctx context.Context, id string, metadata TopicMetadata) (int, error) {
	args := m.Called(ctx, id, metadata)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) UpdateTopicLastPractice(ctx context.Context, id, finishedOn string) (int, error) {
	args := m.Called(ctx, id, finishedOn)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) UpdateTopicGeneration(ctx context.Context, id, generation string, flashcardsCount int, complete bool) (int, error) {
	args := m.Called(ctx, id, generation, flashcardsCount, complete)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) SaveTrackingRecord(ctx context.Context, record RefreshTrackingRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockStore) TrackingRecordsByTopic(ctx context.Context, topicID string) ([]RefreshTrackingRecord, error) {
	args := m.Called(ctx, topicID)
	r, _ := args.Get(0).([]RefreshTrackingRecord)
	return r, args.Error(1)
}

func (m *MockStore) DeleteAllTrackingRecords(ctx context.Context, topicID string) (int, error) {
	args := m.Called(ctx, topicID)
	return args.Int(0), args.Error(1)
}

// --- MockEventPublisher ---

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, dest types.Destination, msg *types.Message) error {
	return m.Called(ctx, dest, msg).Error(0)
}

// --- MockFlashcardsClient ---

type MockFlashcardsClient struct {
	mock.Mock
}

func (m *MockFlashcardsClient) Flashcards(ctx context.Context, topicID string) ([]Flashcard, error) {
	args := m.Called(ctx, topicID)
	f, _ := args.Get(0).([]Flashcard)
	return f, args.Error(1)
}

func (m *MockFlashcardsClient) FlashcardTypes(ctx context.Context) (*FlashcardTypes, error) {
	args := m.Called(ctx)
	f, _ := args.Get(0).(*FlashcardTypes)
	return f, args.Error(1)
}

func (m *MockFlashcardsClient) LatestGeneration(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// --- bearerAuthenticator ---

// bearerAuthenticator treats the bearer token as the caller's email.
type bearerAuthenticator struct{}

func (bearerAuthenticator) Authenticate(_ context.Context, r *http.Request, opts auth.PathOptions) (*auth.UserIdentity, error) {
	if opts.NoAuth {
		return nil, nil
	}
	token, err := auth.ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return &auth.UserIdentity{Email: strings.TrimSpace(token)}, nil
}

func (bearerAuthenticator) RequiresIdentity(opts auth.PathOptions) bool { return !opts.NoAuth }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
