package topics

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InMemoryStore implements Store on maps. It backs local runs where no
// Firestore project is available.
type InMemoryStore struct {
	mu       sync.RWMutex
	topics   map[string]Topic
	tracking map[string]RefreshTrackingRecord
	logger   zerolog.Logger
}

func NewInMemoryStore(logger zerolog.Logger) *InMemoryStore {
	return &InMemoryStore{
		topics:   make(map[string]Topic),
		tracking: make(map[string]RefreshTrackingRecord),
		logger:   logger.With().Str("component", "InMemoryStore").Logger(),
	}
}

func (s *InMemoryStore) SaveTopic(_ context.Context, topic *Topic) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	t := *topic
	t.ID = id
	s.topics[id] = t
	return id, nil
}

func (s *InMemoryStore) FindTopicByID(_ context.Context, id string) (*Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryStore) FindTopicByName(_ context.Context, name, user string) (*Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.topics {
		if t.Name == name && t.User == user {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) FindTopicsByUser(_ context.Context, user string) ([]*Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Topic, 0)
	for _, t := range s.topics {
		if t.User == user {
			found := t
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedOn < out[j].CreatedOn })
	return out, nil
}

func (s *InMemoryStore) DeleteTopicByID(_ context.Context, id, user string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok || t.User != user {
		return 0, nil
	}
	delete(s.topics, id)
	return 1, nil
}

func (s *InMemoryStore) modify(id string, fn func(t *Topic)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return 0
	}
	fn(&t)
	s.topics[id] = t
	return 1
}

func (s *InMemoryStore) UpdateTopicMetadata(_ context.Context, id string, m TopicMetadata) (int, error) {
	if m.IsEmpty() {
		return 0, nil
	}
	return s.modify(id, func(t *Topic) {
		if m.NumSections != nil {
			t.NumSections = *m.NumSections
		}
		if m.FlashcardsGenerationComplete != nil {
			t.IsFlashcardGenerationComplete = *m.FlashcardsGenerationComplete
		}
		if m.Sections != nil {
			t.Sections = *m.Sections
		}
		if m.TopicCode != nil {
			t.TopicCode = *m.TopicCode
		}
		if m.Icon != nil {
			t.Icon = *m.Icon
		}
		if m.GeoArea != nil {
			area := *m.GeoArea
			t.GeoArea = &area
		}
	}), nil
}

func (s *InMemoryStore) UpdateTopicLastPractice(_ context.Context, id, finishedOn string) (int, error) {
	return s.modify(id, func(t *Topic) { t.LastPracticed = finishedOn }), nil
}

func (s *InMemoryStore) UpdateTopicGeneration(_ context.Context, id, generation string, flashcardsCount int, complete bool) (int, error) {
	return s.modify(id, func(t *Topic) {
		t.Generation = generation
		t.FlashcardsCount = flashcardsCount
		t.IsFlashcardGenerationComplete = complete
	}), nil
}

func (s *InMemoryStore) SaveTrackingRecord(_ context.Context, record RefreshTrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking[trackingDocID(record)] = record
	return nil
}

func (s *InMemoryStore) TrackingRecordsByTopic(_ context.Context, topicID string) ([]RefreshTrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RefreshTrackingRecord, 0)
	for _, r := range s.tracking {
		if r.TopicID == topicID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) DeleteAllTrackingRecords(_ context.Context, topicID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for k, r := range s.tracking {
		if r.TopicID == topicID {
			delete(s.tracking, k)
			deleted++
		}
	}
	s.logger.Debug().Str("topic_id", topicID).Int("deleted", deleted).Msg("Tracking records deleted")
	return deleted, nil
}
