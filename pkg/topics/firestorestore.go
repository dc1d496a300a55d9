package topics

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStoreConfig holds configuration for the Firestore store.
type FirestoreStoreConfig struct {
	TopicsCollection   string
	TrackingCollection string
}

// LoadFirestoreStoreConfigFromEnv reads the collection names, defaulting to
// "topics" and "tracking".
func LoadFirestoreStoreConfigFromEnv() FirestoreStoreConfig {
	cfg := FirestoreStoreConfig{
		TopicsCollection:   os.Getenv("FIRESTORE_COLLECTION_TOPICS"),
		TrackingCollection: os.Getenv("FIRESTORE_COLLECTION_TRACKING"),
	}
	if cfg.TopicsCollection == "" {
		cfg.TopicsCollection = "topics"
	}
	if cfg.TrackingCollection == "" {
		cfg.TrackingCollection = "tracking"
	}
	return cfg
}

// FirestoreStore implements Store on Google Cloud Firestore.
type FirestoreStore struct {
	client   *firestore.Client
	topics   string
	tracking string
	logger   zerolog.Logger
}

// NewFirestoreStore creates a store on an injected client. The caller owns the client.
func NewFirestoreStore(client *firestore.Client, cfg FirestoreStoreConfig, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	logger.Info().Str("topics_collection", cfg.TopicsCollection).Str("tracking_collection", cfg.TrackingCollection).Msg("FirestoreStore initialized successfully with provided client")
	return &FirestoreStore{
		client:   client,
		topics:   cfg.TopicsCollection,
		tracking: cfg.TrackingCollection,
		logger:   logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

func topicFrom(snap *firestore.DocumentSnapshot) (*Topic, error) {
	var t Topic
	if err := snap.DataTo(&t); err != nil {
		return nil, fmt.Errorf("firestore DataTo for topic %s: %w", snap.Ref.ID, err)
	}
	t.ID = snap.Ref.ID
	return &t, nil
}

func (s *FirestoreStore) SaveTopic(ctx context.Context, topic *Topic) (string, error) {
	ref := s.client.Collection(s.topics).NewDoc()
	if _, err := ref.Create(ctx, topic); err != nil {
		return "", fmt.Errorf("firestore Create topic %s: %w", topic.Name, err)
	}
	s.logger.Debug().Str("topic_id", ref.ID).Str("name", topic.Name).Msg("Topic saved")
	return ref.ID, nil
}

func (s *FirestoreStore) FindTopicByID(ctx context.Context, id string) (*Topic, error) {
	snap, err := s.client.Collection(s.topics).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore Get topic %s: %w", id, err)
	}
	return topicFrom(snap)
}

func (s *FirestoreStore) FindTopicByName(ctx context.Context, name, user string) (*Topic, error) {
	docs, err := s.client.Collection(s.topics).
		Where("name", "==", name).
		Where("user", "==", user).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore query topic by name %s: %w", name, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return topicFrom(docs[0])
}

func (s *FirestoreStore) FindTopicsByUser(ctx context.Context, user string) ([]*Topic, error) {
	iter := s.client.Collection(s.topics).Where("user", "==", user).Documents(ctx)
	defer iter.Stop()

	out := make([]*Topic, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query topics of user: %w", err)
		}
		t, err := topicFrom(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTopicByID deletes the topic only when it belongs to user.
func (s *FirestoreStore) DeleteTopicByID(ctx context.Context, id, user string) (int, error) {
	ref := s.client.Collection(s.topics).Doc(id)
	deleted := 0
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = 0
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		owner, err := snap.DataAt("user")
		if err != nil || owner != user {
			return nil
		}
		deleted = 1
		return tx.Delete(ref)
	})
	if err != nil {
		return 0, fmt.Errorf("firestore delete topic %s: %w", id, err)
	}
	return deleted, nil
}

// update applies updates to a topic, reporting 0 when the topic does not exist.
func (s *FirestoreStore) update(ctx context.Context, id string, updates []firestore.Update) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	_, err := s.client.Collection(s.topics).Doc(id).Update(ctx, updates)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Warn().Str("topic_id", id).Msg("Topic to update not found")
			return 0, nil
		}
		return 0, fmt.Errorf("firestore Update topic %s: %w", id, err)
	}
	return 1, nil
}

func (s *FirestoreStore) UpdateTopicMetadata(ctx context.Context, id string, m TopicMetadata) (int, error) {
	var updates []firestore.Update
	if m.NumSections != nil {
		updates = append(updates, firestore.Update{Path: "numSections", Value: *m.NumSections})
	}
	if m.FlashcardsGenerationComplete != nil {
		updates = append(updates, firestore.Update{Path: "isFlashcardGenerationComplete", Value: *m.FlashcardsGenerationComplete})
	}
	if m.Sections != nil {
		updates = append(updates, firestore.Update{Path: "sections", Value: *m.Sections})
	}
	if m.TopicCode != nil {
		updates = append(updates, firestore.Update{Path: "topicCode", Value: *m.TopicCode})
	}
	if m.Icon != nil {
		updates = append(updates, firestore.Update{Path: "icon", Value: *m.Icon})
	}
	if m.GeoArea != nil {
		updates = append(updates, firestore.Update{Path: "geoArea", Value: *m.GeoArea})
	}
	return s.update(ctx, id, updates)
}

func (s *FirestoreStore) UpdateTopicLastPractice(ctx context.Context, id, finishedOn string) (int, error) {
	return s.update(ctx, id, []firestore.Update{{Path: "lastPracticed", Value: finishedOn}})
}

func (s *FirestoreStore) UpdateTopicGeneration(ctx context.Context, id, generation string, flashcardsCount int, complete bool) (int, error) {
	return s.update(ctx, id, []firestore.Update{
		{Path: "generation", Value: generation},
		{Path: "flashcardsCount", Value: flashcardsCount},
		{Path: "isFlashcardGenerationComplete", Value: complete},
	})
}

// trackingDocID keys a record by topic, section and type so that a repeated
// announcement overwrites the previous one.
func trackingDocID(r RefreshTrackingRecord) string {
	return fmt.Sprintf("%s_%s_%s", r.TopicID, r.SectionCode, r.FlashcardsType)
}

func (s *FirestoreStore) SaveTrackingRecord(ctx context.Context, record RefreshTrackingRecord) error {
	if _, err := s.client.Collection(s.tracking).Doc(trackingDocID(record)).Set(ctx, record); err != nil {
		return fmt.Errorf("firestore Set tracking record for topic %s: %w", record.TopicID, err)
	}
	return nil
}

func (s *FirestoreStore) TrackingRecordsByTopic(ctx context.Context, topicID string) ([]RefreshTrackingRecord, error) {
	docs, err := s.client.Collection(s.tracking).Where("topicId", "==", topicID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore query tracking records of topic %s: %w", topicID, err)
	}
	out := make([]RefreshTrackingRecord, 0, len(docs))
	for _, d := range docs {
		var r RefreshTrackingRecord
		if err := d.DataTo(&r); err != nil {
			return nil, fmt.Errorf("firestore DataTo for tracking record %s: %w", d.Ref.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *FirestoreStore) DeleteAllTrackingRecords(ctx context.Context, topicID string) (int, error) {
	docs, err := s.client.Collection(s.tracking).Where("topicId", "==", topicID).Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("firestore query tracking records of topic %s: %w", topicID, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, d := range docs {
		job, err := bw.Delete(d.Ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("firestore bulk delete tracking record %s: %w", d.Ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	deleted := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			s.logger.Error().Err(err).Str("topic_id", topicID).Msg("Failed to delete tracking record")
			continue
		}
		deleted++
	}
	return deleted, nil
}
