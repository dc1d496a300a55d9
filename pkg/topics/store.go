package topics

import (
	"context"
)

// Store persists topics and refresh tracking records. Finders return a nil
// topic, not an error, when nothing matches.
type Store interface {
	SaveTopic(ctx context.Context, topic *Topic) (string, error)
	FindTopicByID(ctx context.Context, id string) (*Topic, error)
	FindTopicByName(ctx context.Context, name, user string) (*Topic, error)
	FindTopicsByUser(ctx context.Context, user string) ([]*Topic, error)
	DeleteTopicByID(ctx context.Context, id, user string) (int, error)

	UpdateTopicMetadata(ctx context.Context, id string, metadata TopicMetadata) (int, error)
	UpdateTopicLastPractice(ctx context.Context, id, finishedOn string) (int, error)
	UpdateTopicGeneration(ctx context.Context, id, generation string, flashcardsCount int, complete bool) (int, error)

	SaveTrackingRecord(ctx context.Context, record RefreshTrackingRecord) error
	TrackingRecordsByTopic(ctx context.Context, topicID string) ([]RefreshTrackingRecord, error)
	DeleteAllTrackingRecords(ctx context.Context, topicID string) (int, error)
}
