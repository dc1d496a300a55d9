//go:build integration

package topics

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/tome-topics/pkg/helpers/emulators"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

const integrationProjectID = "tome-topics-integration"

// FirestoreStoreIntegrationSuite runs the store against a Firestore emulator
// started once for all tests.
type FirestoreStoreIntegrationSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	client *firestore.Client
	store  *FirestoreStore
}

func (s *FirestoreStoreIntegrationSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 3*time.Minute)

	conn := emulators.SetupFirestoreEmulator(s.T(), s.ctx, emulators.GetDefaultFirestoreConfig(integrationProjectID))

	var err error
	s.client, err = firestore.NewClient(s.ctx, integrationProjectID, conn.ClientOptions...)
	s.Require().NoError(err)

	s.store, err = NewFirestoreStore(s.client, FirestoreStoreConfig{TopicsCollection: "topics", TrackingCollection: "tracking"}, zerolog.New(zerolog.NewTestWriter(s.T())))
	s.Require().NoError(err)
}

func (s *FirestoreStoreIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	s.cancel()
}

func (s *FirestoreStoreIntegrationSuite) TestTopicLookups() {
	id, err := s.store.SaveTopic(s.ctx, &Topic{Name: "Rome", BlogURL: "https://blog/rome", CreatedOn: "20250309", User: "lookup@x.com"})
	s.Require().NoError(err)
	s.Require().NotEmpty(id)
	_, err = s.store.SaveTopic(s.ctx, &Topic{Name: "Rome", BlogURL: "https://blog/rome", CreatedOn: "20250309", User: "lookup-other@x.com"})
	s.Require().NoError(err)

	topic, err := s.store.FindTopicByID(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(topic)
	s.Equal(id, topic.ID)
	s.Equal("Rome", topic.Name)

	missing, err := s.store.FindTopicByID(s.ctx, "does-not-exist")
	s.Require().NoError(err)
	s.Nil(missing)

	byName, err := s.store.FindTopicByName(s.ctx, "Rome", "lookup@x.com")
	s.Require().NoError(err)
	s.Require().NotNil(byName)
	s.Equal(id, byName.ID)

	byName, err = s.store.FindTopicByName(s.ctx, "Athens", "lookup@x.com")
	s.Require().NoError(err)
	s.Nil(byName)

	mine, err := s.store.FindTopicsByUser(s.ctx, "lookup@x.com")
	s.Require().NoError(err)
	s.Len(mine, 1)
}

func (s *FirestoreStoreIntegrationSuite) TestTopicUpdates() {
	id, err := s.store.SaveTopic(s.ctx, &Topic{Name: "Lisbon", BlogURL: "https://blog/lisbon", CreatedOn: "20250309", User: "update@x.com"})
	s.Require().NoError(err)

	sections := 5
	icon := "tram"
	n, err := s.store.UpdateTopicMetadata(s.ctx, id, TopicMetadata{NumSections: &sections, Icon: &icon, GeoArea: &GeoArea{MainArea: "EU", AllAreas: []string{"EU"}}})
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.store.UpdateTopicLastPractice(s.ctx, id, "20250310")
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.store.UpdateTopicGeneration(s.ctx, id, "gen-2", 12, true)
	s.Require().NoError(err)
	s.Equal(1, n)

	topic, err := s.store.FindTopicByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(5, topic.NumSections)
	s.Equal("tram", topic.Icon)
	s.Equal("20250310", topic.LastPracticed)
	s.Equal("gen-2", topic.Generation)
	s.Equal(12, topic.FlashcardsCount)
	s.True(topic.IsFlashcardGenerationComplete)
	s.Require().NotNil(topic.GeoArea)
	s.Equal("EU", topic.GeoArea.MainArea)

	n, err = s.store.UpdateTopicLastPractice(s.ctx, "does-not-exist", "20250310")
	s.Require().NoError(err)
	s.Equal(0, n)
}

func (s *FirestoreStoreIntegrationSuite) TestTrackingRecords() {
	const topicID = "tracking-topic"
	s.Require().NoError(s.store.SaveTrackingRecord(s.ctx, RefreshTrackingRecord{TopicID: topicID, SectionCode: "s1", FlashcardsType: "options", ExpectedNumFlashcards: 3}))
	s.Require().NoError(s.store.SaveTrackingRecord(s.ctx, RefreshTrackingRecord{TopicID: topicID, SectionCode: "s1", FlashcardsType: "options", ExpectedNumFlashcards: 4}))
	s.Require().NoError(s.store.SaveTrackingRecord(s.ctx, RefreshTrackingRecord{TopicID: topicID, SectionCode: "s2", FlashcardsType: "options", ExpectedNumFlashcards: 2}))

	records, err := s.store.TrackingRecordsByTopic(s.ctx, topicID)
	s.Require().NoError(err)
	s.Require().Len(records, 2, "a repeated announcement replaces the previous record")

	deleted, err := s.store.DeleteAllTrackingRecords(s.ctx, topicID)
	s.Require().NoError(err)
	s.Equal(2, deleted)

	records, err = s.store.TrackingRecordsByTopic(s.ctx, topicID)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *FirestoreStoreIntegrationSuite) TestDeleteRequiresOwner() {
	id, err := s.store.SaveTopic(s.ctx, &Topic{Name: "Oslo", BlogURL: "https://blog/oslo", CreatedOn: "20250309", User: "owner@x.com"})
	s.Require().NoError(err)

	n, err := s.store.DeleteTopicByID(s.ctx, id, "intruder@x.com")
	s.Require().NoError(err)
	s.Equal(0, n)

	n, err = s.store.DeleteTopicByID(s.ctx, id, "owner@x.com")
	s.Require().NoError(err)
	s.Equal(1, n)

	topic, err := s.store.FindTopicByID(s.ctx, id)
	s.Require().NoError(err)
	s.Nil(topic)
}

func TestFirestoreStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(FirestoreStoreIntegrationSuite))
}
