// Package topics holds the Tome topics domain: topic persistence, the API
// delegates on topics and the handlers reacting to events of other services.
package topics

import (
	"net/http"

	"github.com/illmade-knight/tome-topics/pkg/apperrors"
)

// Event types published and consumed by the service.
const (
	EventTopicDeleted      = "topicDeleted"
	EventTopicRefreshed    = "topicRefreshed"
	EventTopicScraped      = "topicScraped"
	EventPracticeFinished  = "practiceFinished"
	EventFlashcardsCreated = "flashcardsCreated"

	// LogicalTopic is the logical name of the topic this service publishes to.
	LogicalTopic = "tometopics"
)

// GeoArea is the geographical classification of a topic.
type GeoArea struct {
	MainArea string   `json:"mainArea" firestore:"mainArea"`
	AllAreas []string `json:"allAreas" firestore:"allAreas"`
}

// Topic is a subject a user studies, scraped from a blog post.
type Topic struct {
	ID        string `json:"id" firestore:"-"`
	Name      string `json:"name" firestore:"name"`
	BlogURL   string `json:"blogURL" firestore:"blogURL"`
	CreatedOn string `json:"createdOn" firestore:"createdOn"` // YYYYMMDD
	User      string `json:"user" firestore:"user"`

	LastPracticed                 string   `json:"lastPracticed,omitempty" firestore:"lastPracticed,omitempty"`
	NumSections                   int      `json:"numSections,omitempty" firestore:"numSections,omitempty"`
	Sections                      string   `json:"sections,omitempty" firestore:"sections,omitempty"`
	TopicCode                     string   `json:"topicCode,omitempty" firestore:"topicCode,omitempty"`
	Icon                          string   `json:"icon,omitempty" firestore:"icon,omitempty"`
	GeoArea                       *GeoArea `json:"geoArea,omitempty" firestore:"geoArea,omitempty"`
	Generation                    string   `json:"generation,omitempty" firestore:"generation,omitempty"`
	FlashcardsCount               int      `json:"flashcardsCount,omitempty" firestore:"flashcardsCount,omitempty"`
	IsFlashcardGenerationComplete bool     `json:"isFlashcardGenerationComplete" firestore:"isFlashcardGenerationComplete"`
}

// TopicMetadata is a partial update of a topic. Nil fields are left untouched.
type TopicMetadata struct {
	TopicCode                    *string  `json:"topicCode,omitempty"`
	Sections                     *string  `json:"sections,omitempty"`
	NumSections                  *int     `json:"numSections,omitempty"`
	FlashcardsGenerationComplete *bool    `json:"flashcardsGenerationComplete,omitempty"`
	Icon                         *string  `json:"icon,omitempty"`
	GeoArea                      *GeoArea `json:"geoArea,omitempty"`
}

// Validate rejects a malformed geoArea.
func (m TopicMetadata) Validate() error {
	if m.GeoArea != nil && (m.GeoArea.MainArea == "" || m.GeoArea.AllAreas == nil) {
		return apperrors.NewClientError(http.StatusBadRequest, "Invalid geoArea format in TopicMetadata")
	}
	return nil
}

// IsEmpty reports whether the update changes nothing.
func (m TopicMetadata) IsEmpty() bool {
	return m.TopicCode == nil && m.Sections == nil && m.NumSections == nil &&
		m.FlashcardsGenerationComplete == nil && m.Icon == nil && m.GeoArea == nil
}

// RefreshTrackingRecord records how many flashcards of a type the flashcards
// service announced for one section of a topic.
type RefreshTrackingRecord struct {
	TopicID               string `json:"topicId" firestore:"topicId"`
	SectionCode           string `json:"sectionCode" firestore:"sectionCode"`
	FlashcardsType        string `json:"flashcardsType" firestore:"flashcardsType"`
	ExpectedNumFlashcards int    `json:"expectedNumFlashcards" firestore:"expectedNumFlashcards"`
}

// Practice is the payload of a practiceFinished event.
type Practice struct {
	ID         string `json:"id,omitempty"`
	User       string `json:"user"`
	TopicID    string `json:"topicId"`
	Type       string `json:"type"`
	StartedOn  string `json:"startedOn"`
	FinishedOn string `json:"finishedOn,omitempty"`
	Score      *int   `json:"score,omitempty"`
}

// TopicScrapedEvent is the payload of a topicScraped event.
type TopicScrapedEvent struct {
	TopicID     string `json:"topicId"`
	TopicCode   string `json:"topicCode"`
	NumSections int    `json:"numSections"`
	User        string `json:"user"`
}

// FlashcardsCreatedEvent is the payload of a flashcardsCreated event, one per
// section and flashcards type.
type FlashcardsCreatedEvent struct {
	Generation  string `json:"generation"`
	TopicCode   string `json:"topicCode"`
	TopicID     string `json:"topicId"`
	SectionCode string `json:"sectionCode"`
	Type        string `json:"type"`
	Count       int    `json:"count"`
}
