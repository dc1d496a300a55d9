package topics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/messagebus"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"github.com/rs/zerolog"
)

// noGeneration is recorded while the flashcards of a topic are incomplete.
const noGeneration = "-"

// Handlers reacts to events published by the other Tome services.
type Handlers struct {
	store      Store
	flashcards FlashcardsClient
	logger     zerolog.Logger
}

// NewHandlers creates the event handlers. flashcards may be nil, in which case
// flashcardsCreated events are not handled.
func NewHandlers(store Store, flashcards FlashcardsClient, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:      store,
		flashcards: flashcards,
		logger:     logger.With().Str("component", "TopicsHandlers").Logger(),
	}
}

// Register adds every handler to r.
func (h *Handlers) Register(r *messagebus.Registry) error {
	handlers := []messagebus.Handler{
		messagebus.HandlerFunc{Type: EventTopicScraped, Fn: h.OnTopicScraped},
		messagebus.HandlerFunc{Type: EventPracticeFinished, Fn: h.OnPracticeFinished},
	}
	if h.flashcards != nil {
		handlers = append(handlers, messagebus.HandlerFunc{Type: EventFlashcardsCreated, Fn: h.OnFlashcardsCreated})
	} else {
		h.logger.Warn().Msg("No flashcards client configured, flashcardsCreated events will be ignored")
	}
	for _, handler := range handlers {
		if err := r.Register(handler); err != nil {
			return err
		}
	}
	return nil
}

// OnTopicScraped records the number of sections of a scraped topic and drops
// its refresh tracking, since generation starts over.
func (h *Handlers) OnTopicScraped(ctx context.Context, msg *types.Message) (*types.ProcessingOutcome, error) {
	var evt TopicScrapedEvent
	if err := msg.DecodeData(&evt); err != nil {
		return nil, err
	}
	if evt.TopicID == "" {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "topicScraped event carries no topicId")
	}

	numSections := evt.NumSections
	modified, err := h.store.UpdateTopicMetadata(ctx, evt.TopicID, TopicMetadata{NumSections: &numSections})
	if err != nil {
		return nil, err
	}
	deleted, err := h.store.DeleteAllTrackingRecords(ctx, evt.TopicID)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("topic_id", evt.TopicID).
		Int("num_sections", evt.NumSections).
		Int("modified", modified).
		Int("deleted_tracking_records", deleted).
		Msg("Topic updated after scraping")
	return types.Processed(nil), nil
}

// OnPracticeFinished records when the topic was last practiced.
func (h *Handlers) OnPracticeFinished(ctx context.Context, msg *types.Message) (*types.ProcessingOutcome, error) {
	var practice Practice
	if err := msg.DecodeData(&practice); err != nil {
		return nil, err
	}
	if practice.TopicID == "" {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "practiceFinished event carries no topicId")
	}

	modified, err := h.store.UpdateTopicLastPractice(ctx, practice.TopicID, practice.FinishedOn)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("topic_id", practice.TopicID).Str("finished_on", practice.FinishedOn).Int("modified", modified).Msg("Topic last practice updated")
	return types.Processed(nil), nil
}

// OnFlashcardsCreated tracks the flashcards announced for a section and, once
// every section of the topic holds all generated types, marks the topic with
// the latest generation.
func (h *Handlers) OnFlashcardsCreated(ctx context.Context, msg *types.Message) (*types.ProcessingOutcome, error) {
	var evt FlashcardsCreatedEvent
	if err := msg.DecodeData(&evt); err != nil {
		return nil, err
	}
	if evt.TopicID == "" {
		return nil, apperrors.NewClientError(http.StatusBadRequest, "flashcardsCreated event carries no topicId")
	}
	log := zerolog.Ctx(ctx).With().Str("topic_id", evt.TopicID).Str("section", evt.SectionCode).Logger()

	err := h.store.SaveTrackingRecord(ctx, RefreshTrackingRecord{
		TopicID:               evt.TopicID,
		SectionCode:           evt.SectionCode,
		FlashcardsType:        evt.Type,
		ExpectedNumFlashcards: evt.Count,
	})
	if err != nil {
		return nil, err
	}

	flashcards, err := h.flashcards.Flashcards(ctx, evt.TopicID)
	if err != nil {
		return nil, apperrors.WrapServerError(err, "loading flashcards of topic %s", evt.TopicID)
	}
	flashcardTypes, err := h.flashcards.FlashcardTypes(ctx)
	if err != nil {
		return nil, apperrors.WrapServerError(err, "loading flashcard types")
	}

	topic, err := h.store.FindTopicByID(ctx, evt.TopicID)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		log.Warn().Msg("Flashcards created for an unknown topic")
		return types.Ignored(fmt.Sprintf("topic %s not found", evt.TopicID)), nil
	}

	sectionSet := make(map[string]struct{})
	var sectionCodes []string
	for _, f := range flashcards {
		if _, seen := sectionSet[f.SectionCode]; !seen {
			sectionSet[f.SectionCode] = struct{}{}
			sectionCodes = append(sectionCodes, f.SectionCode)
		}
	}

	complete := false
	if len(sectionCodes) == topic.NumSections {
		records, err := h.store.TrackingRecordsByTopic(ctx, evt.TopicID)
		if err != nil {
			return nil, err
		}
		complete = IsTopicGenerationComplete(sectionCodes, flashcardTypes.Generated, flashcards, records)
	}
	log.Info().
		Int("sections_with_flashcards", len(sectionCodes)).
		Int("expected_sections", topic.NumSections).
		Bool("complete", complete).
		Msg("Checked flashcards generation")

	generation := noGeneration
	if complete {
		generation, err = h.flashcards.LatestGeneration(ctx)
		if err != nil {
			return nil, apperrors.WrapServerError(err, "loading latest flashcards generation")
		}
	}

	modified, err := h.store.UpdateTopicGeneration(ctx, evt.TopicID, generation, len(flashcards), complete)
	if err != nil {
		return nil, err
	}
	log.Info().Str("generation", generation).Int("flashcards_count", len(flashcards)).Int("modified", modified).Msg("Topic generation updated")
	return types.Processed("Flashcards created event processed"), nil
}
