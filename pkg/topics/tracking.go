package topics

// Flashcard is the part of a flashcard the generation tracking looks at.
type Flashcard struct {
	Type        string `json:"type"`
	TopicID     string `json:"topicId"`
	TopicCode   string `json:"topicCode"`
	SectionCode string `json:"sectionCode"`
}

// IsTopicGenerationComplete reports whether every section has all expected
// flashcard types generated.
func IsTopicGenerationComplete(sectionCodes, expectedTypes []string, flashcards []Flashcard, records []RefreshTrackingRecord) bool {
	for _, section := range sectionCodes {
		if !IsSectionGenerationComplete(section, expectedTypes, flashcards, records) {
			return false
		}
	}
	return true
}

// IsSectionGenerationComplete reports whether every expected type is complete for the section.
func IsSectionGenerationComplete(sectionCode string, expectedTypes []string, flashcards []Flashcard, records []RefreshTrackingRecord) bool {
	for _, t := range expectedTypes {
		if !IsTypeGenerationComplete(sectionCode, t, flashcards, records) {
			return false
		}
	}
	return true
}

// IsTypeGenerationComplete reports whether the section holds exactly the
// tracked number of flashcards of the type. An untracked section and type is
// never complete.
func IsTypeGenerationComplete(sectionCode, flashcardsType string, flashcards []Flashcard, records []RefreshTrackingRecord) bool {
	var record *RefreshTrackingRecord
	for i := range records {
		if records[i].SectionCode == sectionCode && records[i].FlashcardsType == flashcardsType {
			record = &records[i]
			break
		}
	}
	if record == nil {
		return false
	}

	count := 0
	for _, f := range flashcards {
		if f.SectionCode == sectionCode && f.Type == flashcardsType {
			count++
		}
	}
	return count == record.ExpectedNumFlashcards
}
