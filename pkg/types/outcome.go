package types

// ProcessingStatus is the result category of handling one delivery.
type ProcessingStatus string

const (
	StatusProcessed ProcessingStatus = "processed"
	// StatusIgnored means the envelope was recognized but nothing local was
	// interested in it. It is not an error.
	StatusIgnored ProcessingStatus = "ignored"
	StatusFailed  ProcessingStatus = "failed"
)

// ProcessingOutcome is returned for every delivery that was not rejected.
type ProcessingOutcome struct {
	Status  ProcessingStatus `json:"status"`
	Payload any              `json:"responsePayload,omitempty"`
}

func Processed(payload any) *ProcessingOutcome {
	return &ProcessingOutcome{Status: StatusProcessed, Payload: payload}
}

func Ignored(payload any) *ProcessingOutcome {
	return &ProcessingOutcome{Status: StatusIgnored, Payload: payload}
}

func Failed(payload any) *ProcessingOutcome {
	return &ProcessingOutcome{Status: StatusFailed, Payload: payload}
}
