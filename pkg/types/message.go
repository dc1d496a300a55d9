package types

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/illmade-knight/tome-topics/pkg/apperrors"
)

// Message is the provider independent event representation. Every adapter
// normalizes its wire envelope into a Message and it is the only shape a
// handler ever sees.
type Message struct {
	// Type routes the message to exactly one handler.
	Type string `json:"type"`
	// Data is the opaque event payload.
	Data json.RawMessage `json:"data,omitempty"`
	// CorrelationID is observability metadata, not a delivery key.
	CorrelationID string `json:"cid,omitempty"`
	// ID is the producer assigned message identifier.
	ID string `json:"id,omitempty"`
	// Msg is a human readable description of the event.
	Msg string `json:"msg,omitempty"`
	// Timestamp is kept as the producer formatted it.
	Timestamp string `json:"timestamp,omitempty"`
}

// Validate checks the fields every message must carry.
func (m *Message) Validate() error {
	if m == nil {
		return apperrors.NewClientError(http.StatusBadRequest, "message is missing")
	}
	if m.Type == "" {
		return apperrors.NewClientError(http.StatusBadRequest, "message type is missing")
	}
	return nil
}

// EnsureCorrelationID assigns a random correlation id when none was supplied
// and returns the id in effect.
func (m *Message) EnsureCorrelationID() string {
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}
	return m.CorrelationID
}

// DecodeData unmarshals the payload into v.
func (m *Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return apperrors.NewClientError(http.StatusBadRequest, "message of type %s carries no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return apperrors.NewClientError(http.StatusBadRequest, "message of type %s has invalid data: %v", m.Type, err)
	}
	return nil
}

// NewMessage builds a message with a JSON encoded payload.
func NewMessage(msgType string, data any, description string) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Data: raw, Msg: description}, nil
}

// Destination says where a message is published. Exactly one of Topic or
// Queue is set; which one is valid depends on the active provider.
type Destination struct {
	Topic string
	Queue string
}

// TopicDestination names a publish/subscribe topic.
func TopicDestination(topic string) Destination { return Destination{Topic: topic} }

// QueueDestination names a queue.
func QueueDestination(queue string) Destination { return Destination{Queue: queue} }

func (d Destination) IsTopic() bool { return d.Topic != "" && d.Queue == "" }
func (d Destination) IsQueue() bool { return d.Queue != "" && d.Topic == "" }

// TopicIdentifier maps the topic name used by the application to the
// identifier the cloud provider knows it by (ARN, topic name).
type TopicIdentifier struct {
	LogicalName        string `yaml:"logical_name" json:"logicalName"`
	ResourceIdentifier string `yaml:"resource_identifier" json:"resourceIdentifier"`
}
