package messagebus

import (
	"encoding/json"

	"github.com/illmade-knight/tome-topics/pkg/types"
)

// wireMessage is the nested logical message as producers write it, inside
// Pub/Sub's message.data, SNS's Message field or a queue entry.
type wireMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ID        string          `json:"id,omitempty"`
	CID       string          `json:"cid,omitempty"`
	Msg       string          `json:"msg,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

func (w *wireMessage) toMessage() *types.Message {
	return &types.Message{
		Type:          w.Type,
		Data:          w.Data,
		CorrelationID: w.CID,
		ID:            w.ID,
		Msg:           w.Msg,
		Timestamp:     w.Timestamp,
	}
}

// encodeMessage writes msg in the wire format every adapter publishes.
func encodeMessage(msg *types.Message) ([]byte, error) {
	return json.Marshal(wireMessage{
		Type:      msg.Type,
		Data:      msg.Data,
		ID:        msg.ID,
		CID:       msg.CorrelationID,
		Msg:       msg.Msg,
		Timestamp: msg.Timestamp,
	})
}
