package stream

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/sawpanic/spreadrun/internal/filters"
	"github.com/sawpanic/spreadrun/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType tags every frame on the stream
type MessageType string

const (
	TypeStatus        MessageType = "status"
	TypeResult        MessageType = "result"
	TypeError         MessageType = "error"
	TypeSubscribe     MessageType = "subscribe"
	TypeUnsubscribe   MessageType = "unsubscribe"
	TypePing          MessageType = "ping"
	TypePong          MessageType = "pong"
	TypeAck           MessageType = "ack"
	TypeFilterUpdate  MessageType = "filter_update"
	TypeFilterChange  MessageType = "filter_change"
	TypeFilterConfig  MessageType = "filter_config"
	TypeFilterHistory MessageType = "filter_history"
	TypeAlert         MessageType = "alert"
)

// Message is the envelope for both directions. Data is kept raw so each
// type decodes its own payload.
type Message struct {
	Type      MessageType         `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Data      jsoniter.RawMessage `json:"data,omitempty"`
	ID        string              `json:"id,omitempty"`
}

// UpdateType distinguishes a symbol's first result from later changes
type UpdateType string

const (
	UpdateNew    UpdateType = "new"
	UpdateUpdate UpdateType = "update"
)

// ScanUpdate is the payload of a result message
type ScanUpdate struct {
	ScanID     string                  `json:"scan_id"`
	Symbol     string                  `json:"symbol"`
	Spreads    []models.VerticalSpread `json:"spreads"`
	UpdateType UpdateType              `json:"update_type"`
	Metadata   map[string]interface{}  `json:"metadata,omitempty"`
}

// StatusData is the payload of a status message
type StatusData struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// ErrorData is the payload of an error message
type ErrorData struct {
	Error  string `json:"error"`
	Symbol string `json:"symbol,omitempty"`
}

// Subscription narrows which results a subscriber receives. Empty Symbols
// means every symbol.
type Subscription struct {
	Symbols  []string `json:"symbols,omitempty"`
	MinScore *float64 `json:"min_score,omitempty"`
}

func (s Subscription) matches(symbol string, topScore float64) bool {
	if len(s.Symbols) > 0 {
		found := false
		for _, sym := range s.Symbols {
			if sym == symbol {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return s.MinScore == nil || topScore >= *s.MinScore
}

// FilterUpdateData is the payload of a filter_update request
type FilterUpdateData struct {
	Type       filters.ChangeKind `json:"type"`
	Filters    *filters.Config    `json:"filters,omitempty"`
	PresetName string             `json:"preset_name,omitempty"`
}

// AckData confirms a client request
type AckData struct {
	Request MessageType `json:"request"`
	Data    interface{} `json:"data,omitempty"`
}

// encode builds a wire frame with the current timestamp
func encode(t MessageType, id string, data interface{}) ([]byte, error) {
	msg := struct {
		Type      MessageType `json:"type"`
		Timestamp time.Time   `json:"timestamp"`
		Data      interface{} `json:"data,omitempty"`
		ID        string      `json:"id,omitempty"`
	}{Type: t, Timestamp: time.Now().UTC(), Data: data, ID: id}
	return json.Marshal(msg)
}

// Decode parses a wire frame
func Decode(raw []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(raw, &msg)
	return msg, err
}
