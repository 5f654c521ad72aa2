package amqp

import (
	"encoding/json"
	"time"

	"paisa/internal/core"
)

// EntryCreatedMessage notifies downstream consumers (dashboards, report
// aggregation) that a ledger entry was generated from a recurring template.
// Consumers fetch the full entry from the database by id.
type EntryCreatedMessage struct {
	EntryID     int64     `json:"entry_id"`
	TemplateID  int64     `json:"template_id"`
	OwnerID     string    `json:"owner_id"`
	Type        string    `json:"type"`
	AmountPaise int64     `json:"amount_paise"`
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEntryCreatedMessage builds a message from a generated entry.
func NewEntryCreatedMessage(e core.Entry) *EntryCreatedMessage {
	msg := &EntryCreatedMessage{
		EntryID:     e.ID,
		OwnerID:     e.OwnerID,
		Type:        string(e.Type),
		AmountPaise: e.Amount.Paise,
		Category:    e.Category,
		Date:        e.Date,
		Timestamp:   time.Now(),
	}
	if e.TemplateID != nil {
		msg.TemplateID = *e.TemplateID
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *EntryCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EntryCreatedMessageFromJSON creates a message from JSON bytes
func EntryCreatedMessageFromJSON(data []byte) (*EntryCreatedMessage, error) {
	var msg EntryCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
