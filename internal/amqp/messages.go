package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message types carried in the envelope's type field.
const (
	TypeBillSync   = "bill.sync"
	TypeBillDelete = "bill.delete"
)

// ErrUnknownType is returned for envelopes with an unrecognised type.
var ErrUnknownType = errors.New("unknown message type")

// BillMessage is the envelope published for every bill change. It carries
// only identifiers; the worker reads the bill itself from the database.
type BillMessage struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Version   int64     `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBillSyncMessage asks the worker to mirror version of bill id.
func NewBillSyncMessage(id string, version int64) *BillMessage {
	return &BillMessage{Type: TypeBillSync, ID: id, Version: version, Timestamp: time.Now()}
}

// NewBillDeleteMessage asks the worker to remove bill id from the mirror.
func NewBillDeleteMessage(id string) *BillMessage {
	return &BillMessage{Type: TypeBillDelete, ID: id, Timestamp: time.Now()}
}

// ToJSON converts the message to JSON bytes
func (m *BillMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BillMessageFromJSON decodes and checks an envelope.
func BillMessageFromJSON(data []byte) (*BillMessage, error) {
	var msg BillMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("message without bill id")
	}
	switch msg.Type {
	case TypeBillSync, TypeBillDelete:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return &msg, nil
}
